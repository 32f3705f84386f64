package websocket

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// Conn is the part of a physical connection the manager relies on.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens physical connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// HandshakeError is returned when the server answered the upgrade request
// with a plain HTTP status.
type HandshakeError struct {
	StatusCode int
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake failed with status %d", e.StatusCode)
}

// GorillaDialer adapts gorilla/websocket to Dialer.
type GorillaDialer struct {
	dialer *websocket.Dialer
}

func NewGorillaDialer() *GorillaDialer {
	d := *websocket.DefaultDialer
	return &GorillaDialer{dialer: &d}
}

func (g *GorillaDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := g.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusSwitchingProtocols {
				return nil, &HandshakeError{StatusCode: resp.StatusCode}
			}
		}
		return nil, err
	}
	return conn, nil
}
