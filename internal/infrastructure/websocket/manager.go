package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"modchat/internal/infrastructure/metrics"
)

type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosing    Status = "closing"
	StatusClosed     Status = "closed"
)

// Close codes synthesized by the manager.
const (
	CloseAbnormal     = websocket.CloseAbnormalClosure
	CloseNotFound     = 4004
	CloseUnauthorized = 4401
	CloseForbidden    = 4403
)

var (
	ErrReconnectExhausted = errors.New("websocket: reconnect attempts exhausted")
	ErrNotConnected       = errors.New("websocket: connection is not open")
)

// DefaultTerminalCodes never trigger a reconnect: the endpoint is gone or
// the session is not allowed to use it.
var DefaultTerminalCodes = []int{websocket.ClosePolicyViolation, CloseNotFound, CloseUnauthorized, CloseForbidden}

type Config struct {
	URL                  string
	Header               http.Header
	MaxReconnectAttempts int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	ConnectionTimeout    time.Duration
}

// Listeners is one consumer's callback set. Nil callbacks are skipped.
// Registration is by pointer identity.
type Listeners struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func(code int, reason string)
	OnStatus  func(status Status)
	OnRetry   func(attempt int, delay time.Duration)
}

type connection struct {
	cfg       Config
	listeners []*Listeners
	status    Status
	conn      Conn
	writeMu   sync.Mutex
	attempts  int
	backoff   *backoff.ExponentialBackOff
	retry     *clock.Timer
	gen       int
}

// ConnectionManager keeps one physical connection per URL and multiplexes
// any number of listener sets over it.
type ConnectionManager struct {
	mu       sync.Mutex
	conns    map[string]*connection
	dialer   Dialer
	clock    clock.Clock
	terminal map[int]struct{}
	log      zerolog.Logger
}

func NewConnectionManager(dialer Dialer, clk clock.Clock, log zerolog.Logger) *ConnectionManager {
	m := &ConnectionManager{
		conns:    make(map[string]*connection),
		dialer:   dialer,
		clock:    clk,
		terminal: make(map[int]struct{}),
		log:      log.With().Str("component", "connection_manager").Logger(),
	}
	for _, code := range DefaultTerminalCodes {
		m.terminal[code] = struct{}{}
	}
	return m
}

// Connect registers l for cfg.URL, opening the physical connection if none
// exists. The current status is delivered to l before Connect returns.
func (m *ConnectionManager) Connect(cfg Config, l *Listeners) {
	m.mu.Lock()
	c, ok := m.conns[cfg.URL]
	if ok {
		c.listeners = append(c.listeners, l)
		status := c.status
		m.mu.Unlock()
		if l.OnStatus != nil {
			l.OnStatus(status)
		}
		return
	}

	c = &connection{
		cfg:       cfg,
		listeners: []*Listeners{l},
		status:    StatusConnecting,
		backoff:   newBackoff(cfg, m.clock),
	}
	m.conns[cfg.URL] = c
	gen := c.gen
	m.mu.Unlock()

	if l.OnStatus != nil {
		l.OnStatus(StatusConnecting)
	}
	go m.dial(c, gen)
}

// Disconnect unregisters l. The last listener leaving closes the connection.
func (m *ConnectionManager) Disconnect(url string, l *Listeners) {
	m.mu.Lock()
	c, ok := m.conns[url]
	if !ok {
		m.mu.Unlock()
		return
	}
	for i, registered := range c.listeners {
		if registered == l {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			break
		}
	}
	if len(c.listeners) > 0 {
		m.mu.Unlock()
		return
	}
	conn := m.teardownLocked(url, c)
	m.mu.Unlock()

	m.closeConn(c, conn)
}

// Close tears down every connection regardless of listeners.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	type pending struct {
		c    *connection
		conn Conn
	}
	var toClose []pending
	for url, c := range m.conns {
		toClose = append(toClose, pending{c: c, conn: m.teardownLocked(url, c)})
	}
	m.mu.Unlock()

	for _, p := range toClose {
		m.closeConn(p.c, p.conn)
	}
}

func (m *ConnectionManager) teardownLocked(url string, c *connection) Conn {
	delete(m.conns, url)
	c.gen++
	c.status = StatusClosing
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	conn := c.conn
	c.conn = nil
	metrics.SocketStatus.WithLabelValues(url).Set(0)
	return conn
}

func (m *ConnectionManager) closeConn(c *connection, conn Conn) {
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	if err := conn.Close(); err != nil {
		m.log.Debug().Err(err).Str("url", c.cfg.URL).Msg("close connection")
	}
}

// Send writes one text frame. It fails with ErrNotConnected unless the
// connection is open.
func (m *ConnectionManager) Send(url string, data []byte) error {
	m.mu.Lock()
	c, ok := m.conns[url]
	if !ok || c.status != StatusOpen || c.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	m.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *ConnectionManager) Status(url string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[url]; ok {
		return c.status
	}
	return StatusClosed
}

func (m *ConnectionManager) ReconnectAttempts(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[url]; ok {
		return c.attempts
	}
	return 0
}

// Reconnect restarts a connection that stopped retrying, with a fresh
// attempt budget. It does nothing while a connection or retry is underway.
func (m *ConnectionManager) Reconnect(url string) {
	m.mu.Lock()
	c, ok := m.conns[url]
	if !ok || c.status != StatusClosed || c.retry != nil {
		m.mu.Unlock()
		return
	}
	c.attempts = 0
	c.backoff.Reset()
	c.gen++
	c.status = StatusConnecting
	gen := c.gen
	listeners := c.snapshot()
	m.mu.Unlock()

	emitStatus(listeners, StatusConnecting)
	go m.dial(c, gen)
}

func (m *ConnectionManager) dial(c *connection, gen int) {
	ctx := context.Background()
	if c.cfg.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectionTimeout)
		defer cancel()
	}
	conn, err := m.dialer.Dial(ctx, c.cfg.URL, c.cfg.Header)

	m.mu.Lock()
	if !m.currentLocked(c, gen) {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.log.Warn().Err(err).Str("url", c.cfg.URL).Msg("dial failed")
		m.handleClose(c, gen, dialCloseCode(err), err.Error(), err)
		return
	}
	c.conn = conn
	c.status = StatusOpen
	c.attempts = 0
	c.backoff.Reset()
	listeners := c.snapshot()
	m.mu.Unlock()

	metrics.SocketStatus.WithLabelValues(c.cfg.URL).Set(1)
	m.log.Info().Str("url", c.cfg.URL).Msg("connection open")
	emitStatus(listeners, StatusOpen)
	for _, l := range listeners {
		if l.OnOpen != nil {
			l.OnOpen()
		}
	}
	go m.readLoop(c, gen, conn)
}

func (m *ConnectionManager) readLoop(c *connection, gen int, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeDetails(err)
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				err = nil
			}
			m.handleClose(c, gen, code, reason, err)
			return
		}

		m.mu.Lock()
		if !m.currentLocked(c, gen) {
			m.mu.Unlock()
			return
		}
		listeners := c.snapshot()
		m.mu.Unlock()

		for _, l := range listeners {
			if l.OnMessage != nil {
				l.OnMessage(data)
			}
		}
	}
}

// handleClose decides between retrying and giving up after the connection
// for generation gen went away unexpectedly.
func (m *ConnectionManager) handleClose(c *connection, gen int, code int, reason string, cause error) {
	m.mu.Lock()
	if !m.currentLocked(c, gen) {
		m.mu.Unlock()
		return
	}
	c.conn = nil
	c.status = StatusClosed
	listeners := c.snapshot()

	_, terminal := m.terminal[code]
	exhausted := !terminal && c.attempts >= c.cfg.MaxReconnectAttempts
	var attempt int
	var delay time.Duration
	if !terminal && !exhausted {
		c.attempts++
		attempt = c.attempts
		delay = c.backoff.NextBackOff()
		c.retry = m.clock.AfterFunc(delay, func() { m.retryDial(c, gen) })
	}
	m.mu.Unlock()

	metrics.SocketStatus.WithLabelValues(c.cfg.URL).Set(0)
	for _, l := range listeners {
		if cause != nil && l.OnError != nil {
			l.OnError(cause)
		}
		if l.OnClose != nil {
			l.OnClose(code, reason)
		}
	}
	emitStatus(listeners, StatusClosed)

	switch {
	case terminal:
		m.log.Warn().Int("code", code).Str("url", c.cfg.URL).Msg("terminal close, not reconnecting")
	case exhausted:
		metrics.ReconnectExhaustedTotal.WithLabelValues(c.cfg.URL).Inc()
		m.log.Error().Int("attempts", c.cfg.MaxReconnectAttempts).Str("url", c.cfg.URL).Msg("reconnect attempts exhausted")
		for _, l := range listeners {
			if l.OnError != nil {
				l.OnError(ErrReconnectExhausted)
			}
		}
	default:
		metrics.ReconnectAttemptsTotal.WithLabelValues(c.cfg.URL).Inc()
		m.log.Info().Int("attempt", attempt).Dur("delay", delay).Int("code", code).Str("url", c.cfg.URL).Msg("scheduling reconnect")
		for _, l := range listeners {
			if l.OnRetry != nil {
				l.OnRetry(attempt, delay)
			}
		}
	}
}

func (m *ConnectionManager) retryDial(c *connection, gen int) {
	m.mu.Lock()
	if !m.currentLocked(c, gen) {
		m.mu.Unlock()
		return
	}
	c.retry = nil
	c.gen++
	next := c.gen
	c.status = StatusConnecting
	listeners := c.snapshot()
	m.mu.Unlock()

	emitStatus(listeners, StatusConnecting)
	m.dial(c, next)
}

func (m *ConnectionManager) currentLocked(c *connection, gen int) bool {
	return m.conns[c.cfg.URL] == c && c.gen == gen
}

func (c *connection) snapshot() []*Listeners {
	out := make([]*Listeners, len(c.listeners))
	copy(out, c.listeners)
	return out
}

func emitStatus(listeners []*Listeners, status Status) {
	for _, l := range listeners {
		if l.OnStatus != nil {
			l.OnStatus(status)
		}
	}
}

// newBackoff yields base, 2*base, 4*base, ... capped at MaxDelay.
func newBackoff(cfg Config, clk clock.Clock) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Clock = clk
	b.Reset()
	return b
}

func closeDetails(err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Text
	}
	return CloseAbnormal, err.Error()
}

func dialCloseCode(err error) int {
	var hs *HandshakeError
	if errors.As(err, &hs) {
		switch hs.StatusCode {
		case http.StatusNotFound:
			return CloseNotFound
		case http.StatusUnauthorized:
			return CloseUnauthorized
		case http.StatusForbidden:
			return CloseForbidden
		}
	}
	return CloseAbnormal
}
