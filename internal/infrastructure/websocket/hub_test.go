package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcastsToRegisteredClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(zerolog.Nop())
	h.Start(ctx)

	client := &Client{ID: "ui-1", Send: make(chan []byte, 4)}
	require.True(t, h.Register(client))
	assert.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	h.Notify(NotifyRosterChanged, nil)

	select {
	case raw := <-client.Send:
		var msg WSMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, NotifyRosterChanged, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestHubDoesNotBlockClientsAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(zerolog.Nop())
	h.Start(ctx)
	cancel()
	<-h.done

	client := &Client{ID: "ui-2", Send: make(chan []byte, 1)}
	detached := make(chan struct{})
	go func() {
		h.detach(client)
		close(detached)
	}()

	select {
	case <-detached:
	case <-time.After(time.Second):
		t.Fatal("detach blocked on a stopped hub")
	}
	assert.False(t, h.Register(client))
}
