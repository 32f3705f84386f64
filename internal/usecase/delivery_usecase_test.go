package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modchat/internal/domain/entity"
	"modchat/internal/domain/repository"
	ws "modchat/internal/infrastructure/websocket"
	apperrors "modchat/pkg/errors"
)

const convURL = "ws://chat/conversation/42"

type deliveryFixture struct {
	delivery *DeliveryUseCase
	live     *fakeLive
	repo     *fakeRepo
	roster   *fakeRoster
	sink     *fakeSink
}

func newDeliveryFixture(clk clock.Clock) *deliveryFixture {
	f := &deliveryFixture{
		live:   newFakeLive(),
		repo:   &fakeRepo{},
		roster: &fakeRoster{},
		sink:   &fakeSink{},
	}
	f.delivery = NewDeliveryUseCase(DeliveryConfig{
		Identity:              entity.NewConversationIdentity("42", 77),
		ModeratorID:           1,
		SocketURL:             convURL,
		ConnectionWaitTimeout: 3 * time.Second,
		MaxRetries:            2,
		RetryDelay:            time.Millisecond,
	}, f.live, f.repo, f.roster, f.sink, clk, zerolog.Nop())
	return f
}

func TestSendOverOpenConnection(t *testing.T) {
	f := newDeliveryFixture(clock.NewMock())
	f.live.setStatus(convURL, ws.StatusOpen)

	require.NoError(t, f.delivery.SendMessage(context.Background(), "  hello  "))

	frames := f.live.sentFrames()
	require.Len(t, frames, 1)
	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(frames[0], &frame))
	assert.Equal(t, "message", frame["type"])
	assert.Equal(t, "hello", frame["message"])
	assert.Equal(t, "42", frame["chat_id"])
	assert.Equal(t, float64(77), frame["receiver_id"])
	assert.Equal(t, float64(1), frame["sender_id"])

	appended, _ := f.sink.snapshot()
	assert.Empty(t, appended, "no optimistic echo over the live connection")
	assert.Equal(t, 0, f.repo.sendCount())
}

func TestSendWhileConnectingDrainsOnOpen(t *testing.T) {
	clk := clock.NewMock()
	f := newDeliveryFixture(clk)
	f.live.setStatus(convURL, ws.StatusConnecting)

	require.NoError(t, f.delivery.SendMessage(context.Background(), "hi"))
	require.NoError(t, f.delivery.SendMessage(context.Background(), "there"))
	assert.Equal(t, 2, f.delivery.Pending())
	assert.Empty(t, f.live.sentFrames())

	clk.Add(time.Second)
	f.live.setStatus(convURL, ws.StatusOpen)
	f.delivery.OnConnectionOpen()

	assert.Eventually(t, func() bool { return len(f.live.sentFrames()) == 2 }, time.Second, 5*time.Millisecond)
	frames := f.live.sentFrames()
	assert.Contains(t, string(frames[0]), `"message":"hi"`)
	assert.Contains(t, string(frames[1]), `"message":"there"`)
	assert.Equal(t, 0, f.delivery.Pending())

	clk.Add(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, f.repo.sendCount(), "the wait timer must be cleared on open")
}

func frameTexts(t *testing.T, frames [][]byte) []string {
	t.Helper()
	out := make([]string, len(frames))
	for i, raw := range frames {
		var frame map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &frame))
		out[i], _ = frame["message"].(string)
	}
	return out
}

func TestSendAfterOpenKeepsQueueOrder(t *testing.T) {
	f := newDeliveryFixture(clock.NewMock())
	f.live.setStatus(convURL, ws.StatusConnecting)
	require.NoError(t, f.delivery.SendMessage(context.Background(), "a"))
	require.NoError(t, f.delivery.SendMessage(context.Background(), "b"))

	f.live.setStatus(convURL, ws.StatusOpen)
	f.delivery.OnConnectionOpen()
	require.NoError(t, f.delivery.SendMessage(context.Background(), "c"))

	assert.Equal(t, []string{"a", "b", "c"}, frameTexts(t, f.live.sentFrames()))
	assert.Equal(t, 0, f.repo.sendCount())
}

func TestSendBeforeOpenEventGoesBehindQueue(t *testing.T) {
	f := newDeliveryFixture(clock.NewMock())
	f.live.setStatus(convURL, ws.StatusConnecting)
	require.NoError(t, f.delivery.SendMessage(context.Background(), "a"))
	require.NoError(t, f.delivery.SendMessage(context.Background(), "b"))

	// The socket reports open but its open event has not been delivered yet.
	f.live.setStatus(convURL, ws.StatusOpen)
	require.NoError(t, f.delivery.SendMessage(context.Background(), "c"))
	f.delivery.OnConnectionOpen()

	assert.Equal(t, []string{"a", "b", "c"}, frameTexts(t, f.live.sentFrames()))
	assert.Equal(t, 0, f.delivery.Pending())
}

// openingLive reports connecting on the first status read and opens right
// after it, so the open event lands before the message is queued.
type openingLive struct {
	*fakeLive
	delivery *DeliveryUseCase
	once     sync.Once
}

func (o *openingLive) Status(url string) ws.Status {
	status := o.fakeLive.Status(url)
	o.once.Do(func() {
		o.fakeLive.setStatus(url, ws.StatusOpen)
		o.delivery.OnConnectionOpen()
	})
	return status
}

func TestSendRacingOpenEventIsNotStranded(t *testing.T) {
	clk := clock.NewMock()
	f := newDeliveryFixture(clk)
	f.live.setStatus(convURL, ws.StatusConnecting)
	live := &openingLive{fakeLive: f.live}
	delivery := NewDeliveryUseCase(DeliveryConfig{
		Identity:              entity.NewConversationIdentity("42", 77),
		ModeratorID:           1,
		SocketURL:             convURL,
		ConnectionWaitTimeout: 3 * time.Second,
	}, live, f.repo, f.roster, f.sink, clk, zerolog.Nop())
	live.delivery = delivery

	require.NoError(t, delivery.SendMessage(context.Background(), "hi"))

	assert.Equal(t, []string{"hi"}, frameTexts(t, f.live.sentFrames()))
	assert.Equal(t, 0, delivery.Pending())
	clk.Add(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, f.repo.sendCount())
}

func TestSendWhileConnectingFallsBackOnTimeout(t *testing.T) {
	clk := clock.NewMock()
	f := newDeliveryFixture(clk)
	f.live.setStatus(convURL, ws.StatusConnecting)

	require.NoError(t, f.delivery.SendMessage(context.Background(), "hi"))
	clk.Add(2999 * time.Millisecond)
	assert.Equal(t, 0, f.repo.sendCount())

	clk.Add(time.Millisecond)
	assert.Eventually(t, func() bool { return f.repo.sendCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		appended, _ := f.sink.snapshot()
		return len(appended) == 1
	}, time.Second, 5*time.Millisecond)

	appended, _ := f.sink.snapshot()
	msg := appended[0]
	assert.True(t, strings.HasPrefix(msg.ID, LocalMessagePrefix))
	assert.True(t, msg.Local)
	assert.True(t, msg.IsRead)
	assert.Equal(t, entity.SenderPrimary, msg.Sender)
	assert.Equal(t, "hi", msg.Text)
	assert.Equal(t, 1, f.roster.updateCount())
	assert.Equal(t, 0, f.delivery.Pending())
}

func TestSendWhenClosedRetriesTransientFailures(t *testing.T) {
	f := newDeliveryFixture(clock.New())
	calls := 0
	f.repo.send = func(ctx context.Context, in repository.SendMessageInput) (*repository.SendAck, error) {
		calls++
		if calls < 3 {
			return nil, apperrors.Unavailable("backend unavailable", errors.New("503"))
		}
		return &repository.SendAck{MessageID: "srv-9"}, nil
	}

	require.NoError(t, f.delivery.SendMessage(context.Background(), "hi"))

	assert.Equal(t, 3, f.repo.sendCount())
	sent := f.repo.sent[0]
	assert.Equal(t, int64(1), sent.SenderID)
	assert.Equal(t, int64(77), sent.ReceiverID)
	assert.Equal(t, "hi", sent.Text)
	appended, errMsg := f.sink.snapshot()
	assert.Len(t, appended, 1)
	assert.Empty(t, errMsg)
	assert.Equal(t, "hi", f.roster.updates[0].preview)
}

func TestSendExhaustedRetriesSurfacesError(t *testing.T) {
	f := newDeliveryFixture(clock.New())
	f.repo.send = func(ctx context.Context, in repository.SendMessageInput) (*repository.SendAck, error) {
		return nil, apperrors.Unavailable("backend unavailable", nil)
	}

	err := f.delivery.SendMessage(context.Background(), "hi")

	require.Error(t, err)
	assert.Equal(t, 3, f.repo.sendCount(), "one attempt plus two retries")
	appended, errMsg := f.sink.snapshot()
	assert.Empty(t, appended)
	assert.NotEmpty(t, errMsg)
	assert.Equal(t, 0, f.roster.updateCount())
}

func TestSendAuthFailureIsNotRetried(t *testing.T) {
	f := newDeliveryFixture(clock.New())
	f.repo.send = func(ctx context.Context, in repository.SendMessageInput) (*repository.SendAck, error) {
		return nil, apperrors.Unauthorized("session expired", nil)
	}

	err := f.delivery.SendMessage(context.Background(), "hi")

	assert.True(t, apperrors.IsAuth(err))
	assert.Equal(t, 1, f.repo.sendCount())
	_, errMsg := f.sink.snapshot()
	assert.NotEmpty(t, errMsg)
}

func TestSendBadRequestIsNotRetried(t *testing.T) {
	f := newDeliveryFixture(clock.New())
	f.repo.send = func(ctx context.Context, in repository.SendMessageInput) (*repository.SendAck, error) {
		return nil, apperrors.BadRequest("invalid receiver", nil)
	}

	assert.Error(t, f.delivery.SendMessage(context.Background(), "hi"))
	assert.Equal(t, 1, f.repo.sendCount())
}

func TestLiveWriteFailureFallsBack(t *testing.T) {
	f := newDeliveryFixture(clock.New())
	f.live.setStatus(convURL, ws.StatusOpen)
	f.live.sendErr = errors.New("broken pipe")

	require.NoError(t, f.delivery.SendMessage(context.Background(), "hi"))

	assert.Equal(t, 1, f.repo.sendCount())
	appended, _ := f.sink.snapshot()
	assert.Len(t, appended, 1)
}

func TestSendRejectsInvalidText(t *testing.T) {
	f := newDeliveryFixture(clock.NewMock())

	for _, text := range []string{"", "   ", strings.Repeat("x", 4001)} {
		err := f.delivery.SendMessage(context.Background(), text)
		assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest))
	}
	assert.Equal(t, 0, f.repo.sendCount())
}

func TestCloseDropsQueueAndTimer(t *testing.T) {
	clk := clock.NewMock()
	f := newDeliveryFixture(clk)
	f.live.setStatus(convURL, ws.StatusConnecting)
	require.NoError(t, f.delivery.SendMessage(context.Background(), "hi"))

	f.delivery.Close()
	clk.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, f.delivery.Pending())
	assert.Equal(t, 0, f.repo.sendCount())
	assert.True(t, apperrors.Is(f.delivery.SendMessage(context.Background(), "again"), apperrors.CodeNotConnected))
}
