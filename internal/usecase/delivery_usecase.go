package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"modchat/internal/domain/entity"
	"modchat/internal/domain/repository"
	"modchat/internal/infrastructure/metrics"
	ws "modchat/internal/infrastructure/websocket"
	"modchat/internal/infrastructure/wire"
	"modchat/pkg/errors"
)

const (
	DefaultConnectionWaitTimeout = 3 * time.Second
	LocalMessagePrefix           = "local-"
)

type DeliveryConfig struct {
	Identity              entity.ConversationIdentity
	ModeratorID           int64
	SocketURL             string
	ConnectionWaitTimeout time.Duration
	MaxRetries            int
	RetryDelay            time.Duration
}

type outboundText struct {
	Text string `validate:"required,max=4000"`
}

// DeliveryUseCase sends moderator messages over the live connection when it
// is open, queues them while it is connecting and falls back to the request
// API otherwise.
type DeliveryUseCase struct {
	cfg      DeliveryConfig
	conn     LiveConnection
	repo     repository.ChatRepository
	roster   RosterNotifier
	sink     DeliverySink
	clock    clock.Clock
	validate *validator.Validate
	log      zerolog.Logger

	mu       sync.Mutex
	queue    []entity.OutboundQueueItem
	timer    *clock.Timer
	draining bool
	closed   bool
}

func NewDeliveryUseCase(
	cfg DeliveryConfig,
	conn LiveConnection,
	repo repository.ChatRepository,
	roster RosterNotifier,
	sink DeliverySink,
	clk clock.Clock,
	log zerolog.Logger,
) *DeliveryUseCase {
	if cfg.ConnectionWaitTimeout <= 0 {
		cfg.ConnectionWaitTimeout = DefaultConnectionWaitTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &DeliveryUseCase{
		cfg:      cfg,
		conn:     conn,
		repo:     repo,
		roster:   roster,
		sink:     sink,
		clock:    clk,
		validate: validator.New(),
		log:      log.With().Str("component", "delivery").Str("conversation", cfg.Identity.Key()).Logger(),
	}
}

// SendMessage routes text by the live connection status. A nil error for
// a queued message means it was accepted, not yet delivered. While anything
// is queued or draining, new text goes behind it so the wire order matches
// the send order.
func (d *DeliveryUseCase) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if err := d.validate.Struct(outboundText{Text: text}); err != nil {
		return errors.BadRequest("message text is empty or too long", err)
	}

	status := d.conn.Status(d.cfg.SocketURL)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.NotConnected("conversation is closed")
	}
	if status == ws.StatusConnecting || d.draining || len(d.queue) > 0 {
		d.enqueueLocked(text)
		d.mu.Unlock()
		// The open event may have fired between the status read and the
		// append, finding nothing to drain.
		if d.conn.Status(d.cfg.SocketURL) == ws.StatusOpen {
			d.drainQueue()
		}
		return nil
	}
	d.mu.Unlock()

	if status == ws.StatusOpen {
		if err := d.sendLive(text); err != nil {
			d.log.Warn().Err(err).Msg("live send failed, using request fallback")
			return d.fallback(ctx, text)
		}
		return nil
	}
	return d.fallback(ctx, text)
}

func (d *DeliveryUseCase) enqueueLocked(text string) {
	d.queue = append(d.queue, entity.OutboundQueueItem{Text: text, EnqueuedAt: d.clock.Now()})
	if d.timer == nil && !d.draining {
		d.timer = d.clock.AfterFunc(d.cfg.ConnectionWaitTimeout, d.onWaitTimeout)
	}
	d.log.Debug().Int("queued", len(d.queue)).Msg("message queued")
}

// OnConnectionOpen drains the queue onto the live connection in FIFO order
// before returning.
func (d *DeliveryUseCase) OnConnectionOpen() {
	d.drainQueue()
}

func (d *DeliveryUseCase) onWaitTimeout() {
	if n := d.Pending(); n > 0 {
		d.log.Warn().Int("queued", n).Msg("connection wait timed out, using request fallback")
	}
	d.drainQueue()
}

// drainQueue delivers queued items one at a time, including any appended
// while it runs. Only one drain runs at a time.
func (d *DeliveryUseCase) drainQueue() {
	d.mu.Lock()
	if d.draining || d.closed || len(d.queue) == 0 {
		d.mu.Unlock()
		return
	}
	d.draining = true
	d.stopTimerLocked()
	d.mu.Unlock()

	ctx := context.Background()
	for {
		d.mu.Lock()
		if d.closed || len(d.queue) == 0 {
			d.draining = false
			d.mu.Unlock()
			return
		}
		item := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliverQueued(ctx, item.Text)
	}
}

func (d *DeliveryUseCase) deliverQueued(ctx context.Context, text string) {
	if d.conn.Status(d.cfg.SocketURL) == ws.StatusOpen {
		err := d.sendLive(text)
		if err == nil {
			return
		}
		d.log.Warn().Err(err).Msg("queued live send failed, using request fallback")
	}
	if err := d.fallback(ctx, text); err != nil {
		d.log.Error().Err(err).Msg("queued message not delivered")
	}
}

func (d *DeliveryUseCase) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *DeliveryUseCase) sendLive(text string) error {
	frame := wire.NewOutboundFrame(d.cfg.Identity, d.cfg.ModeratorID, text, d.clock.Now())
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if err := d.conn.Send(d.cfg.SocketURL, payload); err != nil {
		metrics.MessagesSentTotal.WithLabelValues("socket", "error").Inc()
		return err
	}
	metrics.MessagesSentTotal.WithLabelValues("socket", "ok").Inc()
	return nil
}

// fallback posts the message with bounded retries on retryable failures
// and echoes it locally once accepted.
func (d *DeliveryUseCase) fallback(ctx context.Context, text string) error {
	sentAt := d.clock.Now()
	input := repository.SendMessageInput{
		SenderID:   d.cfg.ModeratorID,
		ReceiverID: d.cfg.Identity.UserID(),
		ChatID:     d.cfg.Identity.ChatID(),
		Text:       text,
		SentTime:   sentAt,
	}

	op := func() error {
		_, err := d.repo.SendMessage(ctx, input)
		if err != nil && !errors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.FallbackRetriesTotal.Inc()
		d.log.Warn().Err(err).Dur("retry_in", wait).Msg("send failed, retrying")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.RetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Clock = d.clock
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.cfg.MaxRetries)), ctx)

	if err := backoff.RetryNotifyWithTimer(op, policy, notify, &clockTimer{clock: d.clock}); err != nil {
		metrics.MessagesSentTotal.WithLabelValues("request", "error").Inc()
		if errors.IsAuth(err) {
			d.sink.SetConnectionError("session expired, please sign in again")
		} else {
			d.sink.SetConnectionError(fmt.Sprintf("message not delivered: %v", err))
		}
		return err
	}

	metrics.MessagesSentTotal.WithLabelValues("request", "ok").Inc()
	d.sink.AppendLocal(entity.Message{
		ID:           LocalMessagePrefix + uuid.NewString(),
		Text:         text,
		Sender:       entity.SenderPrimary,
		Timestamp:    sentAt,
		IsRead:       true,
		AuthorUserID: d.cfg.ModeratorID,
		Local:        true,
	})
	d.roster.UpdateChatLastMessage(d.cfg.Identity, text, sentAt)
	return nil
}

func (d *DeliveryUseCase) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops the wait timer and drops anything still queued.
func (d *DeliveryUseCase) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.stopTimerLocked()
	if len(d.queue) > 0 {
		d.log.Warn().Int("dropped", len(d.queue)).Msg("conversation closed with queued messages")
	}
	d.queue = nil
}

// clockTimer drives backoff sleeps from the injected clock.
type clockTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func (t *clockTimer) Start(duration time.Duration) {
	t.timer = t.clock.Timer(duration)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}
