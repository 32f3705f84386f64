package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"modchat/internal/domain/entity"
	"modchat/internal/domain/repository"
	"modchat/internal/infrastructure/cache"
	"modchat/internal/infrastructure/metrics"
	ws "modchat/internal/infrastructure/websocket"
)

const prefetchAhead = 2

type ConversationConfig struct {
	Identity              entity.ConversationIdentity
	ModeratorID           int64
	Socket                ws.Config
	PageSize              int
	TypingTimeout         time.Duration
	ConnectionWaitTimeout time.Duration
	SendMaxRetries        int
	SendRetryDelay        time.Duration
}

type LoadResult struct {
	Added int `json:"added"`
}

// ConversationView is the state the presentation layer renders for the open
// conversation.
type ConversationView struct {
	Identity        entity.ConversationIdentity `json:"identity"`
	Messages        []entity.Message            `json:"messages"`
	IsConnected     bool                        `json:"is_connected"`
	IsTyping        bool                        `json:"is_typing"`
	IsUserOnline    bool                        `json:"is_user_online"`
	HasMoreHistory  bool                        `json:"has_more_history"`
	ConnectionError string                      `json:"connection_error,omitempty"`
	Annotation      string                      `json:"annotation,omitempty"`
	CurrentPage     int                         `json:"current_page"`
	TotalPages      int                         `json:"total_pages"`
	PendingOutbound int                         `json:"pending_outbound"`
}

// ConversationUseCase owns one open chat thread: its visible messages, its
// history pages and its subscription to the live connection.
type ConversationUseCase struct {
	cfg      ConversationConfig
	repo     repository.ChatRepository
	conn     LiveConnection
	cache    *cache.HistoryCache
	decoder  *ws.EventDecoder
	roster   RosterNotifier
	delivery *DeliveryUseCase
	clock    clock.Clock
	log      zerolog.Logger
	onChange func()

	listeners *ws.Listeners
	ctx       context.Context
	cancel    context.CancelFunc

	mu              sync.Mutex
	messages        []entity.Message
	currentPage     int
	totalPages      int
	annotation      string
	seq             uint64
	isConnected     bool
	typingUntil     time.Time
	isUserOnline    bool
	connectionError string
	closed          bool
}

func NewConversationUseCase(
	cfg ConversationConfig,
	repo repository.ChatRepository,
	conn LiveConnection,
	historyCache *cache.HistoryCache,
	decoder *ws.EventDecoder,
	roster RosterNotifier,
	clk clock.Clock,
	log zerolog.Logger,
	onChange func(),
) *ConversationUseCase {
	if onChange == nil {
		onChange = func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &ConversationUseCase{
		cfg:      cfg,
		repo:     repo,
		conn:     conn,
		cache:    historyCache,
		decoder:  decoder,
		roster:   roster,
		clock:    clk,
		log:      log.With().Str("component", "conversation").Str("conversation", cfg.Identity.Key()).Logger(),
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
	}
	c.delivery = NewDeliveryUseCase(DeliveryConfig{
		Identity:              cfg.Identity,
		ModeratorID:           cfg.ModeratorID,
		SocketURL:             cfg.Socket.URL,
		ConnectionWaitTimeout: cfg.ConnectionWaitTimeout,
		MaxRetries:            cfg.SendMaxRetries,
		RetryDelay:            cfg.SendRetryDelay,
	}, conn, repo, roster, c, clk, log)
	c.listeners = &ws.Listeners{
		OnOpen:    c.onOpen,
		OnMessage: c.onMessage,
		OnError:   c.onError,
		OnClose:   c.onClose,
		OnStatus:  c.onStatus,
	}
	return c
}

// Open subscribes to the live connection and loads the newest page.
func (c *ConversationUseCase) Open(ctx context.Context) error {
	c.conn.Connect(c.cfg.Socket, c.listeners)
	_, err := c.LoadPage(ctx, 1, ModeReplace)
	return err
}

// Close unsubscribes and discards the conversation's cached pages. Late
// callbacks after Close are ignored.
func (c *ConversationUseCase) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.conn.Disconnect(c.cfg.Socket.URL, c.listeners)
	c.delivery.Close()
	c.cache.ClearConversation(c.cfg.Identity)
}

func (c *ConversationUseCase) Identity() entity.ConversationIdentity {
	return c.cfg.Identity
}

// LoadPage shows page using mode and returns how many messages became
// visible. Only the response to the most recent request is applied.
func (c *ConversationUseCase) LoadPage(ctx context.Context, page int, mode MergeMode) (int, error) {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	result := c.cache.Get(c.cfg.Identity, page)
	fromNetwork := result == nil
	if fromNetwork {
		fetched, err := c.fetchPage(ctx, page)
		if err != nil {
			if !c.isCurrent(seq) {
				metrics.StaleResponsesTotal.WithLabelValues("history").Inc()
				return 0, nil
			}
			c.log.Warn().Err(err).Int("page", page).Msg("history fetch failed")
			return 0, err
		}
		result = fetched
	}

	c.mu.Lock()
	if seq != c.seq || c.closed {
		c.mu.Unlock()
		metrics.StaleResponsesTotal.WithLabelValues("history").Inc()
		c.log.Debug().Int("page", page).Msg("discarding superseded history response")
		return 0, nil
	}
	// A cache hit keeps its original pull time.
	if fromNetwork {
		c.cache.Set(c.cfg.Identity, page, result.Messages, result.TotalPages, result.Annotation)
	}
	before := len(c.messages)
	c.messages = MergeMessages(c.messages, result.Messages, mode)
	added := len(c.messages) - before
	if mode == ModeReplace {
		added = len(c.messages)
	}
	c.currentPage = page
	c.totalPages = result.TotalPages
	if result.Annotation != "" || mode == ModeReplace {
		c.annotation = result.Annotation
	}
	total := result.TotalPages
	c.mu.Unlock()

	c.onChange()
	c.prefetchAfter(page, total)
	return added, nil
}

func (c *ConversationUseCase) prefetchAfter(page, total int) {
	if page >= total {
		return
	}
	pages := make([]int, 0, prefetchAhead)
	for p := page + 1; p <= page+prefetchAhead && p <= total; p++ {
		pages = append(pages, p)
	}
	go c.cache.PrefetchPages(c.ctx, c.cfg.Identity, pages, c.fetchPage)
}

func (c *ConversationUseCase) fetchPage(ctx context.Context, page int) (*entity.HistoryPage, error) {
	return c.repo.GetHistory(ctx, repository.HistoryQuery{
		Identity: c.cfg.Identity,
		Page:     page,
		PerPage:  c.cfg.PageSize,
	})
}

// RefreshMessages drops the cached newest page and reloads it, replacing
// the visible list.
func (c *ConversationUseCase) RefreshMessages(ctx context.Context) error {
	c.cache.Invalidate(c.cfg.Identity, 1)
	_, err := c.LoadPage(ctx, 1, ModeReplace)
	return err
}

// LoadOlderMessages prepends the next older page.
func (c *ConversationUseCase) LoadOlderMessages(ctx context.Context) (LoadResult, error) {
	c.mu.Lock()
	if c.currentPage >= c.totalPages {
		c.mu.Unlock()
		return LoadResult{}, nil
	}
	next := c.currentPage + 1
	c.mu.Unlock()

	added, err := c.LoadPage(ctx, next, ModePrepend)
	return LoadResult{Added: added}, err
}

func (c *ConversationUseCase) HasMoreHistory() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPage < c.totalPages
}

func (c *ConversationUseCase) SendMessage(ctx context.Context, text string) error {
	return c.delivery.SendMessage(ctx, text)
}

// MarkAsRead marks one counterparty message read locally and upstream.
func (c *ConversationUseCase) MarkAsRead(ctx context.Context, messageID string) error {
	c.mu.Lock()
	found := false
	unread := 0
	for i := range c.messages {
		m := &c.messages[i]
		if m.ID == messageID {
			m.IsRead = true
			found = true
		}
		if m.Sender == entity.SenderCounterparty && !m.IsRead {
			unread++
		}
	}
	c.mu.Unlock()
	if !found {
		return nil
	}

	c.onChange()
	if unread == 0 {
		c.roster.ZeroUnread(c.cfg.Identity)
	}
	id := messageID
	return c.repo.MarkRead(ctx, c.cfg.Identity.UserID(), &id)
}

// MarkAllAsRead marks every counterparty message read and zeroes the
// roster entry right away.
func (c *ConversationUseCase) MarkAllAsRead(ctx context.Context) error {
	c.mu.Lock()
	for i := range c.messages {
		if c.messages[i].Sender == entity.SenderCounterparty {
			c.messages[i].IsRead = true
		}
	}
	c.mu.Unlock()

	c.roster.ZeroUnread(c.cfg.Identity)
	c.onChange()
	return c.repo.MarkRead(ctx, c.cfg.Identity.UserID(), nil)
}

// Reconnect retries the live connection after it gave up.
func (c *ConversationUseCase) Reconnect() {
	c.conn.Reconnect(c.cfg.Socket.URL)
}

func (c *ConversationUseCase) View() ConversationView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConversationView{
		Identity:        c.cfg.Identity,
		Messages:        append([]entity.Message(nil), c.messages...),
		IsConnected:     c.isConnected,
		IsTyping:        c.clock.Now().Before(c.typingUntil),
		IsUserOnline:    c.isUserOnline,
		HasMoreHistory:  c.currentPage < c.totalPages,
		ConnectionError: c.connectionError,
		Annotation:      c.annotation,
		CurrentPage:     c.currentPage,
		TotalPages:      c.totalPages,
		PendingOutbound: c.delivery.Pending(),
	}
}

func (c *ConversationUseCase) Messages() []entity.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]entity.Message(nil), c.messages...)
}

// AppendLocal shows an optimistic message sent through the request API.
func (c *ConversationUseCase) AppendLocal(msg entity.Message) {
	if !c.update(func() {
		c.messages = MergeMessages(c.messages, []entity.Message{msg}, ModePrepend)
	}) {
		return
	}
	c.onChange()
}

func (c *ConversationUseCase) SetConnectionError(message string) {
	if c.update(func() { c.connectionError = message }) {
		c.onChange()
	}
}

func (c *ConversationUseCase) onOpen() {
	if c.update(func() { c.connectionError = "" }) {
		c.delivery.OnConnectionOpen()
		c.onChange()
	}
}

func (c *ConversationUseCase) onStatus(status ws.Status) {
	if c.update(func() { c.isConnected = status == ws.StatusOpen }) {
		c.onChange()
	}
}

func (c *ConversationUseCase) onError(err error) {
	if errors.Is(err, ws.ErrReconnectExhausted) {
		c.SetConnectionError("live connection lost, messages are sent through the request API")
		return
	}
	c.log.Debug().Err(err).Msg("connection error")
}

func (c *ConversationUseCase) onClose(code int, reason string) {
	for _, terminal := range ws.DefaultTerminalCodes {
		if code == terminal {
			c.log.Warn().Int("code", code).Str("reason", reason).Msg("live updates unavailable for this conversation")
			c.SetConnectionError("live updates are unavailable for this conversation")
			return
		}
	}
}

func (c *ConversationUseCase) onMessage(data []byte) {
	event, err := c.decoder.Decode(data)
	if err != nil {
		metrics.DroppedPayloadsTotal.Inc()
		c.log.Warn().Err(err).Msg("dropping malformed push payload")
		return
	}
	c.HandleEvent(event)
}

// HandleEvent applies a push event addressed to this conversation; other
// events are ignored.
func (c *ConversationUseCase) HandleEvent(event entity.PushEvent) {
	id := c.cfg.Identity
	changed := false

	switch e := event.(type) {
	case entity.MessageEvent:
		if !e.HasMessage || !id.Matches(e.ChatID, e.CounterpartyID) {
			return
		}
		changed = c.update(func() {
			c.messages = MergeMessages(c.messages, []entity.Message{e.Message}, ModePrepend)
			if e.Message.Sender == entity.SenderCounterparty {
				c.typingUntil = time.Time{}
			}
		})
	case entity.TypingEvent:
		if !id.Matches(e.ChatID, e.CounterpartyID) {
			return
		}
		changed = c.update(func() {
			if e.Typing {
				c.typingUntil = c.clock.Now().Add(c.cfg.TypingTimeout)
			} else {
				c.typingUntil = time.Time{}
			}
		})
	case entity.PresenceEvent:
		if !id.Matches("", e.CounterpartyID) {
			return
		}
		changed = c.update(func() { c.isUserOnline = e.Online })
	case entity.ReadEvent:
		if !id.Matches(e.ChatID, e.CounterpartyID) {
			return
		}
		changed = c.update(func() { c.applyRead(e.MessageIDs) })
	default:
		return
	}
	if changed {
		c.onChange()
	}
}

// applyRead marks the listed messages read, or every moderator message when
// the event names none.
func (c *ConversationUseCase) applyRead(ids []string) {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	for i := range c.messages {
		m := &c.messages[i]
		if len(wanted) == 0 {
			if m.Sender == entity.SenderPrimary {
				m.IsRead = true
			}
			continue
		}
		if _, ok := wanted[m.ID]; ok {
			m.IsRead = true
		}
	}
}

// SetUserOnline seeds presence from the roster when the view opens.
func (c *ConversationUseCase) SetUserOnline(online bool) {
	c.update(func() { c.isUserOnline = online })
}

func (c *ConversationUseCase) update(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	fn()
	return true
}

func (c *ConversationUseCase) isCurrent(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return seq == c.seq && !c.closed
}
