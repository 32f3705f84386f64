package usecase

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"modchat/internal/domain/entity"
	"modchat/internal/domain/repository"
	"modchat/internal/infrastructure/metrics"
	"modchat/internal/infrastructure/ratelimit"
	ws "modchat/internal/infrastructure/websocket"
)

const (
	DefaultRosterCooldown = 5 * time.Second
	DefaultRosterDebounce = time.Second
	maxRosterPages        = 50
)

type RosterConfig struct {
	Socket          ws.Config
	Cooldown        time.Duration
	Debounce        time.Duration
	RefreshInterval time.Duration
	PageSize        int
}

// RosterUseCase keeps the moderator's active chat list in sync from two
// racing sources: push events and authoritative pulls. Entries are ordered
// most recently active first.
type RosterUseCase struct {
	cfg       RosterConfig
	repo      repository.ChatRepository
	conn      LiveConnection
	decoder   *ws.EventDecoder
	clock     clock.Clock
	debouncer *ratelimit.Debouncer
	log       zerolog.Logger
	listeners *ws.Listeners

	mu          sync.Mutex
	entries     *orderedmap.OrderedMap[string, entity.RosterEntry]
	byUser      map[int64]string
	pending     map[string]entity.RosterPatch
	readMarks   map[string]time.Time
	lastRefresh time.Time
	refreshSeq  uint64
	refreshing  bool
	refreshMore bool
	subscribers []func()

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewRosterUseCase(
	cfg RosterConfig,
	repo repository.ChatRepository,
	conn LiveConnection,
	decoder *ws.EventDecoder,
	clk clock.Clock,
	log zerolog.Logger,
) *RosterUseCase {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultRosterCooldown
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultRosterDebounce
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	r := &RosterUseCase{
		cfg:       cfg,
		repo:      repo,
		conn:      conn,
		decoder:   decoder,
		clock:     clk,
		debouncer: ratelimit.NewDebouncer(cfg.Debounce, clk),
		log:       log.With().Str("component", "roster").Logger(),
		entries:   orderedmap.New[string, entity.RosterEntry](),
		byUser:    make(map[int64]string),
		pending:   make(map[string]entity.RosterPatch),
		readMarks: make(map[string]time.Time),
		done:      make(chan struct{}),
	}
	r.listeners = &ws.Listeners{
		OnMessage: r.onMessage,
		OnOpen: func() {
			r.requestRefresh()
		},
	}
	return r
}

// Subscribe registers fn to be called after every roster change.
func (r *RosterUseCase) Subscribe(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

func (r *RosterUseCase) notify() {
	r.mu.Lock()
	subs := append([]func(){}, r.subscribers...)
	metrics.RosterSize.Set(float64(r.entries.Len()))
	r.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// Start subscribes to the roster socket, performs the first pull and keeps
// pulling on the configured interval until Stop or ctx is done.
func (r *RosterUseCase) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		if r.cfg.Socket.URL != "" {
			r.conn.Connect(r.cfg.Socket, r.listeners)
		}
		r.wg.Add(1)
		go r.run(ctx)
		r.log.Info().Msg("roster synchronizer started")
	})
}

func (r *RosterUseCase) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		if r.cfg.Socket.URL != "" {
			r.conn.Disconnect(r.cfg.Socket.URL, r.listeners)
		}
		r.debouncer.Stop()
		r.log.Info().Msg("roster synchronizer stopped")
	})
}

func (r *RosterUseCase) run(ctx context.Context) {
	defer r.wg.Done()

	if err := r.RefreshActiveChats(ctx); err != nil {
		r.log.Warn().Err(err).Msg("initial roster refresh failed")
	}
	if r.cfg.RefreshInterval <= 0 {
		return
	}

	ticker := r.clock.Ticker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			if err := r.RefreshActiveChats(ctx); err != nil {
				r.log.Warn().Err(err).Msg("periodic roster refresh failed")
			}
		}
	}
}

func (r *RosterUseCase) onMessage(data []byte) {
	event, err := r.decoder.Decode(data)
	if err != nil {
		metrics.DroppedPayloadsTotal.Inc()
		r.log.Warn().Err(err).Msg("dropping malformed push payload")
		return
	}
	r.HandleEvent(event)
}

// HandleEvent applies one push event.
func (r *RosterUseCase) HandleEvent(event entity.PushEvent) {
	metrics.PushEventsTotal.WithLabelValues(string(event.Kind())).Inc()

	switch e := event.(type) {
	case entity.MessageEvent, entity.ReArrangeEvent:
		r.requestRefresh()
	case entity.BalanceUpdatedEvent:
		r.patchInPlace("", e.CounterpartyID, func(entry *entity.RosterEntry) {
			if e.Balance != nil {
				entry.Balance = *e.Balance
			}
			if e.WinningBalance != nil {
				entry.WinningBalance = *e.WinningBalance
			}
		})
	case entity.PresenceEvent:
		r.patchInPlace("", e.CounterpartyID, func(entry *entity.RosterEntry) {
			entry.IsOnline = e.Online
		})
	case entity.ChatsSnapshotEvent:
		r.mergeSnapshot(e.Entries)
	case entity.ChatUpdatedEvent:
		if e.Patch.UnreadCount != nil && *e.Patch.UnreadCount == 0 {
			r.zero(e.Patch.EntryID, e.Patch.CounterpartyUserID, false)
		}
		r.debouncePatch(e.Patch)
	case entity.ChatRemovedEvent:
		r.remove(e.ChatID, e.CounterpartyID)
	case entity.ReadEvent:
		r.zero(e.ChatID, e.CounterpartyID, false)
	default:
		// typing and unknown events never touch the roster
	}
}

// patchInPlace mutates a matched entry without changing its position.
func (r *RosterUseCase) patchInPlace(chatID string, counterpartyID int64, fn func(*entity.RosterEntry)) {
	r.mu.Lock()
	key, ok := r.resolveLocked(chatID, counterpartyID)
	if !ok {
		r.mu.Unlock()
		return
	}
	entry, _ := r.entries.Get(key)
	before := entry
	fn(&entry)
	changed := before.SignificantlyDiffers(entry)
	if changed {
		r.entries.Set(key, entry)
	}
	r.mu.Unlock()
	if changed {
		r.notify()
	}
}

// mergeSnapshot applies a pushed bulk snapshot unless an authoritative pull
// finished within the cooldown window.
func (r *RosterUseCase) mergeSnapshot(entries []entity.RosterEntry) {
	r.mu.Lock()
	if !r.lastRefresh.IsZero() && r.clock.Now().Sub(r.lastRefresh) < r.cfg.Cooldown {
		r.mu.Unlock()
		metrics.RosterSnapshotsSuppressed.Inc()
		r.log.Debug().Int("entries", len(entries)).Msg("ignoring pushed snapshot inside refresh cooldown")
		return
	}

	changed := false
	for i := len(entries) - 1; i >= 0; i-- {
		if r.upsertLocked(entity.PatchFrom(entries[i])) {
			changed = true
		}
	}
	r.mu.Unlock()
	if changed {
		r.notify()
	}
}

func (r *RosterUseCase) debouncePatch(patch entity.RosterPatch) {
	key := patch.EntryID
	if key == "" {
		key = userKey(patch.CounterpartyUserID)
	}

	r.mu.Lock()
	if prev, ok := r.pending[key]; ok {
		patch = prev.Merge(patch)
	}
	r.pending[key] = patch
	r.mu.Unlock()

	r.debouncer.Do(key, func() { r.flushPatch(key) })
}

func (r *RosterUseCase) flushPatch(key string) {
	r.mu.Lock()
	patch, ok := r.pending[key]
	delete(r.pending, key)
	changed := ok && r.upsertLocked(patch)
	r.mu.Unlock()
	if changed {
		r.notify()
	}
}

// upsertLocked applies patch to its entry, creating it if needed, and moves
// the entry to the front when anything visible changed.
func (r *RosterUseCase) upsertLocked(patch entity.RosterPatch) bool {
	key, exists := r.resolveLocked(patch.EntryID, patch.CounterpartyUserID)
	if !exists {
		key = patch.EntryID
		if key == "" {
			if patch.CounterpartyUserID == 0 {
				return false
			}
			key = userKey(patch.CounterpartyUserID)
		}
		entry := patch.Apply(entity.RosterEntry{})
		entry.EntryID = key
		r.entries.Set(key, entry)
		_ = r.entries.MoveToFront(key)
		r.indexLocked(entry)
		return true
	}

	existing, _ := r.entries.Get(key)
	updated := patch.Apply(existing)
	if !existing.SignificantlyDiffers(updated) && existing.DisplayName == updated.DisplayName {
		return false
	}
	r.entries.Set(key, updated)
	if existing.SignificantlyDiffers(updated) {
		_ = r.entries.MoveToFront(key)
	}
	r.indexLocked(updated)
	return true
}

func (r *RosterUseCase) remove(chatID string, counterpartyID int64) {
	r.mu.Lock()
	key, ok := r.resolveLocked(chatID, counterpartyID)
	if !ok {
		r.mu.Unlock()
		return
	}
	entry, _ := r.entries.Delete(key)
	if r.byUser[entry.CounterpartyUserID] == key {
		delete(r.byUser, entry.CounterpartyUserID)
	}
	delete(r.pending, key)
	delete(r.readMarks, key)
	r.mu.Unlock()

	r.debouncer.Cancel(key)
	r.notify()
}

// zero clears the unread count right away. local marks survive a refresh
// that was already in flight.
func (r *RosterUseCase) zero(chatID string, counterpartyID int64, local bool) {
	r.mu.Lock()
	key, ok := r.resolveLocked(chatID, counterpartyID)
	if !ok {
		r.mu.Unlock()
		return
	}
	if local {
		r.readMarks[key] = r.clock.Now()
	}
	entry, _ := r.entries.Get(key)
	changed := entry.UnreadCount != 0
	if changed {
		entry.UnreadCount = 0
		r.entries.Set(key, entry)
	}
	if p, ok := r.pending[key]; ok && p.UnreadCount != nil {
		zero := 0
		p.UnreadCount = &zero
		r.pending[key] = p
	}
	r.mu.Unlock()
	if changed {
		r.notify()
	}
}

// ZeroUnread clears the unread count of the conversation's entry without
// waiting for any refresh.
func (r *RosterUseCase) ZeroUnread(identity entity.ConversationIdentity) {
	r.zero(identity.ChatID(), identity.UserID(), true)
}

// MarkChatAsRead zeroes the entry and tells the backend in the background.
func (r *RosterUseCase) MarkChatAsRead(identity entity.ConversationIdentity) {
	r.ZeroUnread(identity)
	go r.markReadUpstream(identity)
}

// MarkChatAsReadDebounced zeroes the entry now and collapses the backend
// calls of a burst into one.
func (r *RosterUseCase) MarkChatAsReadDebounced(identity entity.ConversationIdentity) {
	r.ZeroUnread(identity)
	r.debouncer.Do("read:"+identity.Key(), func() { r.markReadUpstream(identity) })
}

func (r *RosterUseCase) markReadUpstream(identity entity.ConversationIdentity) {
	if identity.UserID() == 0 {
		return
	}
	if err := r.repo.MarkRead(context.Background(), identity.UserID(), nil); err != nil {
		r.log.Warn().Err(err).Str("conversation", identity.Key()).Msg("mark chat as read failed")
	}
}

// UpdateChatLastMessage records a message the moderator just sent.
func (r *RosterUseCase) UpdateChatLastMessage(identity entity.ConversationIdentity, preview string, at time.Time) {
	p := entity.RosterPatch{
		EntryID:            identity.ChatID(),
		CounterpartyUserID: identity.UserID(),
		LastMessagePreview: &preview,
		LastMessageTime:    &at,
	}
	r.mu.Lock()
	changed := r.upsertLocked(p)
	r.mu.Unlock()
	if changed {
		r.notify()
	}
}

// RefreshActiveChats pulls every roster page and replaces the roster. A
// refresh overtaken by a newer one is discarded.
func (r *RosterUseCase) RefreshActiveChats(ctx context.Context) error {
	r.mu.Lock()
	r.refreshSeq++
	seq := r.refreshSeq
	startedAt := r.clock.Now()
	r.mu.Unlock()

	var all []entity.RosterEntry
	for page := 1; page <= maxRosterPages; page++ {
		result, err := r.repo.ListRoster(ctx, page, r.cfg.PageSize)
		if err != nil {
			metrics.RosterRefreshesTotal.WithLabelValues("error").Inc()
			return err
		}
		all = append(all, result.Entries...)
		if len(result.Entries) == 0 || page >= result.TotalPages {
			break
		}
	}

	r.mu.Lock()
	if seq != r.refreshSeq {
		r.mu.Unlock()
		metrics.StaleResponsesTotal.WithLabelValues("roster").Inc()
		return nil
	}
	fresh := orderedmap.New[string, entity.RosterEntry]()
	byUser := make(map[int64]string, len(all))
	for _, e := range all {
		if e.EntryID == "" {
			continue
		}
		if _, dup := fresh.Get(e.EntryID); dup {
			continue
		}
		if mark, ok := r.readMarks[e.EntryID]; ok && !mark.Before(startedAt) {
			e.UnreadCount = 0
		}
		fresh.Set(e.EntryID, e)
		if e.CounterpartyUserID != 0 {
			byUser[e.CounterpartyUserID] = e.EntryID
		}
	}
	for key, mark := range r.readMarks {
		if mark.Before(startedAt) {
			delete(r.readMarks, key)
		}
	}
	r.entries = fresh
	r.byUser = byUser
	r.lastRefresh = r.clock.Now()
	r.mu.Unlock()

	metrics.RosterRefreshesTotal.WithLabelValues("ok").Inc()
	r.log.Debug().Int("entries", len(all)).Msg("roster refreshed")
	r.notify()
	return nil
}

// requestRefresh runs a refresh in the background, coalescing triggers
// that arrive while one is already running.
func (r *RosterUseCase) requestRefresh() {
	r.mu.Lock()
	if r.refreshing {
		r.refreshMore = true
		r.mu.Unlock()
		return
	}
	r.refreshing = true
	r.mu.Unlock()

	go func() {
		for {
			if err := r.RefreshActiveChats(context.Background()); err != nil {
				r.log.Warn().Err(err).Msg("triggered roster refresh failed")
			}
			r.mu.Lock()
			if !r.refreshMore {
				r.refreshing = false
				r.mu.Unlock()
				return
			}
			r.refreshMore = false
			r.mu.Unlock()
		}
	}()
}

func (r *RosterUseCase) ActiveChats() []entity.RosterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entity.RosterEntry, 0, r.entries.Len())
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

func (r *RosterUseCase) AllPlayers() []entity.Player {
	chats := r.ActiveChats()
	out := make([]entity.Player, 0, len(chats))
	seen := make(map[int64]struct{}, len(chats))
	for _, e := range chats {
		if e.CounterpartyUserID == 0 {
			continue
		}
		if _, dup := seen[e.CounterpartyUserID]; dup {
			continue
		}
		seen[e.CounterpartyUserID] = struct{}{}
		out = append(out, entity.Player{
			UserID:      e.CounterpartyUserID,
			DisplayName: e.DisplayName,
			IsOnline:    e.IsOnline,
			ChatID:      e.EntryID,
		})
	}
	return out
}

func (r *RosterUseCase) OnlineUsers() []entity.Player {
	players := r.AllPlayers()
	out := players[:0]
	for _, p := range players {
		if p.IsOnline {
			out = append(out, p)
		}
	}
	return out
}

// Lookup finds the entry for a conversation.
func (r *RosterUseCase) Lookup(identity entity.ConversationIdentity) (entity.RosterEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.resolveLocked(identity.ChatID(), identity.UserID())
	if !ok {
		return entity.RosterEntry{}, false
	}
	return r.entries.Get(key)
}

func (r *RosterUseCase) LastRefresh() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRefresh
}

func (r *RosterUseCase) resolveLocked(chatID string, counterpartyID int64) (string, bool) {
	if chatID != "" {
		if _, ok := r.entries.Get(chatID); ok {
			return chatID, true
		}
	}
	if counterpartyID != 0 {
		if key, ok := r.byUser[counterpartyID]; ok {
			return key, true
		}
		if _, ok := r.entries.Get(userKey(counterpartyID)); ok {
			return userKey(counterpartyID), true
		}
	}
	return "", false
}

func (r *RosterUseCase) indexLocked(e entity.RosterEntry) {
	if e.CounterpartyUserID != 0 {
		r.byUser[e.CounterpartyUserID] = e.EntryID
	}
}

func userKey(counterpartyID int64) string {
	return "user-" + strconv.FormatInt(counterpartyID, 10)
}
