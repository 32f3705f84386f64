package usecase

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"modchat/internal/domain/entity"
	"modchat/internal/domain/repository"
	"modchat/internal/infrastructure/cache"
	ws "modchat/internal/infrastructure/websocket"
	"modchat/pkg/errors"
)

type SessionConfig struct {
	ModeratorID int64
	// ConversationSocket.URL may contain {chat_id} and {user_id}.
	ConversationSocket    ws.Config
	PageSize              int
	TypingTimeout         time.Duration
	ConnectionWaitTimeout time.Duration
	SendMaxRetries        int
	SendRetryDelay        time.Duration
}

// ModeratorSession composes the process-wide roster with at most one open
// conversation. Opening another conversation discards the previous one.
type ModeratorSession struct {
	cfg     SessionConfig
	repo    repository.ChatRepository
	conn    LiveConnection
	cache   *cache.HistoryCache
	decoder *ws.EventDecoder
	roster  *RosterUseCase
	clock   clock.Clock
	log     zerolog.Logger

	openMu   sync.Mutex
	mu       sync.Mutex
	current  *ConversationUseCase
	onChange func()
}

func NewModeratorSession(
	cfg SessionConfig,
	repo repository.ChatRepository,
	conn LiveConnection,
	historyCache *cache.HistoryCache,
	decoder *ws.EventDecoder,
	roster *RosterUseCase,
	clk clock.Clock,
	log zerolog.Logger,
) *ModeratorSession {
	return &ModeratorSession{
		cfg:      cfg,
		repo:     repo,
		conn:     conn,
		cache:    historyCache,
		decoder:  decoder,
		roster:   roster,
		clock:    clk,
		log:      log,
		onChange: func() {},
	}
}

func (s *ModeratorSession) Roster() *RosterUseCase {
	return s.roster
}

// OnConversationChange sets the callback fired when the open conversation's
// view changes. It applies to conversations opened afterwards.
func (s *ModeratorSession) OnConversationChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// OpenConversation closes the current view and opens identity. The returned
// conversation stays usable even when its first page failed to load.
func (s *ModeratorSession) OpenConversation(ctx context.Context, identity entity.ConversationIdentity) (*ConversationUseCase, error) {
	if identity.IsZero() {
		return nil, errors.BadRequest("chat_id or user_id is required", nil)
	}

	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.mu.Lock()
	prev := s.current
	s.current = nil
	onChange := s.onChange
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	socket := s.cfg.ConversationSocket
	socket.URL = ConversationURL(socket.URL, identity)
	conv := NewConversationUseCase(ConversationConfig{
		Identity:              identity,
		ModeratorID:           s.cfg.ModeratorID,
		Socket:                socket,
		PageSize:              s.cfg.PageSize,
		TypingTimeout:         s.cfg.TypingTimeout,
		ConnectionWaitTimeout: s.cfg.ConnectionWaitTimeout,
		SendMaxRetries:        s.cfg.SendMaxRetries,
		SendRetryDelay:        s.cfg.SendRetryDelay,
	}, s.repo, s.conn, s.cache, s.decoder, s.roster, s.clock, s.log, onChange)

	if entry, ok := s.roster.Lookup(identity); ok {
		conv.SetUserOnline(entry.IsOnline)
	}

	s.mu.Lock()
	s.current = conv
	s.mu.Unlock()

	s.roster.MarkChatAsRead(identity)
	s.log.Info().Str("conversation", identity.Key()).Str("url", socket.URL).Msg("conversation opened")
	return conv, conv.Open(ctx)
}

// Current returns the open conversation, or nil.
func (s *ModeratorSession) Current() *ConversationUseCase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *ModeratorSession) CloseConversation() {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// Close ends the session: the open conversation, the roster loop and every
// cached page.
func (s *ModeratorSession) Close() {
	s.CloseConversation()
	s.roster.Stop()
	s.cache.Clear()
}

// ConversationURL fills the {chat_id} and {user_id} placeholders.
func ConversationURL(template string, identity entity.ConversationIdentity) string {
	userID := ""
	if identity.UserID() != 0 {
		userID = strconv.FormatInt(identity.UserID(), 10)
	}
	return strings.NewReplacer(
		"{chat_id}", url.PathEscape(identity.ChatID()),
		"{user_id}", userID,
	).Replace(template)
}
