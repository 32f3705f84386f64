package repository

import (
	"context"
	"time"

	"modchat/internal/domain/entity"
)

type HistoryQuery struct {
	Identity entity.ConversationIdentity
	Page     int
	PerPage  int
}

type RosterPage struct {
	Entries    []entity.RosterEntry
	Page       int
	PageSize   int
	TotalPages int
	Total      int
}

type SendMessageInput struct {
	SenderID   int64
	ReceiverID int64
	ChatID     string
	Text       string
	SentTime   time.Time
}

type SendAck struct {
	MessageID string
	Status    string
}

// ChatRepository is the authenticated request transport towards the chat
// backend. Implementations map 401/403 to terminal auth errors and 5xx or
// network failures to retryable ones.
type ChatRepository interface {
	GetHistory(ctx context.Context, query HistoryQuery) (*entity.HistoryPage, error)
	ListRoster(ctx context.Context, page, pageSize int) (*RosterPage, error)
	SendMessage(ctx context.Context, input SendMessageInput) (*SendAck, error)
	// MarkRead marks one message, or every message from senderID when messageID is nil.
	MarkRead(ctx context.Context, senderID int64, messageID *string) error
}

// TokenStore is the session storage holding the bearer credential.
type TokenStore interface {
	Token() (string, bool)
	SetToken(token string)
	Clear()
}

// AuthFailureHandler performs the redirect side effect of a terminal auth failure.
type AuthFailureHandler func(status int)
