package entity

import "time"

type Sender string

const (
	SenderPrimary      Sender = "primary"      // the moderator side
	SenderCounterparty Sender = "counterparty" // the player side
)

type Message struct {
	ID                          string    `json:"id"`
	Text                        string    `json:"text"`
	Sender                      Sender    `json:"sender"`
	Timestamp                   time.Time `json:"timestamp"`
	IsRead                      bool      `json:"is_read"`
	AuthorUserID                int64     `json:"author_user_id"`
	Kind                        string    `json:"kind,omitempty"`
	IsFile                      bool      `json:"is_file"`
	FileRef                     string    `json:"file_ref,omitempty"`
	IsPinned                    bool      `json:"is_pinned"`
	CounterpartyBalanceSnapshot string    `json:"counterparty_balance_snapshot,omitempty"`
	Local                       bool      `json:"local,omitempty"` // optimistic, not yet confirmed by a refresh
}

type HistoryPage struct {
	ConversationKey string    `json:"conversation_key"`
	PageNumber      int       `json:"page_number"`
	Messages        []Message `json:"messages"`
	TotalPages      int       `json:"total_pages"`
	TimestampCached time.Time `json:"timestamp_cached"`
	Annotation      string    `json:"annotation,omitempty"`
}

// OutboundQueueItem is a message waiting for the live connection to open.
type OutboundQueueItem struct {
	Text       string    `json:"text"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
