package entity

import (
	"fmt"
	"strconv"
)

// ConversationIdentity identifies one chat thread. Either half may be
// unknown; together they form the cache and connection key.
type ConversationIdentity struct {
	ConversationID *string `json:"conversation_id"`
	CounterpartyID *int64  `json:"counterparty_id"`
}

func NewConversationIdentity(conversationID string, counterpartyID int64) ConversationIdentity {
	var id ConversationIdentity
	if conversationID != "" {
		id.ConversationID = &conversationID
	}
	if counterpartyID != 0 {
		id.CounterpartyID = &counterpartyID
	}
	return id
}

func (c ConversationIdentity) Key() string {
	conv, cp := "-", "-"
	if c.ConversationID != nil {
		conv = *c.ConversationID
	}
	if c.CounterpartyID != nil {
		cp = strconv.FormatInt(*c.CounterpartyID, 10)
	}
	return fmt.Sprintf("%s:%s", conv, cp)
}

func (c ConversationIdentity) IsZero() bool {
	return c.ConversationID == nil && c.CounterpartyID == nil
}

func (c ConversationIdentity) ChatID() string {
	if c.ConversationID == nil {
		return ""
	}
	return *c.ConversationID
}

func (c ConversationIdentity) UserID() int64 {
	if c.CounterpartyID == nil {
		return 0
	}
	return *c.CounterpartyID
}
