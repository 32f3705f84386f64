package wire

import (
	"strings"
)

// Envelope is the outer shape of every pushed frame. The body is either
// nested under data or flattened next to type.
type Envelope struct {
	Type  *FlexString `json:"type"`
	Event *FlexString `json:"event"`
}

func (e Envelope) Name() string {
	return strings.ToLower(strings.TrimSpace(deref(firstString(e.Type, e.Event))))
}

// Addressing collects the id aliases used across event payloads.
type Addressing struct {
	ChatID      *FlexString `json:"chat_id"`
	ChatIDCamel *FlexString `json:"chatId"`
	ID          *FlexString `json:"id"`
	UserID      *FlexInt    `json:"user_id"`
	UserIDCamel *FlexInt    `json:"userId"`
	PlayerID    *FlexInt    `json:"player_id"`
	ReceiverID  *FlexInt    `json:"receiver_id"`
	SenderID    *FlexInt    `json:"sender_id"`
}

// Chat returns the conversation id. The bare id key is only trusted when
// allowBareID is set, since on message frames it names the message.
func (a Addressing) Chat(allowBareID bool) string {
	if allowBareID {
		return deref(firstString(a.ChatID, a.ChatIDCamel, a.ID))
	}
	return deref(firstString(a.ChatID, a.ChatIDCamel))
}

// Counterparty returns the player id, skipping the moderator's own id.
func (a Addressing) Counterparty(moderatorID int64) int64 {
	for _, v := range []*FlexInt{a.PlayerID, a.UserID, a.UserIDCamel, a.SenderID, a.ReceiverID} {
		if v == nil || *v == 0 {
			continue
		}
		if moderatorID != 0 && int64(*v) == moderatorID {
			continue
		}
		return int64(*v)
	}
	return 0
}

type BalancePayload struct {
	Addressing
	Balance        *FlexString `json:"balance"`
	WinningBalance *FlexString `json:"winning_balance"`
	WinningCamel   *FlexString `json:"winningBalance"`
}

func (b BalancePayload) Values() (balance, winning *string) {
	return firstString(b.Balance), firstString(b.WinningBalance, b.WinningCamel)
}

type ReadPayload struct {
	Addressing
	MessageID  *FlexString  `json:"message_id"`
	MessageIDs []FlexString `json:"message_ids"`
}

func (r ReadPayload) IDs() []string {
	ids := make([]string, 0, len(r.MessageIDs)+1)
	if r.MessageID != nil && *r.MessageID != "" {
		ids = append(ids, string(*r.MessageID))
	}
	for _, id := range r.MessageIDs {
		ids = append(ids, string(id))
	}
	return ids
}

type TypingPayload struct {
	Addressing
	Typing   *FlexBool `json:"typing"`
	IsTyping *FlexBool `json:"is_typing"`
}

// Active defaults to true: a bare typing frame means the player is typing.
func (t TypingPayload) Active() bool {
	if b := firstBool(t.Typing, t.IsTyping); b != nil {
		return *b
	}
	return true
}

type PresencePayload struct {
	Addressing
	IsOnline *FlexBool   `json:"is_online"`
	Online   *FlexBool   `json:"online"`
	Status   *FlexString `json:"status"`
}

func (p PresencePayload) Active() bool {
	if b := firstBool(p.IsOnline, p.Online); b != nil {
		return *b
	}
	return strings.EqualFold(deref(firstString(p.Status)), "online")
}
