package wire

import (
	"strconv"
	"strings"
	"time"

	"modchat/internal/domain/entity"
)

// MessageDTO is a chat message as the backend serializes it.
type MessageDTO struct {
	ID          *FlexString `json:"id"`
	MessageID   *FlexString `json:"message_id"`
	Message     *FlexString `json:"message"`
	Text        *FlexString `json:"text"`
	Content     *FlexString `json:"content"`
	Sender      *FlexString `json:"sender"`
	SenderType  *FlexString `json:"sender_type"`
	CreatedAt   *FlexTime   `json:"created_at"`
	Timestamp   *FlexTime   `json:"timestamp"`
	SentTime    *FlexTime   `json:"sent_time"`
	IsRead      *FlexBool   `json:"is_read"`
	UserID      *FlexInt    `json:"user_id"`
	SenderID    *FlexInt    `json:"sender_id"`
	Type        *FlexString `json:"type"`
	MessageType *FlexString `json:"message_type"`
	IsFile      *FlexBool   `json:"is_file"`
	File        *FlexString `json:"file"`
	FileURL     *FlexString `json:"file_url"`
	IsPinned    *FlexBool   `json:"is_pinned"`
	Balance     *FlexString `json:"balance"`
	ChatID      *FlexString `json:"chat_id"`
	ReceiverID  *FlexInt    `json:"receiver_id"`
}

var primarySenders = map[string]struct{}{
	"primary": {}, "admin": {}, "moderator": {}, "support": {}, "operator": {},
}

// ToMessage converts the DTO. ok is false when the payload has no id, which
// makes it unusable for dedup.
func (d MessageDTO) ToMessage(moderatorID int64) (entity.Message, bool) {
	id := deref(firstString(d.ID, d.MessageID))
	if id == "" {
		return entity.Message{}, false
	}

	author := firstInt(d.UserID, d.SenderID)
	sender := entity.SenderCounterparty
	senderRaw := strings.ToLower(deref(firstString(d.Sender, d.SenderType)))
	if _, ok := primarySenders[senderRaw]; ok {
		sender = entity.SenderPrimary
	} else if senderRaw == "" && moderatorID != 0 && author == moderatorID {
		sender = entity.SenderPrimary
	}

	msg := entity.Message{
		ID:                          id,
		Text:                        deref(firstString(d.Message, d.Text, d.Content)),
		Sender:                      sender,
		AuthorUserID:                author,
		Kind:                        deref(firstString(d.Type, d.MessageType)),
		FileRef:                     deref(firstString(d.File, d.FileURL)),
		CounterpartyBalanceSnapshot: deref(firstString(d.Balance)),
	}
	if ts := firstTime(d.CreatedAt, d.Timestamp, d.SentTime); ts != nil {
		msg.Timestamp = *ts
	}
	if b := firstBool(d.IsRead); b != nil {
		msg.IsRead = *b
	}
	if b := firstBool(d.IsFile); b != nil {
		msg.IsFile = *b
	} else {
		msg.IsFile = msg.FileRef != ""
	}
	if b := firstBool(d.IsPinned); b != nil {
		msg.IsPinned = *b
	}
	return msg, true
}

// RosterEntryDTO is one active chat as the backend serializes it.
type RosterEntryDTO struct {
	ID                 *FlexString `json:"id"`
	ChatID             *FlexString `json:"chat_id"`
	ChatIDCamel        *FlexString `json:"chatId"`
	UserID             *FlexInt    `json:"user_id"`
	UserIDCamel        *FlexInt    `json:"userId"`
	PlayerID           *FlexInt    `json:"player_id"`
	Name               *FlexString `json:"name"`
	Username           *FlexString `json:"username"`
	DisplayName        *FlexString `json:"display_name"`
	IsOnline           *FlexBool   `json:"is_online"`
	Online             *FlexBool   `json:"online"`
	LastMessage        *FlexString `json:"last_message"`
	LastMessagePreview *FlexString `json:"last_message_preview"`
	LastMessageTime    *FlexTime   `json:"last_message_time"`
	LastMessageAt      *FlexTime   `json:"last_message_at"`
	UnreadCount        *FlexInt    `json:"unread_count"`
	UnreadCountCamel   *FlexInt    `json:"unreadCount"`
	Unread             *FlexInt    `json:"unread"`
	Balance            *FlexString `json:"balance"`
	WinningBalance     *FlexString `json:"winning_balance"`
}

// ToPatch keeps track of which fields were present.
func (d RosterEntryDTO) ToPatch() entity.RosterPatch {
	p := entity.RosterPatch{
		EntryID:            deref(firstString(d.ChatID, d.ChatIDCamel, d.ID)),
		CounterpartyUserID: firstInt(d.UserID, d.UserIDCamel, d.PlayerID),
		DisplayName:        firstString(d.DisplayName, d.Name, d.Username),
		IsOnline:           firstBool(d.IsOnline, d.Online),
		LastMessagePreview: firstString(d.LastMessagePreview, d.LastMessage),
		LastMessageTime:    firstTime(d.LastMessageTime, d.LastMessageAt),
		Balance:            firstString(d.Balance),
		WinningBalance:     firstString(d.WinningBalance),
	}
	for _, v := range []*FlexInt{d.UnreadCount, d.UnreadCountCamel, d.Unread} {
		if v != nil {
			n := int(*v)
			p.UnreadCount = &n
			break
		}
	}
	return p
}

// ToEntry converts a full snapshot row. Entries without any id fall back to
// the counterparty id so they stay addressable.
func (d RosterEntryDTO) ToEntry() (entity.RosterEntry, bool) {
	p := d.ToPatch()
	if p.EntryID == "" && p.CounterpartyUserID != 0 {
		p.EntryID = "user-" + strconv.FormatInt(p.CounterpartyUserID, 10)
	}
	if p.EntryID == "" {
		return entity.RosterEntry{}, false
	}
	return p.Apply(entity.RosterEntry{}), true
}

// OutboundFrame is what the client writes on the persistent connection.
type OutboundFrame struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	ChatID     string `json:"chat_id,omitempty"`
	ReceiverID int64  `json:"receiver_id,omitempty"`
	SenderID   int64  `json:"sender_id,omitempty"`
	SentTime   string `json:"sent_time"`
}

func NewOutboundFrame(identity entity.ConversationIdentity, senderID int64, text string, at time.Time) OutboundFrame {
	return OutboundFrame{
		Type:       "message",
		Message:    text,
		ChatID:     identity.ChatID(),
		ReceiverID: identity.UserID(),
		SenderID:   senderID,
		SentTime:   at.UTC().Format(time.RFC3339),
	}
}
