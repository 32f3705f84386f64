package entity

type EventKind string

const (
	EventMessage       EventKind = "message"
	EventBalance       EventKind = "balance_updated"
	EventChatsSnapshot EventKind = "add_new_chats"
	EventChatUpdated   EventKind = "update_chat"
	EventChatRemoved   EventKind = "remove_chat_from_list"
	EventRead          EventKind = "read"
	EventReArrange     EventKind = "re_arrange"
	EventTyping        EventKind = "typing"
	EventPresence      EventKind = "presence"
	EventIgnored       EventKind = "ignored"
)

// PushEvent is the closed set of server-initiated notifications. Payloads
// are decoded into one of the variants below at the socket boundary.
type PushEvent interface {
	Kind() EventKind
}

type MessageEvent struct {
	ChatID         string
	CounterpartyID int64
	Message        Message
	HasMessage     bool // false when the frame announced a message without a usable body
}

type BalanceUpdatedEvent struct {
	CounterpartyID int64
	Balance        *string
	WinningBalance *string
}

type ChatsSnapshotEvent struct {
	Entries []RosterEntry
}

// ChatUpdatedEvent covers both update_chat and new_message deltas.
type ChatUpdatedEvent struct {
	Patch RosterPatch
}

type ChatRemovedEvent struct {
	ChatID         string
	CounterpartyID int64
}

type ReadEvent struct {
	ChatID         string
	CounterpartyID int64
	MessageIDs     []string
}

type ReArrangeEvent struct{}

type TypingEvent struct {
	ChatID         string
	CounterpartyID int64
	Typing         bool
}

type PresenceEvent struct {
	CounterpartyID int64
	Online         bool
}

type IgnoredEvent struct {
	Type string
}

func (MessageEvent) Kind() EventKind        { return EventMessage }
func (BalanceUpdatedEvent) Kind() EventKind { return EventBalance }
func (ChatsSnapshotEvent) Kind() EventKind  { return EventChatsSnapshot }
func (ChatUpdatedEvent) Kind() EventKind    { return EventChatUpdated }
func (ChatRemovedEvent) Kind() EventKind    { return EventChatRemoved }
func (ReadEvent) Kind() EventKind           { return EventRead }
func (ReArrangeEvent) Kind() EventKind      { return EventReArrange }
func (TypingEvent) Kind() EventKind         { return EventTyping }
func (PresenceEvent) Kind() EventKind       { return EventPresence }
func (IgnoredEvent) Kind() EventKind        { return EventIgnored }

// Matches reports whether an event addressed by chat id and/or counterparty
// id concerns the given conversation.
func (c ConversationIdentity) Matches(chatID string, counterpartyID int64) bool {
	if chatID != "" && c.ConversationID != nil {
		return chatID == *c.ConversationID
	}
	if counterpartyID != 0 && c.CounterpartyID != nil {
		return counterpartyID == *c.CounterpartyID
	}
	return false
}
