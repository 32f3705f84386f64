package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"

	"modchat/internal/domain/entity"
	"modchat/internal/infrastructure/wire"
)

// Push event types as the backend names them.
const (
	MessageTypeMessage        = "message"
	MessageTypeBalanceUpdated = "balance_updated"
	MessageTypeAddNewChats    = "add_new_chats"
	MessageTypeUpdateChat     = "update_chat"
	MessageTypeNewMessage     = "new_message"
	MessageTypeRemoveChat     = "remove_chat_from_list"
	MessageTypeRead           = "read"
	MessageTypeMarkRead       = "mark_message_as_read"
	MessageTypeReArrange      = "re_arrange"
	MessageTypeTyping         = "typing"
	MessageTypePresence       = "presence"
	MessageTypeUserStatus     = "user_status"
)

// EventDecoder turns raw frames into entity.PushEvent variants. Business
// logic never sees the raw payload.
type EventDecoder struct {
	moderatorID int64
}

func NewEventDecoder(moderatorID int64) *EventDecoder {
	return &EventDecoder{moderatorID: moderatorID}
}

// Decode returns an error only for frames that are not JSON objects or whose
// known type carries an unusable body. Unknown types decode to IgnoredEvent.
func (d *EventDecoder) Decode(raw []byte) (entity.PushEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("push frame is not a JSON object")
	}

	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	body := payloadBody(raw)
	name := env.Name()

	switch name {
	case MessageTypeMessage:
		return d.decodeMessage(body, name)
	case MessageTypeBalanceUpdated:
		var p wire.BalancePayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		balance, winning := p.Values()
		return entity.BalanceUpdatedEvent{
			CounterpartyID: p.Counterparty(d.moderatorID),
			Balance:        balance,
			WinningBalance: winning,
		}, nil
	case MessageTypeAddNewChats:
		entries, err := decodeEntries(body)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return entity.ChatsSnapshotEvent{Entries: entries}, nil
	case MessageTypeUpdateChat, MessageTypeNewMessage:
		var dto wire.RosterEntryDTO
		if err := json.Unmarshal(nestedOr(body, "chat"), &dto); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		patch := dto.ToPatch()
		if patch.EntryID == "" && patch.CounterpartyUserID == 0 {
			return nil, fmt.Errorf("decode %s: payload has no chat or user id", name)
		}
		return entity.ChatUpdatedEvent{Patch: patch}, nil
	case MessageTypeRemoveChat:
		var a wire.Addressing
		if err := json.Unmarshal(body, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return entity.ChatRemovedEvent{ChatID: a.Chat(true), CounterpartyID: a.Counterparty(d.moderatorID)}, nil
	case MessageTypeRead, MessageTypeMarkRead:
		var p wire.ReadPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return entity.ReadEvent{
			ChatID:         p.Chat(false),
			CounterpartyID: p.Counterparty(d.moderatorID),
			MessageIDs:     p.IDs(),
		}, nil
	case MessageTypeReArrange:
		return entity.ReArrangeEvent{}, nil
	case MessageTypeTyping:
		var p wire.TypingPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return entity.TypingEvent{
			ChatID:         p.Chat(false),
			CounterpartyID: p.Counterparty(d.moderatorID),
			Typing:         p.Active(),
		}, nil
	case MessageTypePresence, MessageTypeUserStatus:
		var p wire.PresencePayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return entity.PresenceEvent{CounterpartyID: p.Counterparty(d.moderatorID), Online: p.Active()}, nil
	default:
		return entity.IgnoredEvent{Type: name}, nil
	}
}

func (d *EventDecoder) decodeMessage(body []byte, name string) (entity.PushEvent, error) {
	var a wire.Addressing
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	event := entity.MessageEvent{ChatID: a.Chat(false), CounterpartyID: a.Counterparty(d.moderatorID)}

	var dto wire.MessageDTO
	nested := nestedObject(body, "message")
	if nested != nil {
		if err := json.Unmarshal(nested, &dto); err != nil {
			return nil, fmt.Errorf("decode %s body: %w", name, err)
		}
	} else if err := json.Unmarshal(body, &dto); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	msg, ok := dto.ToMessage(d.moderatorID)
	if ok {
		if msg.Kind == name {
			msg.Kind = ""
		}
		event.Message = msg
		event.HasMessage = true
	}
	if nested != nil {
		var inner wire.Addressing
		if err := json.Unmarshal(nested, &inner); err == nil {
			if event.ChatID == "" {
				event.ChatID = inner.Chat(false)
			}
			if event.CounterpartyID == 0 {
				event.CounterpartyID = inner.Counterparty(d.moderatorID)
			}
		}
	}
	return event, nil
}

func decodeEntries(body []byte) ([]entity.RosterEntry, error) {
	list := body
	if len(body) > 0 && body[0] == '{' {
		for _, key := range []string{"chats", "entries", "items"} {
			if v := nestedRaw(body, key); v != nil {
				list = v
				break
			}
		}
	}
	var dtos []wire.RosterEntryDTO
	if err := json.Unmarshal(list, &dtos); err != nil {
		return nil, err
	}
	entries := make([]entity.RosterEntry, 0, len(dtos))
	for _, dto := range dtos {
		if e, ok := dto.ToEntry(); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// payloadBody returns the data member when present, otherwise the frame itself.
func payloadBody(raw []byte) []byte {
	if v := nestedRaw(raw, "data"); v != nil {
		return v
	}
	return raw
}

func nestedRaw(raw []byte, key string) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	v, ok := fields[key]
	if !ok {
		return nil
	}
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return nil
	}
	return v
}

func nestedObject(raw []byte, key string) json.RawMessage {
	v := nestedRaw(raw, key)
	if v == nil || v[0] != '{' {
		return nil
	}
	return v
}

func nestedOr(raw []byte, key string) json.RawMessage {
	if v := nestedObject(raw, key); v != nil {
		return v
	}
	return raw
}
