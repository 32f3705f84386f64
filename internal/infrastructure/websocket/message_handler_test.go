package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modchat/internal/domain/entity"
)

const moderatorID = 1

func decode(t *testing.T, raw string) entity.PushEvent {
	t.Helper()
	event, err := NewEventDecoder(moderatorID).Decode([]byte(raw))
	require.NoError(t, err)
	return event
}

func TestDecodeMessageNestedBody(t *testing.T) {
	event := decode(t, `{"type":"message","chat_id":12,"message":{"id":501,"message":"hello","user_id":77,"created_at":"2024-05-01 10:00:00","is_read":0}}`)

	msg, ok := event.(entity.MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "12", msg.ChatID)
	assert.Equal(t, int64(77), msg.CounterpartyID)
	require.True(t, msg.HasMessage)
	assert.Equal(t, "501", msg.Message.ID)
	assert.Equal(t, "hello", msg.Message.Text)
	assert.Equal(t, entity.SenderCounterparty, msg.Message.Sender)
	assert.False(t, msg.Message.IsRead)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), msg.Message.Timestamp)
}

func TestDecodeMessageFlatFromModerator(t *testing.T) {
	event := decode(t, `{"type":"message","data":{"id":"9","message":"hi","user_id":1,"receiver_id":"77","chatId":"12","timestamp":1714557600}}`)

	msg := event.(entity.MessageEvent)
	assert.Equal(t, "12", msg.ChatID)
	assert.Equal(t, int64(77), msg.CounterpartyID)
	assert.Equal(t, entity.SenderPrimary, msg.Message.Sender)
	assert.Empty(t, msg.Message.Kind)
}

func TestDecodeMessageWithoutID(t *testing.T) {
	event := decode(t, `{"type":"message","chat_id":"12","message":"text only"}`)

	msg := event.(entity.MessageEvent)
	assert.False(t, msg.HasMessage)
	assert.Equal(t, "12", msg.ChatID)
}

func TestDecodeBalanceUpdated(t *testing.T) {
	event := decode(t, `{"type":"balance_updated","data":{"player_id":77,"balance":"10.50","winningBalance":3}}`)

	b := event.(entity.BalanceUpdatedEvent)
	assert.Equal(t, int64(77), b.CounterpartyID)
	require.NotNil(t, b.Balance)
	assert.Equal(t, "10.50", *b.Balance)
	require.NotNil(t, b.WinningBalance)
	assert.Equal(t, "3", *b.WinningBalance)
}

func TestDecodeChatsSnapshot(t *testing.T) {
	event := decode(t, `{"type":"add_new_chats","chats":[{"id":1,"user_id":10,"name":"ann","unread_count":"2"},{"player_id":11,"username":"bob"},{"name":"nobody"}]}`)

	s := event.(entity.ChatsSnapshotEvent)
	require.Len(t, s.Entries, 2)
	assert.Equal(t, "1", s.Entries[0].EntryID)
	assert.Equal(t, 2, s.Entries[0].UnreadCount)
	assert.Equal(t, "user-11", s.Entries[1].EntryID)
	assert.Equal(t, "bob", s.Entries[1].DisplayName)
}

func TestDecodeChatsSnapshotDataArray(t *testing.T) {
	event := decode(t, `{"type":"add_new_chats","data":[{"chat_id":"5","userId":50}]}`)

	s := event.(entity.ChatsSnapshotEvent)
	require.Len(t, s.Entries, 1)
	assert.Equal(t, int64(50), s.Entries[0].CounterpartyUserID)
}

func TestDecodeUpdateChatKeepsAbsentFieldsNil(t *testing.T) {
	event := decode(t, `{"type":"update_chat","data":{"chat":{"chat_id":5,"unreadCount":0}}}`)

	u := event.(entity.ChatUpdatedEvent)
	assert.Equal(t, "5", u.Patch.EntryID)
	require.NotNil(t, u.Patch.UnreadCount)
	assert.Equal(t, 0, *u.Patch.UnreadCount)
	assert.Nil(t, u.Patch.LastMessagePreview)
	assert.Nil(t, u.Patch.Balance)
}

func TestDecodeNewMessageIsChatUpdate(t *testing.T) {
	event := decode(t, `{"type":"new_message","chat_id":5,"last_message":"yo","last_message_time":"2024-05-01T10:00:00Z"}`)

	u := event.(entity.ChatUpdatedEvent)
	require.NotNil(t, u.Patch.LastMessagePreview)
	assert.Equal(t, "yo", *u.Patch.LastMessagePreview)
}

func TestDecodeUpdateChatWithoutIDIsMalformed(t *testing.T) {
	_, err := NewEventDecoder(moderatorID).Decode([]byte(`{"type":"update_chat","data":{"unread_count":1}}`))
	assert.Error(t, err)
}

func TestDecodeRemoveReadAndRearrange(t *testing.T) {
	r := decode(t, `{"type":"remove_chat_from_list","id":"5"}`).(entity.ChatRemovedEvent)
	assert.Equal(t, "5", r.ChatID)

	read := decode(t, `{"type":"mark_message_as_read","data":{"chat_id":5,"message_ids":[1,2]}}`).(entity.ReadEvent)
	assert.Equal(t, "5", read.ChatID)
	assert.Equal(t, []string{"1", "2"}, read.MessageIDs)

	plain := decode(t, `{"type":"read","user_id":77}`).(entity.ReadEvent)
	assert.Equal(t, int64(77), plain.CounterpartyID)

	assert.IsType(t, entity.ReArrangeEvent{}, decode(t, `{"type":"re_arrange"}`))
}

func TestDecodeTypingAndPresence(t *testing.T) {
	typing := decode(t, `{"type":"typing","chat_id":5,"user_id":77}`).(entity.TypingEvent)
	assert.True(t, typing.Typing)

	stopped := decode(t, `{"type":"typing","chat_id":5,"is_typing":false}`).(entity.TypingEvent)
	assert.False(t, stopped.Typing)

	p := decode(t, `{"type":"user_status","data":{"user_id":77,"status":"online"}}`).(entity.PresenceEvent)
	assert.Equal(t, int64(77), p.CounterpartyID)
	assert.True(t, p.Online)
}

func TestDecodeUnknownTypeIsIgnored(t *testing.T) {
	event := decode(t, `{"type":"Something_New","x":1}`)
	assert.Equal(t, entity.IgnoredEvent{Type: "something_new"}, event)

	assert.Equal(t, entity.EventIgnored, decode(t, `{"foo":"bar"}`).Kind())
}

func TestDecodeMalformed(t *testing.T) {
	d := NewEventDecoder(moderatorID)
	for _, raw := range []string{``, `not json`, `[1,2]`, `{"type":"balance_updated","data":{"balance":{}}}`} {
		_, err := d.Decode([]byte(raw))
		assert.Error(t, err, raw)
	}
}
