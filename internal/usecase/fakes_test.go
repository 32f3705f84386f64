package usecase

import (
	"context"
	"sync"
	"time"

	"modchat/internal/domain/entity"
	"modchat/internal/domain/repository"
	ws "modchat/internal/infrastructure/websocket"
)

type markRead struct {
	senderID  int64
	messageID *string
}

type fakeRepo struct {
	mu           sync.Mutex
	history      func(ctx context.Context, q repository.HistoryQuery) (*entity.HistoryPage, error)
	roster       func(ctx context.Context, page, size int) (*repository.RosterPage, error)
	send         func(ctx context.Context, in repository.SendMessageInput) (*repository.SendAck, error)
	historyCalls []int
	rosterCalls  int
	sent         []repository.SendMessageInput
	reads        []markRead
}

func (f *fakeRepo) GetHistory(ctx context.Context, q repository.HistoryQuery) (*entity.HistoryPage, error) {
	f.mu.Lock()
	f.historyCalls = append(f.historyCalls, q.Page)
	fn := f.history
	f.mu.Unlock()
	if fn == nil {
		return &entity.HistoryPage{PageNumber: q.Page, TotalPages: 1}, nil
	}
	return fn(ctx, q)
}

func (f *fakeRepo) ListRoster(ctx context.Context, page, size int) (*repository.RosterPage, error) {
	f.mu.Lock()
	f.rosterCalls++
	fn := f.roster
	f.mu.Unlock()
	if fn == nil {
		return &repository.RosterPage{Page: page, TotalPages: 1}, nil
	}
	return fn(ctx, page, size)
}

func (f *fakeRepo) SendMessage(ctx context.Context, in repository.SendMessageInput) (*repository.SendAck, error) {
	f.mu.Lock()
	f.sent = append(f.sent, in)
	fn := f.send
	f.mu.Unlock()
	if fn == nil {
		return &repository.SendAck{MessageID: "srv-1", Status: "sent"}, nil
	}
	return fn(ctx, in)
}

func (f *fakeRepo) MarkRead(ctx context.Context, senderID int64, messageID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, markRead{senderID: senderID, messageID: messageID})
	return nil
}

func (f *fakeRepo) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeRepo) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reads)
}

func (f *fakeRepo) rosterCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rosterCalls
}

func (f *fakeRepo) historyPages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.historyCalls...)
}

// fakeLive is an in-memory LiveConnection driven by the test.
type fakeLive struct {
	mu         sync.Mutex
	status     map[string]ws.Status
	listeners  map[string][]*ws.Listeners
	frames     [][]byte
	sendErr    error
	reconnects []string
}

func newFakeLive() *fakeLive {
	return &fakeLive{status: make(map[string]ws.Status), listeners: make(map[string][]*ws.Listeners)}
}

func (f *fakeLive) Connect(cfg ws.Config, l *ws.Listeners) {
	f.mu.Lock()
	f.listeners[cfg.URL] = append(f.listeners[cfg.URL], l)
	status, ok := f.status[cfg.URL]
	if !ok {
		status = ws.StatusConnecting
		f.status[cfg.URL] = status
	}
	f.mu.Unlock()
	if l.OnStatus != nil {
		l.OnStatus(status)
	}
}

func (f *fakeLive) Disconnect(url string, l *ws.Listeners) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.listeners[url][:0]
	for _, registered := range f.listeners[url] {
		if registered != l {
			out = append(out, registered)
		}
	}
	f.listeners[url] = out
	if len(out) == 0 {
		delete(f.listeners, url)
		delete(f.status, url)
	}
}

func (f *fakeLive) Send(url string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status[url] != ws.StatusOpen {
		return ws.ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeLive) Status(url string) ws.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.status[url]; ok {
		return s
	}
	return ws.StatusClosed
}

func (f *fakeLive) Reconnect(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects = append(f.reconnects, url)
}

func (f *fakeLive) setStatus(url string, status ws.Status) {
	f.mu.Lock()
	f.status[url] = status
	listeners := append([]*ws.Listeners(nil), f.listeners[url]...)
	f.mu.Unlock()
	for _, l := range listeners {
		if l.OnStatus != nil {
			l.OnStatus(status)
		}
		if status == ws.StatusOpen && l.OnOpen != nil {
			l.OnOpen()
		}
	}
}

func (f *fakeLive) push(url string, data string) {
	f.mu.Lock()
	listeners := append([]*ws.Listeners(nil), f.listeners[url]...)
	f.mu.Unlock()
	for _, l := range listeners {
		if l.OnMessage != nil {
			l.OnMessage([]byte(data))
		}
	}
}

func (f *fakeLive) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func (f *fakeLive) listenerCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners[url])
}

type lastMessage struct {
	identity entity.ConversationIdentity
	preview  string
	at       time.Time
}

type fakeRoster struct {
	mu      sync.Mutex
	updates []lastMessage
	zeroed  []entity.ConversationIdentity
}

func (f *fakeRoster) UpdateChatLastMessage(identity entity.ConversationIdentity, preview string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, lastMessage{identity, preview, at})
}

func (f *fakeRoster) ZeroUnread(identity entity.ConversationIdentity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zeroed = append(f.zeroed, identity)
}

func (f *fakeRoster) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeSink struct {
	mu       sync.Mutex
	appended []entity.Message
	errMsg   string
}

func (f *fakeSink) AppendLocal(msg entity.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, msg)
}

func (f *fakeSink) SetConnectionError(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errMsg = message
}

func (f *fakeSink) snapshot() ([]entity.Message, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.Message(nil), f.appended...), f.errMsg
}
