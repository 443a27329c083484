package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pingme/chat-server/internal/store"
	"github.com/pingme/chat-server/internal/ws"
)

// fakeStore is an in-memory Store with the same semantics as the Postgres
// implementation.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*store.User
	chats    map[string]*store.Chat
	messages map[string]*store.Message
	failOp   string // operation name that returns errInjected
}

var errInjected = &injectedError{}

type injectedError struct{}

func (*injectedError) Error() string { return "injected storage failure" }

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*store.User),
		chats:    make(map[string]*store.Chat),
		messages: make(map[string]*store.Message),
	}
}

func (f *fakeStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOp == "get user" {
		return nil, errInjected
	}
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOp == "set presence" {
		return errInjected
	}
	u, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.IsOnline = online
	u.LastSeen = lastSeen
	return nil
}

func (f *fakeStore) ContactIDs(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOp == "contact ids" {
		return nil, errInjected
	}
	var ids []string
	for _, c := range f.chats {
		if other := c.OtherParticipant(userID); other != "" {
			ids = append(ids, other)
		}
	}
	return ids, nil
}

func (f *fakeStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOp == "get chat" {
		return nil, errInjected
	}
	c, ok := f.chats[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) SetLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOp == "set last message" {
		return errInjected
	}
	c, ok := f.chats[chatID]
	if !ok {
		return store.ErrNotFound
	}
	c.LastMessageID = messageID
	c.LastMessageAt = at
	return nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, m *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOp == "create message" {
		return errInjected
	}
	cp := *m
	f.messages[m.ID] = &cp
	return nil
}

func (f *fakeStore) MarkMessageRead(ctx context.Context, chatID, messageID string, at time.Time) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok || m.ChatID != chatID {
		return nil, store.ErrNotFound
	}
	m.IsRead = true
	if m.ReadAt == nil {
		t := at
		m.ReadAt = &t
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) MarkChatRead(ctx context.Context, chatID, readerID string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOp == "mark chat read" {
		return 0, errInjected
	}
	var n int64
	for _, m := range f.messages {
		if m.ChatID == chatID && m.SenderID != readerID && !m.IsRead {
			m.IsRead = true
			t := at
			m.ReadAt = &t
			n++
		}
	}
	return n, nil
}

// publishedEvent is one recorded fan-out call with its decoded envelope.
type publishedEvent struct {
	ChatID     string
	Exclude    string
	Recipients []string
	Event      string
	Data       json.RawMessage
}

// fakeBus records every publish.
type fakeBus struct {
	mu     sync.Mutex
	room   []publishedEvent
	global []publishedEvent
}

func (b *fakeBus) PublishRoom(chatID, excludeUser string, payload []byte) error {
	ev := decodeEnvelope(payload)
	ev.ChatID = chatID
	ev.Exclude = excludeUser
	b.mu.Lock()
	b.room = append(b.room, ev)
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) PublishPresence(recipients []string, payload []byte) error {
	ev := decodeEnvelope(payload)
	ev.Recipients = recipients
	b.mu.Lock()
	b.global = append(b.global, ev)
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) roomEvents() []publishedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishedEvent(nil), b.room...)
}

func (b *fakeBus) presenceEvents() []publishedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishedEvent(nil), b.global...)
}

func decodeEnvelope(payload []byte) publishedEvent {
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	_ = json.Unmarshal(payload, &env)
	return publishedEvent{Event: env.Event, Data: env.Data}
}

// fakeRooms records Join/Leave calls.
type fakeRooms struct {
	mu     sync.Mutex
	joined map[string][]string // connID -> chatIDs
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{joined: make(map[string][]string)}
}

func (r *fakeRooms) Join(conn *ws.Connection, chatID string) {
	r.mu.Lock()
	r.joined[conn.ID] = append(r.joined[conn.ID], chatID)
	r.mu.Unlock()
}

func (r *fakeRooms) Leave(conn *ws.Connection, chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := r.joined[conn.ID]
	for i, id := range rooms {
		if id == chatID {
			r.joined[conn.ID] = append(rooms[:i], rooms[i+1:]...)
			return
		}
	}
}

func (r *fakeRooms) joinedRooms(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.joined[connID]...)
}

// fakeGate allows or denies everything.
type fakeGate struct {
	allow bool
	keys  []string
}

func (g *fakeGate) Allow(ctx context.Context, identifier string) (bool, error) {
	g.keys = append(g.keys, identifier)
	return g.allow, nil
}

// seedChat populates the store with alice, bob, carol and one chat between
// alice and bob.
func seedChat(t *testing.T, fs *fakeStore) *store.Chat {
	t.Helper()

	for _, u := range []struct{ id, name string }{
		{"alice", "Alice"},
		{"bob", "Bob"},
		{"carol", "Carol"},
	} {
		fs.users[u.id] = &store.User{
			ID:     u.id,
			Name:   u.name,
			Email:  u.id + "@example.com",
			Avatar: "https://avatars.example.com/" + u.id,
		}
	}

	low, high := store.NormalizePair("alice", "bob")
	c := &store.Chat{
		ID:            "chat-1",
		Participants:  [2]string{low, high},
		LastMessageAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		CreatedAt:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	fs.chats[c.ID] = c
	return c
}
