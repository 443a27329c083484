package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pingme/chat-server/internal/protocol"
	"github.com/pingme/chat-server/internal/store"
	"github.com/pingme/chat-server/internal/ws"
)

func newMembership(fs *fakeStore, bus *fakeBus, rooms *fakeRooms) *Membership {
	return NewMembership(fs, rooms, NewReceipts(fs, bus))
}

func TestJoin_NonParticipantGetsExplicitError(t *testing.T) {
	fs := newFakeStore()
	seedChat(t, fs)
	bus := &fakeBus{}
	rooms := newFakeRooms()
	m := newMembership(fs, bus, rooms)

	conn := &ws.Connection{ID: "c1", UserID: "carol"}
	err := m.Join(context.Background(), conn, "chat-1")
	if err == nil {
		t.Fatal("expected authorization error")
	}
	if KindOf(err) != KindUnauthorized {
		t.Errorf("expected unauthorized kind, got %v", KindOf(err))
	}
	if len(rooms.joinedRooms("c1")) != 0 {
		t.Error("unauthorized join must not create a subscription")
	}
	if len(bus.roomEvents()) != 0 {
		t.Error("unauthorized join must not trigger receipts")
	}
}

func TestJoin_MissingChat(t *testing.T) {
	fs := newFakeStore()
	seedChat(t, fs)
	m := newMembership(fs, &fakeBus{}, newFakeRooms())

	conn := &ws.Connection{ID: "c1", UserID: "alice"}
	err := m.Join(context.Background(), conn, "no-such-chat")
	if err == nil {
		t.Fatal("expected error for missing chat")
	}
	if KindOf(err) != KindNotFound {
		t.Errorf("expected not-found kind, got %v", KindOf(err))
	}
}

func TestJoin_FlushesUnreadAsSingleBatch(t *testing.T) {
	fs := newFakeStore()
	seedChat(t, fs)
	bus := &fakeBus{}
	rooms := newFakeRooms()
	m := newMembership(fs, bus, rooms)

	// Two unread messages from alice, one already-read, one from bob
	// himself. Only the two unread from alice may transition.
	base := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	readAt := base.Add(time.Minute)
	fs.messages["m1"] = &store.Message{ID: "m1", ChatID: "chat-1", SenderID: "alice", Content: "one", CreatedAt: base}
	fs.messages["m2"] = &store.Message{ID: "m2", ChatID: "chat-1", SenderID: "alice", Content: "two", CreatedAt: base.Add(time.Second)}
	fs.messages["m3"] = &store.Message{ID: "m3", ChatID: "chat-1", SenderID: "alice", Content: "old", IsRead: true, ReadAt: &readAt, CreatedAt: base.Add(-time.Hour)}
	fs.messages["m4"] = &store.Message{ID: "m4", ChatID: "chat-1", SenderID: "bob", Content: "mine", CreatedAt: base.Add(2 * time.Second)}

	conn := &ws.Connection{ID: "c1", UserID: "bob"}
	if err := m.Join(context.Background(), conn, "chat-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := rooms.joinedRooms("c1"); len(got) != 1 || got[0] != "chat-1" {
		t.Errorf("expected subscription to chat-1, got %v", got)
	}

	if !fs.messages["m1"].IsRead || !fs.messages["m2"].IsRead {
		t.Error("unread messages from the other participant should transition")
	}
	if fs.messages["m4"].IsRead {
		t.Error("reader's own message must not transition")
	}
	if !fs.messages["m3"].ReadAt.Equal(readAt) {
		t.Error("already-read message must keep its original readAt")
	}

	events := bus.roomEvents()
	if len(events) != 1 {
		t.Fatalf("expected exactly one batch announcement, got %d", len(events))
	}
	if events[0].Event != protocol.EventMessageSeen {
		t.Errorf("expected %q, got %q", protocol.EventMessageSeen, events[0].Event)
	}

	var payload protocol.SeenPayload
	if err := json.Unmarshal(events[0].Data, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload.ChatID != "chat-1" || payload.UserID != "bob" {
		t.Errorf("unexpected batch payload: %+v", payload)
	}
	if payload.MessageID != "" {
		t.Errorf("batch announcement must not name a message, got %q", payload.MessageID)
	}
}

func TestJoin_NoUnreadMeansNoAnnouncement(t *testing.T) {
	fs := newFakeStore()
	seedChat(t, fs)
	bus := &fakeBus{}
	m := newMembership(fs, bus, newFakeRooms())

	conn := &ws.Connection{ID: "c1", UserID: "bob"}
	if err := m.Join(context.Background(), conn, "chat-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bus.roomEvents()) != 0 {
		t.Errorf("expected no announcement for empty flush, got %d", len(bus.roomEvents()))
	}
}
