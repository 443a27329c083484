package chat

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/pingme/chat-server/internal/protocol"
)

func TestPresence_OnlinePersistsAndScopesAnnouncement(t *testing.T) {
	fs := newFakeStore()
	seedChat(t, fs)
	bus := &fakeBus{}
	p := NewPresence(fs, bus)

	at := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	if err := p.SetOnline(context.Background(), "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u := fs.users["alice"]
	if !u.IsOnline {
		t.Error("presence not persisted")
	}
	if !u.LastSeen.Equal(at) {
		t.Errorf("lastSeen = %v, want %v", u.LastSeen, at)
	}

	events := bus.presenceEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 announcement, got %d", len(events))
	}
	ev := events[0]
	if ev.Event != protocol.EventUserOnline {
		t.Errorf("expected %s, got %s", protocol.EventUserOnline, ev.Event)
	}

	// Only bob shares a chat with alice; carol must not be addressed.
	got := append([]string(nil), ev.Recipients...)
	sort.Strings(got)
	want := []string{"alice", "bob"}
	if len(got) != len(want) {
		t.Fatalf("recipients = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("recipients = %v, want %v", got, want)
		}
	}

	var payload protocol.PresencePayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload.UserID != "alice" || !payload.IsOnline {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestPresence_OfflineRecordsLastSeen(t *testing.T) {
	fs := newFakeStore()
	seedChat(t, fs)
	bus := &fakeBus{}
	p := NewPresence(fs, bus)

	online := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	offline := online.Add(10 * time.Minute)

	p.now = func() time.Time { return online }
	if err := p.SetOnline(context.Background(), "bob"); err != nil {
		t.Fatalf("set online: %v", err)
	}

	p.now = func() time.Time { return offline }
	if err := p.SetOffline(context.Background(), "bob"); err != nil {
		t.Fatalf("set offline: %v", err)
	}

	u := fs.users["bob"]
	if u.IsOnline {
		t.Error("user should be offline")
	}
	if !u.LastSeen.Equal(offline) {
		t.Errorf("lastSeen = %v, want %v", u.LastSeen, offline)
	}

	events := bus.presenceEvents()
	if len(events) != 2 {
		t.Fatalf("expected 2 announcements, got %d", len(events))
	}
	if events[1].Event != protocol.EventUserOffline {
		t.Errorf("expected %s, got %s", protocol.EventUserOffline, events[1].Event)
	}
	var payload protocol.PresencePayload
	if err := json.Unmarshal(events[1].Data, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload.IsOnline {
		t.Error("offline payload must report isOnline=false")
	}
	if !payload.LastSeen.Equal(offline) {
		t.Errorf("payload lastSeen = %v, want %v", payload.LastSeen, offline)
	}
}

func TestPresence_StorageFailureSurfaces(t *testing.T) {
	fs := newFakeStore()
	seedChat(t, fs)
	fs.failOp = "set presence"
	p := NewPresence(fs, &fakeBus{})

	err := p.SetOnline(context.Background(), "alice")
	if KindOf(err) != KindStorage {
		t.Errorf("expected storage kind, got %v", KindOf(err))
	}
}

func TestPresence_RecipientLookupFailureStillAnnouncesToSelf(t *testing.T) {
	fs := newFakeStore()
	seedChat(t, fs)
	fs.failOp = "contact ids"
	bus := &fakeBus{}
	p := NewPresence(fs, bus)

	if err := p.SetOnline(context.Background(), "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := bus.presenceEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 announcement, got %d", len(events))
	}
	if len(events[0].Recipients) != 1 || events[0].Recipients[0] != "alice" {
		t.Errorf("expected self-only recipients, got %v", events[0].Recipients)
	}
}
