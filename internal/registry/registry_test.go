package registry

import (
	"testing"

	"github.com/pingme/chat-server/internal/ws"
)

func TestRegister_ReturnsNilForFirstConnection(t *testing.T) {
	r := New()

	prev := r.Register(&ws.Connection{ID: "c1", UserID: "alice"})
	if prev != nil {
		t.Errorf("expected nil previous connection, got %v", prev.ID)
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 registered user, got %d", r.Count())
	}
}

func TestRegister_SecondConnectionReplaces(t *testing.T) {
	r := New()
	first := &ws.Connection{ID: "c1", UserID: "alice"}
	second := &ws.Connection{ID: "c2", UserID: "alice"}

	r.Register(first)
	prev := r.Register(second)

	if prev == nil || prev.ID != "c1" {
		t.Fatalf("expected previous connection c1, got %v", prev)
	}
	if got := r.Get("alice"); got == nil || got.ID != "c2" {
		t.Errorf("expected c2 to be registered, got %v", got)
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 registered user, got %d", r.Count())
	}
}

func TestUnregister_StaleConnectionIsNoOp(t *testing.T) {
	r := New()
	first := &ws.Connection{ID: "c1", UserID: "alice"}
	second := &ws.Connection{ID: "c2", UserID: "alice"}

	r.Register(first)
	r.Register(second)

	// The replaced connection disconnects late; the replacement must stay.
	if r.Unregister(first) {
		t.Error("unregistering a replaced connection should be a no-op")
	}
	if got := r.Get("alice"); got == nil || got.ID != "c2" {
		t.Errorf("replacement connection should survive, got %v", got)
	}

	if !r.Unregister(second) {
		t.Error("unregistering the current connection should succeed")
	}
	if r.Get("alice") != nil {
		t.Error("user should be gone after unregister")
	}
}

func TestConnections_Snapshot(t *testing.T) {
	r := New()
	r.Register(&ws.Connection{ID: "c1", UserID: "alice"})
	r.Register(&ws.Connection{ID: "c2", UserID: "bob"})

	conns := r.Connections()
	if len(conns) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(conns))
	}
}
