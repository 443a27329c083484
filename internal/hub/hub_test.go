package hub

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/pingme/chat-server/internal/registry"
	"github.com/pingme/chat-server/internal/ws"
)

// pipeConn creates a connection backed by net.Pipe and a channel that
// receives every text frame written to it.
func pipeConn(t *testing.T, id, userID string) (*ws.Connection, <-chan []byte) {
	t.Helper()

	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	frames := make(chan []byte, 16)
	go func() {
		for {
			data, err := wsutil.ReadServerText(client)
			if err != nil {
				return
			}
			frames <- data
		}
	}()

	return &ws.Connection{ID: id, UserID: userID, Conn: server}, frames
}

func recvFrame(t *testing.T, frames <-chan []byte) []byte {
	t.Helper()
	select {
	case data := <-frames:
		return data
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func assertNoFrame(t *testing.T, frames <-chan []byte) {
	t.Helper()
	select {
	case data := <-frames:
		t.Fatalf("unexpected frame delivered: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJoinLeave_Bookkeeping(t *testing.T) {
	h := New(nil, nil)
	conn, _ := pipeConn(t, "c1", "alice")

	h.Join(conn, "chat1")
	h.Join(conn, "chat2")

	if !h.Subscribed(conn, "chat1") || !h.Subscribed(conn, "chat2") {
		t.Fatal("connection should be subscribed to both rooms")
	}
	if h.RoomSize("chat1") != 1 {
		t.Errorf("expected room size 1, got %d", h.RoomSize("chat1"))
	}

	h.Leave(conn, "chat1")
	if h.Subscribed(conn, "chat1") {
		t.Error("connection should have left chat1")
	}
	if !h.Subscribed(conn, "chat2") {
		t.Error("chat2 subscription should survive leaving chat1")
	}

	h.LeaveAll(conn)
	if h.Subscribed(conn, "chat2") {
		t.Error("LeaveAll should clear every subscription")
	}
	if h.RoomSize("chat2") != 0 {
		t.Errorf("expected empty room, got size %d", h.RoomSize("chat2"))
	}
}

func TestPublishRoom_DeliversToSubscribers(t *testing.T) {
	h := New(nil, nil)

	alice, aliceFrames := pipeConn(t, "c1", "alice")
	bob, bobFrames := pipeConn(t, "c2", "bob")
	carol, carolFrames := pipeConn(t, "c3", "carol")

	h.Join(alice, "chat1")
	h.Join(bob, "chat1")
	// carol is not in the room.

	payload := []byte(`{"event":"receive_message","data":{"content":"hello"}}`)
	if err := h.PublishRoom("chat1", "", payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := recvFrame(t, aliceFrames); string(got) != string(payload) {
		t.Errorf("alice got %s, want %s", got, payload)
	}
	if got := recvFrame(t, bobFrames); string(got) != string(payload) {
		t.Errorf("bob got %s, want %s", got, payload)
	}
	assertNoFrame(t, carolFrames)
	_ = carol
}

func TestPublishRoom_ExcludesSender(t *testing.T) {
	h := New(nil, nil)

	alice, aliceFrames := pipeConn(t, "c1", "alice")
	bob, bobFrames := pipeConn(t, "c2", "bob")

	h.Join(alice, "chat1")
	h.Join(bob, "chat1")

	payload := []byte(`{"event":"typing","data":{"chatId":"chat1","userId":"alice"}}`)
	if err := h.PublishRoom("chat1", "alice", payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recvFrame(t, bobFrames)
	assertNoFrame(t, aliceFrames)
}

func TestPublishPresence_ScopedToRecipients(t *testing.T) {
	reg := registry.New()
	h := New(reg, nil)

	bob, bobFrames := pipeConn(t, "c2", "bob")
	carol, carolFrames := pipeConn(t, "c3", "carol")
	reg.Register(bob)
	reg.Register(carol)

	payload := []byte(`{"event":"user_online","data":{"userId":"alice"}}`)
	if err := h.PublishPresence([]string{"bob"}, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recvFrame(t, bobFrames)
	assertNoFrame(t, carolFrames)
}

func TestRoomEvent_Roundtrip(t *testing.T) {
	h := New(nil, nil)
	alice, aliceFrames := pipeConn(t, "c1", "alice")
	h.Join(alice, "chat1")

	// Simulate the relay delivering an event published by another instance.
	ev := roomEvent{ChatID: "chat1", Payload: json.RawMessage(`{"event":"message_seen"}`)}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	h.HandleRoomEvent(data)
	recvFrame(t, aliceFrames)
}
