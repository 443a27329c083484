// Package hub manages room subscriptions and event fan-out. Rooms are
// chat-scoped broadcast groups of live connections. Events are published
// through a relay bus (NATS) and delivered locally by each instance's
// subscriber, so a sender and a recipient handled by different instances
// still converge on the same room. Without a relay the hub loops events
// back locally, which is the single-instance mode used by tests.
package hub

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/pingme/chat-server/internal/metrics"
	"github.com/pingme/chat-server/internal/registry"
	"github.com/pingme/chat-server/internal/ws"
)

// Relay carries serialized hub events between instances.
type Relay interface {
	PublishRoom(chatID string, data []byte) error
	PublishPresence(data []byte) error
}

// roomEvent is the bus envelope for room-scoped fan-out. The server event
// payload is carried opaquely; Exclude names a user whose connections must
// not receive it (typing indicators skip the sender).
type roomEvent struct {
	ChatID  string          `json:"chat_id"`
	Exclude string          `json:"exclude,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// presenceEvent is the bus envelope for presence fan-out, scoped to the
// recipient users computed by the broadcaster.
type presenceEvent struct {
	Recipients []string        `json:"recipients"`
	Payload    json.RawMessage `json:"payload"`
}

// Hub is the room subscription table plus the local end of the relay bus.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*ws.Connection // chatID -> connID -> conn
	conns map[string]map[string]struct{}       // connID -> set of chatIDs

	registry *registry.Registry
	relay    Relay // nil in single-instance mode
}

// New creates a Hub. The registry resolves presence recipients to local
// connections; relay may be nil for single-instance operation.
func New(reg *registry.Registry, relay Relay) *Hub {
	return &Hub{
		rooms:    make(map[string]map[string]*ws.Connection),
		conns:    make(map[string]map[string]struct{}),
		registry: reg,
		relay:    relay,
	}
}

// Join subscribes a connection to a chat's room.
func (h *Hub) Join(conn *ws.Connection, chatID string) {
	h.mu.Lock()
	room, ok := h.rooms[chatID]
	if !ok {
		room = make(map[string]*ws.Connection)
		h.rooms[chatID] = room
	}
	room[conn.ID] = conn

	subs, ok := h.conns[conn.ID]
	if !ok {
		subs = make(map[string]struct{})
		h.conns[conn.ID] = subs
	}
	subs[chatID] = struct{}{}

	open := len(h.rooms)
	h.mu.Unlock()

	metrics.RoomsOpen.Set(float64(open))
}

// Leave removes a connection from one room.
func (h *Hub) Leave(conn *ws.Connection, chatID string) {
	h.mu.Lock()
	h.leaveLocked(conn.ID, chatID)
	open := len(h.rooms)
	h.mu.Unlock()

	metrics.RoomsOpen.Set(float64(open))
}

// LeaveAll removes a connection from every room it joined. Called on
// disconnect.
func (h *Hub) LeaveAll(conn *ws.Connection) {
	h.mu.Lock()
	for chatID := range h.conns[conn.ID] {
		h.leaveLocked(conn.ID, chatID)
	}
	delete(h.conns, conn.ID)
	open := len(h.rooms)
	h.mu.Unlock()

	metrics.RoomsOpen.Set(float64(open))
}

func (h *Hub) leaveLocked(connID, chatID string) {
	if room, ok := h.rooms[chatID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
	if subs, ok := h.conns[connID]; ok {
		delete(subs, chatID)
	}
}

// RoomSize returns the number of local subscribers of a chat's room.
func (h *Hub) RoomSize(chatID string) int {
	h.mu.RLock()
	n := len(h.rooms[chatID])
	h.mu.RUnlock()
	return n
}

// Subscribed reports whether the connection is subscribed to the chat's room.
func (h *Hub) Subscribed(conn *ws.Connection, chatID string) bool {
	h.mu.RLock()
	_, ok := h.rooms[chatID][conn.ID]
	h.mu.RUnlock()
	return ok
}

// PublishRoom sends a server event to every subscriber of the chat's room
// across all instances. Connections belonging to excludeUser are skipped;
// pass the empty string to include everyone.
func (h *Hub) PublishRoom(chatID, excludeUser string, payload []byte) error {
	ev := roomEvent{ChatID: chatID, Exclude: excludeUser, Payload: payload}

	if h.relay == nil {
		h.deliverRoom(ev)
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("hub: marshal room event: %w", err)
	}
	return h.relay.PublishRoom(chatID, data)
}

// PublishPresence sends a presence event to every recipient user's
// connections across all instances.
func (h *Hub) PublishPresence(recipients []string, payload []byte) error {
	ev := presenceEvent{Recipients: recipients, Payload: payload}

	if h.relay == nil {
		h.deliverPresence(ev)
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("hub: marshal presence event: %w", err)
	}
	return h.relay.PublishPresence(data)
}

// HandleRoomEvent is the relay callback for room events published by any
// instance (including this one).
func (h *Hub) HandleRoomEvent(data []byte) {
	var ev roomEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("hub: bad room event: %v", err)
		return
	}
	h.deliverRoom(ev)
}

// HandlePresenceEvent is the relay callback for presence events.
func (h *Hub) HandlePresenceEvent(data []byte) {
	var ev presenceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("hub: bad presence event: %v", err)
		return
	}
	h.deliverPresence(ev)
}

// deliverRoom writes the event to local room subscribers. Write errors on
// individual connections are ignored; failed connections are cleaned up by
// the event loop when the next read fails.
func (h *Hub) deliverRoom(ev roomEvent) {
	h.mu.RLock()
	targets := make([]*ws.Connection, 0, len(h.rooms[ev.ChatID]))
	for _, conn := range h.rooms[ev.ChatID] {
		if ev.Exclude != "" && conn.UserID == ev.Exclude {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		_ = conn.WriteEvent(ev.Payload)
	}
}

// deliverPresence writes the event to the local connections of each
// recipient user.
func (h *Hub) deliverPresence(ev presenceEvent) {
	if h.registry == nil {
		return
	}
	for _, userID := range ev.Recipients {
		if conn := h.registry.Get(userID); conn != nil {
			_ = conn.WriteEvent(ev.Payload)
		}
	}
}
