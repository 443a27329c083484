package ws

import (
	"log"
	"time"

	"github.com/pingme/chat-server/internal/protocol"
)

// EventHandler is the callback signature for handling a parsed client
// event. The payload parameter is the concrete struct returned by
// protocol.ParseClientEvent (e.g. protocol.SendMessageData).
type EventHandler func(conn *Connection, payload interface{})

// EventDispatcher routes incoming WebSocket events to registered handlers
// based on the event name. It answers the built-in ping/pong keepalive
// itself and sends structured error events for malformed or unsupported
// frames.
type EventDispatcher struct {
	handlers map[string]EventHandler
}

// NewEventDispatcher creates an empty EventDispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[string]EventHandler),
	}
}

// Register associates an EventHandler with an event name. If a handler was
// already registered for the given event, it is silently replaced.
func (d *EventDispatcher) Register(event string, handler EventHandler) {
	d.handlers[event] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw
// bytes into a typed event, handles ping internally, and routes all other
// events to the registered handler. Parse errors and unregistered events
// result in an error event sent back to the client.
func (d *EventDispatcher) Dispatch(conn *Connection, data []byte) {
	event, payload, err := protocol.ParseClientEvent(data)
	if err != nil {
		log.Printf("ws: dispatch parse error conn=%s: %v", conn.ID, err)
		SendError(conn, "invalid event format")
		return
	}

	// Built-in ping handler, no registration required.
	if event == protocol.EventPing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[event]
	if !ok {
		log.Printf("ws: unsupported event=%q conn=%s", event, conn.ID)
		SendError(conn, "unsupported event")
		return
	}

	handler(conn, payload)
}

// SendError sends an error event to the client. Failures during
// construction or transmission are logged but not propagated.
func SendError(conn *Connection, message string) {
	data, err := protocol.NewServerEvent(protocol.EventError, protocol.ErrorPayload{
		Message: message,
	})
	if err != nil {
		log.Printf("ws: failed to build error event conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteEvent(data); err != nil {
		log.Printf("ws: failed to send error event conn=%s: %v", conn.ID, err)
	}
}

// sendPong responds to a client ping with a pong event and refreshes the
// connection's LastPing timestamp.
func (d *EventDispatcher) sendPong(conn *Connection) {
	conn.LastPing = time.Now()

	data, err := protocol.NewServerEvent(protocol.EventPong, protocol.PongPayload{})
	if err != nil {
		log.Printf("ws: failed to build pong event conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteEvent(data); err != nil {
		log.Printf("ws: failed to send pong event conn=%s: %v", conn.ID, err)
	}
}
