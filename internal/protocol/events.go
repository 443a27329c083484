// Package protocol defines the WebSocket event types and payloads exchanged
// between the client and server. Every frame is a JSON envelope with an
// "event" discriminator and an event-specific "data" object.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Event name constants
// ---------------------------------------------------------------------------

// Client -> Server events.
const (
	EventJoinRoom    = "join_room"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventStopTyping  = "stop_typing"
	EventMessageSeen = "message_seen"
	EventPing        = "ping"
)

// Server -> Client events. EventTyping, EventStopTyping and EventMessageSeen
// are reused in both directions.
const (
	EventReceiveMessage = "receive_message"
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
	EventError          = "error"
	EventPong           = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event name and the raw data payload for deferred
// decoding into a concrete struct.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// UnmarshalJSON implements json.Unmarshaler. It decodes the event name and
// captures the data payload untouched so it can be decoded later into the
// struct matching the event.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var partial struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Event == "" {
		return fmt.Errorf("protocol: missing or empty \"event\" field")
	}
	e.Event = partial.Event
	e.Data = partial.Data
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server payloads
// ---------------------------------------------------------------------------

// JoinRoomData asks the server to subscribe this connection to a chat room.
type JoinRoomData struct {
	ChatID string `json:"chatId"`
}

// SendMessageData carries a new text message for a chat.
type SendMessageData struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

// TypingData signals a typing start or stop in a chat.
type TypingData struct {
	ChatID string `json:"chatId"`
}

// MessageSeenData marks a single message as read.
type MessageSeenData struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// ---------------------------------------------------------------------------
// Server -> Client payloads
// ---------------------------------------------------------------------------

// SenderSummary is the denormalized sender attached to delivered messages.
type SenderSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// MessagePayload is a fully hydrated message delivered to room subscribers.
type MessagePayload struct {
	ID        string        `json:"id"`
	ChatID    string        `json:"chatId"`
	Sender    SenderSummary `json:"sender"`
	Content   string        `json:"content"`
	IsRead    bool          `json:"isRead"`
	ReadAt    *time.Time    `json:"readAt,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// PresencePayload announces an online/offline transition.
type PresencePayload struct {
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// TypingPayload relays a typing indicator to other room subscribers.
// UserName is set only on typing, not on stop_typing.
type TypingPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// SeenPayload announces a read transition to a room. MessageID is empty for
// the join-time batch announcement, set for a single explicit mark.
type SeenPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId,omitempty"`
	UserID    string `json:"userId"`
}

// ErrorPayload communicates a failure to the originating connection.
type ErrorPayload struct {
	Message string `json:"message"`
}

// PongPayload is the response to a client ping.
type PongPayload struct{}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientEvent parses raw WebSocket bytes into a typed client payload.
// It returns the event name, the decoded struct, and any error encountered.
// Unknown and server-only events are rejected.
func ParseClientEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		payload interface{}
		err     error
	)

	switch env.Event {
	case EventJoinRoom:
		var d JoinRoomData
		err = decodeData(env.Data, &d)
		payload = d
	case EventSendMessage:
		var d SendMessageData
		err = decodeData(env.Data, &d)
		payload = d
	case EventTyping, EventStopTyping:
		var d TypingData
		err = decodeData(env.Data, &d)
		payload = d
	case EventMessageSeen:
		var d MessageSeenData
		err = decodeData(env.Data, &d)
		payload = d
	case EventPing:
		payload = struct{}{}
	default:
		return env.Event, nil, fmt.Errorf("protocol: unknown client event: %q", env.Event)
	}

	if err != nil {
		return env.Event, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Event, err)
	}
	return env.Event, payload, nil
}

// decodeData unmarshals an event payload, treating an absent data object as
// an empty one so that events with no fields still parse.
func decodeData(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// NewServerEvent encodes a server event envelope with the given name and
// payload, ready to be written to a connection as a text frame.
func NewServerEvent(event string, data interface{}) ([]byte, error) {
	out, err := json.Marshal(struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data"`
	}{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %q event: %w", event, err)
	}
	return out, nil
}
