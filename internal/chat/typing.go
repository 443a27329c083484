package chat

import (
	"context"
	"log"

	"github.com/pingme/chat-server/internal/protocol"
)

// Typing relays ephemeral typing indicators to the other subscribers of a
// chat's room. It holds no state of its own: no persistence, no
// deduplication. A per (user, chat) gate absorbs client-side re-send
// storms; gated events are dropped silently.
type Typing struct {
	bus  Publisher
	gate Gate // optional typing-interval gate
}

// NewTyping creates a Typing coordinator. gate may be nil to relay every
// event.
func NewTyping(bus Publisher, gate Gate) *Typing {
	return &Typing{bus: bus, gate: gate}
}

// Start relays a typing indicator to the room, excluding the sender.
// userName rides along so clients can render "X is typing" without a
// lookup.
func (t *Typing) Start(ctx context.Context, userID, userName, chatID string) error {
	if chatID == "" {
		return Validation("chat ID is required")
	}

	if t.gate != nil {
		ok, err := t.gate.Allow(ctx, userID+":"+chatID)
		if err != nil {
			log.Printf("chat: typing gate check failed user=%s: %v (failing open)", userID, err)
		}
		if !ok {
			return nil
		}
	}

	payload, err := protocol.NewServerEvent(protocol.EventTyping, protocol.TypingPayload{
		ChatID:   chatID,
		UserID:   userID,
		UserName: userName,
	})
	if err != nil {
		return StorageError(err)
	}
	if err := t.bus.PublishRoom(chatID, userID, payload); err != nil {
		log.Printf("chat: typing publish failed chat=%s: %v", chatID, err)
	}
	return nil
}

// Stop relays a stop-typing indicator to the room, excluding the sender.
// Stop events are never gated, so a gated start cannot leave a stale
// indicator on screen.
func (t *Typing) Stop(ctx context.Context, userID, chatID string) error {
	if chatID == "" {
		return Validation("chat ID is required")
	}

	payload, err := protocol.NewServerEvent(protocol.EventStopTyping, protocol.TypingPayload{
		ChatID: chatID,
		UserID: userID,
	})
	if err != nil {
		return StorageError(err)
	}
	if err := t.bus.PublishRoom(chatID, userID, payload); err != nil {
		log.Printf("chat: stop typing publish failed chat=%s: %v", chatID, err)
	}
	return nil
}
