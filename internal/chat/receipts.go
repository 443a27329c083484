package chat

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/pingme/chat-server/internal/metrics"
	"github.com/pingme/chat-server/internal/protocol"
	"github.com/pingme/chat-server/internal/store"
)

// Receipts mutates message read state and announces the transitions to the
// chat's room. The read transition is monotonic: once read, a message stays
// read and keeps its first readAt.
type Receipts struct {
	store Store
	bus   Publisher
	now   func() time.Time
}

// NewReceipts creates a Receipts tracker.
func NewReceipts(st Store, bus Publisher) *Receipts {
	return &Receipts{store: st, bus: bus, now: time.Now}
}

// MarkSeen marks one message as read and announces {chatId, messageId,
// userId} to the room. Marking an already-read message is a no-op on the
// stored readAt but still emits the announcement, so callers can treat the
// operation as idempotent.
func (r *Receipts) MarkSeen(ctx context.Context, userID, chatID, messageID string) error {
	if chatID == "" || messageID == "" {
		return Validation("chat ID and message ID are required")
	}

	if _, err := r.store.MarkMessageRead(ctx, chatID, messageID, r.now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFound("message not found")
		}
		return StorageError(err)
	}

	payload, err := protocol.NewServerEvent(protocol.EventMessageSeen, protocol.SeenPayload{
		ChatID:    chatID,
		MessageID: messageID,
		UserID:    userID,
	})
	if err != nil {
		return StorageError(err)
	}
	if err := r.bus.PublishRoom(chatID, "", payload); err != nil {
		log.Printf("chat: seen publish failed chat=%s msg=%s: %v", chatID, messageID, err)
	}

	metrics.ReceiptsTotal.WithLabelValues("single").Inc()
	return nil
}

// FlushUnread flips every unread message addressed to userID in the chat
// and, when at least one message changed, announces the batch as a single
// {chatId, userId} event. This is the join-time catch-up flush. Returns the
// number of messages transitioned.
func (r *Receipts) FlushUnread(ctx context.Context, userID, chatID string) (int64, error) {
	n, err := r.store.MarkChatRead(ctx, chatID, userID, r.now().UTC())
	if err != nil {
		return 0, StorageError(err)
	}
	if n == 0 {
		return 0, nil
	}

	payload, err := protocol.NewServerEvent(protocol.EventMessageSeen, protocol.SeenPayload{
		ChatID: chatID,
		UserID: userID,
	})
	if err != nil {
		return n, StorageError(err)
	}
	if err := r.bus.PublishRoom(chatID, "", payload); err != nil {
		log.Printf("chat: batch seen publish failed chat=%s: %v", chatID, err)
	}

	metrics.ReceiptsTotal.WithLabelValues("batch").Inc()
	return n, nil
}
