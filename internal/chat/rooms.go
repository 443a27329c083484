package chat

import (
	"context"
	"errors"

	"github.com/pingme/chat-server/internal/store"
	"github.com/pingme/chat-server/internal/ws"
)

// Membership authorizes and manages a connection's subscription to a
// chat's room.
type Membership struct {
	store    Store
	rooms    Subscriber
	receipts *Receipts
}

// NewMembership creates a Membership manager.
func NewMembership(st Store, rooms Subscriber, receipts *Receipts) *Membership {
	return &Membership{store: st, rooms: rooms, receipts: receipts}
}

// Join subscribes the connection to the chat's room after verifying the
// connection's user is a participant. A non-participant gets an explicit
// authorization error, never a silent drop. On success, pending unread
// messages addressed to the user are flushed as a read-receipt batch, so a
// reconnecting participant's receipts go out without client polling.
func (m *Membership) Join(ctx context.Context, conn *ws.Connection, chatID string) error {
	if chatID == "" {
		return Validation("chat ID is required")
	}

	ch, err := m.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFound("chat not found")
		}
		return StorageError(err)
	}
	if !ch.HasParticipant(conn.UserID) {
		return Unauthorized("chat not found")
	}

	m.rooms.Join(conn, chatID)

	// The subscription stands even if the flush fails; the caller reports
	// the storage error and the client can retry by rejoining.
	if _, err := m.receipts.FlushUnread(ctx, conn.UserID, chatID); err != nil {
		return err
	}
	return nil
}

// Leave removes the connection from the chat's room.
func (m *Membership) Leave(conn *ws.Connection, chatID string) {
	m.rooms.Leave(conn, chatID)
}
