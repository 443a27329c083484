package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Chat is a two-party conversation. The participant pair is immutable after
// creation and unique per unordered pair of users.
type Chat struct {
	ID            string
	Participants  [2]string // lexicographically ordered
	LastMessageID string    // empty until the first message
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// HasParticipant reports whether userID is one of the chat's two members.
func (c *Chat) HasParticipant(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// OtherParticipant returns the participant that is not userID, or the empty
// string if userID is not a member.
func (c *Chat) OtherParticipant(userID string) string {
	switch userID {
	case c.Participants[0]:
		return c.Participants[1]
	case c.Participants[1]:
		return c.Participants[0]
	}
	return ""
}

// NormalizePair orders two user ids lexicographically. Chats always store
// and look up participants in this order, which makes get-or-create
// independent of argument order.
func NormalizePair(a, b string) (low, high string) {
	if a > b {
		return b, a
	}
	return a, b
}

// GetChat returns the chat with the given id, or ErrNotFound.
func (s *Store) GetChat(ctx context.Context, id string) (*Chat, error) {
	const query = `
		SELECT id, participant_low, participant_high,
		       COALESCE(last_message_id, ''), last_message_at, created_at
		FROM chats
		WHERE id = $1`

	var c Chat
	err := s.do(ctx, "get chat", func(ctx context.Context) error {
		err := s.db.QueryRowContext(ctx, query, id).Scan(
			&c.ID, &c.Participants[0], &c.Participants[1],
			&c.LastMessageID, &c.LastMessageAt, &c.CreatedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreateChat returns the chat between the two users, creating it on
// first contact. Argument order does not matter; calling it twice returns
// the same chat. Creating a chat with oneself is rejected.
func (s *Store) GetOrCreateChat(ctx context.Context, userA, userB string) (*Chat, error) {
	if userA == userB {
		return nil, fmt.Errorf("store: chat requires two distinct participants")
	}
	low, high := NormalizePair(userA, userB)

	// The no-op DO UPDATE makes the insert return the existing row on
	// conflict, so lookup and creation are a single round trip.
	const query = `
		INSERT INTO chats (id, participant_low, participant_high)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_low, participant_high)
		DO UPDATE SET participant_low = EXCLUDED.participant_low
		RETURNING id, participant_low, participant_high,
		          COALESCE(last_message_id, ''), last_message_at, created_at`

	var c Chat
	err := s.do(ctx, "get or create chat", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, query, uuid.New().String(), low, high).Scan(
			&c.ID, &c.Participants[0], &c.Participants[1],
			&c.LastMessageID, &c.LastMessageAt, &c.CreatedAt,
		)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetLastMessage updates the chat's summary fields to the most recently
// persisted message.
func (s *Store) SetLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error {
	const query = `
		UPDATE chats
		SET last_message_id = $2, last_message_at = $3
		WHERE id = $1`

	return s.do(ctx, "set last message", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, query, chatID, messageID, at)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
