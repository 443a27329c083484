package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Message is a single persisted chat message. Everything except the read
// state is immutable; IsRead only transitions false to true, and ReadAt
// keeps the timestamp of the first transition.
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	Content   string
	IsRead    bool
	ReadAt    *time.Time
	CreatedAt time.Time
}

// CreateMessage persists a new message.
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	const query = `
		INSERT INTO messages (id, chat_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	return s.do(ctx, "create message", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, m.ID, m.ChatID, m.SenderID, m.Content, m.CreatedAt)
		return err
	})
}

// GetMessage returns the message with the given id, or ErrNotFound.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	const query = `
		SELECT id, chat_id, sender_id, content, is_read, read_at, created_at
		FROM messages
		WHERE id = $1`

	var m Message
	err := s.do(ctx, "get message", func(ctx context.Context) error {
		var readAt sql.NullTime
		err := s.db.QueryRowContext(ctx, query, id).Scan(
			&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.IsRead, &readAt, &m.CreatedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if readAt.Valid {
			m.ReadAt = &readAt.Time
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkMessageRead flips a single message to read and returns its updated
// state. The COALESCE keeps the original read_at on repeat calls, so the
// operation is idempotent with first-write-wins timestamps. Returns
// ErrNotFound if the message does not exist in that chat.
func (s *Store) MarkMessageRead(ctx context.Context, chatID, messageID string, at time.Time) (*Message, error) {
	const query = `
		UPDATE messages
		SET is_read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND chat_id = $2
		RETURNING id, chat_id, sender_id, content, is_read, read_at, created_at`

	var m Message
	err := s.do(ctx, "mark message read", func(ctx context.Context) error {
		var readAt sql.NullTime
		err := s.db.QueryRowContext(ctx, query, messageID, chatID, at).Scan(
			&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.IsRead, &readAt, &m.CreatedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if readAt.Valid {
			m.ReadAt = &readAt.Time
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkChatRead flips every unread message in the chat that was not sent by
// readerID, and reports how many rows changed. This backs the join-time
// catch-up flush.
func (s *Store) MarkChatRead(ctx context.Context, chatID, readerID string, at time.Time) (int64, error) {
	const query = `
		UPDATE messages
		SET is_read = TRUE, read_at = $3
		WHERE chat_id = $1 AND sender_id <> $2 AND NOT is_read`

	var n int64
	err := s.do(ctx, "mark chat read", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, query, chatID, readerID, at)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
