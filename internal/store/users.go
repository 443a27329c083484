package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// User is a registered account. Presence fields (IsOnline, LastSeen) are
// mutated only through SetPresence; identity fields belong to the external
// profile service.
type User struct {
	ID        string
	Name      string
	Email     string
	Avatar    string
	IsOnline  bool
	LastSeen  time.Time
	CreatedAt time.Time
}

// GetUser returns the user with the given id, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, name, email, avatar, is_online, last_seen, created_at
		FROM users
		WHERE id = $1`

	var u User
	err := s.do(ctx, "get user", func(ctx context.Context) error {
		err := s.db.QueryRowContext(ctx, query, id).Scan(
			&u.ID, &u.Name, &u.Email, &u.Avatar, &u.IsOnline, &u.LastSeen, &u.CreatedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user row. Used by tooling and tests; account
// creation in production goes through the auth service.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	const query = `
		INSERT INTO users (id, name, email, avatar)
		VALUES ($1, $2, $3, $4)`

	return s.do(ctx, "create user", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, u.ID, u.Name, u.Email, u.Avatar)
		return err
	})
}

// SetPresence persists an online/offline transition and the accompanying
// last-seen timestamp.
func (s *Store) SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	const query = `
		UPDATE users
		SET is_online = $2, last_seen = $3
		WHERE id = $1`

	return s.do(ctx, "set presence", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, query, userID, online, lastSeen)
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

// ContactIDs returns the ids of every user who shares a chat with userID.
// This is the recipient set for scoped presence fan-out.
func (s *Store) ContactIDs(ctx context.Context, userID string) ([]string, error) {
	const query = `
		SELECT DISTINCT
			CASE WHEN participant_low = $1 THEN participant_high ELSE participant_low END
		FROM chats
		WHERE participant_low = $1 OR participant_high = $1`

	var ids []string
	err := s.do(ctx, "contact ids", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, query, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		ids = ids[:0]
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
