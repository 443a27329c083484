// Package session maintains a Redis mirror of live connections: which user
// is connected, on which server instance, and through which connection.
// The in-process registry stays the source of truth for local fan-out; the
// mirror is what lets other instances and operational tooling see who is
// online in a multi-instance deployment.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for all session hashes.
	KeyPrefix = "session:user:"

	// TTL is the time-to-live for session keys. Refreshed on activity, so
	// an instance crash leaves stale entries for at most this long.
	TTL = 1 * time.Hour
)

// Session is the mirrored state for one connected user.
type Session struct {
	UserID      string `redis:"user_id"`
	ConnID      string `redis:"conn_id"`
	Server      string `redis:"server"`
	ConnectedAt int64  `redis:"connected_at"`
	LastActive  int64  `redis:"last_active"`
}

// Store manages session mirrors in Redis.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore creates a session store on an existing Redis client. serverName
// identifies this instance in the mirrored records.
func NewStore(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Connect establishes the Redis client, verifies connectivity, and returns
// a ready store.
func Connect(addr, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return NewStore(client, serverName), nil
}

// Create writes the mirror entry for a newly registered connection,
// replacing any entry left by a previous connection of the same user.
func (s *Store) Create(ctx context.Context, userID, connID string) error {
	key := KeyPrefix + userID
	now := time.Now().Unix()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":      userID,
		"conn_id":      connID,
		"server":       s.serverName,
		"connected_at": now,
		"last_active":  now,
	})
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a user's session mirror. Returns nil if the user has no
// live connection recorded.
func (s *Store) Get(ctx context.Context, userID string) (*Session, error) {
	var sess Session
	if err := s.client.HGetAll(ctx, KeyPrefix+userID).Scan(&sess); err != nil {
		return nil, err
	}
	if sess.UserID == "" {
		return nil, nil
	}
	return &sess, nil
}

// Touch refreshes the activity timestamp and TTL.
func (s *Store) Touch(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes the mirror entry, but only if it still belongs to connID.
// A disconnect from a connection that was silently replaced must not wipe
// the replacement's entry.
func (s *Store) Delete(ctx context.Context, userID, connID string) error {
	key := KeyPrefix + userID

	current, err := s.client.HGet(ctx, key, "conn_id").Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if current != connID {
		return nil
	}
	return s.client.Del(ctx, key).Err()
}

// Close closes the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages
// (rate limiting shares the connection).
func (s *Store) Client() *redis.Client {
	return s.client
}
