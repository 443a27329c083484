// Package store provides PostgreSQL-backed storage for users, chats, and
// messages. It is the durable side of the messaging core: presence fields,
// chat summaries, and message read state all live here.
//
// Every call runs under a bounded timeout with a small retry budget, so a
// transient database hiccup is absorbed before it surfaces to a handler.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"

	"github.com/pingme/chat-server/internal/metrics"
)

// ErrNotFound is returned when a referenced user, chat, or message does not
// exist.
var ErrNotFound = errors.New("store: not found")

// Config holds store tuning parameters.
type Config struct {
	DSN          string        // Postgres connection string
	CallTimeout  time.Duration // per-attempt deadline for a single query
	RetryBudget  uint64        // additional attempts after the first failure
	MaxOpenConns int
}

// DefaultConfig returns a Config with production defaults. The DSN must
// still be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		CallTimeout:  2 * time.Second,
		RetryBudget:  2,
		MaxOpenConns: 20,
	}
}

// Store wraps the database handle with retry and timeout policy.
type Store struct {
	db     *sql.DB
	config Config
}

// Open connects to PostgreSQL, verifies the connection, and returns a ready
// Store.
func Open(config Config) (*Store, error) {
	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{db: db, config: config}, nil
}

// NewWithDB wraps an existing database handle. Used by tests and tools that
// manage the connection themselves.
func NewWithDB(db *sql.DB, config Config) *Store {
	return &Store{db: db, config: config}
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// do runs fn with the store's timeout and retry policy. Not-found results
// are permanent and returned as-is; any other failure is retried with
// exponential backoff until the budget is spent, then wrapped with the
// operation name. Callers treat a non-ErrNotFound error as transient.
func (s *Store) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.config.CallTimeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		metrics.StorageRetries.WithLabelValues(op).Inc()
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, s.config.RetryBudget), ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("store: %s: %w", op, err)
}
