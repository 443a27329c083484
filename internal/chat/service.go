package chat

import (
	"context"
	"time"

	"github.com/pingme/chat-server/internal/store"
	"github.com/pingme/chat-server/internal/ws"
)

// Store is the durable-store surface the core services depend on. The
// Postgres store satisfies it; tests use an in-memory fake.
type Store interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error
	ContactIDs(ctx context.Context, userID string) ([]string, error)

	GetChat(ctx context.Context, id string) (*store.Chat, error)
	SetLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error

	CreateMessage(ctx context.Context, m *store.Message) error
	MarkMessageRead(ctx context.Context, chatID, messageID string, at time.Time) (*store.Message, error)
	MarkChatRead(ctx context.Context, chatID, readerID string, at time.Time) (int64, error)
}

// Publisher fans events out to rooms and presence recipients. The hub
// satisfies it.
type Publisher interface {
	PublishRoom(chatID, excludeUser string, payload []byte) error
	PublishPresence(recipients []string, payload []byte) error
}

// Subscriber manages a connection's room membership. The hub satisfies it.
type Subscriber interface {
	Join(conn *ws.Connection, chatID string)
	Leave(conn *ws.Connection, chatID string)
}

// Gate throttles an action for an identifier. ratelimit.Gate satisfies it.
type Gate interface {
	Allow(ctx context.Context, identifier string) (bool, error)
}
