package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pingme/chat-server/internal/metrics"
	"github.com/pingme/chat-server/internal/protocol"
	"github.com/pingme/chat-server/internal/store"
)

// Pipeline validates, persists, and fans out new messages. A per-chat lock
// serializes timestamp assignment, persistence, and publish, so messages in
// one chat are totally ordered by arrival at the pipeline even when wall
// clocks tie.
type Pipeline struct {
	store Store
	bus   Publisher
	gate  Gate // optional message rate limit

	mu    sync.Mutex
	locks map[string]*sync.Mutex // chatID -> lock

	now func() time.Time
}

// NewPipeline creates a Pipeline. gate may be nil to disable rate limiting.
func NewPipeline(st Store, bus Publisher, gate Gate) *Pipeline {
	return &Pipeline{
		store: st,
		bus:   bus,
		gate:  gate,
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
}

// Send processes one send_message request. On success the persisted message
// is returned after it has been published to the chat's room, sender
// included. Validation and authorization failures change no state and are
// reported only to the caller.
func (p *Pipeline) Send(ctx context.Context, userID, chatID, content string) (*store.Message, error) {
	started := p.now()

	content = strings.TrimSpace(content)
	if chatID == "" || content == "" {
		metrics.MessagesTotal.WithLabelValues("invalid").Inc()
		return nil, Validation("chat ID and content are required")
	}

	if p.gate != nil {
		ok, err := p.gate.Allow(ctx, userID)
		if err != nil {
			log.Printf("chat: message rate check failed user=%s: %v (failing open)", userID, err)
		}
		if !ok {
			metrics.MessagesTotal.WithLabelValues("limited").Inc()
			return nil, Validation("you are sending messages too quickly")
		}
	}

	lock := p.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	ch, err := p.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.MessagesTotal.WithLabelValues("unauthorized").Inc()
			return nil, NotFound("chat not found")
		}
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return nil, StorageError(err)
	}
	if !ch.HasParticipant(userID) {
		metrics.MessagesTotal.WithLabelValues("unauthorized").Inc()
		return nil, NotFound("chat not found")
	}

	// Wall clock, bumped past the chat's latest message so createdAt is
	// strictly increasing per chat regardless of clock resolution.
	ts := p.now().UTC()
	if !ts.After(ch.LastMessageAt) {
		ts = ch.LastMessageAt.Add(time.Millisecond)
	}

	msg := &store.Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		SenderID:  userID,
		Content:   content,
		CreatedAt: ts,
	}

	if err := p.store.CreateMessage(ctx, msg); err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return nil, StorageError(err)
	}
	if err := p.store.SetLastMessage(ctx, chatID, msg.ID, msg.CreatedAt); err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return nil, StorageError(err)
	}

	sender, err := p.store.GetUser(ctx, userID)
	if err != nil {
		// The message is durable at this point; a failed hydration only
		// costs the live broadcast.
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return nil, StorageError(err)
	}

	payload, err := protocol.NewServerEvent(protocol.EventReceiveMessage, protocol.MessagePayload{
		ID:     msg.ID,
		ChatID: msg.ChatID,
		Sender: protocol.SenderSummary{
			ID:     sender.ID,
			Name:   sender.Name,
			Avatar: sender.Avatar,
		},
		Content:   msg.Content,
		IsRead:    msg.IsRead,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return nil, StorageError(err)
	}

	// Sender's own connections receive the message too, keeping multiple
	// open clients of one user consistent.
	if err := p.bus.PublishRoom(chatID, "", payload); err != nil {
		log.Printf("chat: room publish failed chat=%s msg=%s: %v", chatID, msg.ID, err)
	}

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	metrics.BroadcastLatency.Observe(p.now().Sub(started).Seconds())
	return msg, nil
}

// chatLock returns the mutex for a chat, creating it on first use.
func (p *Pipeline) chatLock(chatID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	lock, ok := p.locks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[chatID] = lock
	}
	return lock
}
