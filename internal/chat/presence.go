package chat

import (
	"context"
	"log"
	"time"

	"github.com/pingme/chat-server/internal/metrics"
	"github.com/pingme/chat-server/internal/protocol"
)

// Presence persists online/offline transitions and announces them. The
// announcement is scoped: it goes to users who share a chat with the
// transitioning user (plus the user's own connections), not to every
// connection on the service.
type Presence struct {
	store Store
	bus   Publisher
	now   func() time.Time
}

// NewPresence creates a Presence broadcaster.
func NewPresence(st Store, bus Publisher) *Presence {
	return &Presence{store: st, bus: bus, now: time.Now}
}

// SetOnline records and announces an online transition.
func (p *Presence) SetOnline(ctx context.Context, userID string) error {
	return p.transition(ctx, userID, true)
}

// SetOffline records and announces an offline transition.
func (p *Presence) SetOffline(ctx context.Context, userID string) error {
	return p.transition(ctx, userID, false)
}

func (p *Presence) transition(ctx context.Context, userID string, online bool) error {
	lastSeen := p.now().UTC()

	if err := p.store.SetPresence(ctx, userID, online, lastSeen); err != nil {
		return StorageError(err)
	}

	recipients, err := p.store.ContactIDs(ctx, userID)
	if err != nil {
		// Presence is already durable; the live announcement is best
		// effort and will be reconciled on the next transition.
		log.Printf("chat: presence recipients lookup failed user=%s: %v", userID, err)
		recipients = nil
	}
	recipients = append(recipients, userID)

	event := protocol.EventUserOnline
	state := "online"
	if !online {
		event = protocol.EventUserOffline
		state = "offline"
	}

	payload, err := protocol.NewServerEvent(event, protocol.PresencePayload{
		UserID:   userID,
		IsOnline: online,
		LastSeen: lastSeen,
	})
	if err != nil {
		return StorageError(err)
	}
	if err := p.bus.PublishPresence(recipients, payload); err != nil {
		log.Printf("chat: presence publish failed user=%s: %v", userID, err)
	}

	metrics.PresenceEvents.WithLabelValues(state).Inc()
	return nil
}
