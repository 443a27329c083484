package hub

import (
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects used by the relay bus. Room events are published per chat
// so that future interest-scoped subscribers can narrow their view; every
// server instance currently subscribes to the wildcard.
const (
	SubjectRoomPrefix = "dm.room."
	SubjectRoomAll    = "dm.room.>"
	SubjectPresence   = "dm.presence"
)

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "dm-chatserver",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSRelay implements Relay over a NATS connection.
type NATSRelay struct {
	conn *nats.Conn
	subs []*nats.Subscription
}

// NewNATSRelay connects to NATS with the given config and returns a ready
// relay. It returns an error if the initial connection fails.
func NewNATSRelay(config NATSConfig) (*NATSRelay, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSRelay{conn: nc}, nil
}

// Start subscribes the relay to the room wildcard and presence subjects and
// feeds received events into the hub for local delivery.
func (r *NATSRelay) Start(h *Hub) error {
	roomSub, err := r.conn.Subscribe(SubjectRoomAll, func(msg *nats.Msg) {
		h.HandleRoomEvent(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectRoomAll, err)
	}
	r.subs = append(r.subs, roomSub)

	presSub, err := r.conn.Subscribe(SubjectPresence, func(msg *nats.Msg) {
		h.HandlePresenceEvent(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectPresence, err)
	}
	r.subs = append(r.subs, presSub)

	return nil
}

// PublishRoom publishes a room event to the chat's subject.
func (r *NATSRelay) PublishRoom(chatID string, data []byte) error {
	return r.conn.Publish(SubjectRoomPrefix+chatID, data)
}

// PublishPresence publishes a presence event.
func (r *NATSRelay) PublishPresence(data []byte) error {
	return r.conn.Publish(SubjectPresence, data)
}

// Close drains the subscriptions and the NATS connection.
func (r *NATSRelay) Close() {
	for _, sub := range r.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", sub.Subject, err)
		}
	}
	r.subs = nil

	if err := r.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] relay closed")
}
