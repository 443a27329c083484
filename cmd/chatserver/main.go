package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingme/chat-server/internal/auth"
	"github.com/pingme/chat-server/internal/chat"
	"github.com/pingme/chat-server/internal/config"
	"github.com/pingme/chat-server/internal/hub"
	"github.com/pingme/chat-server/internal/metrics"
	"github.com/pingme/chat-server/internal/protocol"
	"github.com/pingme/chat-server/internal/ratelimit"
	"github.com/pingme/chat-server/internal/registry"
	"github.com/pingme/chat-server/internal/session"
	"github.com/pingme/chat-server/internal/store"
	"github.com/pingme/chat-server/internal/ws"
)

// gatedAuth wraps the token verifier with a per-IP connection rate gate.
// A gated upgrade is rejected before the token is even inspected.
type gatedAuth struct {
	verifier *auth.Verifier
	gate     ratelimit.Gate
}

func (a gatedAuth) Authenticate(r *http.Request) (string, error) {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	if ok, err := a.gate.Allow(r.Context(), ip); err == nil && !ok {
		return "", &connRateError{ip: ip}
	}
	return a.verifier.Authenticate(r)
}

type connRateError struct{ ip string }

func (e *connRateError) Error() string {
	return "connection rate exceeded for " + e.ip
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// --- Postgres ---
	storeConfig := store.DefaultConfig()
	storeConfig.DSN = cfg.PostgresDSN
	storeConfig.CallTimeout = cfg.StorageTimeout
	storeConfig.RetryBudget = cfg.StorageRetries

	st, err := store.Open(storeConfig)
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	if err := st.Migrate(); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	// --- Redis ---
	sessionStore, err := session.Connect(cfg.RedisAddr, cfg.ServerName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	limiter := ratelimit.NewLimiter(sessionStore.Client())

	// --- NATS ---
	natsConfig := hub.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = cfg.ServerName
	relay, err := hub.NewNATSRelay(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	log.Printf("PingMe chat server starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  worker_pool:     %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  read_timeout:    %s", cfg.ReadTimeout)
	log.Printf("  write_timeout:   %s", cfg.WriteTimeout)
	log.Printf("  nats_url:        %s", cfg.NATSURL)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  server_name:     %s", cfg.ServerName)

	reg := registry.New()
	rooms := hub.New(reg, relay)
	if err := relay.Start(rooms); err != nil {
		log.Fatalf("failed to start relay subscriptions: %v", err)
	}

	pipeline := chat.NewPipeline(st, rooms, ratelimit.Gate{Limiter: limiter, Rule: ratelimit.RuleMessage})
	receipts := chat.NewReceipts(st, rooms)
	membership := chat.NewMembership(st, rooms, receipts)
	typing := chat.NewTyping(rooms, ratelimit.Gate{Limiter: limiter, Rule: ratelimit.RuleTyping})
	presence := chat.NewPresence(st, rooms)

	dispatcher := ws.NewEventDispatcher()

	// -----------------------------------------------------------------------
	// join_room — subscribe to a chat's room and flush pending receipts
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.EventJoinRoom, func(conn *ws.Connection, payload interface{}) {
		data, ok := payload.(protocol.JoinRoomData)
		if !ok {
			return
		}
		ctx := context.Background()

		if err := membership.Join(ctx, conn, data.ChatID); err != nil {
			log.Printf("join_room user=%s chat=%s: %v", conn.UserID, data.ChatID, err)
			ws.SendError(conn, chat.ClientMessage(err))
			return
		}
		log.Printf("join_room user=%s chat=%s", conn.UserID, data.ChatID)
	})

	// -----------------------------------------------------------------------
	// send_message — persist and fan out a message
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.EventSendMessage, func(conn *ws.Connection, payload interface{}) {
		data, ok := payload.(protocol.SendMessageData)
		if !ok {
			return
		}
		ctx := context.Background()

		msg, err := pipeline.Send(ctx, conn.UserID, data.ChatID, data.Content)
		if err != nil {
			log.Printf("send_message user=%s chat=%s: %v", conn.UserID, data.ChatID, err)
			ws.SendError(conn, chat.ClientMessage(err))
			return
		}
		log.Printf("send_message user=%s chat=%s msg=%s", conn.UserID, data.ChatID, msg.ID)
	})

	// -----------------------------------------------------------------------
	// typing / stop_typing — relay ephemeral indicators
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.EventTyping, func(conn *ws.Connection, payload interface{}) {
		data, ok := payload.(protocol.TypingData)
		if !ok {
			return
		}
		ctx := context.Background()

		userName := ""
		if u, err := st.GetUser(ctx, conn.UserID); err == nil {
			userName = u.Name
		}
		if err := typing.Start(ctx, conn.UserID, userName, data.ChatID); err != nil {
			ws.SendError(conn, chat.ClientMessage(err))
		}
	})

	dispatcher.Register(protocol.EventStopTyping, func(conn *ws.Connection, payload interface{}) {
		data, ok := payload.(protocol.TypingData)
		if !ok {
			return
		}
		if err := typing.Stop(context.Background(), conn.UserID, data.ChatID); err != nil {
			ws.SendError(conn, chat.ClientMessage(err))
		}
	})

	// -----------------------------------------------------------------------
	// message_seen — mark one message as read
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.EventMessageSeen, func(conn *ws.Connection, payload interface{}) {
		data, ok := payload.(protocol.MessageSeenData)
		if !ok {
			return
		}
		ctx := context.Background()

		if err := receipts.MarkSeen(ctx, conn.UserID, data.ChatID, data.MessageID); err != nil {
			log.Printf("message_seen user=%s chat=%s msg=%s: %v", conn.UserID, data.ChatID, data.MessageID, err)
			ws.SendError(conn, chat.ClientMessage(err))
		}
	})

	serverConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}
	authenticator := gatedAuth{
		verifier: auth.NewVerifier(cfg.JWTSecret),
		gate:     ratelimit.Gate{Limiter: limiter, Rule: ratelimit.RuleConnect},
	}

	server := ws.NewServer(serverConfig, authenticator, dispatcher.Dispatch)
	server.Handle("/metrics", metrics.Handler())

	server.SetOnConnect(func(conn *ws.Connection) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		// A second connection for the same user silently replaces the
		// first. Closing the old one triggers its disconnect cleanup,
		// which no-ops because the registry already points at the new
		// connection.
		if prev := reg.Register(conn); prev != nil {
			log.Printf("[connect] user=%s replacing conn=%s with conn=%s", conn.UserID, prev.ID, conn.ID)
			server.RemoveConnection(prev)
		}

		if err := sessionStore.Create(ctx, conn.UserID, conn.ID); err != nil {
			log.Printf("[connect] session create failed user=%s: %v", conn.UserID, err)
		}
		if err := presence.SetOnline(ctx, conn.UserID); err != nil {
			log.Printf("[connect] presence online failed user=%s: %v", conn.UserID, err)
		}
	})

	server.SetOnDisconnect(func(conn *ws.Connection) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		rooms.LeaveAll(conn)

		// Unregister succeeds only if this connection is still the user's
		// current one. A stale disconnect arriving after a replacement
		// must not mark the user offline.
		if !reg.Unregister(conn) {
			log.Printf("[disconnect] conn=%s superseded, skipping offline for user=%s", conn.ID, conn.UserID)
			return
		}

		if err := sessionStore.Delete(ctx, conn.UserID, conn.ID); err != nil {
			log.Printf("[disconnect] session delete failed user=%s: %v", conn.UserID, err)
		}
		if err := presence.SetOffline(ctx, conn.UserID); err != nil {
			log.Printf("[disconnect] presence offline failed user=%s: %v", conn.UserID, err)
		}
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		relay.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := sessionStore.Close(); err != nil {
			log.Printf("session store close error: %v", err)
		}
		if err := st.Close(); err != nil {
			log.Printf("store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
