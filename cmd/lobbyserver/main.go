package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gamesf7/lobby/internal/lobby"
	"github.com/gamesf7/lobby/internal/presence"
	"github.com/gamesf7/lobby/internal/protocol"
	"github.com/gamesf7/lobby/internal/relay"
	"github.com/gamesf7/lobby/internal/reset"
	"github.com/gamesf7/lobby/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	instanceName, _ := os.Hostname()
	if v := os.Getenv("INSTANCE_NAME"); v != "" {
		instanceName = v
	}
	if instanceName == "" {
		instanceName = "lobby-1"
	}

	redisAddr := os.Getenv("REDIS_ADDR") // empty disables the presence mirror
	natsURL := os.Getenv("NATS_URL")     // empty disables the cross-instance relay

	log.Printf("GAMESF7 lobby server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  instance_name:   %s", instanceName)
	log.Printf("  redis_addr:      %s", orDisabled(redisAddr))
	log.Printf("  nats_url:        %s", orDisabled(natsURL))

	broadcaster := lobby.New()
	if v := os.Getenv("RESET_NOTICE"); v != "" {
		broadcaster.SetResetNotice(v)
	}

	// --- Redis presence mirror (optional) ---
	var presenceStore *presence.Store
	if redisAddr != "" {
		store, err := presence.NewStore(redisAddr)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		presenceStore = store
		broadcaster.SetPresence(store)
	}

	// --- NATS relay (optional) ---
	var lobbyRelay *relay.Relay
	if natsURL != "" {
		relayConfig := relay.DefaultConfig()
		relayConfig.URL = natsURL
		r, err := relay.Connect(relayConfig, instanceName)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		lobbyRelay = r
		broadcaster.SetRelay(r)

		// Frames from sibling instances are fanned out locally as-is.
		if err := r.Subscribe(broadcaster.Broadcast); err != nil {
			log.Fatalf("failed to subscribe to relay: %v", err)
		}
	}

	// -----------------------------------------------------------------------
	// Frame routing
	// -----------------------------------------------------------------------
	dispatcher := ws.NewDispatcher()

	dispatcher.Register(protocol.TypeAuth, func(conn *ws.Connection, msg interface{}) {
		frame, ok := msg.(protocol.AuthFrame)
		if !ok {
			return
		}
		broadcaster.HandleAuth(conn, frame)
	})

	dispatcher.Register(protocol.TypeChat, func(conn *ws.Connection, msg interface{}) {
		frame, ok := msg.(protocol.ChatFrame)
		if !ok {
			return
		}
		broadcaster.HandleChat(conn, frame)
	})

	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		frame, ok := msg.(protocol.TypingFrame)
		if !ok {
			return
		}
		broadcaster.HandleTyping(conn, frame)
	})

	server := ws.NewServer(config, dispatcher.Dispatch)
	server.SetOnConnect(func(conn *ws.Connection) {
		broadcaster.OnConnect(conn)
	})
	server.SetOnDisconnect(func(conn *ws.Connection) {
		broadcaster.OnDisconnect(conn)
	})
	server.SetOnlineFunc(broadcaster.Snapshot)

	// Daily reset at local midnight.
	scheduler := reset.NewScheduler(broadcaster, reset.SystemClock())
	scheduler.Start()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		scheduler.Stop()

		// Clear this instance's participants from the shared roster before
		// the connections go away.
		if presenceStore != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			for _, u := range broadcaster.Snapshot() {
				if err := presenceStore.SetOffline(ctx, u.UserID); err != nil {
					log.Printf("presence cleanup for user %d: %v", u.UserID, err)
				}
			}
			cancel()
		}

		if lobbyRelay != nil {
			lobbyRelay.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if presenceStore != nil {
			if err := presenceStore.Close(); err != nil {
				log.Printf("presence store close error: %v", err)
			}
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func orDisabled(v string) string {
	if v == "" {
		return "(disabled)"
	}
	return v
}
