// Package relay bridges lobby broadcasts between server instances over
// NATS. Each instance publishes its locally-originated chat, typing, join
// and leave frames on a shared subject, tagged with its own instance name;
// frames observed from other instances are fanned out to local channels
// verbatim. lobby_info snapshots and reset_messages are never relayed: the
// roster snapshot is per-instance, and every instance fires its own
// midnight reset.
package relay

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject is the NATS subject carrying lobby broadcast envelopes.
const Subject = "lobby.events"

// Envelope wraps one serialized server frame with the identity of the
// instance that originated it, so subscribers can skip their own traffic.
type Envelope struct {
	Origin string          `json:"origin"`
	Frame  json.RawMessage `json:"frame"`
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "lobby",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Relay is a connected NATS bridge for one lobby instance.
type Relay struct {
	conn   *nats.Conn
	origin string

	mu  sync.Mutex
	sub *nats.Subscription
}

// Connect establishes the NATS connection for the given instance name. It
// returns an error if the initial connection fails; reconnects afterwards
// are handled by the NATS client.
func Connect(config Config, origin string) (*Relay, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[relay] disconnected: %v", err)
			} else {
				log.Printf("[relay] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[relay] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[relay] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("relay: nats connect: %w", err)
	}

	log.Printf("[relay] connected to %s as %s", nc.ConnectedUrl(), origin)

	return &Relay{conn: nc, origin: origin}, nil
}

// Publish sends one serialized server frame to sibling instances.
func (r *Relay) Publish(frame []byte) error {
	data, err := json.Marshal(Envelope{Origin: r.origin, Frame: frame})
	if err != nil {
		return fmt.Errorf("relay: marshal envelope: %w", err)
	}
	return r.conn.Publish(Subject, data)
}

// Subscribe registers a handler invoked with each frame originated by a
// *different* instance. Envelopes carrying this instance's own origin tag
// are skipped so local broadcasts are not echoed back.
func (r *Relay) Subscribe(handler func(frame []byte)) error {
	sub, err := r.conn.Subscribe(Subject, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Printf("[relay] dropping malformed envelope: %v", err)
			return
		}
		if env.Origin == r.origin || len(env.Frame) == 0 {
			return
		}
		handler(env.Frame)
	})
	if err != nil {
		return fmt.Errorf("relay: subscribe %s: %w", Subject, err)
	}

	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()
	return nil
}

// Close drains the subscription and the NATS connection.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		if err := r.sub.Drain(); err != nil {
			log.Printf("[relay] drain subscription: %v", err)
		}
		r.sub = nil
	}

	if err := r.conn.Drain(); err != nil {
		log.Printf("[relay] connection drain: %v", err)
	}

	log.Printf("[relay] closed")
}
