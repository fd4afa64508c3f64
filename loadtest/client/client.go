// Package client provides a reusable WebSocket load test client for the
// lobby server. It connects using gobwas/ws (the same library the server
// uses), authenticates with a synthetic identity, and tracks per-connection
// performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol frame types (local equivalents of internal/protocol constants)
// ---------------------------------------------------------------------------

// Client -> Server frame types.
const (
	TypeAuth   = "auth"
	TypeChat   = "chat"
	TypeTyping = "typing"
)

// Server -> Client frame types.
const (
	TypeLobbyInfo     = "lobby_info"
	TypeUserJoined    = "user_joined"
	TypeUserLeft      = "user_left"
	TypeResetMessages = "reset_messages"
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency time.Duration
	JoinLatency    time.Duration
	FramesReceived int
	FramesSent     int
	Errors         int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated lobby participant. It manages the
// WebSocket lifecycle, dispatches incoming frames to registered handlers,
// and tracks when the post-auth roster snapshot arrives.
type Client struct {
	conn      net.Conn
	userID    int64
	username  string
	mu        sync.Mutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	done      chan struct{}
	closeOnce sync.Once
	joined    chan struct{}
	joinOnce  sync.Once
	authAt    time.Time
}

// New creates a load test client connected to the given WebSocket URL. The
// connection is established immediately and a background goroutine begins
// reading frames. Call Auth to join the lobby.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
		joined:   make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Auth sends the auth frame binding the given identity to this connection.
// The server answers with a lobby_info snapshot; use WaitForLobby to block
// until it arrives.
func (c *Client) Auth(userID int64, username string) error {
	c.userID = userID
	c.username = username
	c.authAt = time.Now()
	return c.Send(map[string]interface{}{
		"type":     TypeAuth,
		"userId":   userID,
		"username": username,
	})
}

// SendChat sends a chat frame with the given message text.
func (c *Client) SendChat(message string) error {
	return c.Send(map[string]interface{}{
		"type":    TypeChat,
		"message": message,
	})
}

// SendTyping sends a typing indicator frame.
func (c *Client) SendTyping(isTyping bool, preview string) error {
	return c.Send(map[string]interface{}{
		"type":     TypeTyping,
		"isTyping": isTyping,
		"preview":  preview,
	})
}

// Send sends a JSON frame to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.FramesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// On registers a handler for a specific server frame type. The handler
// receives the full raw JSON of the frame for flexible decoding. Handlers
// are invoked from the read loop goroutine so they should not block for
// extended periods. Only one handler per frame type is supported;
// registering a second handler for the same type replaces the first.
func (c *Client) On(frameType string, handler func(json.RawMessage)) {
	c.handlers[frameType] = handler
}

// WaitForLobby blocks until the server has delivered the lobby_info roster
// snapshot or the context is cancelled. This is useful for coordinating load
// test phases that depend on the join being complete.
func (c *Client) WaitForLobby(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed before lobby_info arrived")
	case <-c.joined:
		return nil
	}
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// UserID returns the identity this client authenticated with.
func (c *Client) UserID() int64 {
	return c.userID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// readLoop continuously reads WebSocket frames from the server and
// dispatches them to registered handlers. It runs until the connection is
// closed or an unrecoverable error occurs.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Connection was intentionally closed; do not count as error.
				return
			default:
			}
			c.mu.Lock()
			c.metrics.Errors++
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		c.metrics.FramesReceived++
		c.mu.Unlock()

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		// lobby_info marks the end of the join handshake. Record the
		// auth-to-roster latency and release WaitForLobby callers.
		if envelope.Type == TypeLobbyInfo {
			c.joinOnce.Do(func() {
				c.mu.Lock()
				c.metrics.JoinLatency = time.Since(c.authAt)
				c.mu.Unlock()
				close(c.joined)
			})
		}

		if handler, ok := c.handlers[envelope.Type]; ok {
			handler(json.RawMessage(data))
		}
	}
}
