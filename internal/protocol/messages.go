// Package protocol defines the JSON frame types exchanged between lobby
// clients and the server. Every frame carries a "type" discriminator; all
// server-originated frames additionally carry a "timestamp" in epoch
// milliseconds, stamped at send time.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Frame type constants
// ---------------------------------------------------------------------------

// Client -> Server frame types.
const (
	TypeAuth   = "auth"
	TypeChat   = "chat"
	TypeTyping = "typing"
)

// Server -> Client frame types. Chat and typing frames reuse TypeChat and
// TypeTyping; the server-side structs carry the sender identity and
// timestamp that the client-side variants lack.
const (
	TypeLobbyInfo     = "lobby_info"
	TypeUserJoined    = "user_joined"
	TypeUserLeft      = "user_left"
	TypeResetMessages = "reset_messages"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the frame type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server frame structs
// ---------------------------------------------------------------------------

// AuthFrame binds the sending channel to a user identity. The identity is
// supplied by the browser session; the lobby performs no independent
// credential verification.
type AuthFrame struct {
	Type     string `json:"type"`
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

// ChatFrame is a chat message sent by the client. The sender identity is
// never taken from the payload; the server stamps the identity bound to the
// sending channel.
type ChatFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// TypingFrame indicates whether the client is currently typing. Preview is
// an optional excerpt of the in-progress message, relayed unmodified.
type TypingFrame struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"isTyping"`
	Preview  string `json:"preview,omitempty"`
}

// ---------------------------------------------------------------------------
// Server -> Client frame structs
// ---------------------------------------------------------------------------

// LobbyUser is one entry in a lobby_info roster.
type LobbyUser struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

// LobbyInfoFrame is the full roster snapshot unicast to a channel right
// after it authenticates. The snapshot includes the channel's own entry.
type LobbyInfoFrame struct {
	Type      string      `json:"type"`
	Users     []LobbyUser `json:"users"`
	Timestamp int64       `json:"timestamp"`
}

// UserJoinedFrame announces a newly authenticated participant to every open
// channel, including the one that just joined.
type UserJoinedFrame struct {
	Type      string `json:"type"`
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

// UserLeftFrame announces that a participant's channel closed.
type UserLeftFrame struct {
	Type      string `json:"type"`
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

// ServerChatFrame is a chat message relayed to every open channel, stamped
// with the sender's bound identity and the server's clock.
type ServerChatFrame struct {
	Type      string `json:"type"`
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// ServerTypingFrame relays a participant's typing indicator to every open
// channel.
type ServerTypingFrame struct {
	Type      string `json:"type"`
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
	IsTyping  bool   `json:"isTyping"`
	Preview   string `json:"preview,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ResetFrame signals all clients to discard their local chat history. It is
// broadcast-only and carries no per-user identity.
type ResetFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientFrame parses raw WebSocket bytes into a typed client frame.
// It returns the frame type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only frame types; callers are expected to drop such frames
// without answering the sender.
func ParseClientFrame(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse frame: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAuth:
		var f AuthFrame
		err = json.Unmarshal(env.Raw, &f)
		msg = f
	case TypeChat:
		var f ChatFrame
		err = json.Unmarshal(env.Raw, &f)
		msg = f
	case TypeTyping:
		var f TypingFrame
		err = json.Unmarshal(env.Raw, &f)
		msg = f
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client frame type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// MarshalServerFrame creates the JSON bytes for a server frame. The
// frameType is injected into the payload under the "type" key so the
// structs above don't have to pre-fill their Type field.
func MarshalServerFrame(frameType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = frameType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server frame: %w", err)
	}
	return out, nil
}
