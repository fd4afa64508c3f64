package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid auth frame
// ---------------------------------------------------------------------------

func TestParseClientFrame_Auth(t *testing.T) {
	input := []byte(`{"type":"auth","userId":42,"username":"alice"}`)

	frameType, msg, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frameType != TypeAuth {
		t.Fatalf("expected type %q, got %q", TypeAuth, frameType)
	}

	af, ok := msg.(AuthFrame)
	if !ok {
		t.Fatalf("expected AuthFrame, got %T", msg)
	}
	if af.UserID != 42 {
		t.Errorf("expected userId 42, got %d", af.UserID)
	}
	if af.Username != "alice" {
		t.Errorf("expected username %q, got %q", "alice", af.Username)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid chat frame
// ---------------------------------------------------------------------------

func TestParseClientFrame_Chat(t *testing.T) {
	input := []byte(`{"type":"chat","message":"Hello, lobby!"}`)

	frameType, msg, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frameType != TypeChat {
		t.Fatalf("expected type %q, got %q", TypeChat, frameType)
	}

	cf, ok := msg.(ChatFrame)
	if !ok {
		t.Fatalf("expected ChatFrame, got %T", msg)
	}
	if cf.Message != "Hello, lobby!" {
		t.Errorf("expected message %q, got %q", "Hello, lobby!", cf.Message)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a typing frame with and without preview
// ---------------------------------------------------------------------------

func TestParseClientFrame_Typing(t *testing.T) {
	input := []byte(`{"type":"typing","isTyping":true,"preview":"hel"}`)

	frameType, msg, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frameType != TypeTyping {
		t.Fatalf("expected type %q, got %q", TypeTyping, frameType)
	}

	tf, ok := msg.(TypingFrame)
	if !ok {
		t.Fatalf("expected TypingFrame, got %T", msg)
	}
	if !tf.IsTyping {
		t.Error("expected isTyping true")
	}
	if tf.Preview != "hel" {
		t.Errorf("expected preview %q, got %q", "hel", tf.Preview)
	}
}

func TestParseClientFrame_TypingNoPreview(t *testing.T) {
	input := []byte(`{"type":"typing","isTyping":false}`)

	_, msg, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tf := msg.(TypingFrame)
	if tf.IsTyping {
		t.Error("expected isTyping false")
	}
	if tf.Preview != "" {
		t.Errorf("expected empty preview, got %q", tf.Preview)
	}
}

// ---------------------------------------------------------------------------
// Test: Building a lobby_info server frame
// ---------------------------------------------------------------------------

func TestMarshalServerFrame_LobbyInfo(t *testing.T) {
	payload := LobbyInfoFrame{
		Users: []LobbyUser{
			{UserID: 1, Username: "alice"},
			{UserID: 2, Username: "bob"},
		},
		Timestamp: 1700000000000,
	}

	data, err := MarshalServerFrame(TypeLobbyInfo, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeLobbyInfo {
		t.Errorf("expected type %q, got %v", TypeLobbyInfo, result["type"])
	}
	if ts, ok := result["timestamp"].(float64); !ok || int64(ts) != 1700000000000 {
		t.Errorf("expected timestamp 1700000000000, got %v", result["timestamp"])
	}

	users, ok := result["users"].([]interface{})
	if !ok {
		t.Fatalf("expected users to be an array, got %T", result["users"])
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	first, ok := users[0].(map[string]interface{})
	if !ok {
		t.Fatalf("expected user object, got %T", users[0])
	}
	if first["username"] != "alice" {
		t.Errorf("expected first username %q, got %v", "alice", first["username"])
	}
}

// ---------------------------------------------------------------------------
// Test: Server chat frame round trip (build -> decode)
// ---------------------------------------------------------------------------

func TestMarshalServerFrame_ChatRoundTrip(t *testing.T) {
	original := ServerChatFrame{
		UserID:    7,
		Username:  "carol",
		Message:   "gg",
		Timestamp: 1700000000123,
	}

	data, err := MarshalServerFrame(TypeChat, original)
	if err != nil {
		t.Fatalf("failed to build server frame: %v", err)
	}

	var decoded ServerChatFrame
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.Type != TypeChat {
		t.Errorf("type mismatch: expected %q, got %q", TypeChat, decoded.Type)
	}
	if decoded.UserID != original.UserID {
		t.Errorf("userId mismatch: expected %d, got %d", original.UserID, decoded.UserID)
	}
	if decoded.Username != original.Username {
		t.Errorf("username mismatch: expected %q, got %q", original.Username, decoded.Username)
	}
	if decoded.Message != original.Message {
		t.Errorf("message mismatch: expected %q, got %q", original.Message, decoded.Message)
	}
	if decoded.Timestamp != original.Timestamp {
		t.Errorf("timestamp mismatch: expected %d, got %d", original.Timestamp, decoded.Timestamp)
	}
}

// ---------------------------------------------------------------------------
// Test: Typing frame preview is omitted when empty
// ---------------------------------------------------------------------------

func TestMarshalServerFrame_TypingOmitsEmptyPreview(t *testing.T) {
	data, err := MarshalServerFrame(TypeTyping, ServerTypingFrame{
		UserID:    3,
		Username:  "dan",
		IsTyping:  false,
		Timestamp: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if _, present := result["preview"]; present {
		t.Error("expected preview to be omitted when empty")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown frame type returns an error
// ---------------------------------------------------------------------------

func TestParseClientFrame_UnknownType(t *testing.T) {
	input := []byte(`{"type":"user_joined","userId":1,"username":"spoof"}`)

	frameType, msg, err := ParseClientFrame(input)
	if err == nil {
		t.Fatal("expected an error for server-only frame type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if frameType != "user_joined" {
		t.Errorf("expected returned type %q, got %q", "user_joined", frameType)
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"message":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client frame types succeeds
// ---------------------------------------------------------------------------

func TestParseClientFrame_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"auth", `{"type":"auth","userId":1,"username":"alice"}`, TypeAuth},
		{"chat", `{"type":"chat","message":"hi"}`, TypeChat},
		{"typing", `{"type":"typing","isTyping":true}`, TypeTyping},
		{"typing with preview", `{"type":"typing","isTyping":true,"preview":"he"}`, TypeTyping},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frameType, msg, err := ParseClientFrame([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if frameType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, frameType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}
