package lobby

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gamesf7/lobby/internal/protocol"
)

// fixedMillis is the instant every test broadcaster's clock reports.
const fixedMillis = int64(1700000000000)

// fakeChannel is an in-memory Channel that records every frame written to
// it. Frames arrive asynchronously from the per-channel writer goroutine,
// so assertions go through waitFor.
type fakeChannel struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeChannel) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// countType returns how many recorded frames carry the given type.
func (f *fakeChannel) countType(frameType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, frame := range f.frames {
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(frame, &env) == nil && env.Type == frameType {
			n++
		}
	}
	return n
}

// lastOfType returns the most recent frame of the given type, or nil.
func (f *fakeChannel) lastOfType(frameType string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(f.frames[i], &env) == nil && env.Type == frameType {
			return f.frames[i]
		}
	}
	return nil
}

func (f *fakeChannel) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// waitFor polls cond until it holds or the deadline passes. Delivery runs
// through per-channel writer goroutines, so tests must wait for the queues
// to drain.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", msg)
}

func newTestBroadcaster() *Broadcaster {
	b := New()
	b.SetClock(func() time.Time { return time.UnixMilli(fixedMillis) })
	return b
}

func auth(b *Broadcaster, ch Channel, userID int64, username string) {
	b.HandleAuth(ch, protocol.AuthFrame{Type: protocol.TypeAuth, UserID: userID, Username: username})
}

// ---------------------------------------------------------------------------
// Join visibility: every open channel, including the sender's, receives
// exactly one user_joined per auth.
// ---------------------------------------------------------------------------

func TestAuth_JoinBroadcastToAllChannels(t *testing.T) {
	b := newTestBroadcaster()
	chA := &fakeChannel{}
	chB := &fakeChannel{}
	b.OnConnect(chA)
	b.OnConnect(chB) // connected, never authenticates

	auth(b, chA, 1, "alice")

	waitFor(t, func() bool {
		return chA.countType(protocol.TypeUserJoined) == 1 &&
			chB.countType(protocol.TypeUserJoined) == 1
	}, "user_joined delivered to all open channels")

	var joined protocol.UserJoinedFrame
	if err := json.Unmarshal(chB.lastOfType(protocol.TypeUserJoined), &joined); err != nil {
		t.Fatalf("failed to decode user_joined: %v", err)
	}
	if joined.UserID != 1 || joined.Username != "alice" {
		t.Errorf("unexpected join identity: userId=%d username=%q", joined.UserID, joined.Username)
	}
	if joined.Timestamp != fixedMillis {
		t.Errorf("expected timestamp %d, got %d", fixedMillis, joined.Timestamp)
	}
}

// ---------------------------------------------------------------------------
// Snapshot freshness: the lobby_info unicast to a newly authenticated
// channel contains that channel's own entry, and only the sender gets it.
// ---------------------------------------------------------------------------

func TestAuth_LobbyInfoIncludesSelf(t *testing.T) {
	b := newTestBroadcaster()
	chA := &fakeChannel{}
	chB := &fakeChannel{}
	b.OnConnect(chA)
	b.OnConnect(chB)

	auth(b, chA, 1, "alice")
	waitFor(t, func() bool { return chA.countType(protocol.TypeLobbyInfo) == 1 }, "lobby_info for alice")

	auth(b, chB, 2, "bob")
	waitFor(t, func() bool { return chB.countType(protocol.TypeLobbyInfo) == 1 }, "lobby_info for bob")

	var info protocol.LobbyInfoFrame
	if err := json.Unmarshal(chB.lastOfType(protocol.TypeLobbyInfo), &info); err != nil {
		t.Fatalf("failed to decode lobby_info: %v", err)
	}
	if len(info.Users) != 2 {
		t.Fatalf("expected 2 users in bob's snapshot, got %d", len(info.Users))
	}
	if info.Users[0].UserID != 1 || info.Users[0].Username != "alice" {
		t.Errorf("unexpected first roster entry: %+v", info.Users[0])
	}
	if info.Users[1].UserID != 2 || info.Users[1].Username != "bob" {
		t.Errorf("unexpected second roster entry: %+v", info.Users[1])
	}

	// The snapshot is a unicast: alice never receives bob's lobby_info.
	if got := chA.countType(protocol.TypeLobbyInfo); got != 1 {
		t.Errorf("expected alice to hold 1 lobby_info, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Broadcast completeness: chat is delivered to every open channel stamped
// with the sender's bound identity, not anything claimed in the payload.
// ---------------------------------------------------------------------------

func TestChat_BroadcastWithBoundIdentity(t *testing.T) {
	b := newTestBroadcaster()
	chA := &fakeChannel{}
	chB := &fakeChannel{}
	chC := &fakeChannel{} // open but unauthenticated, still a recipient
	b.OnConnect(chA)
	b.OnConnect(chB)
	b.OnConnect(chC)

	auth(b, chA, 1, "alice")
	auth(b, chB, 2, "bob")

	b.HandleChat(chB, protocol.ChatFrame{Type: protocol.TypeChat, Message: "hi"})

	waitFor(t, func() bool {
		return chA.countType(protocol.TypeChat) == 1 &&
			chB.countType(protocol.TypeChat) == 1 &&
			chC.countType(protocol.TypeChat) == 1
	}, "chat delivered to every open channel")

	var chat protocol.ServerChatFrame
	if err := json.Unmarshal(chA.lastOfType(protocol.TypeChat), &chat); err != nil {
		t.Fatalf("failed to decode chat: %v", err)
	}
	if chat.UserID != 2 || chat.Username != "bob" {
		t.Errorf("expected sender identity 2/bob, got %d/%q", chat.UserID, chat.Username)
	}
	if chat.Message != "hi" {
		t.Errorf("expected message %q, got %q", "hi", chat.Message)
	}
	if chat.Timestamp != fixedMillis {
		t.Errorf("expected timestamp %d, got %d", fixedMillis, chat.Timestamp)
	}
}

// ---------------------------------------------------------------------------
// Unauthenticated channels cannot speak: their chat and typing frames are
// dropped without any broadcast.
// ---------------------------------------------------------------------------

func TestChat_UnauthenticatedDropped(t *testing.T) {
	b := newTestBroadcaster()
	chA := &fakeChannel{}
	chGuest := &fakeChannel{}
	b.OnConnect(chA)
	b.OnConnect(chGuest)
	auth(b, chA, 1, "alice")

	waitFor(t, func() bool { return chA.countType(protocol.TypeUserJoined) == 1 }, "join settled")

	b.HandleChat(chGuest, protocol.ChatFrame{Type: protocol.TypeChat, Message: "sneaky"})
	b.HandleTyping(chGuest, protocol.TypingFrame{Type: protocol.TypeTyping, IsTyping: true})

	// Give the writer goroutines a moment; nothing new should arrive.
	time.Sleep(50 * time.Millisecond)
	if got := chA.countType(protocol.TypeChat); got != 0 {
		t.Errorf("expected 0 chat frames after guest send, got %d", got)
	}
	if got := chA.countType(protocol.TypeTyping); got != 0 {
		t.Errorf("expected 0 typing frames after guest send, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Typing relay: isTyping and preview pass through unmodified.
// ---------------------------------------------------------------------------

func TestTyping_RelaysPreviewUnmodified(t *testing.T) {
	b := newTestBroadcaster()
	chA := &fakeChannel{}
	chB := &fakeChannel{}
	b.OnConnect(chA)
	b.OnConnect(chB)
	auth(b, chA, 1, "alice")
	auth(b, chB, 2, "bob")

	b.HandleTyping(chA, protocol.TypingFrame{Type: protocol.TypeTyping, IsTyping: true, Preview: "hello wor"})

	waitFor(t, func() bool { return chB.countType(protocol.TypeTyping) == 1 }, "typing delivered")

	var typing protocol.ServerTypingFrame
	if err := json.Unmarshal(chB.lastOfType(protocol.TypeTyping), &typing); err != nil {
		t.Fatalf("failed to decode typing: %v", err)
	}
	if !typing.IsTyping {
		t.Error("expected isTyping true")
	}
	if typing.Preview != "hello wor" {
		t.Errorf("expected preview passed through, got %q", typing.Preview)
	}
	if typing.UserID != 1 || typing.Username != "alice" {
		t.Errorf("expected sender identity 1/alice, got %d/%q", typing.UserID, typing.Username)
	}
}

// ---------------------------------------------------------------------------
// Leave visibility: closing an authenticated channel produces exactly one
// user_left on the remaining channels, and nothing further on the closed one.
// ---------------------------------------------------------------------------

func TestDisconnect_LeaveBroadcast(t *testing.T) {
	b := newTestBroadcaster()
	chA := &fakeChannel{}
	chB := &fakeChannel{}
	b.OnConnect(chA)
	b.OnConnect(chB)
	auth(b, chA, 1, "alice")
	auth(b, chB, 2, "bob")

	waitFor(t, func() bool {
		return chA.countType(protocol.TypeUserJoined) == 2 &&
			chB.countType(protocol.TypeUserJoined) == 2
	}, "joins settled")
	framesBefore := chA.frameCount()

	b.OnDisconnect(chA)

	waitFor(t, func() bool { return chB.countType(protocol.TypeUserLeft) == 1 }, "user_left delivered")

	var left protocol.UserLeftFrame
	if err := json.Unmarshal(chB.lastOfType(protocol.TypeUserLeft), &left); err != nil {
		t.Fatalf("failed to decode user_left: %v", err)
	}
	if left.UserID != 1 || left.Username != "alice" {
		t.Errorf("unexpected leave identity: userId=%d username=%q", left.UserID, left.Username)
	}

	// The departed channel receives nothing further.
	b.HandleChat(chB, protocol.ChatFrame{Type: protocol.TypeChat, Message: "anyone?"})
	waitFor(t, func() bool { return chB.countType(protocol.TypeChat) == 1 }, "chat after leave")
	if chA.frameCount() != framesBefore {
		t.Errorf("expected no frames to the closed channel, got %d new",
			chA.frameCount()-framesBefore)
	}

	if b.Participants() != 1 {
		t.Errorf("expected 1 participant after leave, got %d", b.Participants())
	}
}

// ---------------------------------------------------------------------------
// Idempotent disconnect: racing close and error events produce at most one
// user_left broadcast.
// ---------------------------------------------------------------------------

func TestDisconnect_Idempotent(t *testing.T) {
	b := newTestBroadcaster()
	chA := &fakeChannel{}
	chB := &fakeChannel{}
	b.OnConnect(chA)
	b.OnConnect(chB)
	auth(b, chA, 1, "alice")
	auth(b, chB, 2, "bob")

	b.OnDisconnect(chA)
	b.OnDisconnect(chA)

	waitFor(t, func() bool { return chB.countType(protocol.TypeUserLeft) == 1 }, "user_left delivered")
	time.Sleep(50 * time.Millisecond)
	if got := chB.countType(protocol.TypeUserLeft); got != 1 {
		t.Errorf("expected exactly 1 user_left, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Identity overwrite: a second auth with the same user id from a different
// channel rebinds the identity and evicts the superseded channel, which
// stops receiving broadcasts.
// ---------------------------------------------------------------------------

func TestAuth_RebindEvictsOldChannel(t *testing.T) {
	b := newTestBroadcaster()
	chOld := &fakeChannel{}
	chNew := &fakeChannel{}
	chPeer := &fakeChannel{}
	b.OnConnect(chOld)
	b.OnConnect(chNew)
	b.OnConnect(chPeer)

	auth(b, chOld, 1, "alice")
	auth(b, chPeer, 2, "bob")
	waitFor(t, func() bool { return chOld.countType(protocol.TypeUserJoined) == 2 }, "initial joins")

	auth(b, chNew, 1, "alice")

	waitFor(t, func() bool { return chOld.isClosed() }, "superseded channel closed")
	oldFrames := chOld.frameCount()

	// The departed-channel registry size is unchanged: still two users.
	if b.Participants() != 2 {
		t.Errorf("expected 2 participants after rebind, got %d", b.Participants())
	}

	waitFor(t, func() bool { return chNew.countType(protocol.TypeLobbyInfo) == 1 }, "lobby_info to new channel")

	var info protocol.LobbyInfoFrame
	if err := json.Unmarshal(chNew.lastOfType(protocol.TypeLobbyInfo), &info); err != nil {
		t.Fatalf("failed to decode lobby_info: %v", err)
	}
	if len(info.Users) != 2 {
		t.Errorf("expected 2 roster entries after rebind, got %d", len(info.Users))
	}

	// Subsequent broadcasts reach the new channel but not the old one.
	b.HandleChat(chPeer, protocol.ChatFrame{Type: protocol.TypeChat, Message: "still there?"})
	waitFor(t, func() bool { return chNew.countType(protocol.TypeChat) == 1 }, "chat to new channel")
	if chOld.frameCount() != oldFrames {
		t.Errorf("expected no further frames to evicted channel, got %d new",
			chOld.frameCount()-oldFrames)
	}

	// The transport's close handling hits OnDisconnect for the evicted
	// channel; it must be a no-op with no spurious user_left.
	b.OnDisconnect(chOld)
	time.Sleep(50 * time.Millisecond)
	if got := chNew.countType(protocol.TypeUserLeft); got != 0 {
		t.Errorf("expected no user_left after evicted channel disconnect, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Invalid auth frames are dropped without side effects.
// ---------------------------------------------------------------------------

func TestAuth_InvalidIdentityDropped(t *testing.T) {
	b := newTestBroadcaster()
	chA := &fakeChannel{}
	b.OnConnect(chA)

	auth(b, chA, 0, "ghost")
	auth(b, chA, 5, "")

	time.Sleep(50 * time.Millisecond)
	if got := chA.countType(protocol.TypeLobbyInfo); got != 0 {
		t.Errorf("expected no lobby_info for invalid auth, got %d", got)
	}
	if b.Participants() != 0 {
		t.Errorf("expected empty registry, got %d", b.Participants())
	}
}

// ---------------------------------------------------------------------------
// Daily reset: broadcast to every open channel when non-empty, skipped when
// the lobby is empty.
// ---------------------------------------------------------------------------

func TestResetAll_BroadcastsNotice(t *testing.T) {
	b := newTestBroadcaster()
	chA := &fakeChannel{}
	chB := &fakeChannel{} // unauthenticated channels receive the reset too
	b.OnConnect(chA)
	b.OnConnect(chB)
	auth(b, chA, 1, "alice")

	if !b.ResetAll() {
		t.Fatal("expected ResetAll to report a broadcast")
	}

	waitFor(t, func() bool {
		return chA.countType(protocol.TypeResetMessages) == 1 &&
			chB.countType(protocol.TypeResetMessages) == 1
	}, "reset delivered to all open channels")

	var resetFrame protocol.ResetFrame
	if err := json.Unmarshal(chA.lastOfType(protocol.TypeResetMessages), &resetFrame); err != nil {
		t.Fatalf("failed to decode reset frame: %v", err)
	}
	if resetFrame.Message != DefaultResetNotice {
		t.Errorf("expected notice %q, got %q", DefaultResetNotice, resetFrame.Message)
	}
	if resetFrame.Timestamp != fixedMillis {
		t.Errorf("expected timestamp %d, got %d", fixedMillis, resetFrame.Timestamp)
	}
}

func TestResetAll_SkippedWhenEmpty(t *testing.T) {
	b := newTestBroadcaster()
	if b.ResetAll() {
		t.Error("expected ResetAll to skip with zero open channels")
	}
}

// ---------------------------------------------------------------------------
// Snapshot ordering is stable by user id.
// ---------------------------------------------------------------------------

func TestSnapshot_OrderedByUserID(t *testing.T) {
	b := newTestBroadcaster()
	for _, u := range []struct {
		id   int64
		name string
	}{{30, "zed"}, {10, "amy"}, {20, "mia"}} {
		ch := &fakeChannel{}
		b.OnConnect(ch)
		auth(b, ch, u.id, u.name)
	}

	snap := b.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap))
	}
	for i, want := range []int64{10, 20, 30} {
		if snap[i].UserID != want {
			t.Errorf("entry %d: expected userId %d, got %d", i, want, snap[i].UserID)
		}
	}
}
