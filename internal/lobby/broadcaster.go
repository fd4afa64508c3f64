// Package lobby implements the real-time lobby broadcaster: a registry of
// authenticated participants keyed by user id, fan-out delivery of chat and
// typing frames to every open channel, join/leave announcements, and the
// daily reset signal. All mutable state is owned by a Broadcaster instance
// constructed at startup; there are no package-level registries.
package lobby

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gamesf7/lobby/internal/metrics"
	"github.com/gamesf7/lobby/internal/protocol"
)

const (
	// DefaultQueueSize is the per-channel outbound queue capacity. A full
	// queue drops the frame for that channel only, so one slow peer never
	// stalls delivery to the rest of the lobby.
	DefaultQueueSize = 256

	// DefaultResetNotice is the human-readable text carried by the daily
	// reset_messages frame.
	DefaultResetNotice = "Daily lobby reset: chat history has been cleared."

	// presenceTimeout bounds each best-effort presence store update.
	presenceTimeout = 3 * time.Second
)

// Channel is an abstract handle to one client's open bidirectional
// connection. The ws transport's Connection satisfies it; tests use
// in-memory fakes.
type Channel interface {
	WriteMessage(data []byte) error
	Close() error
}

// Presence mirrors the participant registry into an external store so that
// other services can read the online roster. Implementations are best
// effort; errors are logged and never affect lobby operation.
type Presence interface {
	SetOnline(ctx context.Context, userID int64, username string) error
	SetOffline(ctx context.Context, userID int64) error
}

// Relay forwards locally-originated broadcast frames to sibling lobby
// instances.
type Relay interface {
	Publish(frame []byte) error
}

// channelState tracks one open channel: its authentication binding and its
// bounded outbound queue. The queue is drained by a single writer goroutine
// per channel, which preserves per-channel frame order.
type channelState struct {
	authenticated bool
	userID        int64
	username      string
	send          chan []byte
}

// Broadcaster owns the set of open channels and the authenticated
// participant registry. Handlers are invoked concurrently from transport
// workers; the single RWMutex guards both maps. Channel queues are closed
// only while holding the write lock and enqueued to only while holding a
// lock, so a send on a closed queue cannot happen.
type Broadcaster struct {
	mu       sync.RWMutex
	channels map[Channel]*channelState
	byUser   map[int64]Channel

	queueSize   int
	resetNotice string
	now         func() time.Time
	presence    Presence
	relay       Relay
}

// New creates an empty Broadcaster with production defaults.
func New() *Broadcaster {
	return &Broadcaster{
		channels:    make(map[Channel]*channelState),
		byUser:      make(map[int64]Channel),
		queueSize:   DefaultQueueSize,
		resetNotice: DefaultResetNotice,
		now:         time.Now,
	}
}

// SetClock replaces the wall clock used for frame timestamps. Intended for
// tests.
func (b *Broadcaster) SetClock(now func() time.Time) {
	b.now = now
}

// SetResetNotice overrides the text carried by reset_messages frames.
func (b *Broadcaster) SetResetNotice(notice string) {
	if notice != "" {
		b.resetNotice = notice
	}
}

// SetPresence attaches an online-roster mirror. Pass nil to disable.
func (b *Broadcaster) SetPresence(p Presence) {
	b.presence = p
}

// SetRelay attaches a cross-instance relay. Pass nil to disable.
func (b *Broadcaster) SetRelay(r Relay) {
	b.relay = r
}

// OnConnect registers a new, not-yet-authenticated channel and starts its
// writer goroutine. It has no broadcast effect.
func (b *Broadcaster) OnConnect(ch Channel) {
	st := &channelState{send: make(chan []byte, b.queueSize)}

	b.mu.Lock()
	if _, ok := b.channels[ch]; ok {
		b.mu.Unlock()
		return
	}
	b.channels[ch] = st
	b.mu.Unlock()

	metrics.OpenChannels.Inc()
	go writeLoop(ch, st.send)
}

// writeLoop drains a channel's outbound queue until the queue is closed.
// Write errors are counted and otherwise ignored; the transport notices the
// dead connection on its next read and triggers the disconnect path.
func writeLoop(ch Channel, send <-chan []byte) {
	for frame := range send {
		if err := ch.WriteMessage(frame); err != nil {
			metrics.FramesDropped.WithLabelValues("write_error").Inc()
			continue
		}
		metrics.FramesBroadcast.Inc()
	}
}

// HandleAuth binds the sending channel to the claimed identity, unicasts a
// lobby_info snapshot (taken after the binding) back to that channel, and
// broadcasts user_joined to every open channel including the sender.
//
// If the user id is already bound to a different channel, that channel is
// evicted: deregistered immediately and closed, so it receives no further
// broadcasts. The transport's close handling then hits OnDisconnect, which
// is a no-op for an already-deregistered channel, so no spurious user_left
// is announced for the superseded connection.
func (b *Broadcaster) HandleAuth(ch Channel, frame protocol.AuthFrame) {
	metrics.FramesReceived.WithLabelValues(protocol.TypeAuth).Inc()

	if frame.UserID <= 0 || frame.Username == "" {
		log.Printf("lobby: dropping auth frame with invalid identity userId=%d username=%q",
			frame.UserID, frame.Username)
		metrics.FramesDropped.WithLabelValues("invalid").Inc()
		return
	}

	var evicted Channel

	b.mu.Lock()
	st, ok := b.channels[ch]
	if !ok {
		b.mu.Unlock()
		return
	}

	// Evict a different channel currently bound to this user id.
	if old, bound := b.byUser[frame.UserID]; bound && old != ch {
		if ost, open := b.channels[old]; open {
			delete(b.channels, old)
			close(ost.send)
		}
		evicted = old
	}

	// A re-auth under a new user id silently releases the old binding; the
	// overwrite is not announced as a leave.
	if st.authenticated && st.userID != frame.UserID && b.byUser[st.userID] == ch {
		delete(b.byUser, st.userID)
	}

	st.authenticated = true
	st.userID = frame.UserID
	st.username = frame.Username
	b.byUser[frame.UserID] = ch

	now := b.now().UnixMilli()

	info, err := protocol.MarshalServerFrame(protocol.TypeLobbyInfo, protocol.LobbyInfoFrame{
		Users:     b.snapshotLocked(),
		Timestamp: now,
	})
	if err == nil {
		enqueue(st, info)
	} else {
		log.Printf("lobby: failed to build lobby_info for user %d: %v", frame.UserID, err)
	}

	joined, joinErr := protocol.MarshalServerFrame(protocol.TypeUserJoined, protocol.UserJoinedFrame{
		UserID:    frame.UserID,
		Username:  frame.Username,
		Timestamp: now,
	})
	if joinErr == nil {
		for _, other := range b.channels {
			enqueue(other, joined)
		}
	} else {
		log.Printf("lobby: failed to build user_joined for user %d: %v", frame.UserID, joinErr)
	}

	participants := len(b.byUser)
	b.mu.Unlock()

	metrics.Participants.Set(float64(participants))

	if evicted != nil {
		metrics.OpenChannels.Dec()
		log.Printf("lobby: user %d re-authenticated, superseded channel evicted", frame.UserID)
		_ = evicted.Close()
	}

	if joinErr == nil {
		b.relayPublish(joined)
	}
	b.presenceOnline(frame.UserID, frame.Username)

	log.Printf("lobby: user joined userId=%d username=%q (participants=%d)",
		frame.UserID, frame.Username, participants)
}

// HandleChat relays a chat message from an authenticated channel to every
// open channel, stamped with the sender's bound identity and the server
// clock. Frames from unauthenticated channels and frames failing content
// validation are dropped silently.
func (b *Broadcaster) HandleChat(ch Channel, frame protocol.ChatFrame) {
	metrics.FramesReceived.WithLabelValues(protocol.TypeChat).Inc()

	userID, username, ok := b.identity(ch)
	if !ok {
		metrics.FramesDropped.WithLabelValues("unauthenticated").Inc()
		log.Printf("lobby: dropping chat frame from unauthenticated channel")
		return
	}

	if err := ValidateChatText(frame.Message); err != nil {
		metrics.FramesDropped.WithLabelValues("invalid").Inc()
		log.Printf("lobby: dropping chat frame from user %d: %v", userID, err)
		return
	}

	out, err := protocol.MarshalServerFrame(protocol.TypeChat, protocol.ServerChatFrame{
		UserID:    userID,
		Username:  username,
		Message:   frame.Message,
		Timestamp: b.now().UnixMilli(),
	})
	if err != nil {
		log.Printf("lobby: failed to build chat frame for user %d: %v", userID, err)
		return
	}

	b.Broadcast(out)
	b.relayPublish(out)
}

// HandleTyping relays a typing indicator the same way as chat, with the
// preview passed through unmodified. No deduplication or rate limiting is
// applied.
func (b *Broadcaster) HandleTyping(ch Channel, frame protocol.TypingFrame) {
	metrics.FramesReceived.WithLabelValues(protocol.TypeTyping).Inc()

	userID, username, ok := b.identity(ch)
	if !ok {
		metrics.FramesDropped.WithLabelValues("unauthenticated").Inc()
		log.Printf("lobby: dropping typing frame from unauthenticated channel")
		return
	}

	out, err := protocol.MarshalServerFrame(protocol.TypeTyping, protocol.ServerTypingFrame{
		UserID:    userID,
		Username:  username,
		IsTyping:  frame.IsTyping,
		Preview:   frame.Preview,
		Timestamp: b.now().UnixMilli(),
	})
	if err != nil {
		log.Printf("lobby: failed to build typing frame for user %d: %v", userID, err)
		return
	}

	b.Broadcast(out)
	b.relayPublish(out)
}

// OnDisconnect deregisters a channel. If the channel was the bound one for
// its user id, the binding is removed and user_left is broadcast to the
// remaining channels. Calling it again for the same channel is a no-op, so
// racing close and error events produce at most one user_left.
func (b *Broadcaster) OnDisconnect(ch Channel) {
	b.mu.Lock()
	st, ok := b.channels[ch]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.channels, ch)
	close(st.send)

	var left []byte
	var userID int64
	if st.authenticated && b.byUser[st.userID] == ch {
		delete(b.byUser, st.userID)
		userID = st.userID

		frame, err := protocol.MarshalServerFrame(protocol.TypeUserLeft, protocol.UserLeftFrame{
			UserID:    st.userID,
			Username:  st.username,
			Timestamp: b.now().UnixMilli(),
		})
		if err == nil {
			left = frame
			for _, other := range b.channels {
				enqueue(other, left)
			}
		} else {
			log.Printf("lobby: failed to build user_left for user %d: %v", st.userID, err)
		}
	}
	participants := len(b.byUser)
	b.mu.Unlock()

	metrics.OpenChannels.Dec()
	metrics.Participants.Set(float64(participants))

	if left != nil {
		b.relayPublish(left)
	}
	if userID != 0 {
		b.presenceOffline(userID)
		log.Printf("lobby: user left userId=%d (participants=%d)", userID, participants)
	}
}

// Broadcast delivers an already-serialized frame to every currently open
// channel, authenticated or not. Delivery is fire and forget: a full queue
// drops the frame for that channel only.
func (b *Broadcaster) Broadcast(frame []byte) {
	start := time.Now()

	b.mu.RLock()
	for _, st := range b.channels {
		enqueue(st, frame)
	}
	b.mu.RUnlock()

	metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
}

// ResetAll broadcasts the daily reset_messages frame to every open channel.
// If no channel is connected the broadcast is skipped and false is
// returned; the caller reschedules either way.
func (b *Broadcaster) ResetAll() bool {
	b.mu.RLock()
	open := len(b.channels)
	b.mu.RUnlock()

	if open == 0 {
		metrics.Resets.WithLabelValues("skipped").Inc()
		log.Printf("lobby: daily reset skipped, no open channels")
		return false
	}

	frame, err := protocol.MarshalServerFrame(protocol.TypeResetMessages, protocol.ResetFrame{
		Timestamp: b.now().UnixMilli(),
		Message:   b.resetNotice,
	})
	if err != nil {
		log.Printf("lobby: failed to build reset frame: %v", err)
		return false
	}

	b.Broadcast(frame)
	metrics.Resets.WithLabelValues("fired").Inc()
	log.Printf("lobby: daily reset broadcast to %d channels", open)
	return true
}

// Snapshot returns the current participant roster ordered by user id.
func (b *Broadcaster) Snapshot() []protocol.LobbyUser {
	b.mu.RLock()
	users := b.snapshotLocked()
	b.mu.RUnlock()
	return users
}

// Participants returns the current registry size.
func (b *Broadcaster) Participants() int {
	b.mu.RLock()
	n := len(b.byUser)
	b.mu.RUnlock()
	return n
}

// OpenChannels returns the current number of open channels.
func (b *Broadcaster) OpenChannels() int {
	b.mu.RLock()
	n := len(b.channels)
	b.mu.RUnlock()
	return n
}

// snapshotLocked builds the roster. Callers must hold b.mu.
func (b *Broadcaster) snapshotLocked() []protocol.LobbyUser {
	users := make([]protocol.LobbyUser, 0, len(b.byUser))
	for id, ch := range b.byUser {
		st, ok := b.channels[ch]
		if !ok {
			continue
		}
		users = append(users, protocol.LobbyUser{UserID: id, Username: st.username})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

// identity returns the bound identity of a channel, or ok=false if the
// channel is unknown or not yet authenticated.
func (b *Broadcaster) identity(ch Channel) (int64, string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st, ok := b.channels[ch]
	if !ok || !st.authenticated {
		return 0, "", false
	}
	return st.userID, st.username, true
}

// enqueue performs a non-blocking send to a channel's outbound queue.
// Callers must hold b.mu (read or write), which excludes the queue close in
// OnDisconnect and HandleAuth eviction.
func enqueue(st *channelState, frame []byte) {
	select {
	case st.send <- frame:
	default:
		metrics.FramesDropped.WithLabelValues("queue_full").Inc()
	}
}

func (b *Broadcaster) relayPublish(frame []byte) {
	if b.relay == nil {
		return
	}
	if err := b.relay.Publish(frame); err != nil {
		log.Printf("lobby: relay publish failed: %v", err)
	}
}

func (b *Broadcaster) presenceOnline(userID int64, username string) {
	if b.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := b.presence.SetOnline(ctx, userID, username); err != nil {
		log.Printf("lobby: presence update failed for user %d: %v", userID, err)
	}
}

func (b *Broadcaster) presenceOffline(userID int64) {
	if b.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := b.presence.SetOffline(ctx, userID); err != nil {
		log.Printf("lobby: presence removal failed for user %d: %v", userID, err)
	}
}
