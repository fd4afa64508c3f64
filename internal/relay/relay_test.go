package relay

import (
	"testing"
	"time"
)

// Integration tests require a local NATS server. They skip when one is not
// reachable.

func connectTestRelay(t *testing.T, origin string) *Relay {
	t.Helper()
	config := DefaultConfig()
	config.Name = "relay-test-" + origin
	r, err := Connect(config, origin)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestRelay_DeliversBetweenInstances(t *testing.T) {
	a := connectTestRelay(t, "instance-a")
	b := connectTestRelay(t, "instance-b")

	received := make(chan []byte, 1)
	if err := b.Subscribe(func(frame []byte) {
		select {
		case received <- frame:
		default:
		}
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	payload := []byte(`{"type":"chat","userId":1,"username":"alice","message":"hi"}`)
	if err := a.Publish(payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case frame := <-received:
		if string(frame) != string(payload) {
			t.Errorf("frame altered in transit: got %s", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed frame")
	}
}

func TestRelay_SkipsOwnOrigin(t *testing.T) {
	a := connectTestRelay(t, "instance-a")

	received := make(chan []byte, 1)
	if err := a.Subscribe(func(frame []byte) {
		select {
		case received <- frame:
		default:
		}
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := a.Publish([]byte(`{"type":"typing","userId":1,"isTyping":true}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case <-received:
		t.Error("instance received its own published frame")
	case <-time.After(500 * time.Millisecond):
	}
}
