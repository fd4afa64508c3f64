package presence

import (
	"context"
	"strconv"
	"testing"

	"github.com/redis/go-redis/v9"
)

// Integration tests require a local Redis instance. They skip when one is
// not reachable.

const (
	testUserA = int64(911001)
	testUserB = int64(911002)
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore("localhost:6379")
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}

	cleanup := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	t.Cleanup(func() {
		ctx := context.Background()
		cleanup.HDel(ctx, OnlineKey,
			strconv.FormatInt(testUserA, 10),
			strconv.FormatInt(testUserB, 10))
		cleanup.Close()
		store.Close()
	})
	return store
}

func TestStore_OnlineRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetOnline(ctx, testUserB, "bob"); err != nil {
		t.Fatalf("SetOnline failed: %v", err)
	}
	if err := store.SetOnline(ctx, testUserA, "alice"); err != nil {
		t.Fatalf("SetOnline failed: %v", err)
	}

	users, err := store.Online(ctx)
	if err != nil {
		t.Fatalf("Online failed: %v", err)
	}

	var gotA, gotB bool
	for i, u := range users {
		if u.UserID == testUserA {
			gotA = true
			if u.Username != "alice" {
				t.Errorf("expected username alice, got %q", u.Username)
			}
		}
		if u.UserID == testUserB {
			gotB = true
		}
		if i > 0 && users[i-1].UserID > u.UserID {
			t.Errorf("roster not sorted at index %d: %d > %d", i, users[i-1].UserID, u.UserID)
		}
	}
	if !gotA || !gotB {
		t.Fatalf("expected both test users online, got %+v", users)
	}
}

func TestStore_SetOffline(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetOnline(ctx, testUserA, "alice"); err != nil {
		t.Fatalf("SetOnline failed: %v", err)
	}
	if err := store.SetOffline(ctx, testUserA); err != nil {
		t.Fatalf("SetOffline failed: %v", err)
	}

	users, err := store.Online(ctx)
	if err != nil {
		t.Fatalf("Online failed: %v", err)
	}
	for _, u := range users {
		if u.UserID == testUserA {
			t.Errorf("expected user %d offline, still listed", testUserA)
		}
	}
}

func TestStore_SetOfflineUnknownUser(t *testing.T) {
	store := newTestStore(t)

	// Removing a user that was never online is not an error.
	if err := store.SetOffline(context.Background(), testUserB); err != nil {
		t.Errorf("SetOffline for unknown user failed: %v", err)
	}
}
