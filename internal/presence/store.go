// Package presence mirrors the lobby's participant registry into Redis so
// that the rest of the site (and sibling lobby instances) can read who is
// currently in the lobby without talking to a broadcaster. The mirror is
// best effort: the in-memory registry stays authoritative and a Redis
// outage never affects lobby operation.
//
// Layout is a single hash:
//
//	Key:   lobby:online
//	Field: <userID>
//	Value: <username>
//	TTL:   refreshed on every write
package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gamesf7/lobby/internal/protocol"
)

const (
	// OnlineKey is the Redis hash holding the online roster.
	OnlineKey = "lobby:online"

	// onlineTTL bounds how long stale entries survive an instance that
	// died without cleaning up after itself.
	onlineTTL = 24 * time.Hour
)

// Store manages the online roster in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a presence store connected to Redis and verifies the
// connection.
func NewStore(redisAddr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client}, nil
}

// SetOnline records a participant in the roster and refreshes the hash TTL.
func (s *Store) SetOnline(ctx context.Context, userID int64, username string) error {
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, OnlineKey, strconv.FormatInt(userID, 10), username)
	pipe.Expire(ctx, OnlineKey, onlineTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetOffline removes a participant from the roster. Removing an absent
// entry is a no-op.
func (s *Store) SetOffline(ctx context.Context, userID int64) error {
	return s.client.HDel(ctx, OnlineKey, strconv.FormatInt(userID, 10)).Err()
}

// Online returns the full roster ordered by user id. Fields with
// non-numeric ids are skipped.
func (s *Store) Online(ctx context.Context) ([]protocol.LobbyUser, error) {
	fields, err := s.client.HGetAll(ctx, OnlineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: failed to read roster: %w", err)
	}

	users := make([]protocol.LobbyUser, 0, len(fields))
	for field, username := range fields {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		users = append(users, protocol.LobbyUser{UserID: id, Username: username})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
