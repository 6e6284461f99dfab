package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dyluth/patchbay/pkg/coordination"
	"github.com/redis/go-redis/v9"
)

// CooldownStore records when each user last had a command accepted.
type CooldownStore interface {
	// LastAccepted returns the last accepted time for user. found is false if
	// there is no record (never seen, or expired).
	LastAccepted(ctx context.Context, user string) (t time.Time, found bool, err error)
	// SetLastAccepted records t for user with the given expiry.
	SetLastAccepted(ctx context.Context, user string, t time.Time, ttl time.Duration) error
}

// RedisCooldownStore keeps cooldown timestamps in Redis so they are shared by
// every instance in a namespace. Values are unix milliseconds.
type RedisCooldownStore struct {
	rdb       *redis.Client
	namespace string
}

// NewRedisCooldownStore creates a store under the given namespace.
func NewRedisCooldownStore(rdb *redis.Client, namespace string) *RedisCooldownStore {
	return &RedisCooldownStore{rdb: rdb, namespace: namespace}
}

// LastAccepted reads patchbay:{ns}:cooldown:{user}.
func (s *RedisCooldownStore) LastAccepted(ctx context.Context, user string) (time.Time, bool, error) {
	raw, err := s.rdb.Get(ctx, coordination.CooldownKey(s.namespace, user)).Result()
	if err != nil {
		if coordination.IsNotFound(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read cooldown for %s: %w", user, err)
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid cooldown value for %s: %w", user, err)
	}
	return time.UnixMilli(ms), true, nil
}

// SetLastAccepted writes the timestamp with SET EX.
func (s *RedisCooldownStore) SetLastAccepted(ctx context.Context, user string, t time.Time, ttl time.Duration) error {
	key := coordination.CooldownKey(s.namespace, user)
	if err := s.rdb.Set(ctx, key, strconv.FormatInt(t.UnixMilli(), 10), ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cooldown for %s: %w", user, err)
	}
	return nil
}

// MemoryCooldownStore is an in-process CooldownStore for single-instance use
// and tests.
type MemoryCooldownStore struct {
	mu      sync.Mutex
	entries map[string]memoryCooldown
	now     func() time.Time
}

type memoryCooldown struct {
	at      time.Time
	expires time.Time
}

// NewMemoryCooldownStore creates an empty store. now may be nil.
func NewMemoryCooldownStore(now func() time.Time) *MemoryCooldownStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryCooldownStore{entries: make(map[string]memoryCooldown), now: now}
}

func (s *MemoryCooldownStore) LastAccepted(_ context.Context, user string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[user]
	if !ok {
		return time.Time{}, false, nil
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, user)
		return time.Time{}, false, nil
	}
	return e.at, true, nil
}

func (s *MemoryCooldownStore) SetLastAccepted(_ context.Context, user string, t time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[user] = memoryCooldown{at: t, expires: s.now().Add(ttl)}
	return nil
}

// cooldownTTL is the cooldown rounded up to whole seconds plus one second.
func cooldownTTL(cooldown time.Duration) time.Duration {
	secs := (cooldown + time.Second - 1) / time.Second
	return (secs + 1) * time.Second
}
