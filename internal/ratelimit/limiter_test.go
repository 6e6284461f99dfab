package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/patchbay/pkg/coordination"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestLimiter creates a limiter backed by miniredis and a fake clock.
func setupTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis, *fakeClock) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clock := newFakeClock()
	store := NewRedisCooldownStore(rdb, "test-ns")
	return New(cfg, store, WithClock(clock.Now)), mr, clock
}

type failingStore struct{}

func (failingStore) LastAccepted(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, errors.New("connection refused")
}

func (failingStore) SetLastAccepted(context.Context, string, time.Time, time.Duration) error {
	return errors.New("connection refused")
}

func TestLimiter_AllowsFirstRequest(t *testing.T) {
	l, mr, _ := setupTestLimiter(t, DefaultConfig())
	ctx := context.Background()

	d := l.Check(ctx, "viewer", "doorway#1.threshold", false)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonNone, d.Reason)
	assert.False(t, d.IsDegraded())
	require.NotNil(t, d.Bucket)
	assert.Equal(t, 19, d.Bucket.Tokens)

	key := coordination.CooldownKey("test-ns", "viewer")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 2*time.Second, mr.TTL(key))
}

func TestLimiter_UserCooldown(t *testing.T) {
	l, _, clock := setupTestLimiter(t, DefaultConfig())
	ctx := context.Background()

	require.True(t, l.Check(ctx, "viewer", "doorway#1.threshold", false).Allowed)

	clock.Advance(400 * time.Millisecond)
	d := l.Check(ctx, "viewer", "topogram#1.gain", false)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonUserCooldown, d.Reason)
	assert.Equal(t, TierUser, d.Tier)
	assert.Equal(t, 600*time.Millisecond, d.RetryAfter)

	clock.Advance(600 * time.Millisecond)
	assert.True(t, l.Check(ctx, "viewer", "topogram#1.gain", false).Allowed)

	assert.True(t, l.Check(ctx, "someone-else", "topogram#1.gain", false).Allowed)
}

func TestLimiter_TierOneRejectionConsumesNoTokens(t *testing.T) {
	l, _, _ := setupTestLimiter(t, DefaultConfig())
	ctx := context.Background()

	require.True(t, l.Check(ctx, "viewer", "doorway#1.threshold", false).Allowed)
	before := l.Stats().System.Tokens
	varBefore, ok := l.VariableStatus("doorway#1.threshold")
	require.True(t, ok)

	for i := 0; i < 5; i++ {
		d := l.Check(ctx, "viewer", "doorway#1.threshold", false)
		require.Equal(t, ReasonUserCooldown, d.Reason)
	}

	assert.Equal(t, before, l.Stats().System.Tokens)
	varAfter, _ := l.VariableStatus("doorway#1.threshold")
	assert.Equal(t, varBefore.Tokens, varAfter.Tokens)
	assert.Equal(t, uint64(5), l.Stats().UserBlocks)
}

func TestLimiter_SystemOverload(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SystemCapacity = 3
	l, _, _ := setupTestLimiter(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, l.Check(ctx, fmt.Sprintf("user%d", i), fmt.Sprintf("mod#%d.param", i), false).Allowed)
	}

	d := l.Check(ctx, "user-late", "mod#9.param", false)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonSystemOverload, d.Reason)
	assert.Equal(t, TierSystem, d.Tier)
	require.NotNil(t, d.Bucket)
	assert.Equal(t, 0, d.Bucket.Tokens)

	_, tracked := l.VariableStatus("mod#9.param")
	assert.False(t, tracked, "tier 3 reached after tier 2 rejection")
	assert.Equal(t, uint64(1), l.Stats().SystemBlocks)
}

func TestLimiter_VariableSpam(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VariableCapacity = 2
	l, _, clock := setupTestLimiter(t, cfg)
	ctx := context.Background()

	assert.True(t, l.Check(ctx, "a", "doorway#1.threshold", false).Allowed)
	assert.True(t, l.Check(ctx, "b", "doorway#1.threshold", false).Allowed)

	d := l.Check(ctx, "c", "doorway#1.threshold", false)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonVariableSpam, d.Reason)
	assert.Equal(t, TierVariable, d.Tier)

	assert.True(t, l.Check(ctx, "c", "doorway#2.threshold", false).Allowed, "other variables unaffected")

	clock.Advance(500 * time.Millisecond)
	assert.True(t, l.Check(ctx, "d", "doorway#1.threshold", false).Allowed)
	assert.Equal(t, uint64(1), l.Stats().VariableBlocks)
}

func TestLimiter_AdminFastPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdminCapacity = 2
	cfg.SystemCapacity = 1
	l, mr, _ := setupTestLimiter(t, cfg)
	ctx := context.Background()

	require.True(t, l.Check(ctx, "viewer", "mod#1.param", false).Allowed)

	d := l.Check(ctx, "op", "mod#1.param", true)
	assert.True(t, d.Allowed, "admins bypass the exhausted system bucket")
	assert.Equal(t, TierAdmin, d.Tier)
	assert.True(t, mr.Exists(coordination.CooldownKey("test-ns", "op")))

	assert.True(t, l.Check(ctx, "op", "mod#1.param", true).Allowed, "admins bypass cooldown")

	d = l.Check(ctx, "op", "mod#1.param", true)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonAdminQuotaExceeded, d.Reason)

	stats := l.Stats()
	assert.Equal(t, uint64(2), stats.AdminOverrides)
	assert.Equal(t, uint64(1), stats.AdminBlocks)
	assert.Equal(t, 1, stats.AdminBuckets)
}

func TestLimiter_FailsOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SystemCapacity = 2
	clock := newFakeClock()
	l := New(cfg, failingStore{}, WithClock(clock.Now))
	ctx := context.Background()

	d := l.Check(ctx, "viewer", "mod#1.param", false)
	assert.True(t, d.Allowed)
	assert.True(t, d.IsDegraded())
	assert.Contains(t, d.Degraded.Error(), "connection refused")

	assert.True(t, l.Check(ctx, "viewer", "mod#1.param", false).Allowed)

	d = l.Check(ctx, "viewer", "mod#1.param", false)
	assert.True(t, d.Allowed, "a degraded check admits past an exhausted system bucket")
	assert.Equal(t, TierUser, d.Tier)
	assert.True(t, d.IsDegraded())

	stats := l.Stats()
	assert.Equal(t, uint64(3), stats.Degraded)
	assert.Zero(t, stats.SystemBlocks)
	assert.Equal(t, 2, stats.System.Tokens, "degraded checks consume no tokens")
	assert.Zero(t, stats.VariableBuckets)

	admin := l.Check(ctx, "op", "mod#1.param", true)
	assert.True(t, admin.Allowed)
	assert.True(t, admin.IsDegraded())
}

func TestLimiter_FailsOpenWhenRedisDown(t *testing.T) {
	l, mr, _ := setupTestLimiter(t, DefaultConfig())
	mr.Close()

	d := l.Check(context.Background(), "viewer", "mod#1.param", false)
	assert.True(t, d.Allowed)
	assert.True(t, d.IsDegraded())
}

func TestLimiter_VariableBucketCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxVariableBuckets = 2
	cfg.UserCooldown = 0
	l, _, clock := setupTestLimiter(t, cfg)
	ctx := context.Background()

	t.Run("evicts least recently used when nothing is stale", func(t *testing.T) {
		l.Check(ctx, "u", "a#1.p", false)
		clock.Advance(time.Millisecond)
		l.Check(ctx, "u", "b#1.p", false)
		clock.Advance(time.Millisecond)
		l.Check(ctx, "u", "a#1.p", false)
		clock.Advance(time.Millisecond)
		l.Check(ctx, "u", "c#1.p", false)

		assert.Equal(t, 2, l.Stats().VariableBuckets)
		_, hasA := l.VariableStatus("a#1.p")
		_, hasB := l.VariableStatus("b#1.p")
		assert.True(t, hasA)
		assert.False(t, hasB)
	})

	t.Run("evicts stale buckets before the least recently used", func(t *testing.T) {
		l, _, clock := setupTestLimiter(t, cfg)

		l.Check(ctx, "u", "stale#1.p", false)
		clock.Advance(2*cfg.CleanupInterval + time.Second)
		l.Check(ctx, "u", "fresh#1.p", false)
		clock.Advance(time.Millisecond)
		l.Check(ctx, "u", "new#1.p", false)

		_, hasStale := l.VariableStatus("stale#1.p")
		_, hasFresh := l.VariableStatus("fresh#1.p")
		_, hasNew := l.VariableStatus("new#1.p")
		assert.False(t, hasStale)
		assert.True(t, hasFresh)
		assert.True(t, hasNew)
		assert.Equal(t, uint64(1), l.Stats().Evictions)
	})

	t.Run("stale eviction can free several slots", func(t *testing.T) {
		cfg := cfg
		cfg.MaxVariableBuckets = 3
		l, _, clock := setupTestLimiter(t, cfg)

		l.Check(ctx, "u", "old1#1.p", false)
		l.Check(ctx, "u", "old2#1.p", false)
		clock.Advance(2*cfg.CleanupInterval + time.Second)
		l.Check(ctx, "u", "fresh#1.p", false)
		l.Check(ctx, "u", "new#1.p", false)

		assert.Equal(t, 2, l.Stats().VariableBuckets)
		assert.Equal(t, uint64(2), l.Stats().Evictions)
	})

	t.Run("sweep evicts stale buckets", func(t *testing.T) {
		clock.Advance(2*cfg.CleanupInterval + time.Second)
		assert.Equal(t, 2, l.Sweep())
		assert.Equal(t, 0, l.Stats().VariableBuckets)
		assert.Equal(t, uint64(3), l.Stats().Evictions)
	})
}

func TestLimiter_EmergencyOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SystemCapacity = 1
	l, _, _ := setupTestLimiter(t, cfg)
	ctx := context.Background()

	require.True(t, l.Check(ctx, "a", "mod#1.param", false).Allowed)
	require.False(t, l.Check(ctx, "b", "mod#1.param", false).Allowed)

	l.EmergencyOverride()
	assert.True(t, l.Check(ctx, "b", "mod#1.param", false).Allowed)
}

func TestLimiter_ResetStats(t *testing.T) {
	l, _, _ := setupTestLimiter(t, DefaultConfig())
	ctx := context.Background()

	l.Check(ctx, "a", "mod#1.param", false)
	l.Check(ctx, "a", "mod#1.param", false)
	require.Equal(t, uint64(2), l.Stats().TotalRequests)

	l.ResetStats()
	stats := l.Stats()
	assert.Zero(t, stats.TotalRequests)
	assert.Zero(t, stats.UserBlocks)
	assert.Equal(t, 1, stats.VariableBuckets)
}

func TestLimiter_ConcurrentChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SystemCapacity = 50
	l, _, _ := setupTestLimiter(t, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := l.Check(ctx, fmt.Sprintf("user%d", i), fmt.Sprintf("mod#%d.param", i%10), false)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
	stats := l.Stats()
	assert.Equal(t, uint64(100), stats.TotalRequests)
	assert.Equal(t, uint64(50), stats.SystemBlocks)
}

func TestLimiter_RunStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CleanupInterval = 10 * time.Millisecond
	l, _, _ := setupTestLimiter(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCooldownTTL(t *testing.T) {
	assert.Equal(t, 2*time.Second, cooldownTTL(time.Second))
	assert.Equal(t, 3*time.Second, cooldownTTL(1500*time.Millisecond))
	assert.Equal(t, time.Second, cooldownTTL(0))
}

func TestMemoryCooldownStore(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryCooldownStore(clock.Now)
	ctx := context.Background()

	_, found, err := store.LastAccepted(ctx, "u")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SetLastAccepted(ctx, "u", clock.Now(), 2*time.Second))
	at, found, err := store.LastAccepted(ctx, "u")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, clock.Now(), at)

	clock.Advance(2 * time.Second)
	_, found, _ = store.LastAccepted(ctx, "u")
	assert.False(t, found)
}
