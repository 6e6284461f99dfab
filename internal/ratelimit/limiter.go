// Package ratelimit implements the tiered admission limiter for chat commands.
//
// Checks run in strict order and stop at the first rejection:
//
//	admin    per-admin bucket (replaces tiers 1-3 for privileged users)
//	tier 1   per-user cooldown, shared across instances via a CooldownStore
//	tier 2   one system-wide bucket per process
//	tier 3   one bucket per fully-qualified variable
//
// Token state lives in process memory and is owned by a single Limiter.
package ratelimit

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const userLockStripes = 64

// Config holds limiter tuning. Refill rates are tokens per second.
type Config struct {
	UserCooldown       time.Duration
	SystemCapacity     int
	SystemRefillRate   int
	VariableCapacity   int
	VariableRefillRate int
	AdminCapacity      int
	AdminRefillRate    int
	MaxVariableBuckets int
	CleanupInterval    time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		UserCooldown:       time.Second,
		SystemCapacity:     100,
		SystemRefillRate:   10,
		VariableCapacity:   20,
		VariableRefillRate: 2,
		AdminCapacity:      1000,
		AdminRefillRate:    100,
		MaxVariableBuckets: 500,
		CleanupInterval:    time.Minute,
	}
}

// Stats is a snapshot of limiter counters and bucket occupancy.
type Stats struct {
	TotalRequests   uint64       `json:"totalRequests"`
	UserBlocks      uint64       `json:"userBlocks"`
	SystemBlocks    uint64       `json:"systemBlocks"`
	VariableBlocks  uint64       `json:"variableBlocks"`
	AdminOverrides  uint64       `json:"adminOverrides"`
	AdminBlocks     uint64       `json:"adminBlocks"`
	Degraded        uint64       `json:"degraded"`
	Evictions       uint64       `json:"evictions"`
	System          BucketStatus `json:"systemBucket"`
	VariableBuckets int          `json:"variableBuckets"`
	AdminBuckets    int          `json:"adminBuckets"`
}

type counters struct {
	total          atomic.Uint64
	userBlocks     atomic.Uint64
	systemBlocks   atomic.Uint64
	variableBlocks atomic.Uint64
	adminOverrides atomic.Uint64
	adminBlocks    atomic.Uint64
	degraded       atomic.Uint64
	evictions      atomic.Uint64
}

type variableEntry struct {
	bucket   *Bucket
	lastUsed time.Time
}

// Limiter is the hybrid rate limiter. It is safe for concurrent use; checks
// for the same user are serialised so they are decided in arrival order.
type Limiter struct {
	cfg   Config
	store CooldownStore
	now   func() time.Time

	userLocks [userLockStripes]sync.Mutex

	mu        sync.Mutex // guards buckets below
	system    *Bucket
	variables map[string]*variableEntry
	admins    map[string]*Bucket

	stats counters
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter using store for tier 1.
func New(cfg Config, store CooldownStore, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:       cfg,
		store:     store,
		now:       time.Now,
		variables: make(map[string]*variableEntry),
		admins:    make(map[string]*Bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.system = NewBucket(cfg.SystemCapacity, cfg.SystemRefillRate, time.Second, l.now)
	return l
}

// Check decides whether user may issue a command against variable.
//
// Side effects that have happened are not rolled back if ctx is cancelled.
func (l *Limiter) Check(ctx context.Context, user, variable string, isAdmin bool) Decision {
	l.stats.total.Add(1)

	lock := &l.userLocks[stripe(user)]
	lock.Lock()
	defer lock.Unlock()

	if isAdmin {
		return l.checkAdmin(ctx, user)
	}

	// Tier 1: user cooldown. A failing store admits the command, degraded.
	last, found, err := l.store.LastAccepted(ctx, user)
	if err != nil {
		return l.degrade(allow(TierUser, nil), err)
	}
	if found {
		if elapsed := l.now().Sub(last); elapsed < l.cfg.UserCooldown {
			l.stats.userBlocks.Add(1)
			d := reject(ReasonUserCooldown, TierUser, nil)
			d.RetryAfter = l.cfg.UserCooldown - elapsed
			return d
		}
	}

	l.mu.Lock()
	// Tier 2: system capacity.
	if !l.system.Consume(1) {
		status := l.system.Status()
		l.mu.Unlock()
		l.stats.systemBlocks.Add(1)
		return reject(ReasonSystemOverload, TierSystem, &status)
	}
	// Tier 3: per-variable bucket.
	bucket := l.variableBucket(variable)
	if !bucket.Consume(1) {
		status := bucket.Status()
		l.mu.Unlock()
		l.stats.variableBlocks.Add(1)
		return reject(ReasonVariableSpam, TierVariable, &status)
	}
	status := bucket.Status()
	l.mu.Unlock()

	if err := l.store.SetLastAccepted(ctx, user, l.now(), cooldownTTL(l.cfg.UserCooldown)); err != nil {
		return l.degrade(allow(TierVariable, &status), err)
	}
	return allow(TierVariable, &status)
}

func (l *Limiter) checkAdmin(ctx context.Context, user string) Decision {
	l.mu.Lock()
	bucket, ok := l.admins[user]
	if !ok {
		bucket = NewBucket(l.cfg.AdminCapacity, l.cfg.AdminRefillRate, time.Second, l.now)
		l.admins[user] = bucket
	}
	allowed := bucket.Consume(1)
	status := bucket.Status()
	l.mu.Unlock()

	if !allowed {
		l.stats.adminBlocks.Add(1)
		return reject(ReasonAdminQuotaExceeded, TierAdmin, &status)
	}

	l.stats.adminOverrides.Add(1)
	d := allow(TierAdmin, &status)
	if err := l.store.SetLastAccepted(ctx, user, l.now(), cooldownTTL(l.cfg.UserCooldown)); err != nil {
		return l.degrade(d, err)
	}
	return d
}

func (l *Limiter) degrade(d Decision, err error) Decision {
	if err == nil {
		return d
	}
	l.stats.degraded.Add(1)
	log.Printf("[RateLimit] Cooldown store unavailable, failing open: %v", err)
	d.Degraded = err
	return d
}

// variableBucket returns the bucket for variable, creating it if needed.
// Caller holds l.mu.
func (l *Limiter) variableBucket(variable string) *Bucket {
	now := l.now()
	if e, ok := l.variables[variable]; ok {
		e.lastUsed = now
		return e.bucket
	}

	if l.cfg.MaxVariableBuckets > 0 && len(l.variables) >= l.cfg.MaxVariableBuckets {
		l.evictStale(now)
		if len(l.variables) >= l.cfg.MaxVariableBuckets {
			l.evictOldest()
		}
	}

	e := &variableEntry{
		bucket:   NewBucket(l.cfg.VariableCapacity, l.cfg.VariableRefillRate, time.Second, l.now),
		lastUsed: now,
	}
	l.variables[variable] = e
	return e.bucket
}

// evictStale drops buckets idle for more than twice the cleanup interval.
// Caller holds l.mu.
func (l *Limiter) evictStale(now time.Time) int {
	cutoff := now.Add(-2 * l.cfg.CleanupInterval)
	evicted := 0
	for name, e := range l.variables {
		if e.lastUsed.Before(cutoff) {
			delete(l.variables, name)
			evicted++
		}
	}
	l.stats.evictions.Add(uint64(evicted))
	return evicted
}

// evictOldest drops the least recently used bucket. Caller holds l.mu.
func (l *Limiter) evictOldest() {
	var oldest string
	var oldestAt time.Time
	for name, e := range l.variables {
		if oldest == "" || e.lastUsed.Before(oldestAt) {
			oldest, oldestAt = name, e.lastUsed
		}
	}
	if oldest != "" {
		delete(l.variables, oldest)
		l.stats.evictions.Add(1)
	}
}

// Sweep evicts stale variable buckets and returns how many were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evictStale(l.now())
}

// Run sweeps stale buckets every CleanupInterval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) {
	if l.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				log.Printf("[RateLimit] Evicted %d stale variable buckets", n)
			}
		}
	}
}

// Stats returns a snapshot of counters and bucket state.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	system := l.system.Status()
	variables := len(l.variables)
	admins := len(l.admins)
	l.mu.Unlock()

	return Stats{
		TotalRequests:   l.stats.total.Load(),
		UserBlocks:      l.stats.userBlocks.Load(),
		SystemBlocks:    l.stats.systemBlocks.Load(),
		VariableBlocks:  l.stats.variableBlocks.Load(),
		AdminOverrides:  l.stats.adminOverrides.Load(),
		AdminBlocks:     l.stats.adminBlocks.Load(),
		Degraded:        l.stats.degraded.Load(),
		Evictions:       l.stats.evictions.Load(),
		System:          system,
		VariableBuckets: variables,
		AdminBuckets:    admins,
	}
}

// ResetStats zeroes the counters. Bucket state is untouched.
func (l *Limiter) ResetStats() {
	l.stats.total.Store(0)
	l.stats.userBlocks.Store(0)
	l.stats.systemBlocks.Store(0)
	l.stats.variableBlocks.Store(0)
	l.stats.adminOverrides.Store(0)
	l.stats.adminBlocks.Store(0)
	l.stats.degraded.Store(0)
	l.stats.evictions.Store(0)
}

// EmergencyOverride refills every bucket to capacity.
func (l *Limiter) EmergencyOverride() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.system.Fill()
	for _, e := range l.variables {
		e.bucket.Fill()
	}
	for _, b := range l.admins {
		b.Fill()
	}
	log.Printf("[RateLimit] Emergency override: refilled system, %d variable and %d admin buckets",
		len(l.variables), len(l.admins))
}

// VariableStatus returns the bucket state for variable, if tracked.
func (l *Limiter) VariableStatus(variable string) (BucketStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.variables[variable]
	if !ok {
		return BucketStatus{}, false
	}
	return e.bucket.Status(), true
}

func stripe(user string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(user))
	return h.Sum32() % userLockStripes
}
