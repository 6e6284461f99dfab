package ratelimit

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// BucketStatus is a point-in-time view of a bucket for diagnostics.
type BucketStatus struct {
	Tokens     int     `json:"tokens"`
	Capacity   int     `json:"capacity"`
	Percentage float64 `json:"percentage"`
}

// Bucket is a token bucket of capacity tokens refilled continuously at
// refillRate tokens per refillPeriod.
//
// Every call passes the injected clock's time to the underlying rate.Limiter,
// so refill is computed on access and partial progress towards the next token
// is kept. A Bucket is not safe for concurrent use by itself; the owning
// Limiter serialises access.
type Bucket struct {
	capacity int
	limit    rate.Limit
	limiter  *rate.Limiter
	now      func() time.Time
}

// NewBucket creates a full bucket that refills refillRate tokens every
// refillPeriod. now may be nil to use the wall clock.
func NewBucket(capacity, refillRate int, refillPeriod time.Duration, now func() time.Time) *Bucket {
	if capacity < 1 {
		capacity = 1
	}
	if refillRate < 1 {
		refillRate = 1
	}
	if refillPeriod <= 0 {
		refillPeriod = time.Second
	}
	if now == nil {
		now = time.Now
	}
	limit := rate.Limit(float64(refillRate) / refillPeriod.Seconds())
	return &Bucket{
		capacity: capacity,
		limit:    limit,
		limiter:  rate.NewLimiter(limit, capacity),
		now:      now,
	}
}

// Consume takes n tokens if available.
func (b *Bucket) Consume(n int) bool {
	return b.limiter.AllowN(b.now(), n)
}

// Status reports the current level in whole tokens.
func (b *Bucket) Status() BucketStatus {
	// Absorb float error so an exactly refilled token is not reported as 0.
	tokens := int(math.Floor(b.limiter.TokensAt(b.now()) + 1e-9))
	if tokens < 0 {
		tokens = 0
	}
	if tokens > b.capacity {
		tokens = b.capacity
	}
	return BucketStatus{
		Tokens:     tokens,
		Capacity:   b.capacity,
		Percentage: float64(tokens) / float64(b.capacity) * 100,
	}
}

// Fill tops the bucket up to capacity.
func (b *Bucket) Fill() {
	b.limiter = rate.NewLimiter(b.limit, b.capacity)
}
