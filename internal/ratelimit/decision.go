package ratelimit

import (
	"fmt"
	"time"
)

// Reason is the rejection reason of a Decision.
type Reason string

const (
	ReasonNone               Reason = "none"
	ReasonUserCooldown       Reason = "user_cooldown"
	ReasonSystemOverload     Reason = "system_overload"
	ReasonVariableSpam       Reason = "variable_spam"
	ReasonAdminQuotaExceeded Reason = "admin_quota_exceeded"
)

// Tier identifies the limiter stage that produced a decision.
type Tier int

const (
	TierNone Tier = iota
	TierUser
	TierSystem
	TierVariable
	TierAdmin
)

// String returns "1", "2", "3" or "admin".
func (t Tier) String() string {
	switch t {
	case TierUser, TierSystem, TierVariable:
		return fmt.Sprintf("%d", int(t))
	case TierAdmin:
		return "admin"
	default:
		return "none"
	}
}

// Decision is the result of one rate-limit check.
//
// Degraded is non-nil when the cooldown store failed during the check. A
// degraded decision is always Allowed (fail open); Degraded makes the failure
// visible to callers and stats.
type Decision struct {
	Allowed    bool
	Reason     Reason
	Tier       Tier
	Bucket     *BucketStatus // state of the deciding bucket, if any
	RetryAfter time.Duration // set for user_cooldown
	Degraded   error
}

// IsDegraded reports whether the decision was made without the cooldown store.
func (d Decision) IsDegraded() bool {
	return d.Degraded != nil
}

func allow(tier Tier, status *BucketStatus) Decision {
	return Decision{Allowed: true, Reason: ReasonNone, Tier: tier, Bucket: status}
}

func reject(reason Reason, tier Tier, status *BucketStatus) Decision {
	return Decision{Allowed: false, Reason: reason, Tier: tier, Bucket: status}
}
