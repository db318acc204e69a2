package workorder

import (
	"math"
	"time"
)

// Policy configures the exponential backoff applied between retryable work
// order failures, per spec.md §4.4 ("after a second retryable failure the
// backoff doubles"). Grounded on the teacher's resolvedRetryPolicy
// (internal/controlplane/jobs/retry.go), generalized from a per-job override
// to a single broker-wide policy since spec.md attaches no retry
// customization to individual work orders, only a max_attempts count.
type Policy struct {
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
}

// DefaultPolicy mirrors the teacher's defaultResolvedRetryPolicy defaults,
// adjusted to the minute-scale cadence spec.md's retry scenario describes
// ("a minute later... the agent's pending list includes the order again").
func DefaultPolicy() Policy {
	return Policy{
		InitialBackoff: time.Minute,
		Multiplier:     2.0,
		MaxBackoff:     30 * time.Minute,
	}
}

// NextDelay returns the delay to wait before the given failed attempt
// becomes eligible again. failedAttempt is the attempt number that just
// failed (1-indexed); the result backs next_attempt_at for attempt+1.
func (p Policy) NextDelay(failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}
	exponent := float64(failedAttempt - 1)
	delay := time.Duration(float64(p.InitialBackoff) * math.Pow(p.Multiplier, exponent))
	if delay <= 0 {
		delay = p.InitialBackoff
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}
