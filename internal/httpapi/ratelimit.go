package httpapi

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/brokkr-io/brokkr/internal/authpak"
)

// pollRateLimiter enforces a per-agent request-rate ceiling on the
// poll-style endpoints an agent hits once per reconcile tick (pending
// deployment objects, work orders, diagnostics, webhook deliveries, and
// heartbeat). A misbehaving or misconfigured agent polling far faster than
// its configured interval shouldn't be able to monopolize the broker.
// Adapted from the teacher's internal/shared/ratelimit.Limiter: that
// package tracked concurrent-run slots plus an hourly run budget per
// agent; polling has no "concurrent" concept and no burst-allowance case,
// so this keeps only the sliding-window request-rate half of that shape.
type pollRateLimiter struct {
	maxPerMinute int

	mu      sync.Mutex
	history map[string][]time.Time
}

func newPollRateLimiter(maxPerMinute int) *pollRateLimiter {
	return &pollRateLimiter{maxPerMinute: maxPerMinute, history: make(map[string][]time.Time)}
}

// allow reports whether agentID may make another poll request now,
// recording the attempt regardless of outcome so a sustained flood keeps
// getting rejected rather than resetting the window.
func (l *pollRateLimiter) allow(agentID string) bool {
	if l.maxPerMinute <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	times := l.history[agentID]
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	times = times[i:]

	if len(times) >= l.maxPerMinute {
		l.history[agentID] = append(times, now)
		return false
	}
	l.history[agentID] = append(times, now)
	return true
}

// middleware rejects requests over the per-agent poll rate with 429,
// keyed on the authenticated agent identity attached by authpak.Middleware
// (which always runs first, per New's handler chain).
func (l *pollRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentID := authpak.FromContext(r.Context()).AgentID
		if agentID == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !l.allow(agentID) {
			writeJSONError(w, http.StatusTooManyRequests, "rate_limited",
				fmt.Sprintf("agent poll rate exceeds %d requests/minute", l.maxPerMinute))
			return
		}
		next.ServeHTTP(w, r)
	})
}
