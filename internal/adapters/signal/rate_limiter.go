package signal

import (
	"sync"
	"time"

	"github.com/abnjv/Ha-sub000/internal/domain"
)

// RateLimiter is a sliding-window limiter on signaling envelopes per
// connection. Over-limit envelopes are dropped, the connection is not
// penalized.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[domain.PeerID][]time.Time
	limit    int
	interval time.Duration
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		history:  make(map[domain.PeerID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *RateLimiter) Allow(peer domain.PeerID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[peer]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[peer] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[peer] = fresh
	return true
}

// Forget drops a connection's window on disconnect.
func (rl *RateLimiter) Forget(peer domain.PeerID) {
	rl.mu.Lock()
	delete(rl.history, peer)
	rl.mu.Unlock()
}
