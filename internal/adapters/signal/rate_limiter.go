package signal

import (
	"sync"
	"time"

	"github.com/dkeye/callsignal/internal/domain"
)

// RoomRateLimiter allows at most limit attempts per room within a sliding interval.
type RoomRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.RoomToken][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		history:  make(map[domain.RoomToken][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an attempt for token unless the window is already full.
func (rl *RoomRateLimiter) Allow(token domain.RoomToken) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[token]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[token] = fresh
		return false
	}
	rl.history[token] = append(fresh, now)
	return true
}

// Reset forgets the attempts of token.
func (rl *RoomRateLimiter) Reset(token domain.RoomToken) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, token)
}
