package internal

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RateLimiter allows at most limit hits per key inside a sliding window.
type RateLimiter struct {
	mu     sync.Mutex
	clock  clock.Clock
	hits   map[string][]time.Time
	limit  int
	window time.Duration
}

func NewRateLimiter(limit int, window time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{
		clock:  clk,
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

func (r *RateLimiter) Allow(key string) bool {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	windowStart := now.Add(-r.window)
	slice := r.hits[key]
	idx := 0
	for _, ts := range slice {
		if ts.After(windowStart) {
			slice[idx] = ts
			idx++
		}
	}
	slice = slice[:idx]
	if len(slice) >= r.limit {
		r.hits[key] = slice
		return false
	}
	if len(slice) == 0 {
		slice = make([]time.Time, 0, r.limit)
	}
	r.hits[key] = append(slice, now)
	return true
}

// Prune drops keys with no hits inside the window.
func (r *RateLimiter) Prune() {
	windowStart := r.clock.Now().Add(-r.window)
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, slice := range r.hits {
		if len(slice) == 0 || !slice[len(slice)-1].After(windowStart) {
			delete(r.hits, key)
		}
	}
}
