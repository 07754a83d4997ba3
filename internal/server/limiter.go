// Package server implements a per-username sliding-window rate limiter that
// protects the relay from message floods.
package server

import (
	"sync"
	"time"
)

// RateLimiter counts messages per username inside a trailing window. State
// is keyed by username only, so a user's budget is shared across groups.
type RateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	events map[string][]time.Time
}

// NewRateLimiter creates a limiter admitting max messages per window.
// Non-positive arguments fall back to one message per second.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Second
	}

	return &RateLimiter{
		max:    max,
		window: window,
		events: make(map[string][]time.Time),
	}
}

// Allow reports whether username may send a message at now. Timestamps older
// than the window are pruned first; a rejected message is not recorded, so it
// does not extend the sender's penalty.
func (rl *RateLimiter) Allow(username string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.window)
	kept := rl.events[username][:0]
	for _, ts := range rl.events[username] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= rl.max {
		rl.events[username] = kept
		return false
	}

	rl.events[username] = append(kept, now)
	return true
}

// Forget drops all window state for username. Called when the user's session
// ends so the map does not grow with every name ever seen.
func (rl *RateLimiter) Forget(username string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.events, username)
}
