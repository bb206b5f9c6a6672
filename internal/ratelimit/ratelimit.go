// Package ratelimit implements a sliding-window request counter keyed by
// caller identity. Counters live only in memory; a restart clears them,
// which is acceptable for a coarse abuse guard.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks, per key, the timestamps of accepted calls within a
// trailing window. Distinct keys are independent.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// NewLimiter returns an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether a call for key is within max accepted calls over
// the trailing window. Accepted calls are recorded; rejected calls are
// not, so a flood cannot extend its own penalty.
func (l *Limiter) Allow(key string, max int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	kept := l.windows[key][:0]
	for _, t := range l.windows[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= max {
		l.windows[key] = kept
		return false
	}

	l.windows[key] = append(kept, now)
	return true
}

// Reset drops all recorded calls for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}
