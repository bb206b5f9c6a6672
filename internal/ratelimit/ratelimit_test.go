package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(start time.Time) (*Limiter, *time.Time) {
	l := NewLimiter()
	now := start
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllowWithinWindow(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1_700_000_000, 0))

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("1.2.3.4", 5, 15*time.Minute), "call %d should be allowed", i+1)
	}
	assert.False(t, l.Allow("1.2.3.4", 5, 15*time.Minute), "6th call should be rejected")
}

func TestWindowSlides(t *testing.T) {
	l, now := newTestLimiter(time.Unix(1_700_000_000, 0))

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("k", 5, 15*time.Minute))
	}
	assert.False(t, l.Allow("k", 5, 15*time.Minute))

	// Advancing past the window frees the quota again.
	*now = now.Add(15*time.Minute + time.Second)
	assert.True(t, l.Allow("k", 5, 15*time.Minute))
}

func TestRejectedCallsAreNotRecorded(t *testing.T) {
	l, now := newTestLimiter(time.Unix(1_700_000_000, 0))

	for i := 0; i < 5; i++ {
		l.Allow("k", 5, time.Minute)
	}
	// A flood of rejected calls must not extend the penalty.
	for i := 0; i < 100; i++ {
		assert.False(t, l.Allow("k", 5, time.Minute))
	}

	*now = now.Add(time.Minute + time.Second)
	assert.True(t, l.Allow("k", 5, time.Minute))
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1_700_000_000, 0))

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("a", 5, time.Minute))
	}
	assert.False(t, l.Allow("a", 5, time.Minute))
	assert.True(t, l.Allow("b", 5, time.Minute))
}

func TestPartialWindowExpiry(t *testing.T) {
	l, now := newTestLimiter(time.Unix(1_700_000_000, 0))

	assert.True(t, l.Allow("k", 2, time.Minute))
	*now = now.Add(40 * time.Second)
	assert.True(t, l.Allow("k", 2, time.Minute))
	assert.False(t, l.Allow("k", 2, time.Minute))

	// First call falls out of the window; the second is still inside.
	*now = now.Add(30 * time.Second)
	assert.True(t, l.Allow("k", 2, time.Minute))
	assert.False(t, l.Allow("k", 2, time.Minute))
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1_700_000_000, 0))

	for i := 0; i < 3; i++ {
		l.Allow("k", 3, time.Minute)
	}
	assert.False(t, l.Allow("k", 3, time.Minute))
	l.Reset("k")
	assert.True(t, l.Allow("k", 3, time.Minute))
}
