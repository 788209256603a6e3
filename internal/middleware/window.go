package middleware

import (
	"sync"
	"time"
)

// WindowLimiter is a fixed-window rate limiter held in process memory. It
// backs the per-sender message limit, where the decision must be made inside
// the service call and must not depend on Redis availability.
type WindowLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string]*windowEntry
	now     func() time.Time

	maxEntries int
}

type windowEntry struct {
	count   int
	started time.Time
}

// NewWindowLimiter creates a limiter allowing `limit` events per `window`
// for each key.
func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		limit:      limit,
		window:     window,
		entries:    make(map[string]*windowEntry),
		now:        time.Now,
		maxEntries: 100000,
	}
}

// Allow records an event for key and reports whether it fits in the current
// window. When denied, retryAfter is the time until the window resets.
func (l *WindowLimiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || now.Sub(e.started) >= l.window {
		if !ok && len(l.entries) >= l.maxEntries {
			l.sweepLocked(now)
		}
		l.entries[key] = &windowEntry{count: 1, started: now}
		return true, 0
	}

	if e.count >= l.limit {
		return false, e.started.Add(l.window).Sub(now)
	}
	e.count++
	return true, 0
}

// sweepLocked drops expired windows. Called when the map is at capacity so
// one hot path never pays for a full scan twice in a row.
func (l *WindowLimiter) sweepLocked(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.started) >= l.window {
			delete(l.entries, k)
		}
	}
}

// Len reports the number of tracked keys, for tests and diagnostics.
func (l *WindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
