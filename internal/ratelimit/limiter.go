// ABOUTME: Per-key token bucket rate limiting built on golang.org/x/time/rate
// ABOUTME: Idle keys are evicted by a background sweep so the map stays bounded

package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	sweepInterval = time.Minute
	idleAfter     = 3 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter holds one token bucket per key (usually a user ID).
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a limiter allowing limit events per second with the given burst.
// A zero limit disables limiting: Allow always returns true.
func New(limit rate.Limit, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		entries: make(map[string]*limiterEntry),
		limit:   limit,
		burst:   burst,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// PerMinute creates a limiter for n events per minute, bursting up to n.
func PerMinute(n int) *Limiter {
	return New(rate.Limit(float64(n)/60.0), n)
}

// PerSecond creates a limiter for n events per second, bursting up to n.
func PerSecond(n int) *Limiter {
	return New(rate.Limit(n), n)
}

// Allow reports whether key may perform one more event now.
func (l *Limiter) Allow(key string) bool {
	if l.limit == 0 {
		return true
	}

	l.mu.Lock()
	now := l.now()
	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, entry := range l.entries {
		if now.Sub(entry.lastSeen) > idleAfter {
			delete(l.entries, key)
		}
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
}
