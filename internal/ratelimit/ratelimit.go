// Package ratelimit limits requests per (client, endpoint) with a sliding window log.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits at most limit requests per key within any window-long interval.
// Keys idle for a full window are evicted by Evict or Run.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	entries map[string][]time.Time
}

// New returns a Limiter. A non-positive limit or window admits everything.
// now may be nil.
func New(limit int, window time.Duration, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		limit:   limit,
		window:  window,
		now:     now,
		entries: make(map[string][]time.Time),
	}
}

func key(client, endpoint string) string {
	return client + " " + endpoint
}

// Allow records a request from client on endpoint and reports whether it is within
// the limit. When denied, retryAfter is the time until the oldest counted request
// leaves the window.
func (l *Limiter) Allow(client, endpoint string) (allowed bool, retryAfter time.Duration) {
	if l.limit <= 0 || l.window <= 0 {
		return true, 0
	}
	k := key(client, endpoint)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := pruned(l.entries[k], now.Add(-l.window))
	if len(hits) >= l.limit {
		l.entries[k] = hits
		return false, hits[0].Add(l.window).Sub(now)
	}
	l.entries[k] = append(hits, now)
	return true, 0
}

// Evict drops keys with no request inside the window and returns how many were removed.
func (l *Limiter) Evict() int {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, hits := range l.entries {
		hits = pruned(hits, cutoff)
		if len(hits) == 0 {
			delete(l.entries, k)
			removed++
			continue
		}
		l.entries[k] = hits
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Run evicts idle keys every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.window
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Evict()
		}
	}
}

// pruned drops leading timestamps at or before cutoff, so a hit exactly one window
// old no longer counts. hits is in time order.
func pruned(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(hits) && !hits[i].After(cutoff); i++ {
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}
