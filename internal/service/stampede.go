package service

import (
	"sync"
)

// refreshTracker counts concurrent upstream refreshes per location. More than one
// at a time for the same location means callers are stampeding a stale reading.
type refreshTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newRefreshTracker() *refreshTracker {
	return &refreshTracker{
		active: make(map[string]int),
	}
}

// Begin records a refresh for locationID and returns the number now in progress.
// Pair every Begin with End.
func (rt *refreshTracker) Begin(locationID string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.active[locationID]++
	return rt.active[locationID]
}

func (rt *refreshTracker) End(locationID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if n, ok := rt.active[locationID]; ok && n > 0 {
		rt.active[locationID]--
		if rt.active[locationID] == 0 {
			delete(rt.active, locationID)
		}
	}
}
