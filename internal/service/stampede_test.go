package service

import (
	"sync"
	"testing"
)

func TestRefreshTracker_BeginEnd(t *testing.T) {
	rt := newRefreshTracker()
	id := "a3f1"

	if got := rt.Begin(id); got != 1 {
		t.Errorf("Begin() first = %d, want 1", got)
	}
	if got := rt.Begin(id); got != 2 {
		t.Errorf("Begin() second = %d, want 2", got)
	}
	rt.End(id)
	if got := rt.Begin(id); got != 2 {
		t.Errorf("after one End, Begin() = %d, want 2", got)
	}
	rt.End(id)
	rt.End(id)
	if got := rt.Begin(id); got != 1 {
		t.Errorf("after clearing, Begin() = %d, want 1", got)
	}
	rt.End(id)

	if _, ok := rt.active[id]; ok {
		t.Errorf("active[%q] should be removed once every refresh ended", id)
	}
}

func TestRefreshTracker_EndWithoutBegin(t *testing.T) {
	rt := newRefreshTracker()
	rt.End("unknown")
	if got := rt.Begin("unknown"); got != 1 {
		t.Errorf("Begin() = %d, want 1", got)
	}
}

func TestRefreshTracker_IndependentLocations(t *testing.T) {
	rt := newRefreshTracker()
	rt.Begin("a")
	if got := rt.Begin("b"); got != 1 {
		t.Errorf("Begin(b) = %d, want 1", got)
	}
}

func TestRefreshTracker_Concurrent(t *testing.T) {
	rt := newRefreshTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.Begin("x")
			rt.End("x")
		}()
	}
	wg.Wait()
	if len(rt.active) != 0 {
		t.Errorf("active = %v, want empty", rt.active)
	}
}
