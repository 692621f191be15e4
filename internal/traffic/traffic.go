// Package traffic records request outcomes in sliding windows for the health report.
package traffic

import (
	"sync"
	"time"
)

// DefaultRetention bounds how far back outcomes are kept.
const DefaultRetention = 5 * time.Minute

// Tracker keeps timestamps of successful, failed and rate-limited requests.
// A zero Tracker is ready to use with DefaultRetention and the wall clock.
type Tracker struct {
	mu           sync.Mutex
	retention    time.Duration
	now          func() time.Time
	successTimes []time.Time
	errorTimes   []time.Time
	deniedTimes  []time.Time
}

// NewTracker returns a Tracker keeping outcomes for retention. now may be nil.
func NewTracker(retention time.Duration, now func() time.Time) *Tracker {
	return &Tracker{retention: retention, now: now}
}

func (t *Tracker) RecordSuccess() { t.record(&t.successTimes) }

// RecordError records a request that ended in a 5xx or 424.
func (t *Tracker) RecordError() { t.record(&t.errorTimes) }

// RecordDenied records a rate-limit denial (429).
func (t *Tracker) RecordDenied() { t.record(&t.deniedTimes) }

func (t *Tracker) record(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// RequestCount returns every outcome within window, denials included.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	return countSince(t.successTimes, cutoff) +
		countSince(t.errorTimes, cutoff) +
		countSince(t.deniedTimes, cutoff)
}

func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.deniedTimes, t.clock().Add(-window))
}

// ErrorRate returns (errors, total) within window. Denials are not part of total.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	errCount := countSince(t.errorTimes, cutoff)
	return errCount, errCount + countSince(t.successTimes, cutoff)
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
	t.deniedTimes = nil
}

func (t *Tracker) clock() time.Time {
	if t.now == nil {
		return time.Now()
	}
	return t.now()
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than the retention. Slices are in time order.
func (t *Tracker) pruneLocked(now time.Time) {
	retention := t.retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := now.Add(-retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
	prune(&t.deniedTimes)
}
