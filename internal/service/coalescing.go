package service

import (
	"context"
	"sync"
	"time"
)

// call is one in-flight execution that later callers for the same key join.
type call[T any] struct {
	done   chan struct{}
	result T
	err    error
}

// requestCoalescer runs at most one fn per key at a time. Callers arriving while
// fn runs wait for its result instead of starting their own.
type requestCoalescer[T any] struct {
	mu       sync.Mutex
	inFlight map[string]*call[T]
	timeout  time.Duration
}

func newRequestCoalescer[T any](timeout time.Duration) *requestCoalescer[T] {
	return &requestCoalescer[T]{
		inFlight: make(map[string]*call[T]),
		timeout:  timeout,
	}
}

// GetOrDo returns the result of the in-flight fn for key, starting it if none is
// running. shared is true when the caller joined an execution another caller
// started. fn runs detached from any single caller, so a caller that gives up
// (ctx done or coalesce timeout) does not fail the others.
func (rc *requestCoalescer[T]) GetOrDo(ctx context.Context, key string, fn func() (T, error)) (result T, shared bool, err error) {
	rc.mu.Lock()
	c, shared := rc.inFlight[key]
	if !shared {
		c = &call[T]{done: make(chan struct{})}
		rc.inFlight[key] = c
		go rc.run(key, c, fn)
	}
	rc.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-c.done:
		return c.result, shared, c.err
	case <-waitCtx.Done():
		var zero T
		return zero, shared, waitCtx.Err()
	}
}

func (rc *requestCoalescer[T]) run(key string, c *call[T], fn func() (T, error)) {
	c.result, c.err = fn()

	rc.mu.Lock()
	delete(rc.inFlight, key)
	rc.mu.Unlock()
	close(c.done)
}
