package inflight

import (
	"context"
	"sync"
	"sync/atomic"
)

// Counter tracks in-flight executions that should block draining.
// The zero value is ready to use.
type Counter struct {
	mu       sync.Mutex
	count    int64
	zeroCh   chan struct{}
	draining atomic.Bool
}

// Inc increments the in-flight counter.
func (c *Counter) Inc() {
	c.mu.Lock()
	c.ensureLocked()
	if c.count == 0 {
		c.zeroCh = make(chan struct{})
	}
	c.count++
	c.mu.Unlock()
}

// Dec decrements the in-flight counter.
func (c *Counter) Dec() {
	c.mu.Lock()
	c.ensureLocked()
	if c.count > 0 {
		c.count--
		if c.count == 0 {
			close(c.zeroCh)
		}
	}
	c.mu.Unlock()
}

// Go runs fn in a new goroutine counted as in flight until it returns.
func (c *Counter) Go(fn func()) {
	c.Inc()
	go func() {
		defer c.Dec()
		fn()
	}()
}

// Load returns the current in-flight count.
func (c *Counter) Load() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// WaitForZero blocks until the count is zero or the context is done.
func (c *Counter) WaitForZero(ctx context.Context) bool {
	c.mu.Lock()
	c.ensureLocked()
	ch := c.zeroCh
	c.mu.Unlock()
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

// StartDrain marks the counter as draining. New work should be refused.
func (c *Counter) StartDrain() { c.draining.Store(true) }

// Draining reports whether StartDrain was called.
func (c *Counter) Draining() bool { return c.draining.Load() }

func (c *Counter) ensureLocked() {
	if c.zeroCh == nil {
		c.zeroCh = make(chan struct{})
		if c.count == 0 {
			close(c.zeroCh)
		}
	}
}
