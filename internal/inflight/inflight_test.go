package inflight

import (
	"context"
	"testing"
	"time"
)

func TestWaitForZero(t *testing.T) {
	var c Counter
	if !c.WaitForZero(context.Background()) {
		t.Fatalf("zero value should be drained")
	}
	c.Inc()
	c.Inc()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if c.WaitForZero(ctx) {
		t.Fatalf("expected timeout with work in flight")
	}
	c.Dec()
	c.Dec()
	c.Dec() // extra Dec must not underflow
	if c.Load() != 0 {
		t.Fatalf("count: %d", c.Load())
	}
	if !c.WaitForZero(context.Background()) {
		t.Fatalf("expected zero")
	}
}

func TestGo(t *testing.T) {
	var c Counter
	release := make(chan struct{})
	c.Go(func() { <-release })
	if c.Load() != 1 {
		t.Fatalf("count: %d", c.Load())
	}
	done := make(chan bool)
	go func() { done <- c.WaitForZero(context.Background()) }()
	close(release)
	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("wait failed")
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for zero")
	}
}

func TestDraining(t *testing.T) {
	var c Counter
	if c.Draining() {
		t.Fatalf("unexpected draining")
	}
	c.StartDrain()
	if !c.Draining() {
		t.Fatalf("expected draining")
	}
}
