package channel

import (
	"context"
	"sync"
)

// Context is an in-process context with its own dispatch goroutine.
// Events posted to it are delivered in order, one at a time, so listeners of
// one context never run concurrently.
type Context struct {
	id string

	mu      sync.Mutex
	subs    map[uint64]func(Event)
	order   []uint64
	nextSub uint64
	pending []job
	closed  bool

	wake chan struct{}
	done chan struct{}
}

type job struct {
	ev Event
	fn func()
}

// NewContext starts a local context identified by id.
func NewContext(id string) *Context {
	c := &Context{
		id:   id,
		subs: map[uint64]func(Event){},
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go c.loop()
	return c
}

// ID returns the context id.
func (c *Context) ID() string { return c.id }

// Subscribe implements Inbox.
func (c *Context) Subscribe(fn func(Event)) func() {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = fn
	c.order = append(c.order, id)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			for i, v := range c.order {
				if v == id {
					c.order = append(c.order[:i:i], c.order[i+1:]...)
					break
				}
			}
		}
		c.mu.Unlock()
	}
}

// Do runs fn on the dispatch goroutine after the events already queued.
func (c *Context) Do(fn func()) { c.enqueue(job{fn: fn}) }

// Close stops the dispatch goroutine. Queued events are discarded and later
// posts are silently ignored.
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.pending = nil
	c.mu.Unlock()
	close(c.done)
}

// Closed reports whether Close was called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Context) enqueue(j job) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, j)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Context) loop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for {
			c.mu.Lock()
			if c.closed || len(c.pending) == 0 {
				c.mu.Unlock()
				break
			}
			j := c.pending[0]
			c.pending = c.pending[1:]
			var subs []func(Event)
			if j.fn == nil {
				subs = make([]func(Event), 0, len(c.order))
				for _, id := range c.order {
					subs = append(subs, c.subs[id])
				}
			}
			c.mu.Unlock()

			if j.fn != nil {
				j.fn()
				continue
			}
			for _, s := range subs {
				s(j.ev)
			}
		}
	}
}

// link posts into a local context on behalf of another one.
type link struct {
	from string
	to   *Context
}

// Link returns a Target that delivers into to, stamped with from as source.
func Link(from, to *Context) Target { return &link{from: from.id, to: to} }

func (l *link) ID() string { return l.to.id }

func (l *link) Post(_ context.Context, data []byte) error {
	cp := append([]byte(nil), data...)
	l.to.enqueue(job{ev: Event{Source: l.from, Data: cp}})
	return nil
}

// Pair connects two local contexts and returns the endpoint living in a
// (bound to b) and the endpoint living in b (bound to a).
func Pair(a, b *Context, opts ...Option) (*Endpoint, *Endpoint) {
	return NewEndpoint(a, Link(a, b), opts...), NewEndpoint(b, Link(b, a), opts...)
}
