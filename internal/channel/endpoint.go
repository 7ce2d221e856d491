// Package channel turns a fire-and-forget message transport between two
// contexts into a typed publish/subscribe endpoint.
package channel

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaspardpetit/gamebridge/internal/logx"
	"github.com/gaspardpetit/gamebridge/internal/message"
	"github.com/gaspardpetit/gamebridge/internal/metrics"
)

// Any registers a catch-all listener.
const Any = "*"

// Event is a raw inbound transport event. Source names the context that posted it.
type Event struct {
	Source string
	Data   []byte
}

// Inbox delivers the raw events addressed to the local context.
type Inbox interface {
	Subscribe(fn func(Event)) (cancel func())
}

// Target is the peer context an endpoint posts to.
type Target interface {
	ID() string
	Post(ctx context.Context, data []byte) error
}

// Handler receives a dispatched message.
type Handler func(message.Message)

// Unregister removes a registration. Calling it more than once is a no-op.
type Unregister func()

type registration struct {
	id     uint64
	kind   string
	fn     Handler
	active atomic.Bool
}

// Endpoint binds one local inbox to one peer target.
type Endpoint struct {
	target      Target
	name        string
	sendTimeout time.Duration

	mu        sync.Mutex
	listeners []*registration
	nextID    uint64
	closed    bool
	cancel    func()
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithName sets the name used in log lines.
func WithName(name string) Option { return func(e *Endpoint) { e.name = name } }

// WithSendTimeout bounds how long a post may take before the message is dropped.
func WithSendTimeout(d time.Duration) Option { return func(e *Endpoint) { e.sendTimeout = d } }

// NewEndpoint subscribes to inbox and binds the endpoint to target.
func NewEndpoint(inbox Inbox, target Target, opts ...Option) *Endpoint {
	e := &Endpoint{target: target, sendTimeout: 10 * time.Second}
	for _, o := range opts {
		o(e)
	}
	if e.name == "" {
		e.name = target.ID()
	}
	e.cancel = inbox.Subscribe(e.dispatch)
	return e
}

// Peer returns the id of the bound target.
func (e *Endpoint) Peer() string { return e.target.ID() }

// Send serializes m and posts it to the peer. Delivery failures are logged and dropped.
func (e *Endpoint) Send(m message.Message) {
	data, err := json.Marshal(m)
	if err != nil {
		logx.Log.Warn().Err(err).Str("endpoint", e.name).Str("type", m.Type).Msg("encode message")
		metrics.RecordSend(m.Type, false)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.sendTimeout)
	defer cancel()
	if err := e.target.Post(ctx, data); err != nil {
		logx.Log.Debug().Err(err).Str("endpoint", e.name).Str("type", m.Type).Msg("post failed")
		metrics.RecordSend(m.Type, false)
		return
	}
	metrics.RecordSend(m.Type, true)
}

// Register adds a listener for kind and returns its Unregister.
// kind == Any registers a catch-all listener.
func (e *Endpoint) Register(kind string, fn Handler) Unregister {
	reg := &registration{kind: kind, fn: fn}
	reg.active.Store(true)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return func() {}
	}
	e.nextID++
	reg.id = e.nextID
	e.listeners = append(e.listeners, reg)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(reg) })
	}
}

// RegisterAll adds a catch-all listener.
func (e *Endpoint) RegisterAll(fn Handler) Unregister { return e.Register(Any, fn) }

// Listeners returns the number of registrations for kind.
func (e *Endpoint) Listeners(kind string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, r := range e.listeners {
		if r.kind == kind {
			n++
		}
	}
	return n
}

// Close stops dispatching and drops all registrations.
func (e *Endpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, r := range e.listeners {
		r.active.Store(false)
	}
	e.listeners = nil
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Endpoint) remove(reg *registration) {
	reg.active.Store(false)
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.listeners {
		if r.id == reg.id {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

func (e *Endpoint) dispatch(ev Event) {
	if ev.Source != e.target.ID() {
		metrics.RecordDrop("origin")
		logx.Log.Debug().Str("endpoint", e.name).Str("source", ev.Source).Msg("dropped event from foreign origin")
		return
	}
	m, err := message.Parse(ev.Data)
	if err != nil || !m.Valid() {
		metrics.RecordDrop("malformed")
		logx.Log.Debug().Str("endpoint", e.name).Msg("dropped malformed event")
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	var matched []*registration
	for _, r := range e.listeners {
		if r.kind == m.Type || r.kind == Any {
			matched = append(matched, r)
		}
	}
	e.mu.Unlock()

	if len(matched) == 0 {
		metrics.RecordDrop("unhandled")
		return
	}
	metrics.RecordDispatch(m.Type)
	for _, r := range matched {
		// a listener may have unregistered another one earlier in this dispatch
		if !r.active.Load() {
			continue
		}
		e.invoke(r, m)
	}
}

func (e *Endpoint) invoke(r *registration, m message.Message) {
	defer func() {
		if p := recover(); p != nil {
			logx.Log.Error().Interface("panic", p).Str("endpoint", e.name).Str("type", m.Type).Msg("listener panicked")
		}
	}()
	// listeners get their own copy so one cannot mutate what the next one sees
	r.fn(m.Clone())
}
