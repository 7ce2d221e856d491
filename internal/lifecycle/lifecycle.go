// Package lifecycle remembers which one-shot events already fired so late
// subscribers still run.
package lifecycle

import (
	"sync"

	"github.com/gaspardpetit/gamebridge/internal/logx"
)

// Well known events.
const (
	DOMReady   = "domReady"
	Loaded     = "load"
	FrameReady = "frameReady"
	GameStart  = "gameStart"
)

// Memory records per event kind whether it has fired. It is never reset.
type Memory struct {
	mu      sync.Mutex
	fired   map[string]bool
	waiting map[string][]func()
	async   func(func())
}

// New returns an empty Memory. Late callbacks run on their own goroutine.
func New() *Memory {
	return NewWithScheduler(func(fn func()) { go fn() })
}

// NewWithScheduler returns a Memory that hands late callbacks to schedule,
// e.g. an event loop that must run all callbacks on one goroutine.
func NewWithScheduler(schedule func(func())) *Memory {
	return &Memory{fired: map[string]bool{}, waiting: map[string][]func(){}, async: schedule}
}

// On runs fn when kind fires. If kind already fired, fn is scheduled right away.
func (m *Memory) On(kind string, fn func()) {
	m.mu.Lock()
	if m.fired[kind] {
		m.mu.Unlock()
		m.async(func() { safeRun(kind, fn) })
		return
	}
	m.waiting[kind] = append(m.waiting[kind], fn)
	m.mu.Unlock()
}

// Fire marks kind as fired and runs the queued callbacks in registration
// order. Only the first call has an effect.
func (m *Memory) Fire(kind string) {
	m.mu.Lock()
	if m.fired[kind] {
		m.mu.Unlock()
		return
	}
	m.fired[kind] = true
	queued := m.waiting[kind]
	delete(m.waiting, kind)
	m.mu.Unlock()
	for _, fn := range queued {
		safeRun(kind, fn)
	}
}

// Fired reports whether kind already fired.
func (m *Memory) Fired(kind string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fired[kind]
}

func safeRun(kind string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			logx.Log.Error().Interface("panic", p).Str("event", kind).Msg("lifecycle callback panicked")
		}
	}()
	fn()
}
