package legacy

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/gaspardpetit/gamebridge/internal/logx"
)

// ErrInvalidState is returned for calls the request lifecycle does not allow.
var ErrInvalidState = errors.New("legacy: invalid state")

// ReadyState mirrors the numeric ready states legacy code compares against.
type ReadyState int

const (
	Unsent          ReadyState = 0
	Opened          ReadyState = 1
	HeadersReceived ReadyState = 2
	Loading         ReadyState = 3
	Done            ReadyState = 4
)

// Event is handed to listeners. Target is the request the listener was registered on.
type Event struct {
	Type   string
	Target HTTPRequest
}

// Listener receives an event and, for failures, the error.
type Listener func(ev Event, err error)

// HTTPRequest is the stateful, callback driven request object legacy code uses.
type HTTPRequest interface {
	Open(method, url string) error
	SetRequestHeader(name, value string) error
	Send(body *string) error
	AddEventListener(event string, l Listener)
	// SetHandler replaces the directly assigned on<event> handler. nil removes it.
	SetHandler(event string, l Listener)
	// SetSetting records a transport setting such as withCredentials,
	// responseType or timeout. Settings are taken when the request is sent.
	SetSetting(key string, value any)
	Setting(key string) any
	ReadyState() ReadyState
	Status() int
	ResponseText() string
}

type state int

const (
	stateUnset state = iota
	stateOpened
	stateConfigured
	stateSent
	stateDone
)

func (s state) String() string {
	switch s {
	case stateUnset:
		return "unset"
	case stateOpened:
		return "opened"
	case stateConfigured:
		return "configured"
	case stateSent:
		return "sent"
	case stateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// core holds what both request variants share: the lifecycle, the outcome and
// the registered listeners.
type core struct {
	mu        sync.Mutex
	st        state
	status    int
	text      string
	handlers  map[string]Listener
	listeners map[string][]Listener
	settings  map[string]any
	target    HTTPRequest
	schedule  func(func())
}

func newCore(schedule func(func())) *core {
	if schedule == nil {
		schedule = func(fn func()) { fn() }
	}
	return &core{handlers: map[string]Listener{}, listeners: map[string][]Listener{}, settings: map[string]any{}, schedule: schedule}
}

func (c *core) SetSetting(key string, value any) {
	c.mu.Lock()
	if value == nil {
		delete(c.settings, key)
	} else {
		c.settings[key] = value
	}
	c.mu.Unlock()
}

func (c *core) Setting(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings[key]
}

// extraSettings returns a copy of the settings, nil when none are set.
// Callers hold c.mu.
func (c *core) extraSettings() map[string]any {
	if len(c.settings) == 0 {
		return nil
	}
	return maps.Clone(c.settings)
}

// advance moves from one of the allowed states to next.
func (c *core) advance(op string, next state, allowed ...state) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range allowed {
		if c.st == a {
			c.st = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, c.st)
}

func (c *core) AddEventListener(event string, l Listener) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.listeners[event] = append(c.listeners[event], l)
	c.mu.Unlock()
}

func (c *core) SetHandler(event string, l Listener) {
	c.mu.Lock()
	if l == nil {
		delete(c.handlers, event)
	} else {
		c.handlers[event] = l
	}
	c.mu.Unlock()
}

func (c *core) ReadyState() ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.st {
	case stateUnset:
		return Unsent
	case stateDone:
		return Done
	default:
		return Opened
	}
}

func (c *core) Status() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *core) ResponseText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// succeed records the response and dispatches readystatechange then load.
func (c *core) succeed(status int, text string) {
	c.mu.Lock()
	c.status, c.text, c.st = status, text, stateDone
	c.mu.Unlock()
	c.schedule(func() {
		c.emit("readystatechange", nil)
		c.emit("load", nil)
	})
}

// fail dispatches error and, for legacy code listening on it, Error.
func (c *core) fail(err error, legacyAlias bool) {
	c.mu.Lock()
	c.status, c.text, c.st = 0, "", stateDone
	c.mu.Unlock()
	c.schedule(func() {
		c.emit("error", err)
		if legacyAlias {
			c.emit("Error", err)
		}
	})
}

// emit calls the assigned handler first, then every listener in registration order.
func (c *core) emit(event string, err error) {
	c.mu.Lock()
	var calls []Listener
	if h := c.handlers[event]; h != nil {
		calls = append(calls, h)
	}
	calls = append(calls, c.listeners[event]...)
	target := c.target
	c.mu.Unlock()

	ev := Event{Type: event, Target: target}
	for _, l := range calls {
		func() {
			defer func() {
				if p := recover(); p != nil {
					logx.Log.Error().Interface("panic", p).Str("event", event).Msg("request listener panicked")
				}
			}()
			l(ev, err)
		}()
	}
}

// adopt moves handlers, listeners and settings registered on c into dst.
func (c *core) adopt(dst *core) {
	c.mu.Lock()
	handlers, listeners, settings := c.handlers, c.listeners, c.settings
	c.handlers, c.listeners, c.settings = map[string]Listener{}, map[string][]Listener{}, map[string]any{}
	c.mu.Unlock()
	dst.mu.Lock()
	for k, v := range settings {
		dst.settings[k] = v
	}
	for k, v := range handlers {
		dst.handlers[k] = v
	}
	for k, v := range listeners {
		dst.listeners[k] = append(v, dst.listeners[k]...)
	}
	dst.mu.Unlock()
}
