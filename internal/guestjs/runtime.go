// Package guestjs runs legacy guest scripts in an embedded JavaScript runtime
// with the globals those scripts expect.
package guestjs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"github.com/gaspardpetit/gamebridge/internal/channel"
	"github.com/gaspardpetit/gamebridge/internal/iface"
	"github.com/gaspardpetit/gamebridge/internal/legacy"
	"github.com/gaspardpetit/gamebridge/internal/lifecycle"
	"github.com/gaspardpetit/gamebridge/internal/logx"
	"github.com/gaspardpetit/gamebridge/internal/message"
	"github.com/gaspardpetit/gamebridge/internal/options"
	"github.com/gaspardpetit/gamebridge/internal/xhr"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("guestjs: runtime closed")

// Config wires a Runtime to the rest of the guest.
type Config struct {
	Rules legacy.Rules
	// Requester serves intercepted requests, usually an xhr.Requester.
	Requester legacy.Requester
	// Native serves requests that are not intercepted. Optional.
	Native  xhr.Executor
	Options *options.Options
	// Game enables parent.postMessage and parent.addEventListener. Optional.
	Game    *iface.GameInterface
	Tickets *legacy.TicketMemory
}

// Runtime owns a goja VM and the single goroutine allowed to touch it.
type Runtime struct {
	vm      *goja.Runtime
	factory *legacy.Factory
	life    *lifecycle.Memory
	game    *iface.GameInterface
	log     zerolog.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}

	timerMu   sync.Mutex
	timers    map[int64]*time.Timer
	nextTimer int64

	unregister []channel.Unregister // guarded by mu
}

// New returns a started Runtime.
func New(cfg Config) *Runtime {
	r := &Runtime{
		vm:     goja.New(),
		game:   cfg.Game,
		log:    logx.Component("guestjs"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		timers: map[int64]*time.Timer{},
	}
	if cfg.Tickets == nil {
		cfg.Tickets = &legacy.TicketMemory{}
	}
	r.life = lifecycle.NewWithScheduler(r.Schedule)
	r.factory = legacy.NewFactory(cfg.Rules, cfg.Requester, cfg.Native,
		legacy.WithScheduler(r.Schedule),
		legacy.WithOptions(cfg.Options),
		legacy.WithTicketMemory(cfg.Tickets),
	)
	r.setupGlobals()
	go r.loop()
	return r
}

// Factory returns the factory backing the XMLHttpRequest global.
func (r *Runtime) Factory() *legacy.Factory { return r.factory }

// Lifecycle returns the event memory backing onLoad. Fire events through
// Runtime.Fire so callbacks run on the loop.
func (r *Runtime) Lifecycle() *lifecycle.Memory { return r.life }

// Fire fires a lifecycle event on the loop goroutine.
func (r *Runtime) Fire(kind string) {
	r.Schedule(func() { r.life.Fire(kind) })
}

// Schedule queues fn to run on the loop goroutine. It is dropped after Close.
func (r *Runtime) Schedule(fn func()) {
	r.enqueue(fn)
}

func (r *Runtime) enqueue(fn func()) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.queue = append(r.queue, fn)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

func (r *Runtime) loop() {
	defer close(r.done)
	for {
		r.mu.Lock()
		jobs := r.queue
		r.queue = nil
		closed := r.closed
		r.mu.Unlock()
		if len(jobs) == 0 {
			if closed {
				return
			}
			<-r.wake
			continue
		}
		for _, job := range jobs {
			r.safeRun(job)
		}
	}
}

func (r *Runtime) safeRun(job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Msg("script job panicked")
		}
	}()
	job()
}

// RunScript evaluates src on the loop and waits for it. A cancelled ctx
// interrupts the script.
func (r *Runtime) RunScript(ctx context.Context, name, src string) error {
	_, err := r.eval(ctx, name, src)
	return err
}

// Eval evaluates src and returns the exported result.
func (r *Runtime) Eval(ctx context.Context, src string) (any, error) {
	v, err := r.eval(ctx, "eval", src)
	if err != nil || v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, err
	}
	return v.Export(), nil
}

func (r *Runtime) eval(ctx context.Context, name, src string) (goja.Value, error) {
	type outcome struct {
		v   goja.Value
		err error
	}
	res := make(chan outcome, 1)
	if !r.enqueue(func() {
		v, err := r.vm.RunScript(name, src)
		res <- outcome{v, err}
	}) {
		return nil, ErrClosed
	}
	select {
	case o := <-res:
		return o.v, o.err
	case <-ctx.Done():
		r.vm.Interrupt(ctx.Err())
		o := <-res
		r.Schedule(r.vm.ClearInterrupt)
		if o.err == nil {
			return o.v, nil
		}
		return nil, fmt.Errorf("%s: %w", name, ctx.Err())
	}
}

// Close stops timers, interrupts running script and waits for the loop to
// drain. It must not be called from the loop goroutine.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	unregister := r.unregister
	r.unregister = nil
	r.mu.Unlock()

	r.timerMu.Lock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	r.timerMu.Unlock()
	for _, un := range unregister {
		un()
	}
	r.vm.Interrupt("runtime closed")
	select {
	case r.wake <- struct{}{}:
	default:
	}
	<-r.done
}

// call invokes a script callback and logs what it throws.
func (r *Runtime) call(fn goja.Callable, this goja.Value, args ...goja.Value) {
	if _, err := fn(this, args...); err != nil {
		r.log.Warn().Err(err).Msg("script callback threw")
	}
}

func (r *Runtime) setupGlobals() {
	vm := r.vm
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())

	console := vm.NewObject()
	console.Set("log", r.consoleFunc(zerolog.InfoLevel))
	console.Set("info", r.consoleFunc(zerolog.InfoLevel))
	console.Set("debug", r.consoleFunc(zerolog.DebugLevel))
	console.Set("warn", r.consoleFunc(zerolog.WarnLevel))
	console.Set("error", r.consoleFunc(zerolog.ErrorLevel))
	vm.Set("console", console)

	vm.Set("setTimeout", r.setTimeout)
	vm.Set("clearTimeout", r.clearTimeout)

	vm.Set("onLoad", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("onLoad expects a function"))
		}
		r.life.On(lifecycle.Loaded, func() { r.call(fn, goja.Undefined()) })
		return goja.Undefined()
	})

	r.installXMLHttpRequest()
	if r.game != nil {
		r.installParent()
	}
}

func (r *Runtime) consoleFunc(level zerolog.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			parts = append(parts, a.String())
		}
		r.log.WithLevel(level).Str("source", "console").Msg(strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (r *Runtime) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(r.vm.NewTypeError("setTimeout expects a function"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	args := append([]goja.Value(nil), call.Arguments[min(2, len(call.Arguments)):]...)

	r.timerMu.Lock()
	r.nextTimer++
	id := r.nextTimer
	r.timers[id] = time.AfterFunc(delay, func() {
		r.timerMu.Lock()
		_, live := r.timers[id]
		delete(r.timers, id)
		r.timerMu.Unlock()
		if live {
			r.Schedule(func() { r.call(fn, goja.Undefined(), args...) })
		}
	})
	r.timerMu.Unlock()
	return r.vm.ToValue(id)
}

func (r *Runtime) clearTimeout(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	r.timerMu.Lock()
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
	r.timerMu.Unlock()
	return goja.Undefined()
}

// installParent exposes the game interface as parent.postMessage and
// parent.addEventListener("message", fn).
func (r *Runtime) installParent() {
	vm := r.vm
	parent := vm.NewObject()
	parent.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		b, err := json.Marshal(call.Argument(0).Export())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		m, err := message.Parse(b)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		r.factory.Tickets().Enrich(&m)
		r.game.Send(m)
		return goja.Undefined()
	})
	parent.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		if call.Argument(0).String() != "message" {
			return goja.Undefined()
		}
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(vm.NewTypeError("addEventListener expects a function"))
		}
		un := r.game.Endpoint().Register(channel.Any, func(m message.Message) {
			b, err := json.Marshal(m)
			if err != nil {
				return
			}
			r.Schedule(func() {
				var data any
				if err := json.Unmarshal(b, &data); err != nil {
					return
				}
				ev := vm.NewObject()
				ev.Set("type", "message")
				ev.Set("data", data)
				r.call(fn, goja.Undefined(), ev)
			})
		})
		r.mu.Lock()
		r.unregister = append(r.unregister, un)
		r.mu.Unlock()
		return goja.Undefined()
	})
	vm.Set("parent", parent)
}
