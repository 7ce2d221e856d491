// Package legacy provides the stateful request object legacy guest code
// expects, redirecting the requests it cares about to the host.
package legacy

import (
	"context"

	"github.com/gaspardpetit/gamebridge/internal/options"
	"github.com/gaspardpetit/gamebridge/internal/xhr"
)

// Factory hands out HTTPRequest instances. Callers never learn which
// variant they got.
type Factory struct {
	rules     Rules
	requester Requester
	native    func() *NativeRequest
	opts      *options.Options
	tickets   *TicketMemory
	ctx       context.Context
	schedule  func(func())
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithOptions enables option driven behaviour such as the demo winning class override.
func WithOptions(o *options.Options) FactoryOption { return func(f *Factory) { f.opts = o } }

// WithTicketMemory records purchased tickets into m.
func WithTicketMemory(m *TicketMemory) FactoryOption { return func(f *Factory) { f.tickets = m } }

// WithContext sets the context redirected requests run under.
func WithContext(ctx context.Context) FactoryOption { return func(f *Factory) { f.ctx = ctx } }

// WithScheduler runs completion callbacks through schedule, e.g. on a script event loop.
func WithScheduler(schedule func(func())) FactoryOption {
	return func(f *Factory) { f.schedule = schedule }
}

// NewFactory returns a factory redirecting URLs matched by rules through
// requester. native serves everything else; it may be nil when only
// intercepted URLs are expected.
func NewFactory(rules Rules, requester Requester, native xhr.Executor, opts ...FactoryOption) *Factory {
	f := &Factory{rules: rules, requester: requester, ctx: context.Background()}
	for _, o := range opts {
		o(f)
	}
	if native != nil {
		f.native = func() *NativeRequest { return NewNativeRequest(f.ctx, native, f.schedule) }
	}
	if f.tickets == nil {
		f.tickets = &TicketMemory{}
	}
	return f
}

// New returns a fresh request.
func (f *Factory) New() HTTPRequest {
	r := &request{core: newCore(f.schedule), f: f}
	r.target = r
	return r
}

// Tickets returns the ticket memory fed by intercepted /tickets responses.
func (f *Factory) Tickets() *TicketMemory { return f.tickets }

// Rules returns the rewrite rules.
func (f *Factory) Rules() Rules { return f.rules }
