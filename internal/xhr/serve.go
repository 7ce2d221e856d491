package xhr

import (
	"context"
	"fmt"
	"time"

	"github.com/gaspardpetit/gamebridge/internal/channel"
	"github.com/gaspardpetit/gamebridge/internal/iface"
	"github.com/gaspardpetit/gamebridge/internal/inflight"
	"github.com/gaspardpetit/gamebridge/internal/logx"
	"github.com/gaspardpetit/gamebridge/internal/metrics"
)

// Executor performs a request on behalf of a guest.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request) (*Response, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

type serveConfig struct {
	ctx      context.Context
	inflight *inflight.Counter
}

// ServeOption configures Serve.
type ServeOption func(*serveConfig)

// WithInflight counts executions on c so the host can drain them.
func WithInflight(c *inflight.Counter) ServeOption {
	return func(s *serveConfig) { s.inflight = c }
}

// WithContext sets the base context executions run under.
func WithContext(ctx context.Context) ServeOption {
	return func(s *serveConfig) { s.ctx = ctx }
}

// Serve answers every request arriving on parent with exactly one result.
func Serve(parent *iface.ParentInterface, exec Executor, opts ...ServeOption) channel.Unregister {
	cfg := serveConfig{ctx: context.Background(), inflight: &inflight.Counter{}}
	for _, o := range opts {
		o(&cfg)
	}
	return parent.RegisterXHRRequest(func(req iface.WithCID[Request]) {
		cfg.inflight.Go(func() {
			var res Result
			if cfg.inflight.Draining() {
				res = errorResult("host is shutting down")
			} else {
				res = run(cfg.ctx, exec, req.Data)
			}
			if res.Response != nil {
				stripped := *res.Response
				stripped.Raw = nil
				res.Response = &stripped
			}
			parent.XHRResult(iface.WithCID[Result]{CID: req.CID, Data: res})
		})
	})
}

// ExecuteLocally runs req through exec the way Serve does, without a channel.
func ExecuteLocally(ctx context.Context, exec Executor, req Request) (*Response, error) {
	res := run(ctx, exec, req)
	if res.Error != nil {
		return nil, fmt.Errorf("xhr: %s", *res.Error)
	}
	return res.Response, nil
}

func run(ctx context.Context, exec Executor, req Request) (res Result) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			logx.Log.Error().Interface("panic", p).Str("path", req.Path).Msg("executor panicked")
			res = errorResult(fmt.Sprint(p))
		}
		metrics.ObserveExecution(req.Method, res.Error == nil, time.Since(start))
	}()

	resp, err := exec.Execute(ctx, req)
	if err != nil {
		logx.Log.Debug().Err(err).Str("method", req.Method).Str("path", req.Path).Msg("request failed")
		return errorResult(err.Error())
	}
	if resp == nil {
		return errorResult("executor returned no response")
	}
	return Result{Response: resp}
}
