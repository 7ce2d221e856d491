package xhr

import (
	"context"
	"sync"
	"time"

	"github.com/gaspardpetit/gamebridge/internal/channel"
	"github.com/gaspardpetit/gamebridge/internal/iface"
	"github.com/gaspardpetit/gamebridge/internal/logx"
	"github.com/gaspardpetit/gamebridge/internal/metrics"
)

// Requester sends requests upward and waits for their correlated results.
// One result listener serves every outstanding request; it is registered
// while at least one request is pending.
type Requester struct {
	game    *iface.GameInterface
	cids    *CIDSource
	timeout time.Duration

	mu         sync.Mutex
	pending    map[string]chan Result
	unregister channel.Unregister
}

// RequesterOption configures a Requester.
type RequesterOption func(*Requester)

// WithTimeout abandons requests without a result after d. Zero waits for the context only.
func WithTimeout(d time.Duration) RequesterOption {
	return func(r *Requester) { r.timeout = d }
}

// WithCIDSource overrides the process wide correlation id source.
func WithCIDSource(s *CIDSource) RequesterOption {
	return func(r *Requester) { r.cids = s }
}

// NewRequester returns a Requester sending through game.
func NewRequester(game *iface.GameInterface, opts ...RequesterOption) *Requester {
	r := &Requester{game: game, cids: &processCIDs, pending: map[string]chan Result{}}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Pending returns the number of requests still waiting for a result.
func (r *Requester) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Execute has the host perform req and returns its response. A result that
// carries an error yields a *RemoteError.
func (r *Requester) Execute(ctx context.Context, req Request) (*Response, error) {
	cid := r.cids.Next(req.Path)
	if req.Body == nil {
		empty := "{}"
		req.Body = &empty
	}

	results := r.track(cid)
	defer r.forget(cid)

	logx.Log.Debug().Str("cid", cid).Str("method", req.Method).Str("path", req.Path).Msg("sending request to parent")
	metrics.RecordRequestSent()
	r.game.XHRRequest(iface.WithCID[Request]{CID: cid, Data: req})

	var timeout <-chan time.Time
	if r.timeout > 0 {
		t := time.NewTimer(r.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case res := <-results:
		if res.Error != nil {
			metrics.RecordRequestOutcome("error")
			return nil, &RemoteError{CID: cid, Message: *res.Error}
		}
		if res.Response == nil {
			metrics.RecordRequestOutcome("error")
			return nil, &RemoteError{CID: cid, Message: "result carries neither response nor error"}
		}
		metrics.RecordRequestOutcome("success")
		return res.Response, nil
	case <-timeout:
		metrics.RecordRequestOutcome("timeout")
		logx.Log.Warn().Str("cid", cid).Dur("timeout", r.timeout).Msg("request timed out")
		return nil, ErrTimeout
	case <-ctx.Done():
		metrics.RecordRequestOutcome("canceled")
		return nil, ctx.Err()
	}
}

// track adds the continuation for cid, registering the result listener on first use.
func (r *Requester) track(cid string) chan Result {
	ch := make(chan Result, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[cid] = ch
	if r.unregister == nil {
		r.unregister = r.game.RegisterXHRResult(r.resolve)
	}
	return ch
}

// resolve hands a result to the request waiting on its CID. Unknown and
// repeated CIDs are dropped.
func (r *Requester) resolve(res iface.WithCID[Result]) {
	r.mu.Lock()
	ch, ok := r.pending[res.CID]
	if ok {
		r.forgetLocked(res.CID)
	}
	r.mu.Unlock()
	if !ok {
		logx.Log.Debug().Str("cid", res.CID).Msg("ignoring result without a waiting request")
		return
	}
	ch <- res.Data
}

func (r *Requester) forget(cid string) {
	r.mu.Lock()
	r.forgetLocked(cid)
	r.mu.Unlock()
}

func (r *Requester) forgetLocked(cid string) {
	if _, ok := r.pending[cid]; !ok {
		return
	}
	delete(r.pending, cid)
	if len(r.pending) == 0 && r.unregister != nil {
		r.unregister()
		r.unregister = nil
	}
}
