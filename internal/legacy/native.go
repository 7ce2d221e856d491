package legacy

import (
	"context"
	"maps"

	"github.com/gaspardpetit/gamebridge/internal/xhr"
)

// NativeRequest performs its own I/O through an executor. Non-matching URLs
// end up here.
type NativeRequest struct {
	*core
	exec    xhr.Executor
	ctx     context.Context
	method  string
	url     string
	headers map[string]string
}

// NewNativeRequest returns a request executing through exec. schedule runs
// completion callbacks; nil runs them on the completing goroutine.
func NewNativeRequest(ctx context.Context, exec xhr.Executor, schedule func(func())) *NativeRequest {
	n := &NativeRequest{core: newCore(schedule), exec: exec, ctx: ctx, headers: map[string]string{}}
	n.target = n
	return n
}

// Open implements HTTPRequest.
func (n *NativeRequest) Open(method, url string) error {
	if err := n.advance("open", stateOpened, stateUnset, stateOpened, stateConfigured); err != nil {
		return err
	}
	n.mu.Lock()
	n.method, n.url = method, url
	n.mu.Unlock()
	return nil
}

// SetRequestHeader implements HTTPRequest.
func (n *NativeRequest) SetRequestHeader(name, value string) error {
	if err := n.advance("setRequestHeader", stateConfigured, stateOpened, stateConfigured); err != nil {
		return err
	}
	n.mu.Lock()
	n.headers[name] = value
	n.mu.Unlock()
	return nil
}

// Send implements HTTPRequest.
func (n *NativeRequest) Send(body *string) error {
	if err := n.advance("send", stateSent, stateOpened, stateConfigured); err != nil {
		return err
	}
	n.mu.Lock()
	req := xhr.Request{Method: n.method, Path: n.url, Headers: maps.Clone(n.headers), Body: body, ExtraSettings: n.extraSettings()}
	n.mu.Unlock()
	go func() {
		resp, err := xhr.ExecuteLocally(n.ctx, n.exec, req)
		if err != nil {
			n.fail(err, false)
			return
		}
		n.succeed(resp.StatusCode, resp.Body)
	}()
	return nil
}
