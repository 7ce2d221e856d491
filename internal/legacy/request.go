package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gaspardpetit/gamebridge/internal/logx"
	"github.com/gaspardpetit/gamebridge/internal/xhr"
)

// ErrNoNative is returned when a URL is not intercepted and no pass-through
// implementation is configured.
var ErrNoNative = errors.New("legacy: no native request implementation")

// Requester performs a request in the parent context.
type Requester interface {
	Execute(ctx context.Context, req xhr.Request) (*xhr.Response, error)
}

// request starts undecided and becomes either a redirect to the parent or a
// pass-through NativeRequest when opened.
type request struct {
	*core
	f      *Factory
	native *NativeRequest
	req    xhr.Request
}

func (r *request) passthrough() *NativeRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.native
}

func (r *request) Open(method, url string) error {
	if n := r.passthrough(); n != nil {
		return n.Open(method, url)
	}
	rewritten, intercept := r.f.rules.Rewrite(url)
	if !intercept {
		if r.f.native == nil {
			return fmt.Errorf("%w: %s", ErrNoNative, rewritten)
		}
		r.mu.Lock()
		if r.st != stateUnset {
			st := r.st
			r.mu.Unlock()
			return fmt.Errorf("%w: pass-through open while %s", ErrInvalidState, st)
		}
		n := r.f.native()
		r.native = n
		r.mu.Unlock()
		n.mu.Lock()
		n.target = r
		n.mu.Unlock()
		r.core.adopt(n.core)
		logx.Log.Debug().Str("url", rewritten).Msg("pass-through request")
		return n.Open(method, rewritten)
	}
	if err := r.advance("open", stateOpened, stateUnset, stateOpened, stateConfigured); err != nil {
		return err
	}
	logx.Log.Info().Str("method", method).Str("url", rewritten).Msg("intercepting request")
	r.mu.Lock()
	r.req = xhr.Request{Method: method, Path: rewritten, Headers: map[string]string{}}
	r.mu.Unlock()
	return nil
}

func (r *request) SetRequestHeader(name, value string) error {
	if n := r.passthrough(); n != nil {
		return n.SetRequestHeader(name, value)
	}
	if err := r.advance("setRequestHeader", stateConfigured, stateOpened, stateConfigured); err != nil {
		return err
	}
	// the parent fills this one in from its own session
	if strings.EqualFold(name, xhr.CSRFHeader) {
		return nil
	}
	r.mu.Lock()
	r.req.Headers[name] = value
	r.mu.Unlock()
	return nil
}

func (r *request) Send(body *string) error {
	if n := r.passthrough(); n != nil {
		return n.Send(body)
	}
	if err := r.advance("send", stateSent, stateOpened, stateConfigured); err != nil {
		return err
	}
	r.mu.Lock()
	r.req.Body = body
	r.req.ExtraSettings = r.extraSettings()
	req := r.req
	r.mu.Unlock()
	req.Body = r.f.applyDemoOverride(req.Method, req.Path, req.Body)

	go func() {
		resp, err := r.f.requester.Execute(r.f.ctx, req)
		if err != nil {
			logx.Log.Debug().Err(err).Str("path", req.Path).Msg("intercepted request failed")
			r.fail(err, true)
			return
		}
		logx.Log.Debug().Int("status", resp.StatusCode).Str("path", req.Path).Msg("got response from parent")
		if r.f.tickets != nil && resp.StatusCode/100 == 2 && isTicketsPath(req.Path) {
			r.f.tickets.Remember(resp.Body)
		}
		r.succeed(resp.StatusCode, resp.Body)
	}()
	return nil
}

func (r *request) AddEventListener(event string, l Listener) {
	if n := r.passthrough(); n != nil {
		n.AddEventListener(event, l)
		return
	}
	r.core.AddEventListener(event, l)
}

func (r *request) SetHandler(event string, l Listener) {
	if n := r.passthrough(); n != nil {
		n.SetHandler(event, l)
		return
	}
	r.core.SetHandler(event, l)
}

func (r *request) SetSetting(key string, value any) {
	if n := r.passthrough(); n != nil {
		n.SetSetting(key, value)
		return
	}
	r.core.SetSetting(key, value)
}

func (r *request) Setting(key string) any {
	if n := r.passthrough(); n != nil {
		return n.Setting(key)
	}
	return r.core.Setting(key)
}

func (r *request) ReadyState() ReadyState {
	if n := r.passthrough(); n != nil {
		return n.ReadyState()
	}
	return r.core.ReadyState()
}

func (r *request) Status() int {
	if n := r.passthrough(); n != nil {
		return n.Status()
	}
	return r.core.Status()
}

func (r *request) ResponseText() string {
	if n := r.passthrough(); n != nil {
		return n.ResponseText()
	}
	return r.core.ResponseText()
}

func isTicketsPath(path string) bool {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(path, "/tickets")
}

func isDemoPath(path string) bool {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(path, "/demo")
}

// applyDemoOverride injects the configured winning class into demo ticket
// bodies that do not choose one themselves.
func (f *Factory) applyDemoOverride(method, path string, body *string) *string {
	if f.opts == nil || !strings.EqualFold(method, "POST") || !isDemoPath(path) {
		return body
	}
	override := f.opts.WinningClassOverride()
	if override == nil {
		return body
	}
	payload := map[string]any{}
	if body != nil && strings.TrimSpace(*body) != "" {
		if err := json.Unmarshal([]byte(*body), &payload); err != nil || payload == nil {
			return body
		}
	}
	if _, ok := payload["winningClass"]; ok {
		return body
	}
	if _, ok := payload["scenarioId"]; ok {
		return body
	}
	payload["winningClass"] = override.WinningClass
	payload["scenarioId"] = override.ScenarioID
	b, err := json.Marshal(payload)
	if err != nil {
		return body
	}
	logx.Log.Info().Int("winning_class", override.WinningClass).Int("scenario_id", override.ScenarioID).Msg("applying winning class override")
	s := string(b)
	return &s
}

var (
	_ HTTPRequest = (*request)(nil)
	_ HTTPRequest = (*NativeRequest)(nil)
	_ Requester   = (*xhr.Requester)(nil)
)
