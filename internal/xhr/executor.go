package xhr

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/gaspardpetit/gamebridge/internal/logx"
)

// CSRFHeader is filled in by the executor from the session cookie of the same name.
const CSRFHeader = "X-CSRF-TOKEN"

// HTTPExecutor performs guest requests against an upstream base URL.
type HTTPExecutor struct {
	base    *url.URL
	client  *resty.Client
	anon    *resty.Client
	jar     http.CookieJar
	limiter *rate.Limiter
}

// HTTPOption configures an HTTPExecutor.
type HTTPOption func(*HTTPExecutor)

// WithRateLimit caps upstream requests per second. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(e *HTTPExecutor) {
		if rps <= 0 {
			e.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRequestTimeout bounds each upstream request.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(e *HTTPExecutor) {
		e.client.SetTimeout(d)
		e.anon.SetTimeout(d)
	}
}

// WithCookieJar replaces the session cookie jar.
func WithCookieJar(jar http.CookieJar) HTTPOption {
	return func(e *HTTPExecutor) { e.jar = jar }
}

// NewHTTPExecutor returns an executor resolving guest paths against baseURL.
func NewHTTPExecutor(baseURL string, opts ...HTTPOption) (*HTTPExecutor, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream url %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	e := &HTTPExecutor{
		base:    base,
		client:  resty.New().SetHeader("User-Agent", "gamebridge"),
		anon:    resty.New().SetHeader("User-Agent", "gamebridge"),
		jar:     jar,
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, o := range opts {
		o(e)
	}
	e.client.SetCookieJar(e.jar)
	e.anon.SetCookieJar(nil)
	return e, nil
}

// Jar returns the session cookie jar.
func (e *HTTPExecutor) Jar() http.CookieJar { return e.jar }

// Resolve turns a guest path into an absolute upstream URL.
func (e *HTTPExecutor) Resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, err
	}
	if ref.IsAbs() {
		return ref, nil
	}
	return e.base.ResolveReference(ref), nil
}

// Execute implements Executor. Non 2xx statuses are regular responses; only
// transport failures are errors.
func (e *HTTPExecutor) Execute(ctx context.Context, req Request) (*Response, error) {
	target, err := e.Resolve(req.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", req.Path, err)
	}
	settings := parseExtraSettings(req.ExtraSettings)
	if settings.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.timeout)
		defer cancel()
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	client := e.client
	if !settings.withCredentials && target.Host != e.base.Host {
		client = e.anon
	}
	r := client.R().SetContext(ctx)
	for k, v := range req.Headers {
		r.SetHeader(k, v)
	}
	if client == e.client {
		if token := e.csrfToken(target); token != "" {
			logx.Log.Debug().Msg("set csrf token header from session cookie")
			r.SetHeader(CSRFHeader, token)
		}
	}
	if req.Body != nil {
		r.SetBody(*req.Body)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	logx.Log.Debug().Str("method", method).Str("url", target.String()).Interface("headers", logx.Headers(req.Headers)).Msg("execute request")
	resp, err := r.Execute(method, target.String())
	if err != nil {
		return nil, err
	}
	out := &Response{StatusCode: resp.StatusCode(), Raw: resp.RawResponse}
	if settings.textBody() {
		out.Body = resp.String()
	}
	return out, nil
}

func (e *HTTPExecutor) csrfToken(u *url.URL) string {
	for _, c := range e.jar.Cookies(u) {
		if c.Name == CSRFHeader {
			return c.Value
		}
	}
	return ""
}

type extraSettings struct {
	timeout         time.Duration
	withCredentials bool
	responseType    string
}

func (s extraSettings) textBody() bool {
	return s.responseType == "" || s.responseType == "text"
}

func parseExtraSettings(m map[string]any) extraSettings {
	var s extraSettings
	for k, v := range m {
		switch k {
		case "timeout":
			switch n := v.(type) {
			case float64:
				s.timeout = time.Duration(n * float64(time.Millisecond))
			case int:
				s.timeout = time.Duration(n) * time.Millisecond
			case int64:
				s.timeout = time.Duration(n) * time.Millisecond
			}
		case "withCredentials":
			s.withCredentials, _ = v.(bool)
		case "responseType":
			s.responseType, _ = v.(string)
		default:
			logx.Log.Debug().Str("setting", k).Msg("ignoring unknown request setting")
		}
	}
	return s
}
