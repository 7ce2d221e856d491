package xhr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestHTTPExecutor(t *testing.T) {
	type seen struct {
		method, path, csrf, custom, body string
	}
	got := make(chan seen, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- seen{r.Method, r.URL.Path, r.Header.Get(CSRFHeader), r.Header.Get("X-Game"), string(b)}
		switch r.URL.Path {
		case "/api/iwg/gamex/missing":
			http.Error(w, "nope", http.StatusNotFound)
		case "/api/slow":
			time.Sleep(200 * time.Millisecond)
		default:
			_, _ = w.Write([]byte(`{"a":1}`))
		}
	}))
	defer srv.Close()

	exec, err := NewHTTPExecutor(srv.URL+"/api", WithRateLimit(100, 10))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	u, _ := url.Parse(srv.URL + "/api/")
	exec.Jar().SetCookies(u, []*http.Cookie{{Name: CSRFHeader, Value: "tok", Path: "/"}})

	resp, err := exec.Execute(context.Background(), Request{
		Method:  "post",
		Path:    "/iwg/gamex/start",
		Headers: map[string]string{"X-Game": "gamex"},
		Body:    strp(`{"q":2}`),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.StatusCode != 200 || resp.Body != `{"a":1}` || resp.Raw == nil {
		t.Fatalf("response: %+v", resp)
	}
	s := <-got
	if s.method != "POST" || s.path != "/api/iwg/gamex/start" || s.csrf != "tok" || s.custom != "gamex" || s.body != `{"q":2}` {
		t.Fatalf("upstream saw %+v", s)
	}

	resp, err = exec.Execute(context.Background(), Request{Method: "GET", Path: "/iwg/gamex/missing"})
	if err != nil {
		t.Fatalf("non 2xx must not be an error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	<-got

	resp, err = exec.Execute(context.Background(), Request{Method: "GET", Path: "/iwg/gamex/bin", ExtraSettings: map[string]any{"responseType": "arraybuffer"}})
	if err != nil || resp.Body != "" {
		t.Fatalf("binary response body should be dropped: %v %q", err, resp.Body)
	}
	<-got

	_, err = exec.Execute(context.Background(), Request{Method: "GET", Path: "/slow", ExtraSettings: map[string]any{"timeout": float64(20)}})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestHTTPExecutorTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	exec, err := NewHTTPExecutor(base)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := exec.Execute(context.Background(), Request{Method: "GET", Path: "/x"}); err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestNewHTTPExecutorRejectsRelativeBase(t *testing.T) {
	if _, err := NewHTTPExecutor("/relative"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseExtraSettings(t *testing.T) {
	s := parseExtraSettings(map[string]any{"timeout": float64(1500), "withCredentials": true, "responseType": "json", "foo": 1})
	if s.timeout != 1500*time.Millisecond || !s.withCredentials || s.textBody() {
		t.Fatalf("settings: %+v", s)
	}
}
