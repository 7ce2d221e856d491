package guestjs

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gaspardpetit/gamebridge/internal/channel"
	"github.com/gaspardpetit/gamebridge/internal/iface"
	"github.com/gaspardpetit/gamebridge/internal/legacy"
	"github.com/gaspardpetit/gamebridge/internal/lifecycle"
	"github.com/gaspardpetit/gamebridge/internal/logx"
	"github.com/gaspardpetit/gamebridge/internal/message"
	"github.com/gaspardpetit/gamebridge/internal/xhr"
)

type recorder struct {
	mu    sync.Mutex
	calls []xhr.Request
	resp  *xhr.Response
	err   error
}

func (rec *recorder) Execute(_ context.Context, req xhr.Request) (*xhr.Response, error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.calls = append(rec.calls, req)
	return rec.resp, rec.err
}

func (rec *recorder) requests() []xhr.Request {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]xhr.Request(nil), rec.calls...)
}

type guest struct {
	rt     *Runtime
	parent *iface.ParentInterface
}

func newGuest(t *testing.T, exec xhr.Executor) guest {
	t.Helper()
	host := channel.NewContext("host")
	page := channel.NewContext("page")
	hostEP, pageEP := channel.Pair(host, page)
	parent := iface.NewParentInterface(hostEP)
	xhr.Serve(parent, exec)
	game := iface.NewGameInterface(pageEP, "gamex")
	rt := New(Config{
		Rules:     legacy.Rules{CanonicalGameName: "gamex"},
		Requester: xhr.NewRequester(game, xhr.WithTimeout(time.Second)),
		Game:      game,
	})
	t.Cleanup(func() {
		rt.Close()
		host.Close()
		page.Close()
	})
	return guest{rt: rt, parent: parent}
}

func waitFor(t *testing.T, rt *Runtime, expr, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var got any
	for time.Now().Before(deadline) {
		v, err := rt.Eval(context.Background(), expr)
		if err != nil {
			t.Fatalf("eval %s: %v", expr, err)
		}
		got = v
		if s, ok := v.(string); ok && s == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s = %v, want %q", expr, got, want)
}

func TestXMLHttpRequestIntercepted(t *testing.T) {
	rec := &recorder{resp: &xhr.Response{StatusCode: 200, Body: `{"a":1}`}}
	g := newGuest(t, rec)

	err := g.rt.RunScript(context.Background(), "game.js", `
		var log = [];
		var x = new XMLHttpRequest();
		x.onreadystatechange = function () {
			if (x.readyState === XMLHttpRequest.DONE) log.push("rsc:" + x.status);
		};
		x.addEventListener("load", function (e) {
			log.push("load:" + e.target.responseText);
			log.push("same:" + (e.target === x));
		});
		x.open("POST", "https://mylotto24.frontend.zig.services/iwg/gamexuk/start");
		x.setRequestHeader("X-CSRF-TOKEN", "secret");
		x.setRequestHeader("Content-Type", "application/json");
		x.send("{}");
	`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	waitFor(t, g.rt, `log.join(",")`, `rsc:200,load:{"a":1},same:true`)

	calls := rec.requests()
	if len(calls) != 1 {
		t.Fatalf("expected one upstream call, got %d", len(calls))
	}
	if calls[0].Path != "/iwg/gamex/start" || calls[0].Method != "POST" {
		t.Fatalf("request: %+v", calls[0])
	}
	if _, ok := calls[0].Headers["X-CSRF-TOKEN"]; ok {
		t.Fatalf("csrf header must not be forwarded")
	}
	if calls[0].Headers["Content-Type"] != "application/json" {
		t.Fatalf("headers: %v", calls[0].Headers)
	}
}

func TestXMLHttpRequestFailure(t *testing.T) {
	g := newGuest(t, xhr.ExecutorFunc(func(context.Context, xhr.Request) (*xhr.Response, error) {
		return nil, errorString("boom")
	}))
	err := g.rt.RunScript(context.Background(), "game.js", `
		var log = [];
		var x = new XMLHttpRequest();
		x.onload = function () { log.push("load"); };
		x.onerror = function (e, err) {
			log.push("error:" + arguments.length + ":" + (String(err).indexOf("boom") >= 0) + ":" + (e.error === err));
		};
		x.onError = function (e, err) { log.push("onError:" + arguments.length); };
		x.addEventListener("Error", function () { log.push("Error"); });
		x.open("GET", "/iwg/gamex/tickets");
		x.send();
	`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	waitFor(t, g.rt, `log.join(",") + "|" + x.readyState + "|" + x.status`, "error:2:true:true,onError:2,Error|4|0")
}

func TestXMLHttpRequestSettingsForwarded(t *testing.T) {
	rec := &recorder{resp: &xhr.Response{StatusCode: 200, Body: "ok"}}
	g := newGuest(t, rec)

	v, err := g.rt.Eval(context.Background(), `
		var x = new XMLHttpRequest();
		var defaults = x.withCredentials + ":" + JSON.stringify(x.responseType) + ":" + x.timeout;
		x.open("GET", "/iwg/gamex/config");
		x.withCredentials = true;
		x.responseType = "text";
		x.timeout = 1500;
		x.send();
		defaults + "|" + x.withCredentials + ":" + x.responseType + ":" + x.timeout;
	`)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if v != `false:"":0|true:text:1500` {
		t.Fatalf("properties: %v", v)
	}
	waitFor(t, g.rt, `x.responseText`, "ok")

	calls := rec.requests()
	if len(calls) != 1 {
		t.Fatalf("expected one upstream call, got %d", len(calls))
	}
	s := calls[0].ExtraSettings
	if s["withCredentials"] != true || s["responseType"] != "text" || s["timeout"] != float64(1500) {
		t.Fatalf("extra settings: %#v", s)
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }

func TestInvalidStateThrows(t *testing.T) {
	g := newGuest(t, &recorder{resp: &xhr.Response{StatusCode: 204}})
	v, err := g.rt.Eval(context.Background(), `
		var x = new XMLHttpRequest();
		var threw = false;
		try { x.send(); } catch (e) { threw = true; }
		String(threw) + ":" + (x.onload === null) + ":" + x.readyState;
	`)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if v != "true:true:0" {
		t.Fatalf("got %v", v)
	}
}

func TestOnLoadRunsForEarlyAndLateSubscribers(t *testing.T) {
	g := newGuest(t, &recorder{})
	if err := g.rt.RunScript(context.Background(), "game.js", `
		var fired = [];
		onLoad(function () { fired.push("early"); });
	`); err != nil {
		t.Fatalf("run: %v", err)
	}
	g.rt.Fire(lifecycle.Loaded)
	waitFor(t, g.rt, `fired.join(",")`, "early")

	if err := g.rt.RunScript(context.Background(), "late.js", `onLoad(function () { fired.push("late"); });`); err != nil {
		t.Fatalf("run: %v", err)
	}
	waitFor(t, g.rt, `fired.join(",")`, "early,late")
}

func TestSetTimeoutAndClear(t *testing.T) {
	g := newGuest(t, &recorder{})
	if err := g.rt.RunScript(context.Background(), "timers.js", `
		var ticks = [];
		var cancelled = setTimeout(function () { ticks.push("cancelled"); }, 5);
		clearTimeout(cancelled);
		setTimeout(function (a) { ticks.push(a); }, 10, "fired");
	`); err != nil {
		t.Fatalf("run: %v", err)
	}
	waitFor(t, g.rt, `ticks.join(",")`, "fired")
}

func TestParentMessaging(t *testing.T) {
	g := newGuest(t, &recorder{})
	started := make(chan message.Message, 1)
	g.parent.RegisterGeneric(map[string]func(message.Message){
		iface.KindGameStarted: func(m message.Message) { started <- m },
	})
	g.rt.Factory().Tickets().Remember(`{"id":7,"externalId":"e-7","ticketNumber":"T7"}`)

	if err := g.rt.RunScript(context.Background(), "game.js", `
		var received = [];
		parent.addEventListener("message", function (e) { received.push(e.data.type); });
		parent.postMessage({type: "gameStarted"});
	`); err != nil {
		t.Fatalf("run: %v", err)
	}
	select {
	case m := <-started:
		var id string
		if err := m.Decode("ticketId", &id); err != nil || id != "7" {
			t.Fatalf("ticketId = %q (%v)", id, err)
		}
	case <-time.After(time.Second):
		t.Fatalf("gameStarted not received")
	}

	g.parent.PlayGame()
	waitFor(t, g.rt, `received.join(",")`, iface.KindPlayGame)
}

func TestConsoleGoesToLog(t *testing.T) {
	var buf bytes.Buffer
	logx.SetOutput(&buf)
	rt := New(Config{})
	defer rt.Close()
	if err := rt.RunScript(context.Background(), "c.js", `console.warn("low", 3, "balls")`); err != nil {
		t.Fatalf("run: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `low 3 balls`) || !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("log output: %s", out)
	}
}

func TestInterruptOnCancel(t *testing.T) {
	rt := New(Config{})
	defer rt.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rt.RunScript(ctx, "spin.js", `for (;;) {}`); err == nil {
		t.Fatalf("expected interrupted script to fail")
	}
	v, err := rt.Eval(context.Background(), `1 + 1`)
	if err != nil || v != int64(2) {
		t.Fatalf("runtime unusable after interrupt: %v %v", v, err)
	}
}

func TestClosedRuntime(t *testing.T) {
	rt := New(Config{})
	rt.Close()
	rt.Close()
	if err := rt.RunScript(context.Background(), "x.js", "1"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
