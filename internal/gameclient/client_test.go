package gameclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gaspardpetit/gamebridge/internal/channel"
	"github.com/gaspardpetit/gamebridge/internal/iface"
	"github.com/gaspardpetit/gamebridge/internal/legacy"
	"github.com/gaspardpetit/gamebridge/internal/message"
	"github.com/gaspardpetit/gamebridge/internal/xhr"
)

type upstream struct {
	mu    sync.Mutex
	calls []xhr.Request
	reply func(req xhr.Request) *xhr.Response
}

func (u *upstream) Execute(_ context.Context, req xhr.Request) (*xhr.Response, error) {
	u.mu.Lock()
	u.calls = append(u.calls, req)
	u.mu.Unlock()
	return u.reply(req), nil
}

func (u *upstream) last() xhr.Request {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[len(u.calls)-1]
}

func newClient(t *testing.T, up *upstream) (*Client, *iface.ParentInterface) {
	t.Helper()
	host := channel.NewContext("host")
	guest := channel.NewContext("guest")
	t.Cleanup(func() {
		host.Close()
		guest.Close()
	})
	hostEP, guestEP := channel.Pair(host, guest)
	parent := iface.NewParentInterface(hostEP)
	xhr.Serve(parent, up)
	game := iface.NewGameInterface(guestEP, "gamex")
	factory := legacy.NewFactory(legacy.Rules{CanonicalGameName: "gamex"}, xhr.NewRequester(game, xhr.WithTimeout(time.Second)), nil)
	cfg := Config{Endpoint: "/iwg/gamex", Headers: map[string]string{"X-Game": "gamex"}}
	return New(cfg, factory, game, WithHeightInterval(5*time.Millisecond)), parent
}

func TestBuyTicket(t *testing.T) {
	up := &upstream{reply: func(xhr.Request) *xhr.Response {
		return &xhr.Response{StatusCode: 200, Body: `{"id":17,"externalId":"ext-17","ticketNumber":"N-1"}`}
	}}
	c, parent := newClient(t, up)

	started := make(chan message.Message, 1)
	parent.RegisterGeneric(map[string]func(message.Message){
		iface.KindGameStarted: func(m message.Message) { started <- m },
	})

	ticket, err := c.BuyTicket(context.Background(), map[string]int{"quantity": 1})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if ticket.ID != "17" || ticket.ExternalID != "ext-17" || ticket.TicketNumber != "N-1" || len(ticket.Raw) == 0 {
		t.Fatalf("ticket: %+v", ticket)
	}
	req := up.last()
	if req.Method != "POST" || req.Path != "/iwg/gamex/tickets" || req.Headers["X-Game"] != "gamex" || *req.Body != `{"quantity":1}` {
		t.Fatalf("upstream request: %+v", req)
	}

	c.GameStarted(ticket)
	select {
	case m := <-started:
		var id string
		if err := m.Decode("ticketId", &id); err != nil || id != "17" {
			t.Fatalf("ticketId %q %v", id, err)
		}
	case <-time.After(time.Second):
		t.Fatalf("gameStarted not received")
	}
}

func TestWithCredentialsReachesUpstream(t *testing.T) {
	for _, want := range []bool{true, false} {
		up := &upstream{reply: func(xhr.Request) *xhr.Response {
			return &xhr.Response{StatusCode: 200, Body: `{"id":1}`}
		}}
		c, _ := newClient(t, up)
		c.cfg.WithCredentials = want
		if _, err := c.BuyTicket(context.Background(), nil); err != nil {
			t.Fatalf("buy: %v", err)
		}
		got, ok := up.last().ExtraSettings["withCredentials"].(bool)
		if !ok || got != want {
			t.Fatalf("withCredentials=%v: extra settings %v", want, up.last().ExtraSettings)
		}
	}
}

func TestDemoTicketAndSettle(t *testing.T) {
	up := &upstream{reply: func(req xhr.Request) *xhr.Response {
		if req.Path == "/iwg/gamex/demo" {
			return &xhr.Response{StatusCode: 200, Body: `{"id":"d-1","externalId":"x"}`}
		}
		return &xhr.Response{StatusCode: 204}
	}}
	c, _ := newClient(t, up)
	ticket, err := c.DemoTicket(context.Background(), nil)
	if err != nil || ticket.ID != "d-1" {
		t.Fatalf("demo: %v %+v", err, ticket)
	}
	if body := up.last().Body; body == nil || *body != "{}" {
		t.Fatalf("nil payload must go out as an empty object, got %v", body)
	}
	if err := c.SettleTicket(context.Background(), "a/b"); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if p := up.last().Path; p != "/iwg/gamex/tickets/a%2Fb/settle" {
		t.Fatalf("settle path %q", p)
	}
}

func TestRequestErrorsAreParsed(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Error
	}{
		{"error and status", 400, `{"error":"not enough money","status":402}`,
			Error{Type: RemoteClientErrorType, Title: "Remote error", Details: "not enough money", Status: 402}},
		{"problem record", 409, `{"type":"urn:x-tipp24:ticket-exists","title":"Conflict","details":"ticket exists","status":409}`,
			Error{Type: "urn:x-tipp24:ticket-exists", Title: "Conflict", Details: "ticket exists", Status: 409}},
		{"garbage", 502, `<html>bad gateway</html>`,
			Error{Type: RemoteClientErrorType, Title: "Remote error", Details: "<html>bad gateway</html>", Status: 502}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &upstream{reply: func(xhr.Request) *xhr.Response {
				return &xhr.Response{StatusCode: tt.status, Body: tt.body}
			}}
			c, _ := newClient(t, up)
			_, err := c.BuyTicket(context.Background(), nil)
			var e *Error
			if !errors.As(err, &e) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if *e != tt.want {
				t.Fatalf("got %+v want %+v", *e, tt.want)
			}
		})
	}
}

func TestRemoteFailureSurfaces(t *testing.T) {
	host := channel.NewContext("host")
	guest := channel.NewContext("guest")
	defer host.Close()
	defer guest.Close()
	hostEP, guestEP := channel.Pair(host, guest)
	xhr.Serve(iface.NewParentInterface(hostEP), xhr.ExecutorFunc(func(context.Context, xhr.Request) (*xhr.Response, error) {
		return nil, errors.New("upstream unreachable")
	}))
	game := iface.NewGameInterface(guestEP, "gamex")
	factory := legacy.NewFactory(legacy.Rules{CanonicalGameName: "gamex"}, xhr.NewRequester(game), nil)
	c := New(Config{Endpoint: "/iwg/gamex"}, factory, game)

	_, err := c.BuyTicket(context.Background(), nil)
	var re *xhr.RemoteError
	if !errors.As(err, &re) || re.Message != "upstream unreachable" {
		t.Fatalf("expected remote error, got %v", err)
	}
}

func TestParseConfig(t *testing.T) {
	enc, err := EncodeConfig(Config{Endpoint: "/iwg/gamex", CanonicalGameName: "gamex", WithCredentials: true})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cfg, err := ParseConfig("https://g.test/inner.html?lang=en&config=" + enc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Endpoint != "/iwg/gamex" || cfg.CanonicalGameName != "gamex" || !cfg.WithCredentials || cfg.Headers == nil {
		t.Fatalf("config: %+v", cfg)
	}

	for _, bad := range []string{
		"https://g.test/inner.html",
		"https://g.test/inner.html?config=bnVsbA==",             // null
		"https://g.test/inner.html?config=eyJoZWFkZXJzIjp7fX0=", // {"headers":{}}
	} {
		if _, err := ParseConfig(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestTrackGameHeight(t *testing.T) {
	host := channel.NewContext("host")
	guest := channel.NewContext("guest")
	defer host.Close()
	defer guest.Close()
	hostEP, guestEP := channel.Pair(host, guest)
	parent := iface.NewParentInterface(hostEP)
	heights := make(chan int, 16)
	parent.RegisterGameHeight(func(h int) { heights <- h })

	c := New(Config{}, nil, iface.NewGameInterface(guestEP, "gamex"), WithHeightInterval(2*time.Millisecond))
	samples := []int{1, 300, 301, 301, 450}
	var mu sync.Mutex
	i := 0
	probe := func() int {
		mu.Lock()
		defer mu.Unlock()
		h := samples[i]
		if i < len(samples)-1 {
			i++
		}
		return h
	}
	ctx, cancel := context.WithCancel(context.Background())
	go c.TrackGameHeight(ctx, probe)
	defer cancel()

	for _, want := range []int{300, 450} {
		select {
		case h := <-heights:
			if h != want {
				t.Fatalf("height %d want %d", h, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %d", want)
		}
	}
	select {
	case h := <-heights:
		t.Fatalf("unexpected height %d", h)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestIDAcceptsNumbers(t *testing.T) {
	var tk Ticket
	if err := json.Unmarshal([]byte(`{"id":12,"externalId":"e","ticketNumber":99}`), &tk); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tk.ID != "12" || tk.TicketNumber != "99" {
		t.Fatalf("ticket %+v", tk)
	}
}
