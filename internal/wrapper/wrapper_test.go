package wrapper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gaspardpetit/gamebridge/internal/channel"
	"github.com/gaspardpetit/gamebridge/internal/iface"
	"github.com/gaspardpetit/gamebridge/internal/lifecycle"
	"github.com/gaspardpetit/gamebridge/internal/message"
	"github.com/gaspardpetit/gamebridge/internal/options"
)

func TestReloadQuery(t *testing.T) {
	o := &options.WinningClassOverride{WinningClass: 3, ScenarioID: 12}
	tests := []struct {
		page   string
		want   string
		reload bool
	}{
		{"https://g.test/outer.html?config=abc&wc=3&scenario=12", "", false},
		{"https://g.test/outer.html?config=abc", "config=abc&wc=3&scenario=12", true},
		{"https://g.test/outer.html?wc=1&scenario=2&config=abc", "config=abc&wc=3&scenario=12", true},
		{"https://g.test/outer.html", "wc=3&scenario=12", true},
	}
	for _, tt := range tests {
		got, reload := ReloadQuery(tt.page, o)
		if got != tt.want || reload != tt.reload {
			t.Fatalf("ReloadQuery(%q) = %q, %v; want %q, %v", tt.page, got, reload, tt.want, tt.reload)
		}
	}
}

type chain struct {
	hostEP   *channel.Endpoint
	gameEP   *channel.Endpoint
	parentEP *channel.Endpoint
	innerEP  *channel.Endpoint
}

func newChain(t *testing.T) chain {
	t.Helper()
	host := channel.NewContext("host")
	wrap := channel.NewContext("wrapper")
	game := channel.NewContext("game")
	t.Cleanup(func() {
		host.Close()
		wrap.Close()
		game.Close()
	})
	hostEP, parentEP := channel.Pair(host, wrap)
	innerEP, gameEP := channel.Pair(wrap, game)
	return chain{hostEP: hostEP, gameEP: gameEP, parentEP: parentEP, innerEP: innerEP}
}

func TestRunRelaysAfterFrameBecomesAvailable(t *testing.T) {
	c := newChain(t)
	parent := iface.NewParentInterface(c.hostEP)
	settings := make(chan iface.GameSettings, 1)
	parent.RegisterGameSettings(func(s iface.GameSettings) { settings <- s })
	errs := make(chan message.Message, 1)
	parent.RegisterError(func(m message.Message) { errs <- m })
	heights := make(chan int, 1)
	parent.RegisterGameHeight(func(h int) { heights <- h })

	frame := NewLocalFrame()
	life := lifecycle.New()
	w := New(c.parentEP, frame, Config{
		Settings:          iface.GameSettings{Index: "inner.html"},
		CanonicalGameName: "gamex",
		PollInterval:      10 * time.Millisecond,
	}, options.New(options.NewMemoryKV()), life)

	go func() {
		time.Sleep(30 * time.Millisecond)
		frame.Attach(c.innerEP)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stop, err := w.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer stop()

	select {
	case s := <-settings:
		if s.CanonicalGameName != "gamex" || s.Index != "inner.html" {
			t.Fatalf("settings: %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("settings not sent")
	}
	if !life.Fired(lifecycle.FrameReady) {
		t.Fatalf("frameReady not fired")
	}

	// game -> host through the relay
	iface.NewGameInterface(c.gameEP, "gamex").UpdateGameHeight(99)
	select {
	case h := <-heights:
		if h != 99 {
			t.Fatalf("height %d", h)
		}
	case <-time.After(time.Second):
		t.Fatalf("height not relayed")
	}

	// host -> game through the relay, and the first start verb fires gameStart
	played := make(chan struct{}, 1)
	c.gameEP.Register(iface.KindPlayGame, func(message.Message) { played <- struct{}{} })
	parent.PlayGame()
	select {
	case <-played:
	case <-time.After(time.Second):
		t.Fatalf("playGame not relayed")
	}
	if !life.Fired(lifecycle.GameStart) {
		t.Fatalf("gameStart not fired")
	}

	frame.ReportError(errors.New("frame crashed"))
	select {
	case m := <-errs:
		var s string
		if err := m.Decode("error", &s); err != nil || s != "frame crashed" {
			t.Fatalf("error payload %q %v", s, err)
		}
	case <-time.After(time.Second):
		t.Fatalf("frame error not forwarded")
	}
}

func TestRunGivesUpWithContext(t *testing.T) {
	c := newChain(t)
	w := New(c.parentEP, NewLocalFrame(), Config{PollInterval: 5 * time.Millisecond}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := w.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if w.Lifecycle().Fired(lifecycle.FrameReady) {
		t.Fatalf("frameReady fired without frame")
	}
}

func TestRunRequiresReloadForOverride(t *testing.T) {
	c := newChain(t)
	opts := options.New(options.NewMemoryKV())
	_ = opts.SetWinningClassOverride(&options.WinningClassOverride{WinningClass: 1, ScenarioID: 4})
	w := New(c.parentEP, NewLocalFrame(), Config{PageURL: "https://g.test/outer.html?config=x"}, opts, nil)
	_, err := w.Run(context.Background())
	var re *ReloadError
	if !errors.Is(err, ErrReloadRequired) || !errors.As(err, &re) {
		t.Fatalf("expected reload error, got %v", err)
	}
	if re.RawQuery != "config=x&wc=1&scenario=4" {
		t.Fatalf("query %q", re.RawQuery)
	}
}
