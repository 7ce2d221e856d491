// Package wrapper runs the middle context of a host <-> wrapper <-> game
// chain: it announces the game settings upward, waits for the embedded game
// and relays everything between the two.
package wrapper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gaspardpetit/gamebridge/internal/channel"
	"github.com/gaspardpetit/gamebridge/internal/iface"
	"github.com/gaspardpetit/gamebridge/internal/lifecycle"
	"github.com/gaspardpetit/gamebridge/internal/logx"
	"github.com/gaspardpetit/gamebridge/internal/message"
	"github.com/gaspardpetit/gamebridge/internal/options"
	"github.com/gaspardpetit/gamebridge/internal/proxy"
)

// ErrReloadRequired means the page must be reloaded with a different query before the game can start.
var ErrReloadRequired = errors.New("wrapper: reload required")

// ReloadError carries the query the page has to be reloaded with.
type ReloadError struct {
	RawQuery string
}

func (e *ReloadError) Error() string {
	return fmt.Sprintf("%v with query %q", ErrReloadRequired, e.RawQuery)
}

func (e *ReloadError) Is(target error) bool { return target == ErrReloadRequired }

// DefaultPollInterval is how often the wrapper checks whether the embedded game is reachable.
const DefaultPollInterval = 250 * time.Millisecond

// Frame is the embedded game context.
type Frame interface {
	// Endpoint returns the endpoint bound to the game, or nil while it is not available yet.
	Endpoint() *channel.Endpoint
	// Errors delivers load failures of the frame.
	Errors() <-chan error
}

// Config describes the wrapped game.
type Config struct {
	Settings          iface.GameSettings
	CanonicalGameName string
	PageURL           string
	PollInterval      time.Duration
}

// Wrapper connects a parent endpoint to an embedded frame.
type Wrapper struct {
	parent *channel.Endpoint
	frame  Frame
	cfg    Config
	opts   *options.Options
	life   *lifecycle.Memory
}

// New returns a Wrapper. opts may be nil.
func New(parent *channel.Endpoint, frame Frame, cfg Config, opts *options.Options, life *lifecycle.Memory) *Wrapper {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if life == nil {
		life = lifecycle.New()
	}
	return &Wrapper{parent: parent, frame: frame, cfg: cfg, opts: opts, life: life}
}

// Run performs the wrapper startup and returns once the relay is in place.
// The returned stop function tears the relay down.
func (w *Wrapper) Run(ctx context.Context) (stop func(), err error) {
	if w.opts != nil {
		if override := w.opts.WinningClassOverride(); override != nil {
			if q, reload := ReloadQuery(w.cfg.PageURL, override); reload {
				logx.Log.Info().Str("query", q).Msg("reload with winning class override")
				return nil, &ReloadError{RawQuery: q}
			}
		}
		if w.opts.DebuggingLayer() {
			logx.Log.Info().Str("version", w.opts.Version()).Bool("logging", w.opts.Logging()).
				Interface("wc_override", w.opts.WinningClassOverride()).Str("locale", w.opts.LocaleOverride()).
				Msg("debugging options active")
		}
	}

	game := iface.NewGameInterface(w.parent, w.cfg.CanonicalGameName)
	game.UpdateGameSettings(w.cfg.Settings)
	unStart := w.watchGameStart(game)

	inner, err := w.waitForFrame(ctx)
	if err != nil {
		unStart()
		return nil, err
	}

	stopRelay := proxy.Relay(w.parent, inner)
	errCtx, cancel := context.WithCancel(ctx)
	go w.forwardErrors(errCtx, game)
	w.life.Fire(lifecycle.FrameReady)
	logx.Log.Info().Str("game", w.cfg.CanonicalGameName).Msg("game frame connected")

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			stopRelay()
			unStart()
		})
	}, nil
}

// Lifecycle returns the memory the wrapper fires its events on.
func (w *Wrapper) Lifecycle() *lifecycle.Memory { return w.life }

func (w *Wrapper) waitForFrame(ctx context.Context) (*channel.Endpoint, error) {
	if ep := w.frame.Endpoint(); ep != nil {
		return ep, nil
	}
	t := time.NewTicker(w.cfg.PollInterval)
	defer t.Stop()
	for {
		logx.Log.Debug().Msg("game frame not yet available, waiting")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
			if ep := w.frame.Endpoint(); ep != nil {
				return ep, nil
			}
		}
	}
}

func (w *Wrapper) forwardErrors(ctx context.Context, game *iface.GameInterface) {
	errs := w.frame.Errors()
	if errs == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			logx.Log.Warn().Err(err).Msg("game frame error")
			game.SendError(err)
		}
	}
}

// watchGameStart fires lifecycle.GameStart on the first start verb from the parent.
func (w *Wrapper) watchGameStart(game *iface.GameInterface) func() {
	var un func()
	var mu sync.Mutex
	fire := func(message.Message) {
		w.life.Fire(lifecycle.GameStart)
		mu.Lock()
		defer mu.Unlock()
		if un != nil {
			un()
		}
	}
	mu.Lock()
	un = game.RegisterGeneric(map[string]func(message.Message){
		iface.KindPrepareGame:      fire,
		iface.KindPlayGame:         fire,
		iface.KindPlayDemoGame:     fire,
		iface.KindRequestStartGame: fire,
	})
	mu.Unlock()
	return func() {
		mu.Lock()
		defer mu.Unlock()
		un()
	}
}

var overrideParams = regexp.MustCompile(`\b(scenario|wc)=[^&]+&?`)

// ReloadQuery returns the query pageURL needs to carry the winning class
// override and whether it differs from the current one.
func ReloadQuery(pageURL string, o *options.WinningClassOverride) (string, bool) {
	params := "wc=" + strconv.Itoa(o.WinningClass) + "&scenario=" + strconv.Itoa(o.ScenarioID)
	if strings.Contains(pageURL, params) {
		return "", false
	}
	var query string
	if u, err := url.Parse(pageURL); err == nil {
		query = u.RawQuery
	}
	query = strings.TrimSuffix(overrideParams.ReplaceAllString(query, ""), "&")
	if query == "" {
		return params, true
	}
	return query + "&" + params, true
}
