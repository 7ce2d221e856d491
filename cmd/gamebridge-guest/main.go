package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/gaspardpetit/gamebridge/internal/channel"
	"github.com/gaspardpetit/gamebridge/internal/config"
	"github.com/gaspardpetit/gamebridge/internal/gameclient"
	"github.com/gaspardpetit/gamebridge/internal/guestjs"
	"github.com/gaspardpetit/gamebridge/internal/iface"
	"github.com/gaspardpetit/gamebridge/internal/legacy"
	"github.com/gaspardpetit/gamebridge/internal/lifecycle"
	"github.com/gaspardpetit/gamebridge/internal/logx"
	"github.com/gaspardpetit/gamebridge/internal/message"
	"github.com/gaspardpetit/gamebridge/internal/options"
	"github.com/gaspardpetit/gamebridge/internal/wrapper"
	"github.com/gaspardpetit/gamebridge/internal/xhr"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.GuestConfig
	cfg.SetDefaults()
	cfg.ApplyEnv()
	if p := config.PathFromArgs(os.Args[1:]); p != "" {
		cfg.ConfigFile = p
	}
	if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
	}
	cfg.ApplyEnv()
	cfg.BindFlagsFromCurrent(flag.CommandLine)
	flag.Parse()
	if *showVersion {
		fmt.Printf("gamebridge-guest version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, cfg); err != nil {
		var reload *wrapper.ReloadError
		if errors.As(err, &reload) {
			fmt.Printf("reload required with query %s\n", reload.RawQuery)
			os.Exit(2)
		}
		logx.Log.Fatal().Err(err).Msg("guest failed")
	}
}

func run(ctx context.Context, cfg config.GuestConfig) error {
	kv := options.NewMemoryKV()
	if cfg.RedisAddr != "" {
		var err error
		if kv, err = options.NewRedisKV(cfg.RedisAddr); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
	}
	opts := options.New(kv)

	id := uuid.NewString()
	hostURL, err := url.Parse(cfg.HostURL)
	if err != nil {
		return fmt.Errorf("host url: %w", err)
	}
	q := hostURL.Query()
	q.Set("id", id)
	hostURL.RawQuery = q.Encode()
	conn, err := channel.DialWS(ctx, hostURL.String(), id, "host")
	if err != nil {
		return fmt.Errorf("connect host: %w", err)
	}
	defer conn.Close()
	parent := channel.NewEndpoint(conn, conn, channel.WithName("wrapper"))
	defer parent.Close()

	outer := channel.NewContext("wrapper")
	inner := channel.NewContext("game")
	defer outer.Close()
	defer inner.Close()
	toGame, toWrapper := channel.Pair(outer, inner)
	frame := wrapper.NewLocalFrame()
	frame.Attach(toGame)

	w := wrapper.New(parent, frame, wrapper.Config{
		Settings:          iface.GameSettings{CanonicalGameName: cfg.CanonicalGameName},
		CanonicalGameName: cfg.CanonicalGameName,
		PageURL:           cfg.PageURL,
	}, opts, lifecycle.New())
	stop, err := w.Run(ctx)
	if err != nil {
		return err
	}
	defer stop()

	game := iface.NewGameInterface(toWrapper, cfg.CanonicalGameName)
	requester := xhr.NewRequester(game, xhr.WithTimeout(cfg.RequestTimeout))
	rules := legacy.Rules{CanonicalGameName: cfg.CanonicalGameName, PageURL: cfg.PageURL}

	if cfg.Script != "" {
		return runScript(ctx, cfg, rules, requester, opts, game, toGame)
	}
	return buyTicket(ctx, cfg, rules, requester, opts, game)
}

// runScript runs a legacy game script until it reports gameFinished.
func runScript(ctx context.Context, cfg config.GuestConfig, rules legacy.Rules, requester *xhr.Requester,
	opts *options.Options, game *iface.GameInterface, toGame *channel.Endpoint) error {
	src, err := os.ReadFile(cfg.Script)
	if err != nil {
		return err
	}
	var native xhr.Executor
	if u, err := url.Parse(cfg.PageURL); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		if native, err = xhr.NewHTTPExecutor(cfg.PageURL); err != nil {
			return err
		}
	}

	finished := make(chan struct{})
	var once sync.Once
	un := toGame.Register(iface.KindGameFinished, func(message.Message) {
		once.Do(func() { close(finished) })
	})
	defer un()

	rt := guestjs.New(guestjs.Config{Rules: rules, Requester: requester, Native: native, Options: opts, Game: game})
	defer rt.Close()
	if err := rt.RunScript(ctx, cfg.Script, string(src)); err != nil {
		return fmt.Errorf("run %s: %w", cfg.Script, err)
	}
	rt.Fire(lifecycle.DOMReady)
	rt.Fire(lifecycle.Loaded)

	select {
	case <-finished:
		fmt.Println("game finished")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buyTicket plays one round through the game client without any script.
func buyTicket(ctx context.Context, cfg config.GuestConfig, rules legacy.Rules, requester *xhr.Requester,
	opts *options.Options, game *iface.GameInterface) error {
	gcfg, err := gameclient.ParseConfig(cfg.PageURL)
	if err != nil {
		logx.Log.Debug().Err(err).Msg("no game config in page url, using defaults")
		gcfg = gameclient.Config{Endpoint: "/iwg/" + cfg.CanonicalGameName, CanonicalGameName: cfg.CanonicalGameName}
	}
	factory := legacy.NewFactory(rules, requester, nil, legacy.WithOptions(opts), legacy.WithContext(ctx))
	client := gameclient.New(gcfg, factory, game)

	client.GameLoaded()
	payload := map[string]int{"quantity": cfg.Quantity}
	var ticket *gameclient.Ticket
	if cfg.Demo {
		ticket, err = client.DemoTicket(ctx, payload)
	} else {
		ticket, err = client.BuyTicket(ctx, payload)
	}
	if err != nil {
		return err
	}
	client.GameStarted(ticket)
	if !cfg.Demo {
		if err := client.SettleTicket(ctx, string(ticket.ID)); err != nil {
			return err
		}
		client.TicketSettled()
	}
	client.GameFinished()
	fmt.Println(string(ticket.Raw))
	return nil
}
