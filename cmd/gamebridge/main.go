package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/gamebridge/internal/channel"
	"github.com/gaspardpetit/gamebridge/internal/config"
	"github.com/gaspardpetit/gamebridge/internal/inflight"
	"github.com/gaspardpetit/gamebridge/internal/logx"
	"github.com/gaspardpetit/gamebridge/internal/metrics"
	"github.com/gaspardpetit/gamebridge/internal/options"
	"github.com/gaspardpetit/gamebridge/internal/server"
	"github.com/gaspardpetit/gamebridge/internal/xhr"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.HostConfig
	// defaults < file < env < args
	cfg.SetDefaults()
	cfg.ApplyEnv()
	if p := config.PathFromArgs(os.Args[1:]); p != "" {
		cfg.ConfigFile = p
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	cfg.ApplyEnv()
	cfg.BindFlagsFromCurrent(flag.CommandLine)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "gamebridge version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Printf("gamebridge version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}

	logx.Configure(cfg.LogLevel)
	preg := prometheus.NewRegistry()
	metrics.Register(preg)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	if cfg.UpstreamURL == "" {
		logx.Log.Fatal().Msg("upstream URL is required (--upstream-url or UPSTREAM_URL)")
	}
	execOpts := []xhr.HTTPOption{xhr.WithRequestTimeout(cfg.RequestTimeout)}
	if cfg.RateLimit > 0 {
		execOpts = append(execOpts, xhr.WithRateLimit(cfg.RateLimit, max(1, int(cfg.RateLimit))))
	}
	exec, err := xhr.NewHTTPExecutor(cfg.UpstreamURL, execOpts...)
	if err != nil {
		logx.Log.Fatal().Err(err).Str("upstream", cfg.UpstreamURL).Msg("upstream executor")
	}

	kv := options.NewMemoryKV()
	if cfg.RedisAddr != "" {
		if kv, err = options.NewRedisKV(cfg.RedisAddr); err != nil {
			logx.Log.Fatal().Err(err).Msg("connect redis")
		}
		logx.Log.Info().Str("addr", cfg.RedisAddr).Msg("using redis options store")
	}

	counter := &inflight.Counter{}
	srv := server.New(cfg, server.Deps{Executor: exec, Inflight: counter, Options: options.New(kv), Gatherer: preg})
	defer srv.Close()

	if cfg.NATSURL != "" {
		nc, err := channel.ConnectNATS(cfg.NATSURL, "gamebridge-host")
		if err != nil {
			logx.Log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("connect nats")
		}
		defer nc.Close()
		stop := srv.ServeNATS(nc, cfg.NATSGuests)
		defer stop()
		logx.Log.Info().Strs("guests", cfg.NATSGuests).Msg("serving guests over nats")
	}

	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: srv.Handler()}
	var metricsSrv *http.Server
	if cfg.MetricsAddr != fmt.Sprintf(":%d", cfg.Port) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(preg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigCh {
			if counter.Draining() || cfg.DrainTimeout == 0 {
				logx.Log.Warn().Msg("termination requested")
				cancel()
				return
			}
			waitCtx := ctx
			var stop context.CancelFunc
			if cfg.DrainTimeout > 0 {
				logx.Log.Info().Dur("timeout", cfg.DrainTimeout).Int64("inflight", counter.Load()).Msg("draining; send SIGTERM again to terminate immediately")
				waitCtx, stop = context.WithTimeout(ctx, cfg.DrainTimeout)
			} else {
				logx.Log.Info().Int64("inflight", counter.Load()).Msg("draining; send SIGTERM again to terminate immediately")
			}
			go func() {
				if stop != nil {
					defer stop()
				}
				if srv.Drain(waitCtx) {
					logx.Log.Info().Msg("drain complete; terminating")
				} else {
					logx.Log.Warn().Int64("inflight", counter.Load()).Msg("drain timeout exceeded; terminating")
				}
				cancel()
			}()
		}
	}()
	go func() {
		<-ctx.Done()
		if err := httpSrv.Shutdown(context.Background()); err != nil {
			logx.Log.Error().Err(err).Msg("server shutdown")
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(context.Background()); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server shutdown")
			}
		}
	}()

	if metricsSrv != nil {
		go func() {
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}
	logx.Log.Info().Int("port", cfg.Port).Str("upstream", cfg.UpstreamURL).Msg("host starting")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
}
