// Package server is the host side of gamebridge: it accepts guest contexts,
// executes their requests upstream and exposes state and metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/gamebridge/internal/config"
	"github.com/gaspardpetit/gamebridge/internal/inflight"
	"github.com/gaspardpetit/gamebridge/internal/options"
	"github.com/gaspardpetit/gamebridge/internal/xhr"
)

// Deps are the collaborators a Server needs besides its config.
type Deps struct {
	// Executor runs guest requests. Required.
	Executor xhr.Executor
	// Inflight counts running executions; a fresh counter is used when nil.
	Inflight *inflight.Counter
	// Options backs /api/options. Optional.
	Options *options.Options
	// Gatherer serves /metrics when it shares the main port.
	Gatherer prometheus.Gatherer
}

// Server tracks connected guests.
type Server struct {
	cfg      config.HostConfig
	exec     xhr.Executor
	inflight *inflight.Counter
	opts     *options.Options
	gatherer prometheus.Gatherer
	origins  []string

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	guests map[string]*guest
}

// New returns a Server. Call Close to disconnect every guest.
func New(cfg config.HostConfig, deps Deps) *Server {
	if deps.Inflight == nil {
		deps.Inflight = &inflight.Counter{}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		exec:     deps.Executor,
		inflight: deps.Inflight,
		opts:     deps.Options,
		gatherer: deps.Gatherer,
		origins:  originPatterns(cfg.AllowedOrigins),
		ctx:      ctx,
		cancel:   cancel,
		guests:   map[string]*guest{},
	}
}

// Handler constructs the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.inflight.Draining() {
			http.Error(w, "draining", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/guest/connect", s.handleConnect)
	r.Route("/api", func(ar chi.Router) {
		ar.Get("/state", s.handleState)
		ar.Post("/guests/{id}/{command}", s.handleCommand)
		ar.Get("/options", s.handleGetOptions)
		ar.Put("/options/winning-class-override", s.handlePutOverride)
		ar.Delete("/options/winning-class-override", s.handleDeleteOverride)
	})
	r.Get("/state", s.handleStatusPage)

	if s.cfg.MetricsAddr == fmt.Sprintf(":%d", s.cfg.Port) {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Inflight returns the counter of running executions.
func (s *Server) Inflight() *inflight.Counter { return s.inflight }

// Drain refuses new guests and requests, then waits for running executions.
// It reports whether everything finished before ctx ended.
func (s *Server) Drain(ctx context.Context) bool {
	s.inflight.StartDrain()
	return s.inflight.WaitForZero(ctx)
}

// Close disconnects all guests.
func (s *Server) Close() {
	s.cancel()
	s.mu.Lock()
	gs := make([]*guest, 0, len(s.guests))
	for _, g := range s.guests {
		gs = append(gs, g)
	}
	s.mu.Unlock()
	for _, g := range gs {
		g.detach()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// originPatterns turns CORS origins into the host patterns websocket.Accept expects.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			out = append(out, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, strings.TrimSuffix(o, "/"))
	}
	return out
}
