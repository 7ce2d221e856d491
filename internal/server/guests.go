package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gaspardpetit/gamebridge/internal/channel"
	"github.com/gaspardpetit/gamebridge/internal/iface"
	"github.com/gaspardpetit/gamebridge/internal/logx"
	"github.com/gaspardpetit/gamebridge/internal/message"
	"github.com/gaspardpetit/gamebridge/internal/metrics"
	"github.com/gaspardpetit/gamebridge/internal/xhr"
)

// Transport names used in state and metrics.
const (
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
)

type guest struct {
	id          string
	transport   string
	connectedAt time.Time
	parent      *iface.ParentInterface
	log         zerolog.Logger

	mu       sync.Mutex
	game     string
	height   int
	started  int
	finished int
	lastErr  string

	once    sync.Once
	cleanup func()
	// evict ends the transport when a newer connection takes over the id.
	evict func()
}

func (g *guest) detach() { g.once.Do(g.cleanup) }

func (g *guest) replace() {
	if g.evict != nil {
		g.evict()
	}
	g.detach()
}

// GuestState describes one connected guest.
type GuestState struct {
	ID            string    `json:"id"`
	Transport     string    `json:"transport"`
	ConnectedAt   time.Time `json:"connected_at"`
	Game          string    `json:"game,omitempty"`
	Height        int       `json:"height,omitempty"`
	GamesStarted  int       `json:"games_started"`
	GamesFinished int       `json:"games_finished"`
	LastError     string    `json:"last_error,omitempty"`
}

// State is the snapshot served on /api/state.
type State struct {
	Guests   []GuestState `json:"guests"`
	Inflight int64        `json:"inflight"`
	Draining bool         `json:"draining"`
}

// State returns a snapshot of the connected guests.
func (s *Server) State() State {
	s.mu.Lock()
	gs := make([]*guest, 0, len(s.guests))
	for _, g := range s.guests {
		gs = append(gs, g)
	}
	s.mu.Unlock()

	st := State{Guests: make([]GuestState, 0, len(gs)), Inflight: s.inflight.Load(), Draining: s.inflight.Draining()}
	for _, g := range gs {
		g.mu.Lock()
		st.Guests = append(st.Guests, GuestState{
			ID: g.id, Transport: g.transport, ConnectedAt: g.connectedAt,
			Game: g.game, Height: g.height, GamesStarted: g.started, GamesFinished: g.finished, LastError: g.lastErr,
		})
		g.mu.Unlock()
	}
	return st
}

// attach binds a guest context to the host. The returned guest must be detached once the transport ends.
// evict, when set, is called if a later attach reuses id.
func (s *Server) attach(id, transport string, inbox channel.Inbox, target channel.Target, evict func()) *guest {
	ep := channel.NewEndpoint(inbox, target, channel.WithName("host:"+id))
	g := &guest{
		id:          id,
		transport:   transport,
		connectedAt: time.Now(),
		parent:      iface.NewParentInterface(ep),
		log:         logx.Component("host").With().Str("guest", id).Str("transport", transport).Logger(),
		evict:       evict,
	}

	unregs := []channel.Unregister{
		xhr.Serve(g.parent, s.exec, xhr.WithInflight(s.inflight), xhr.WithContext(s.ctx)),
		g.parent.RegisterGameSettings(func(gs iface.GameSettings) {
			metrics.RecordNotification(iface.KindUpdateGameSettings)
			if s.cfg.CanonicalGameName != "" && gs.CanonicalGameName != s.cfg.CanonicalGameName {
				g.log.Warn().Str("game", gs.CanonicalGameName).Str("expected", s.cfg.CanonicalGameName).Msg("guest announced an unexpected game")
			}
			g.mu.Lock()
			g.game = gs.CanonicalGameName
			g.mu.Unlock()
			g.log.Info().Str("game", gs.CanonicalGameName).Msg("game settings")
		}),
		g.parent.RegisterGameHeight(func(h int) {
			metrics.RecordNotification(iface.KindUpdateGameHeight)
			g.mu.Lock()
			g.height = h
			g.mu.Unlock()
			g.log.Debug().Int("height", h).Msg("game height")
		}),
		g.parent.RegisterError(func(m message.Message) {
			metrics.RecordNotification(iface.KindError)
			var detail any
			_ = m.Decode("error", &detail)
			g.mu.Lock()
			g.lastErr = describe(detail)
			g.mu.Unlock()
			g.log.Warn().Interface("error", detail).Msg("guest reported an error")
		}),
		g.parent.RegisterGeneric(map[string]func(message.Message){
			iface.KindGameLoaded: func(message.Message) {
				metrics.RecordNotification(iface.KindGameLoaded)
				g.log.Info().Msg("game loaded")
			},
			iface.KindGameStarted: func(m message.Message) {
				metrics.RecordNotification(iface.KindGameStarted)
				var ticket string
				_ = m.Decode("ticketId", &ticket)
				g.mu.Lock()
				g.started++
				g.mu.Unlock()
				g.log.Info().Str("ticket_id", ticket).Msg("game started")
			},
			iface.KindGameFinished: func(message.Message) {
				metrics.RecordNotification(iface.KindGameFinished)
				g.mu.Lock()
				g.finished++
				g.mu.Unlock()
				g.log.Info().Msg("game finished")
			},
			iface.KindTicketSettled: func(message.Message) {
				metrics.RecordNotification(iface.KindTicketSettled)
				g.log.Info().Msg("ticket settled")
			},
		}),
	}

	g.cleanup = func() {
		for _, un := range unregs {
			un()
		}
		ep.Close()
		s.mu.Lock()
		if s.guests[id] == g {
			delete(s.guests, id)
		}
		s.mu.Unlock()
		metrics.GuestConnected(transport, -1)
		g.log.Info().Msg("guest disconnected")
	}

	s.mu.Lock()
	prev := s.guests[id]
	s.guests[id] = g
	s.mu.Unlock()
	if prev != nil {
		prev.log.Warn().Msg("guest id reused, dropping previous connection")
		prev.replace()
	}
	metrics.GuestConnected(transport, 1)
	g.log.Info().Msg("guest connected")
	return g
}

func describe(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	case map[string]any:
		if msg, ok := e["message"].(string); ok {
			return msg
		}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if s.inflight.Draining() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		logx.Log.Debug().Err(err).Msg("websocket accept")
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		id = uuid.NewString()
	}
	conn := channel.NewWSConn(c, uuid.NewString(), id)
	g := s.attach(id, TransportWebSocket, conn, conn, func() {
		// the close handshake waits on the peer
		go func() { _ = conn.CloseWith(websocket.StatusPolicyViolation, "replaced by a newer connection") }()
	})
	defer g.detach()

	select {
	case <-conn.Done():
		if err := conn.Err(); err != nil {
			g.log.Debug().Err(err).Msg("guest connection ended")
		}
	case <-s.ctx.Done():
		_ = conn.Close()
	}
}

func (s *Server) lookup(id string) *guest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guests[id]
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.State())
}

// handleCommand forwards prepare, play and demo to a connected guest.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	g := s.lookup(chi.URLParam(r, "id"))
	if g == nil {
		http.Error(w, "unknown guest", http.StatusNotFound)
		return
	}
	switch cmd := chi.URLParam(r, "command"); cmd {
	case "prepare":
		g.parent.PrepareGame()
	case "play":
		g.parent.PlayGame()
	case "demo":
		g.parent.PlayDemoGame()
	default:
		http.Error(w, "unknown command "+cmd, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
