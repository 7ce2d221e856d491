// Package iface maps the wire verbs exchanged between a guest and its host
// onto typed send and register calls.
package iface

import (
	"github.com/gaspardpetit/gamebridge/internal/channel"
	"github.com/gaspardpetit/gamebridge/internal/logx"
	"github.com/gaspardpetit/gamebridge/internal/message"
)

// Wire verbs.
const (
	KindXHRRequest         = "zig.XMLHttpRequest.request"
	KindXHRResult          = "zig.XMLHttpRequest.result"
	KindUpdateGameSettings = "updateGameSettings"
	KindUpdateGameHeight   = "updateGameHeight"
	KindError              = "error"

	KindGameLoaded       = "gameLoaded"
	KindPrepareGame      = "prepareGame"
	KindPlayGame         = "playGame"
	KindPlayDemoGame     = "playDemoGame"
	KindRequestStartGame = "requestStartGame"
	KindGameStarted      = "gameStarted"
	KindGameFinished     = "gameFinished"
	KindTicketSettled    = "ticketSettled"
)

// Payload members.
const (
	memberRequest  = "request"
	memberResult   = "result"
	memberSettings = "gameSettings"
	memberHeight   = "height"
	memberError    = "error"
)

// register decodes member of every kind message into a fresh T before calling fn.
func register[T any](ep *channel.Endpoint, kind, member string, fn func(T)) channel.Unregister {
	return ep.Register(kind, func(m message.Message) {
		var v T
		if err := m.Decode(member, &v); err != nil {
			logx.Log.Warn().Err(err).Str("type", kind).Msg("dropping undecodable payload")
			return
		}
		fn(v)
	})
}

func send(ep *channel.Endpoint, kind, member string, payload any) {
	m, err := message.New(kind, member, payload)
	if err != nil {
		logx.Log.Warn().Err(err).Str("type", kind).Msg("encode payload")
		return
	}
	ep.Send(m)
}

// registerGeneric registers every handler and returns one Unregister for all of them.
func registerGeneric(ep *channel.Endpoint, handlers map[string]func(message.Message)) channel.Unregister {
	uns := make([]channel.Unregister, 0, len(handlers))
	for kind, fn := range handlers {
		uns = append(uns, ep.Register(kind, channel.Handler(fn)))
	}
	return func() {
		for _, u := range uns {
			u()
		}
	}
}

// GameInterface is used by guest code to talk to its host.
type GameInterface struct {
	ep            *channel.Endpoint
	canonicalName string
}

// NewGameInterface wraps ep. canonicalName is stamped onto settings updates.
func NewGameInterface(ep *channel.Endpoint, canonicalName string) *GameInterface {
	return &GameInterface{ep: ep, canonicalName: canonicalName}
}

// Endpoint returns the wrapped endpoint.
func (g *GameInterface) Endpoint() *channel.Endpoint { return g.ep }

// CanonicalGameName returns the configured canonical game name.
func (g *GameInterface) CanonicalGameName() string { return g.canonicalName }

// XHRRequest asks the host to perform req.
func (g *GameInterface) XHRRequest(req WithCID[Request]) {
	send(g.ep, KindXHRRequest, memberRequest, req)
}

// RegisterXHRResult listens for correlated results.
func (g *GameInterface) RegisterXHRResult(fn func(WithCID[Result])) channel.Unregister {
	return register(g.ep, KindXHRResult, memberResult, fn)
}

// UpdateGameSettings publishes settings stamped with the canonical game name.
func (g *GameInterface) UpdateGameSettings(s GameSettings) {
	if s.CanonicalGameName == "" {
		s.CanonicalGameName = g.canonicalName
	}
	send(g.ep, KindUpdateGameSettings, memberSettings, s)
}

// UpdateGameHeight publishes the current content height in pixels.
func (g *GameInterface) UpdateGameHeight(height int) {
	send(g.ep, KindUpdateGameHeight, memberHeight, height)
}

// SendError forwards an error description to the host.
func (g *GameInterface) SendError(err any) {
	if e, ok := err.(error); ok {
		err = e.Error()
	}
	send(g.ep, KindError, memberError, err)
}

// GameLoaded announces that the game finished loading.
func (g *GameInterface) GameLoaded() { send(g.ep, KindGameLoaded, "", nil) }

// GameStarted announces a started game, optionally with ticket details.
func (g *GameInterface) GameStarted(info *TicketInfo) {
	m := message.Message{Type: KindGameStarted}
	if info != nil {
		if info.TicketID != "" {
			_ = m.Set("ticketId", info.TicketID)
		}
		if info.ExternalID != "" {
			_ = m.Set("externalId", info.ExternalID)
		}
		if info.TicketNumber != "" {
			_ = m.Set("ticketNumber", info.TicketNumber)
		}
	}
	g.Send(m)
}

// GameFinished announces the end of a game round.
func (g *GameInterface) GameFinished() { send(g.ep, KindGameFinished, "", nil) }

// TicketSettled announces that a ticket was settled.
func (g *GameInterface) TicketSettled() { send(g.ep, KindTicketSettled, "", nil) }

// Send posts an arbitrary message upward.
func (g *GameInterface) Send(m message.Message) { g.ep.Send(m) }

// RegisterGeneric registers raw handlers keyed by verb.
func (g *GameInterface) RegisterGeneric(handlers map[string]func(message.Message)) channel.Unregister {
	return registerGeneric(g.ep, handlers)
}

// ParentInterface is used by host code to talk to an embedded guest.
type ParentInterface struct {
	ep *channel.Endpoint
}

// NewParentInterface wraps ep.
func NewParentInterface(ep *channel.Endpoint) *ParentInterface {
	return &ParentInterface{ep: ep}
}

// Endpoint returns the wrapped endpoint.
func (p *ParentInterface) Endpoint() *channel.Endpoint { return p.ep }

// RegisterXHRRequest listens for requests from the guest.
func (p *ParentInterface) RegisterXHRRequest(fn func(WithCID[Request])) channel.Unregister {
	return register(p.ep, KindXHRRequest, memberRequest, fn)
}

// XHRResult answers a request.
func (p *ParentInterface) XHRResult(res WithCID[Result]) {
	send(p.ep, KindXHRResult, memberResult, res)
}

// PrepareGame tells the guest to prepare a round.
func (p *ParentInterface) PrepareGame() { send(p.ep, KindPrepareGame, "", nil) }

// PlayGame tells the guest to start a paid round.
func (p *ParentInterface) PlayGame() { send(p.ep, KindPlayGame, "", nil) }

// PlayDemoGame tells the guest to start a demo round.
func (p *ParentInterface) PlayDemoGame() { send(p.ep, KindPlayDemoGame, "", nil) }

// RegisterGameSettings listens for settings updates.
func (p *ParentInterface) RegisterGameSettings(fn func(GameSettings)) channel.Unregister {
	return register(p.ep, KindUpdateGameSettings, memberSettings, fn)
}

// RegisterGameHeight listens for height updates.
func (p *ParentInterface) RegisterGameHeight(fn func(int)) channel.Unregister {
	return register(p.ep, KindUpdateGameHeight, memberHeight, fn)
}

// RegisterError listens for errors reported by the guest. The payload is kept raw
// because guests send strings as well as objects.
func (p *ParentInterface) RegisterError(fn func(message.Message)) channel.Unregister {
	return p.ep.Register(KindError, channel.Handler(fn))
}

// Send posts an arbitrary message downward.
func (p *ParentInterface) Send(m message.Message) { p.ep.Send(m) }

// RegisterGeneric registers raw handlers keyed by verb.
func (p *ParentInterface) RegisterGeneric(handlers map[string]func(message.Message)) channel.Unregister {
	return registerGeneric(p.ep, handlers)
}
