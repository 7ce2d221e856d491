// Package gameclient is the API game code uses to buy and settle tickets and
// to report its state to the host.
package gameclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gaspardpetit/gamebridge/internal/iface"
	"github.com/gaspardpetit/gamebridge/internal/legacy"
	"github.com/gaspardpetit/gamebridge/internal/logx"
)

// ID accepts JSON strings as well as numbers.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (i *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*i = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("ticket id: %w", err)
	}
	*i = ID(n.String())
	return nil
}

// Ticket is a purchased or demo ticket.
type Ticket struct {
	ID           ID              `json:"id"`
	ExternalID   ID              `json:"externalId"`
	TicketNumber ID              `json:"ticketNumber,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

// Client issues game requests through legacy style request objects so they
// take the same path as requests made by legacy game code.
type Client struct {
	cfg            Config
	factory        *legacy.Factory
	game           *iface.GameInterface
	heightInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHeightInterval overrides how often TrackGameHeight samples.
func WithHeightInterval(d time.Duration) Option { return func(c *Client) { c.heightInterval = d } }

// New returns a Client. game may be nil if the client never reports state.
func New(cfg Config, factory *legacy.Factory, game *iface.GameInterface, opts ...Option) *Client {
	c := &Client{cfg: cfg, factory: factory, game: game, heightInterval: 100 * time.Millisecond}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BuyTicket buys a ticket. payload may be nil.
func (c *Client) BuyTicket(ctx context.Context, payload any) (*Ticket, error) {
	var t Ticket
	raw, err := c.request(ctx, "POST", c.cfg.Endpoint+"/tickets", payload, &t)
	if err != nil {
		return nil, err
	}
	t.Raw = raw
	return &t, nil
}

// DemoTicket requests a demo ticket. payload may be nil.
func (c *Client) DemoTicket(ctx context.Context, payload any) (*Ticket, error) {
	var t Ticket
	raw, err := c.request(ctx, "POST", c.cfg.Endpoint+"/demo", payload, &t)
	if err != nil {
		return nil, err
	}
	t.Raw = raw
	return &t, nil
}

// SettleTicket settles the ticket with the given id.
func (c *Client) SettleTicket(ctx context.Context, id string) error {
	_, err := c.request(ctx, "POST", c.cfg.Endpoint+"/tickets/"+url.PathEscape(id)+"/settle", nil, nil)
	return err
}

// GameLoaded reports that the game finished loading.
func (c *Client) GameLoaded() {
	if c.game != nil {
		c.game.GameLoaded()
	}
}

// GameStarted reports a started round, carrying the ticket identifiers when known.
func (c *Client) GameStarted(t *Ticket) {
	if c.game == nil {
		return
	}
	var info *iface.TicketInfo
	if t != nil {
		info = &iface.TicketInfo{TicketID: string(t.ID), ExternalID: string(t.ExternalID), TicketNumber: string(t.TicketNumber)}
	}
	c.game.GameStarted(info)
}

func (c *Client) GameFinished() {
	if c.game != nil {
		c.game.GameFinished()
	}
}

func (c *Client) TicketSettled() {
	if c.game != nil {
		c.game.TicketSettled()
	}
}

type outcome struct {
	status int
	text   string
	err    error
}

func (c *Client) request(ctx context.Context, method, target string, payload, out any) (json.RawMessage, error) {
	req := c.factory.New()
	done := make(chan outcome, 1)
	finish := func(o outcome) {
		select {
		case done <- o:
		default:
		}
	}
	req.SetHandler("readystatechange", func(legacy.Event, error) {
		if req.ReadyState() == legacy.Done {
			finish(outcome{status: req.Status(), text: req.ResponseText()})
		}
	})
	req.SetHandler("error", func(_ legacy.Event, err error) {
		if err == nil {
			err = errors.New("request failed")
		}
		finish(outcome{err: err})
	})

	if err := req.Open(method, target); err != nil {
		return nil, err
	}
	req.SetSetting("withCredentials", c.cfg.WithCredentials)
	for k, v := range c.cfg.Headers {
		logx.Log.Debug().Str("header", k).Str("value", logx.Mask(v)).Msg("forward configured header")
		if err := req.SetRequestHeader(k, v); err != nil {
			return nil, err
		}
	}
	var body *string
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		s := string(b)
		body = &s
	}
	if err := req.Send(body); err != nil {
		return nil, err
	}

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if o.err != nil {
		return nil, o.err
	}
	if o.status/100 != 2 {
		return nil, ParseError(o.status, o.text)
	}
	text := o.text
	if text == "" {
		text = "null"
	}
	if out != nil {
		if err := json.Unmarshal([]byte(text), out); err != nil {
			return nil, fmt.Errorf("decode response of %s %s: %w", method, target, err)
		}
	}
	return json.RawMessage(text), nil
}

// HeightProbe returns the current content height in pixels.
type HeightProbe func() int

// TrackGameHeight samples probe periodically and publishes updateGameHeight
// whenever the height moved by more than one pixel. It blocks until ctx ends.
func (c *Client) TrackGameHeight(ctx context.Context, probe HeightProbe) {
	if c.game == nil {
		return
	}
	t := time.NewTicker(c.heightInterval)
	defer t.Stop()
	previous := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h := probe()
			diff := h - previous
			if diff < 0 {
				diff = -diff
			}
			if diff > 1 {
				previous = h
				logx.Log.Debug().Int("height", h).Msg("publishing game height")
				c.game.UpdateGameHeight(h)
			}
		}
	}
}
