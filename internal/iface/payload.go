package iface

import (
	"encoding/json"
	"net/http"
)

// Request is an HTTP request a guest asks its host to perform.
type Request struct {
	Method        string            `json:"method"`
	Path          string            `json:"path"`
	Headers       map[string]string `json:"headers"`
	Body          *string           `json:"body"`
	ExtraSettings map[string]any    `json:"extraSettings,omitempty"`
}

// Response is the outcome of a performed request. Raw is a live handle that
// only exists on the executing side and is never serialized.
type Response struct {
	StatusCode int            `json:"statusCode"`
	Body       string         `json:"body"`
	Raw        *http.Response `json:"-"`
}

// Result carries either a Response or an error description.
type Result struct {
	Response *Response `json:"response,omitempty"`
	Error    *string   `json:"error,omitempty"`
}

// WithCID pairs a payload with its correlation id.
type WithCID[T any] struct {
	CID  string `json:"cid"`
	Data T      `json:"data"`
}

// GameSettings describes how the embedding page should frame the game.
type GameSettings struct {
	CanonicalGameName string          `json:"canonicalGameName,omitempty"`
	Index             string          `json:"index,omitempty"`
	LegacyGame        bool            `json:"legacyGame,omitempty"`
	AspectRatio       float64         `json:"aspectRatio,omitempty"`
	ClockStyle        json.RawMessage `json:"clockStyle,omitempty"`
}

// TicketInfo identifies a purchased ticket on gameStarted.
type TicketInfo struct {
	TicketID     string `json:"ticketId,omitempty"`
	ExternalID   string `json:"externalId,omitempty"`
	TicketNumber string `json:"ticketNumber,omitempty"`
}
