package server

import (
	_ "embed"
	"net/http"
)

// statusHTML polls /api/state and renders the connected guests.
//
//go:embed status.html
var statusHTML []byte

func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(statusHTML)
}
