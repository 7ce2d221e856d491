package server

import (
	"encoding/json"
	"net/http"

	"github.com/gaspardpetit/gamebridge/internal/logx"
	"github.com/gaspardpetit/gamebridge/internal/options"
)

type optionsView struct {
	Logging              bool                          `json:"logging"`
	Version              string                        `json:"version"`
	DisableAudioContext  bool                          `json:"disableAudioContext"`
	WinningClassOverride *options.WinningClassOverride `json:"winningClassOverride,omitempty"`
	LocaleOverride       string                        `json:"localeOverride,omitempty"`
	DebuggingLayer       bool                          `json:"debuggingLayer"`
}

func (s *Server) handleGetOptions(w http.ResponseWriter, r *http.Request) {
	if s.opts == nil {
		http.Error(w, "options store not configured", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, optionsView{
		Logging:              s.opts.Logging(),
		Version:              s.opts.Version(),
		DisableAudioContext:  s.opts.DisableAudioContext(),
		WinningClassOverride: s.opts.WinningClassOverride(),
		LocaleOverride:       s.opts.LocaleOverride(),
		DebuggingLayer:       s.opts.DebuggingLayer(),
	})
}

func (s *Server) handlePutOverride(w http.ResponseWriter, r *http.Request) {
	if s.opts == nil {
		http.Error(w, "options store not configured", http.StatusNotFound)
		return
	}
	var o options.WinningClassOverride
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		http.Error(w, "invalid override: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.opts.SetWinningClassOverride(&o); err != nil {
		logx.Log.Error().Err(err).Msg("store winning class override")
		http.Error(w, "store override", http.StatusInternalServerError)
		return
	}
	logx.Log.Info().Int("winning_class", o.WinningClass).Int("scenario_id", o.ScenarioID).Msg("winning class override set")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	if s.opts == nil {
		http.Error(w, "options store not configured", http.StatusNotFound)
		return
	}
	if err := s.opts.SetWinningClassOverride(nil); err != nil {
		logx.Log.Error().Err(err).Msg("clear winning class override")
		http.Error(w, "clear override", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
