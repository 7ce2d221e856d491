package options

import (
	"encoding/json"

	"github.com/gaspardpetit/gamebridge/internal/logx"
)

// Keys as stored in the KV.
const (
	KeyLogging              = "logging"
	KeyVersion              = "version"
	KeyDisableAudioContext  = "disableAudioContext"
	KeyWinningClassOverride = "winning-class-override"
	KeyLocaleOverride       = "locale-override"
)

// WinningClassOverride forces the outcome of demo tickets.
type WinningClassOverride struct {
	WinningClass int `json:"winningClass"`
	ScenarioID   int `json:"scenarioId"`
}

// Options exposes typed accessors over a KV.
type Options struct {
	kv KV
}

// New wraps kv.
func New(kv KV) *Options { return &Options{kv: kv} }

func (o *Options) get(key string, v any) bool {
	raw, ok := o.kv.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		logx.Log.Debug().Err(err).Str("key", key).Msg("ignoring unparsable option")
		return false
	}
	return true
}

func (o *Options) set(key string, v any) error { return o.kv.Set(key, v) }

// Logging reports whether verbose guest logging was requested.
func (o *Options) Logging() bool {
	var b bool
	return o.get(KeyLogging, &b) && b
}

// SetLogging stores the logging flag.
func (o *Options) SetLogging(v bool) error { return o.set(KeyLogging, v) }

// Version returns the pinned client version, or "".
func (o *Options) Version() string {
	var s string
	o.get(KeyVersion, &s)
	return s
}

// SetVersion pins a client version. "" clears it.
func (o *Options) SetVersion(v string) error {
	if v == "" {
		return o.set(KeyVersion, nil)
	}
	return o.set(KeyVersion, v)
}

// DisableAudioContext defaults to true unless explicitly set to false.
func (o *Options) DisableAudioContext() bool {
	var b bool
	if !o.get(KeyDisableAudioContext, &b) {
		return true
	}
	return b
}

// SetDisableAudioContext stores the audio flag.
func (o *Options) SetDisableAudioContext(v bool) error { return o.set(KeyDisableAudioContext, v) }

// WinningClassOverride returns the configured override or nil.
func (o *Options) WinningClassOverride() *WinningClassOverride {
	var w WinningClassOverride
	if !o.get(KeyWinningClassOverride, &w) {
		return nil
	}
	return &w
}

// SetWinningClassOverride stores w. nil clears it.
func (o *Options) SetWinningClassOverride(w *WinningClassOverride) error {
	if w == nil {
		return o.set(KeyWinningClassOverride, nil)
	}
	return o.set(KeyWinningClassOverride, w)
}

// LocaleOverride returns the forced locale, or "".
func (o *Options) LocaleOverride() string {
	var s string
	o.get(KeyLocaleOverride, &s)
	return s
}

// SetLocaleOverride forces a locale. "" clears it.
func (o *Options) SetLocaleOverride(locale string) error {
	if locale == "" {
		return o.set(KeyLocaleOverride, nil)
	}
	return o.set(KeyLocaleOverride, locale)
}

// DebuggingLayer reports whether any debugging option is active.
func (o *Options) DebuggingLayer() bool {
	return o.Logging() || o.Version() != "" || o.WinningClassOverride() != nil || o.LocaleOverride() != ""
}
