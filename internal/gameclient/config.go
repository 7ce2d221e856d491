package gameclient

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// Config is passed to the game in the base64 encoded config query parameter.
type Config struct {
	Endpoint          string            `json:"endpoint"`
	Headers           map[string]string `json:"headers"`
	WithCredentials   bool              `json:"withCredentials"`
	CanonicalGameName string            `json:"canonicalGameName"`
	ClientTimeOffset  int64             `json:"clientTimeOffsetInMillis,omitempty"`
}

var configParam = regexp.MustCompile(`\?.*\bconfig=([a-zA-Z0-9+/_-]+=*)`)

// ParseConfig extracts the game config from the page URL.
func ParseConfig(rawURL string) (Config, error) {
	m := configParam.FindStringSubmatch(rawURL)
	if m == nil {
		return Config{}, errors.New("no config parameter found")
	}
	raw, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		if raw, err = base64.URLEncoding.DecodeString(m[1]); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	var cfg *Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg == nil {
		return Config{}, errors.New("config is empty")
	}
	if cfg.Endpoint == "" {
		return Config{}, errors.New("endpoint not set in config")
	}
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}
	return *cfg, nil
}

// EncodeConfig returns the query parameter value for cfg.
func EncodeConfig(cfg Config) (string, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
