package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// GuestConfig holds configuration for the demo guest.
type GuestConfig struct {
	HostURL           string        `yaml:"host_url"`
	Script            string        `yaml:"script"`
	PageURL           string        `yaml:"page_url"`
	CanonicalGameName string        `yaml:"canonical_game_name"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	Demo              bool          `yaml:"demo"`
	Quantity          int           `yaml:"quantity"`
	RedisAddr         string        `yaml:"redis_addr"`
	ConfigFile        string        `yaml:"-"`
	LogLevel          string        `yaml:"log_level"`
}

// SetDefaults initializes c with built-in defaults.
func (c *GuestConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HostURL == "" {
		c.HostURL = "ws://localhost:8080/guest/connect"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.Quantity == 0 {
		c.Quantity = 1
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("guest.yaml")
	}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *GuestConfig) ApplyEnv() {
	if v := GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := GetEnv("HOST_URL", ""); v != "" {
		c.HostURL = v
	}
	if v := GetEnv("GUEST_SCRIPT", ""); v != "" {
		c.Script = v
	}
	if v := GetEnv("PAGE_URL", ""); v != "" {
		c.PageURL = v
	}
	if v := GetEnv("CANONICAL_GAME_NAME", ""); v != "" {
		c.CanonicalGameName = v
	}
	if v := GetEnv("REQUEST_TIMEOUT", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RequestTimeout = time.Duration(f * float64(time.Second))
		}
	}
	if v := GetEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
	if v := GetEnv("DEMO", ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Demo = b
		}
	}
}

// BindFlagsFromCurrent binds command line flags using the current config values as defaults.
func (c *GuestConfig) BindFlagsFromCurrent(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "guest config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.StringVar(&c.HostURL, "host-url", c.HostURL, "host WebSocket URL")
	fs.StringVar(&c.Script, "script", c.Script, "legacy guest script to run; empty buys a ticket through the game client")
	fs.StringVar(&c.PageURL, "page-url", c.PageURL, "page URL the guest pretends to be loaded from")
	fs.StringVar(&c.CanonicalGameName, "canonical-game-name", c.CanonicalGameName, "canonical game name")
	fs.BoolVar(&c.Demo, "demo", c.Demo, "buy a demo ticket instead of a real one")
	fs.IntVar(&c.Quantity, "quantity", c.Quantity, "number of tickets to buy")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL shared with the host for debugging options")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "time to wait for a correlated result")
}

// LoadFile populates the config from a YAML file.
func (c *GuestConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}
