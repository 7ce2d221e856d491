package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// HostConfig holds configuration for the gamebridge host.
type HostConfig struct {
	Port              int           `yaml:"port"`
	MetricsAddr       string        `yaml:"metrics_addr"`
	UpstreamURL       string        `yaml:"upstream_url"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	DrainTimeout      time.Duration `yaml:"drain_timeout"`
	RedisAddr         string        `yaml:"redis_addr"`
	NATSURL           string        `yaml:"nats_url"`
	NATSGuests        []string      `yaml:"nats_guests"`
	CanonicalGameName string        `yaml:"canonical_game_name"`
	RateLimit         float64       `yaml:"rate_limit"`
	ConfigFile        string        `yaml:"-"`
	LogLevel          string        `yaml:"log_level"`
}

// SetDefaults initializes c with built-in defaults.
func (c *HostConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("host.yaml")
	}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *HostConfig) ApplyEnv() {
	if v := GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := GetEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := GetEnv("METRICS_PORT", ""); v != "" {
		if strings.Contains(v, ":") {
			c.MetricsAddr = v
		} else {
			c.MetricsAddr = ":" + v
		}
	} else if c.MetricsAddr == "" {
		c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
	}
	if v := GetEnv("UPSTREAM_URL", ""); v != "" {
		c.UpstreamURL = v
	}
	if v := GetEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := GetEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
	if v := GetEnv("NATS_URL", ""); v != "" {
		c.NATSURL = v
	}
	if v := GetEnv("NATS_GUESTS", ""); v != "" {
		c.NATSGuests = splitComma(v)
	}
	if v := GetEnv("REQUEST_TIMEOUT", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RequestTimeout = time.Duration(f * float64(time.Second))
		}
	}
	if v := GetEnv("DRAIN_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DrainTimeout = d
		}
	}
	if v := GetEnv("CANONICAL_GAME_NAME", ""); v != "" {
		c.CanonicalGameName = v
	}
	if v := GetEnv("RATE_LIMIT", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateLimit = f
		}
	}
}

// BindFlagsFromCurrent binds command line flags using the current config values as defaults.
func (c *HostConfig) BindFlagsFromCurrent(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "host config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP listen port for guest connections")
	fs.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port; defaults to the value of --port")
	fs.StringVar(&c.UpstreamURL, "upstream-url", c.UpstreamURL, "base URL guest requests are executed against")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for the options store; empty uses memory")
	fs.StringVar(&c.NATSURL, "nats-url", c.NATSURL, "NATS server URL for guests connected over NATS")
	fs.StringVar(&c.CanonicalGameName, "canonical-game-name", c.CanonicalGameName, "canonical game name used for URL rewriting and settings")
	fs.Float64Var(&c.RateLimit, "rate-limit", c.RateLimit, "maximum upstream requests per second (0 disables)")
	fs.Func("request-timeout", "upstream request timeout in seconds", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.RequestTimeout = time.Duration(f * float64(time.Second))
		return nil
	})
	fs.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "time to wait for in-flight requests on shutdown (-1 to wait indefinitely, 0 to exit immediately)")
	fs.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
	fs.Func("nats-guests", "comma separated guest context ids served over NATS", func(v string) error {
		c.NATSGuests = splitComma(v)
		return nil
	})
}

// LoadFile populates the config from a YAML file.
func (c *HostConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}
