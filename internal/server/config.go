// Package server provides configuration helpers that define runtime defaults
// and validation for the Enigma chat relay.
package server

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the relay configuration. RateLimit drives both the number of
// messages admitted per window and the window length in seconds.
type Config struct {
	Host              string   `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port              int      `env:"SERVER_PORT" envDefault:"8000"`
	MaxUsernameLength int      `env:"MAX_USERNAME_LENGTH" envDefault:"20"`
	RateLimit         int      `env:"RATE_LIMIT" envDefault:"15"`
	HandshakeSeconds  int      `env:"HANDSHAKE_TIMEOUT_SECONDS" envDefault:"15"`
	IdleSeconds       int      `env:"IDLE_TIMEOUT_SECONDS" envDefault:"300"`
	StatsSeconds      int      `env:"STATS_INTERVAL_SECONDS" envDefault:"300"`
	WSAddr            string   `env:"WS_ADDR"`
	AllowedOrigins    []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

func defaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8000,
		MaxUsernameLength: 20,
		RateLimit:         15,
		HandshakeSeconds:  15,
		IdleSeconds:       300,
		StatsSeconds:      300,
	}
}

func (c *Config) sanitize() {
	defaults := defaultConfig()
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = defaults.Port
	}
	if c.MaxUsernameLength <= 0 {
		c.MaxUsernameLength = defaults.MaxUsernameLength
	}
	if c.RateLimit <= 0 {
		c.RateLimit = defaults.RateLimit
	}
	if c.HandshakeSeconds <= 0 {
		c.HandshakeSeconds = defaults.HandshakeSeconds
	}
	if c.IdleSeconds <= 0 {
		c.IdleSeconds = defaults.IdleSeconds
	}
	if c.StatsSeconds <= 0 {
		c.StatsSeconds = defaults.StatsSeconds
	}
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from environment variables, falling back
// to defaults for anything unset or out of range.
func NewConfigFromEnv() (*Config, error) {
	cfg := defaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.sanitize()
	return &cfg, nil
}

// Addr returns the host:port the TCP listener binds.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HandshakeTimeout is how long a new connection may take to send its handshake.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeSeconds) * time.Second
}

// IdleTimeout is how long an established session may stay silent.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleSeconds) * time.Second
}

// StatsInterval is the delay between periodic group-count log lines.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsSeconds) * time.Second
}

// RateWindow is the trailing window the rate limiter counts messages in.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit) * time.Second
}
