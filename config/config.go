// Package config reads the courtside configuration from the environment.
// A .env file in the working directory is loaded first when present;
// variables already set in the process win over it.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/wricardo/courtside/realtime"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the complete courtside configuration.
type Config struct {
	// APIURL is the REST base URL of the booking backend.
	APIURL string `env:"COURTSIDE_API_URL" envDefault:"http://localhost:8000"`
	// Origin is the page origin the push channels are served from. Empty
	// means APIURL.
	Origin      string        `env:"COURTSIDE_ORIGIN"`
	HTTPTimeout time.Duration `env:"COURTSIDE_HTTP_TIMEOUT" envDefault:"10s"`
	TokenFile   string        `env:"COURTSIDE_TOKEN_FILE"`

	ReconnectDelay       time.Duration `env:"COURTSIDE_RECONNECT_DELAY" envDefault:"3s"`
	MaxReconnectAttempts int           `env:"COURTSIDE_MAX_RECONNECT_ATTEMPTS" envDefault:"5"`

	Debug       bool   `env:"COURTSIDE_DEBUG"`
	MetricsAddr string `env:"COURTSIDE_METRICS_ADDR"`

	DevServer DevServer `envPrefix:"COURTSIDE_DEV_"`
	Ngrok     Ngrok     `envPrefix:"NGROK_"`
}

// DevServer configures the in-memory stand-in backend.
type DevServer struct {
	Addr      string        `env:"ADDR" envDefault:"localhost:8000"`
	JWTSecret string        `env:"JWT_SECRET" envDefault:"courtside-dev-secret"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
}

// Ngrok configures the optional public tunnel for the dev server.
type Ngrok struct {
	Enabled   bool   `env:"ENABLED"`
	AuthToken string `env:"AUTHTOKEN"`
	Domain    string `env:"DOMAIN"`
}

// Load reads .env (if any) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg.normalize()
}

// LoadFrom reads the configuration from environ only.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.normalize()
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c Config) normalize() (Config, error) {
	if err := checkURL("COURTSIDE_API_URL", c.APIURL); err != nil {
		return Config{}, err
	}
	if c.Origin == "" {
		c.Origin = c.APIURL
	}
	if err := checkURL("COURTSIDE_ORIGIN", c.Origin); err != nil {
		return Config{}, err
	}
	if c.MaxReconnectAttempts < 0 {
		return Config{}, fmt.Errorf("%w: COURTSIDE_MAX_RECONNECT_ATTEMPTS must not be negative", ErrInvalid)
	}
	if c.ReconnectDelay <= 0 {
		return Config{}, fmt.Errorf("%w: COURTSIDE_RECONNECT_DELAY must be positive", ErrInvalid)
	}
	if c.TokenFile == "" {
		c.TokenFile = defaultTokenFile()
	}
	return c, nil
}

func checkURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: %s %q is not an absolute URL", ErrInvalid, name, raw)
	}
	return nil
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "courtside", "tokens.json")
}

// ReconnectPolicy is the channel policy this configuration describes.
func (c Config) ReconnectPolicy() realtime.ReconnectPolicy {
	return realtime.ReconnectPolicy{
		Delay:       c.ReconnectDelay,
		MaxAttempts: c.MaxReconnectAttempts,
	}
}
