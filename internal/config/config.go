package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	ServerPort int    `env:"PORT" envDefault:"8080"`
	AppEnv     string `env:"APP_ENV" envDefault:"development"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	UpstreamURL   string        `env:"UPSTREAM_URL" envDefault:"http://localhost:5000"`
	LoginURL      string        `env:"LOGIN_URL" envDefault:"/login.html"`
	SessionCookie string        `env:"SESSION_COOKIE" envDefault:"session"`
	ConsoleSecret string        `env:"CONSOLE_SECRET"`
	TokenTTL      time.Duration `env:"CONSOLE_TOKEN_TTL" envDefault:"12h"`
	DatabasePath  string        `env:"DATABASE_PATH" envDefault:"./console.db"`

	RevealDelay  time.Duration `env:"PANEL_REVEAL_DELAY" envDefault:"10ms"`
	DismissDelay time.Duration `env:"PANEL_DISMISS_DELAY" envDefault:"300ms"`
	NoticeTTL    time.Duration `env:"NOTICE_TTL" envDefault:"5s"`
	PanelIdleTTL time.Duration `env:"PANEL_IDLE_TTL" envDefault:"30m"`
	SweepCron    string        `env:"PANEL_SWEEP_CRON" envDefault:"*/5 * * * *"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	DisplayTZ      string   `env:"DISPLAY_TZ" envDefault:"Local"`
}

// IsProduction reports whether the console runs with production settings.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Location resolves DisplayTZ.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.DisplayTZ)
}

// Load reads an optional .env file, then parses environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ConsoleSecret == "" {
		if cfg.IsProduction() {
			return nil, errors.New("CONSOLE_SECRET is required in production")
		}
		cfg.ConsoleSecret = "dev-console-secret"
	}
	if _, err := cfg.Location(); err != nil {
		return nil, fmt.Errorf("DISPLAY_TZ: %w", err)
	}
	return cfg, nil
}
