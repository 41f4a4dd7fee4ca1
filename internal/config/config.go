package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type AppConfig struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	AuthJWTSecret string `env:"AUTH_JWT_SECRET"`
	AuthIssuer    string `env:"AUTH_ISSUER"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`

	DefaultTurnSec    int           `env:"DEFAULT_TURN_SEC" envDefault:"30"`
	PreparationSec    int           `env:"PREPARATION_SEC" envDefault:"0"`
	PresenceStaleSec  int           `env:"PRESENCE_STALE_SEC" envDefault:"12"`
	RejoinWindowSec   int           `env:"REJOIN_WINDOW_SEC" envDefault:"60"`
	TurnTimerEnforced bool          `env:"TURN_TIMER_ENFORCED" envDefault:"true"`
	BattleTTL         time.Duration `env:"BATTLE_TTL" envDefault:"720h"`
	StartingHP        int           `env:"STARTING_HP" envDefault:"8000"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`

	MessagesDir string `env:"MESSAGES_DIR"`
	CardsFile   string `env:"CARDS_FILE"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	AdminUserIDs   []string `env:"ADMIN_USER_IDS" envSeparator:","`
}

// Load parses the environment and checks values the server cannot start without.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.AuthJWTSecret == "" {
		return nil, errors.New("AUTH_JWT_SECRET is required")
	}
	return cfg, nil
}

// LoadJob is the reduced loader used by one-shot jobs that only need Postgres.
func LoadJob() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *AppConfig) normalize() {
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.AuthJWTSecret = strings.TrimSpace(c.AuthJWTSecret)
	c.WebhookSecret = strings.TrimSpace(c.WebhookSecret)
	c.MessagesDir = strings.TrimSpace(c.MessagesDir)
	c.CardsFile = strings.TrimSpace(c.CardsFile)

	c.AllowedOrigins = trimList(c.AllowedOrigins)
	c.AdminUserIDs = trimList(c.AdminUserIDs)

	if c.DefaultTurnSec <= 0 {
		c.DefaultTurnSec = 30
	}
	if c.PreparationSec < 0 {
		c.PreparationSec = 0
	}
	if c.PresenceStaleSec <= 0 {
		c.PresenceStaleSec = 12
	}
	if c.RejoinWindowSec <= 0 {
		c.RejoinWindowSec = 60
	}
	if c.StartingHP <= 0 {
		c.StartingHP = 8000
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = 10
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 20
	}
}

func trimList(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}
