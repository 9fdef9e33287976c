// Package config loads bridge configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds infrastructure-level configuration for the background
// bridge. Per-dApp permissions live in the session store, not here.
type Config struct {
	// Listen address for the channel and metrics endpoints.
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":7432"`

	// Session store backend: memory or postgres.
	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`
	PostgresDSN  string `envconfig:"POSTGRES_DSN"`

	// Chainweb query client.
	ChainwebTimeout time.Duration `envconfig:"CHAINWEB_TIMEOUT" default:"30s"`

	// Delay between a selected-wallet write and the account-change
	// broadcast, letting the write settle before dependent reads.
	WalletSettleDelay time.Duration `envconfig:"WALLET_SETTLE_DELAY" default:"500ms"`

	// Reported geometry of the browser window popup surfaces anchor
	// to. The bridge cannot observe window bounds itself.
	WindowWidth  int `envconfig:"WINDOW_WIDTH" default:"1920"`
	WindowHeight int `envconfig:"WINDOW_HEIGHT" default:"1080"`

	// Per-domain request rate limiting.
	RateLimitEnabled bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RateLimitRPS     int  `envconfig:"RATE_LIMIT_RPS" default:"25"`
	RateLimitBurst   int  `envconfig:"RATE_LIMIT_BURST" default:"50"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.StoreBackend != "memory" && c.StoreBackend != "postgres" {
		return fmt.Errorf("STORE_BACKEND must be 'memory' or 'postgres', got: %s", c.StoreBackend)
	}

	if c.StoreBackend == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required when STORE_BACKEND is 'postgres'")
	}

	if c.WalletSettleDelay < 0 {
		return fmt.Errorf("WALLET_SETTLE_DELAY must not be negative")
	}

	if c.RateLimitEnabled && c.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive when rate limiting is enabled")
	}

	return nil
}
