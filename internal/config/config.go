// Package config loads runtime configuration from environment
// variables and the catalog seed file.
package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrInvalidConfig is returned for out-of-range configuration values.
var ErrInvalidConfig = errors.New("config: invalid value")

// Config holds all runtime configuration for the goods market engine.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	CacheTTL    time.Duration `env:"CACHE_TTL" envDefault:"30s"`

	// CatalogFile seeds the item catalog at startup (JSON).
	CatalogFile string `env:"CATALOG_FILE"`

	// Tick cadence and engine tunables.
	TickInterval     time.Duration `env:"TICK_INTERVAL" envDefault:"5m"`
	Sensitivity      float64       `env:"PRICE_SENSITIVITY" envDefault:"0.05"`
	SmoothingEnabled bool          `env:"SMOOTHING_ENABLED" envDefault:"true"`
	SmoothingAlpha   float64       `env:"SMOOTHING_ALPHA" envDefault:"0.5"`
	MaxTickChange    float64       `env:"MAX_TICK_CHANGE" envDefault:"0.25"`
	HistoryRetention int           `env:"HISTORY_RETENTION" envDefault:"288"`
	VetoTimeout      time.Duration `env:"VETO_TIMEOUT" envDefault:"500ms"`

	// Live-inventory pressure signal.
	InventorySignalEnabled bool    `env:"INVENTORY_SIGNAL_ENABLED" envDefault:"false"`
	InventoryBaseline      float64 `env:"INVENTORY_BASELINE" envDefault:"64"`
	InventorySensitivity   float64 `env:"INVENTORY_SENSITIVITY" envDefault:"0.1"`
	InventoryMaxDelta      float64 `env:"INVENTORY_MAX_DELTA" envDefault:"0.05"`

	// Global-storage pressure signal.
	StorageSignalEnabled bool    `env:"STORAGE_SIGNAL_ENABLED" envDefault:"false"`
	StorageBaseline      float64 `env:"STORAGE_BASELINE" envDefault:"10000"`
	StorageSensitivity   float64 `env:"STORAGE_SENSITIVITY" envDefault:"0.05"`
	StorageMaxDelta      float64 `env:"STORAGE_MAX_DELTA" envDefault:"0.05"`

	// HoldingsCapacity caps an owner's total quantity across all
	// items. 0 disables the cap.
	HoldingsCapacity int64 `env:"HOLDINGS_CAPACITY" envDefault:"2304"`

	// HTTP server timeouts.
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// Load reads configuration from the environment, applies defaults, and
// validates values. Invalid configuration is fatal at load time.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: TICK_INTERVAL must be positive", ErrInvalidConfig)
	}
	for name, v := range map[string]float64{
		"PRICE_SENSITIVITY":     c.Sensitivity,
		"SMOOTHING_ALPHA":       c.SmoothingAlpha,
		"MAX_TICK_CHANGE":       c.MaxTickChange,
		"INVENTORY_SENSITIVITY": c.InventorySensitivity,
		"STORAGE_SENSITIVITY":   c.StorageSensitivity,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be finite", ErrInvalidConfig, name)
		}
	}
	if c.SmoothingAlpha < 0 || c.SmoothingAlpha > 1 {
		return fmt.Errorf("%w: SMOOTHING_ALPHA must be in [0, 1]", ErrInvalidConfig)
	}
	if c.HistoryRetention < 1 {
		return fmt.Errorf("%w: HISTORY_RETENTION must be >= 1", ErrInvalidConfig)
	}
	if c.InventorySignalEnabled && c.InventoryBaseline <= 0 {
		return fmt.Errorf("%w: INVENTORY_BASELINE must be positive", ErrInvalidConfig)
	}
	if c.StorageSignalEnabled && c.StorageBaseline <= 0 {
		return fmt.Errorf("%w: STORAGE_BASELINE must be positive", ErrInvalidConfig)
	}
	if c.HoldingsCapacity < 0 {
		return fmt.Errorf("%w: HOLDINGS_CAPACITY must be >= 0", ErrInvalidConfig)
	}
	return nil
}
