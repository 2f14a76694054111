package sniper

import (
	"github.com/hazyhaar/snipebot/sniper/internal/config"
)

// Config is the top-level snipebot configuration. Re-exported from internal.
type Config = config.Config

// VenueConfig points the HTTP client at the venue.
type VenueConfig = config.VenueConfig

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// SniperConfig controls the scanner and the buy dispatcher.
type SniperConfig = config.SniperConfig

// WorkerConfig controls the liquidation workers.
type WorkerConfig = config.WorkerConfig

// ChurnConfig controls the random buy/sell loop.
type ChurnConfig = config.ChurnConfig

// ControlConfig configures the control surface.
type ControlConfig = config.ControlConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
