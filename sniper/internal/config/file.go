// Package config handles snipebot configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level snipebot configuration.
type Config struct {
	Venue   VenueConfig   `yaml:"venue"`
	Browser BrowserConfig `yaml:"browser"`
	Sniper  SniperConfig  `yaml:"sniper"`
	Worker  WorkerConfig  `yaml:"worker"`
	Churn   ChurnConfig   `yaml:"churn"`
	Control ControlConfig `yaml:"control"`
	Journal JournalConfig `yaml:"journal"`
	Status  StatusConfig  `yaml:"status"`
}

// VenueConfig points the HTTP client at the venue.
type VenueConfig struct {
	BaseURL          string        `yaml:"base_url"`
	UserAgent        string        `yaml:"user_agent"`
	Timeout          time.Duration `yaml:"timeout"`
	HoldersLimit     int           `yaml:"holders_limit"`
	RecentLimit      int           `yaml:"recent_limit"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	SourceProfile    string        `yaml:"source_profile"`
	TempDir          string        `yaml:"temp_dir"`
	Bin              string        `yaml:"bin"`
	Headless         bool          `yaml:"headless"` // main session after login
	WorkerHeadful    bool          `yaml:"worker_headful"`
	Xvfb             bool          `yaml:"xvfb"`
	XvfbDisplay      string        `yaml:"xvfb_display"`
	WindowSize       string        `yaml:"window_size"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	StepTimeout      time.Duration `yaml:"step_timeout"`
}

// SniperConfig controls the scanner and the buy dispatcher.
type SniperConfig struct {
	BuyAmount    string        `yaml:"buy_amount"`  // fixed currency amount
	BuyPercent   string        `yaml:"buy_percent"` // "25%", used when buy_amount is empty
	MinAmount    float64       `yaml:"min_amount"`
	TradePath    string        `yaml:"trade_path"` // auto | api | ui
	ScanInterval time.Duration `yaml:"scan_interval"`
	ScanBackoff  time.Duration `yaml:"scan_backoff"`
	NoPrime      bool          `yaml:"no_prime"`
	DispatchIdle time.Duration `yaml:"dispatch_idle"`
}

// WorkerConfig controls the per-asset liquidation workers.
type WorkerConfig struct {
	MonitorDuration time.Duration `yaml:"monitor_duration"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PreSellPause    time.Duration `yaml:"pre_sell_pause"`
	SellPause       time.Duration `yaml:"sell_pause"`
	MaxAttempts     int           `yaml:"max_attempts"`
	Fraction        float64       `yaml:"fraction"`
}

// ChurnConfig controls the random buy/sell loop.
type ChurnConfig struct {
	Symbol   string        `yaml:"symbol"`
	MaxBuy   float64       `yaml:"max_buy"`
	Interval time.Duration `yaml:"interval"`
	Pause    time.Duration `yaml:"pause"`
}

// ControlConfig configures the HTTP and MCP control surface.
type ControlConfig struct {
	Addr      string `yaml:"addr"`
	TokenHash string `yaml:"token_hash"` // bcrypt hash of the bearer token; empty disables auth
	MCP       bool   `yaml:"mcp"`

	// TradeLimit caps trade requests (manual trade, sell-all, start) per
	// client per minute.
	TradeLimit int   `yaml:"trade_limit"`
	MaxBody    int64 `yaml:"max_body"`

	// ConfigReload re-reads the config file on change and applies the buy
	// sizing and churn budget without a restart.
	ConfigReload bool `yaml:"config_reload"`
}

// JournalConfig configures the SQLite journal.
type JournalConfig struct {
	Path              string        `yaml:"path"`
	RetentionDays     int           `yaml:"retention_days"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MetricsBuffer     int           `yaml:"metrics_buffer"`
	MetricsFlush      time.Duration `yaml:"metrics_flush"`
}

// StatusConfig configures the status channel and its sinks.
type StatusConfig struct {
	Buffer          int    `yaml:"buffer"`
	History         int    `yaml:"history"`
	Stdout          bool   `yaml:"stdout"`
	Webhook         string `yaml:"webhook"`
	WebhookMinLevel string `yaml:"webhook_min_level"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Venue.BaseURL == "" {
		c.Venue.BaseURL = "https://rugplay.com"
	}
	if c.Venue.Timeout <= 0 {
		c.Venue.Timeout = 15 * time.Second
	}
	if c.Venue.HoldersLimit <= 0 {
		c.Venue.HoldersLimit = 50
	}
	if c.Venue.RecentLimit <= 0 {
		c.Venue.RecentLimit = 50
	}
	if c.Venue.BreakerThreshold <= 0 {
		c.Venue.BreakerThreshold = 5
	}
	if c.Venue.BreakerReset <= 0 {
		c.Venue.BreakerReset = 10 * time.Second
	}

	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.WindowSize == "" {
		c.Browser.WindowSize = "1280,720"
	}
	if c.Browser.StepTimeout <= 0 {
		c.Browser.StepTimeout = 15 * time.Second
	}

	if c.Sniper.MinAmount <= 0 {
		c.Sniper.MinAmount = 1
	}
	if c.Sniper.TradePath == "" {
		c.Sniper.TradePath = "auto"
	}
	if c.Sniper.ScanInterval <= 0 {
		c.Sniper.ScanInterval = 500 * time.Millisecond
	}
	if c.Sniper.ScanBackoff <= 0 {
		c.Sniper.ScanBackoff = 2 * time.Second
	}
	if c.Sniper.DispatchIdle <= 0 {
		c.Sniper.DispatchIdle = 200 * time.Millisecond
	}

	if c.Worker.MonitorDuration <= 0 {
		c.Worker.MonitorDuration = 180 * time.Second
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = time.Second
	}
	if c.Worker.PreSellPause <= 0 {
		c.Worker.PreSellPause = time.Second
	}
	if c.Worker.SellPause <= 0 {
		c.Worker.SellPause = time.Second
	}
	if c.Worker.MaxAttempts <= 0 {
		c.Worker.MaxAttempts = 10
	}
	if c.Worker.Fraction <= 0 || c.Worker.Fraction > 1 {
		c.Worker.Fraction = 0.80
	}

	if c.Churn.MaxBuy <= 0 {
		c.Churn.MaxBuy = 10
	}
	if c.Churn.Interval <= 0 {
		c.Churn.Interval = time.Second
	}
	if c.Churn.Pause <= 0 {
		c.Churn.Pause = 2 * time.Second
	}

	if c.Control.Addr == "" {
		c.Control.Addr = "127.0.0.1:8420"
	}
	if c.Control.TradeLimit <= 0 {
		c.Control.TradeLimit = 30
	}
	if c.Control.MaxBody <= 0 {
		c.Control.MaxBody = 64 * 1024
	}

	if c.Journal.Path == "" {
		c.Journal.Path = "snipebot.db"
	}
	if c.Journal.RetentionDays <= 0 {
		c.Journal.RetentionDays = 30
	}
	if c.Journal.HeartbeatInterval <= 0 {
		c.Journal.HeartbeatInterval = 15 * time.Second
	}
	if c.Journal.MetricsBuffer <= 0 {
		c.Journal.MetricsBuffer = 256
	}
	if c.Journal.MetricsFlush <= 0 {
		c.Journal.MetricsFlush = 10 * time.Second
	}

	if c.Status.Buffer <= 0 {
		c.Status.Buffer = 256
	}
	if c.Status.History <= 0 {
		c.Status.History = 500
	}
	if c.Status.WebhookMinLevel == "" {
		c.Status.WebhookMinLevel = "warn"
	}
}
