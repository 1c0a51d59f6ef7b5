// Package config defines all configuration for the strike-market engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via STRIKE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Symbol    string          `mapstructure:"symbol"` // underlying symbol, e.g. "BTC-USD"
	Mode      string          `mapstructure:"mode"`   // "demo" or "prod" — selects broker base URLs
	DryRun    bool            `mapstructure:"dry_run"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Store     StoreConfig     `mapstructure:"store"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	AutoEntry AutoEntryConfig `mapstructure:"auto_entry"`
	AutoStop  AutoStopConfig  `mapstructure:"auto_stop"`
	Prefs     TradePrefs      `mapstructure:"trade_prefs"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	API       APIConfig       `mapstructure:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BrokerConfig holds endpoints and signing credentials for the broker.
// Every REST and WebSocket request is signed RSA-PSS over ts‖METHOD‖path
// with the key at PrivateKeyPath; KeyID goes in the KEY header.
type BrokerConfig struct {
	RESTBaseURL    string `mapstructure:"rest_base_url"`
	WSURL          string `mapstructure:"ws_url"`
	DemoRESTURL    string `mapstructure:"demo_rest_base_url"`
	DemoWSURL      string `mapstructure:"demo_ws_url"`
	KeyID          string `mapstructure:"key_id"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	SeriesPrefix   string `mapstructure:"series_prefix"` // hourly event family, e.g. "KXBTCD"
}

// RESTURL returns the REST base URL for the given account mode.
func (b BrokerConfig) RESTURL(mode string) string {
	if mode == "demo" && b.DemoRESTURL != "" {
		return b.DemoRESTURL
	}
	return b.RESTBaseURL
}

// WSEndpoint returns the WebSocket URL for the given account mode.
func (b BrokerConfig) WSEndpoint(mode string) string {
	if mode == "demo" && b.DemoWSURL != "" {
		return b.DemoWSURL
	}
	return b.WSURL
}

// FeedConfig covers the public price ticker and the orderbook consumer.
type FeedConfig struct {
	TickerURL     string        `mapstructure:"ticker_url"`
	SnapshotEvery time.Duration `mapstructure:"snapshot_poll_interval"` // market snapshot cadence
	BookContracts int           `mapstructure:"book_contracts"`         // near-the-money contracts to subscribe
	ResubEvery    time.Duration `mapstructure:"book_resubscribe_interval"`
}

// StoreConfig selects the relational store. DSN may be a sqlite file path or
// a postgres:// URL (STRIKE_DB_DSN overrides).
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ArtifactsConfig sets where the UI-facing JSON artifacts are written.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir"`
}

// AutoEntryConfig holds the auto-entry supervisor settings. All fields are
// required: a missing required setting disables the supervisor entirely
// (reported as DISABLED) rather than silently defaulting. Pointer fields
// distinguish "absent" from zero.
type AutoEntryConfig struct {
	Enabled         *bool    `mapstructure:"enabled"`
	MinProbability  *float64 `mapstructure:"min_probability"`
	MinDifferential *float64 `mapstructure:"min_differential"`
	MinTime         *int     `mapstructure:"min_time"` // TTC window, seconds
	MaxTime         *int     `mapstructure:"max_time"`
	AllowReEntry    *bool    `mapstructure:"allow_re_entry"`

	SpikeAlertEnabled           *bool    `mapstructure:"spike_alert_enabled"`
	SpikeAlertMomentumThreshold *float64 `mapstructure:"spike_alert_momentum_threshold"`
	SpikeAlertCooldownThreshold *float64 `mapstructure:"spike_alert_cooldown_threshold"`
	SpikeAlertCooldownMinutes   *float64 `mapstructure:"spike_alert_cooldown_minutes"`
}

// Missing returns the names of required auto-entry settings that are absent.
// A non-empty result forces the supervisor into DISABLED.
func (a AutoEntryConfig) Missing() []string {
	var missing []string
	req := []struct {
		name string
		ok   bool
	}{
		{"enabled", a.Enabled != nil},
		{"min_probability", a.MinProbability != nil},
		{"min_differential", a.MinDifferential != nil},
		{"min_time", a.MinTime != nil},
		{"max_time", a.MaxTime != nil},
		{"allow_re_entry", a.AllowReEntry != nil},
		{"spike_alert_enabled", a.SpikeAlertEnabled != nil},
		{"spike_alert_momentum_threshold", a.SpikeAlertMomentumThreshold != nil},
		{"spike_alert_cooldown_threshold", a.SpikeAlertCooldownThreshold != nil},
		{"spike_alert_cooldown_minutes", a.SpikeAlertCooldownMinutes != nil},
	}
	for _, r := range req {
		if !r.ok {
			missing = append(missing, r.name)
		}
	}
	return missing
}

// AutoStopConfig controls the active-trade supervisor's automatic exits.
type AutoStopConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	StopThreshold float64 `mapstructure:"stop_threshold"` // close when current_pnl ≤ threshold
}

// TradePrefs sizes auto-entry tickets: position = PositionSize × Multiplier.
type TradePrefs struct {
	PositionSize int    `mapstructure:"position_size"`
	Multiplier   int    `mapstructure:"multiplier"`
	Strategy     string `mapstructure:"strategy"`
}

// NotifyConfig lists peer endpoints for cross-process HTTP notifications.
// Empty URLs disable that fan-out leg; failures are logged, never fatal.
type NotifyConfig struct {
	TradeManagerURL  string        `mapstructure:"trade_manager_url"`
	ActiveMonitorURL string        `mapstructure:"active_monitor_url"`
	UIBusURL         string        `mapstructure:"ui_bus_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// APIConfig controls the inter-component HTTP server.
type APIConfig struct {
	Port int `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: STRIKE_KEY_ID, STRIKE_PRIVATE_KEY_PATH,
// STRIKE_DB_DSN, STRIKE_DRY_RUN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("STRIKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if keyID := os.Getenv("STRIKE_KEY_ID"); keyID != "" {
		cfg.Broker.KeyID = keyID
	}
	if keyPath := os.Getenv("STRIKE_PRIVATE_KEY_PATH"); keyPath != "" {
		cfg.Broker.PrivateKeyPath = keyPath
	}
	if dsn := os.Getenv("STRIKE_DB_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if os.Getenv("STRIKE_DRY_RUN") == "true" || os.Getenv("STRIKE_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Feed.SnapshotEvery == 0 {
		cfg.Feed.SnapshotEvery = time.Second
	}
	if cfg.Feed.BookContracts == 0 {
		cfg.Feed.BookContracts = 10
	}
	if cfg.Feed.ResubEvery == 0 {
		cfg.Feed.ResubEvery = 5 * time.Minute
	}
	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = 3 * time.Second
	}
	if cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = "data"
	}
}

// Validate checks all required fields and value ranges. Auto-entry settings
// are deliberately not validated here: missing ones disable that component
// at runtime instead of failing startup.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	switch c.Mode {
	case "demo", "prod":
	default:
		return fmt.Errorf("mode must be \"demo\" or \"prod\", got %q", c.Mode)
	}
	if c.Broker.RESTBaseURL == "" {
		return fmt.Errorf("broker.rest_base_url is required")
	}
	if c.Broker.WSURL == "" {
		return fmt.Errorf("broker.ws_url is required")
	}
	if c.Broker.KeyID == "" {
		return fmt.Errorf("broker.key_id is required (set STRIKE_KEY_ID)")
	}
	if c.Broker.PrivateKeyPath == "" {
		return fmt.Errorf("broker.private_key_path is required (set STRIKE_PRIVATE_KEY_PATH)")
	}
	if c.Broker.SeriesPrefix == "" {
		return fmt.Errorf("broker.series_prefix is required")
	}
	if c.Feed.TickerURL == "" {
		return fmt.Errorf("feed.ticker_url is required")
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required (set STRIKE_DB_DSN)")
	}
	if c.Prefs.PositionSize < 0 || c.Prefs.Multiplier < 0 {
		return fmt.Errorf("trade_prefs sizes must be non-negative")
	}
	if ae := c.AutoEntry; ae.MinTime != nil && ae.MaxTime != nil && *ae.MinTime > *ae.MaxTime {
		return fmt.Errorf("auto_entry.min_time must not exceed auto_entry.max_time")
	}
	return nil
}
