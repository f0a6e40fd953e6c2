// Package config provides configuration management for the option seller bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Engine tuning defaults, applied when the corresponding field is unset.
const (
	defaultBuyThreshold  = 0.02
	defaultSellThreshold = 0.01
	defaultLoopMax       = 2
	defaultModMax        = 2
	defaultPriceTick     = 0.01
	defaultExpiryWindow  = 31
	defaultCycleInterval = 10 * time.Second
	defaultCallTimeout   = 5 * time.Second
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Engine      EngineConfig      `yaml:"engine"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines gateway settings.
type BrokerConfig struct {
	Provider string `yaml:"provider"` // sim is the only built-in provider
	// StartPrices seeds the paper venue; ignored by live gateways.
	StartPrices map[string]float64 `yaml:"start_prices"`
}

// EngineConfig holds the trading engine tunables.
type EngineConfig struct {
	CycleInterval string  `yaml:"cycle_interval"` // e.g. "10s"
	CallTimeout   string  `yaml:"call_timeout"`   // per-gateway-call deadline
	BuyThreshold  float64 `yaml:"buy_threshold"`
	SellThreshold float64 `yaml:"sell_threshold"`
	LoopMax       int     `yaml:"loop_max"`
	ModMax        int     `yaml:"mod_max"`
	PriceTick     float64 `yaml:"price_tick"`
	// ExpiryWindowDays bounds how far out the option search looks.
	ExpiryWindowDays int `yaml:"expiry_window_days"`
	// CancelOrphans cancels venue orders the book does not know at startup.
	CancelOrphans bool `yaml:"cancel_orphans"`
}

// InstrumentsConfig points at the CSV basket definition.
type InstrumentsConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig defines where the trade journal lives.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the status HTTP server settings.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Environment.Mode == "" {
		c.Environment.Mode = "paper"
	}
	if c.Broker.Provider == "" {
		c.Broker.Provider = "sim"
	}
	if c.Engine.CycleInterval == "" {
		c.Engine.CycleInterval = defaultCycleInterval.String()
	}
	if c.Engine.CallTimeout == "" {
		c.Engine.CallTimeout = defaultCallTimeout.String()
	}
	if c.Engine.BuyThreshold == 0 {
		c.Engine.BuyThreshold = defaultBuyThreshold
	}
	if c.Engine.SellThreshold == 0 {
		c.Engine.SellThreshold = defaultSellThreshold
	}
	if c.Engine.LoopMax == 0 {
		c.Engine.LoopMax = defaultLoopMax
	}
	if c.Engine.ModMax == 0 {
		c.Engine.ModMax = defaultModMax
	}
	if c.Engine.PriceTick == 0 {
		c.Engine.PriceTick = defaultPriceTick
	}
	if c.Engine.ExpiryWindowDays == 0 {
		c.Engine.ExpiryWindowDays = defaultExpiryWindow
	}
	if c.Instruments.Path == "" {
		c.Instruments.Path = "instruments.csv"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "journal.json"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	if c.Broker.Provider != "sim" {
		return fmt.Errorf("broker.provider %q is not supported in this build", c.Broker.Provider)
	}
	if _, err := time.ParseDuration(c.Engine.CycleInterval); err != nil {
		return fmt.Errorf("engine.cycle_interval invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Engine.CallTimeout); err != nil {
		return fmt.Errorf("engine.call_timeout invalid: %w", err)
	}
	if c.Engine.BuyThreshold <= 0 || c.Engine.BuyThreshold >= 1 {
		return fmt.Errorf("engine.buy_threshold must be in (0,1)")
	}
	if c.Engine.SellThreshold <= 0 || c.Engine.SellThreshold >= 1 {
		return fmt.Errorf("engine.sell_threshold must be in (0,1)")
	}
	if c.Engine.LoopMax < 0 {
		return fmt.Errorf("engine.loop_max must be >= 0")
	}
	if c.Engine.ModMax < 0 {
		return fmt.Errorf("engine.mod_max must be >= 0")
	}
	if c.Engine.PriceTick <= 0 {
		return fmt.Errorf("engine.price_tick must be > 0")
	}
	if c.Engine.ExpiryWindowDays <= 0 {
		return fmt.Errorf("engine.expiry_window_days must be > 0")
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port < 1 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be a valid TCP port")
	}
	return nil
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// GetCycleInterval returns the trade cycle interval.
func (c *Config) GetCycleInterval() time.Duration {
	d, err := time.ParseDuration(c.Engine.CycleInterval)
	if err != nil {
		return defaultCycleInterval
	}
	return d
}

// GetCallTimeout returns the per-gateway-call deadline.
func (c *Config) GetCallTimeout() time.Duration {
	d, err := time.ParseDuration(c.Engine.CallTimeout)
	if err != nil {
		return defaultCallTimeout
	}
	return d
}
