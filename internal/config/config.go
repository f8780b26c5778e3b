// Package config provides configuration management for the paper-trading
// simulator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

// Config holds all application configuration. Money amounts are kept as
// strings in the file and parsed to exact decimals by the accessors.
type Config struct {
	Account     AccountConfig   `mapstructure:"account"`
	Risk        RiskConfig      `mapstructure:"risk"`
	Execution   ExecutionConfig `mapstructure:"execution"`
	Market      MarketConfig    `mapstructure:"market"`
	Store       StoreConfig     `mapstructure:"store"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Credentials Credentials     `mapstructure:"-"` // Loaded separately
}

// AccountConfig holds the simulated account parameters.
type AccountConfig struct {
	InitialCapital string `mapstructure:"initial_capital"`
}

// RiskConfig holds kill-switch and margin limits.
type RiskConfig struct {
	MaxDailyLoss       string  `mapstructure:"max_daily_loss"`
	MaxDailyLossPct    float64 `mapstructure:"max_daily_loss_pct"`
	MaxUtilizationPct  float64 `mapstructure:"max_utilization_pct"`
	WarnLossPct        float64 `mapstructure:"warn_loss_pct"`
	WarnUtilizationPct float64 `mapstructure:"warn_utilization_pct"`
}

// ExecutionConfig holds fill-engine tuning.
type ExecutionConfig struct {
	LatencyDistribution string        `mapstructure:"latency_distribution"` // uniform, normal, exponential
	LatencyMinMs        int64         `mapstructure:"latency_min_ms"`
	LatencyMaxMs        int64         `mapstructure:"latency_max_ms"`
	HighVolExtraMs      int64         `mapstructure:"high_vol_extra_ms"`
	LimitOrderTimeout   time.Duration `mapstructure:"limit_order_timeout"`
}

// MarketConfig holds feed and staleness tuning.
type MarketConfig struct {
	Underlyings   []string      `mapstructure:"underlyings"`
	StalenessMax  time.Duration `mapstructure:"staleness_max"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	RiskFreeRate  float64       `mapstructure:"risk_free_rate"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	DBPath           string        `mapstructure:"db_path"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Console    bool   `mapstructure:"console"`
}

// Credentials holds broker API credentials.
type Credentials struct {
	Zerodha ZerodhaCredentials `mapstructure:"zerodha"`
}

// ZerodhaCredentials holds Zerodha API credentials for the market feed.
type ZerodhaCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/paper-trader"
	}
	return filepath.Join(home, ".config", "paper-trader")
}

// Load loads configuration from the specified directory. If configDir is
// empty, uses the default config directory. A missing config file gets a
// template written in its place.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if werr := createTemplateConfig(configDir); werr != nil {
				return werr
			}
			return v.Unmarshal(target)
		}
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("account.initial_capital", "1000000")

	v.SetDefault("risk.max_daily_loss", "25000")
	v.SetDefault("risk.max_daily_loss_pct", 2.5)
	v.SetDefault("risk.max_utilization_pct", 95.0)
	v.SetDefault("risk.warn_loss_pct", 60.0)
	v.SetDefault("risk.warn_utilization_pct", 80.0)

	v.SetDefault("execution.latency_distribution", "normal")
	v.SetDefault("execution.latency_min_ms", 80)
	v.SetDefault("execution.latency_max_ms", 450)
	v.SetDefault("execution.high_vol_extra_ms", 200)
	v.SetDefault("execution.limit_order_timeout", 5*time.Minute)

	v.SetDefault("market.underlyings", []string{"NIFTY", "BANKNIFTY"})
	v.SetDefault("market.staleness_max", 5*time.Second)
	v.SetDefault("market.sweep_interval", 500*time.Millisecond)
	v.SetDefault("market.risk_free_rate", 6.5)

	v.SetDefault("store.db_path", filepath.Join(DefaultConfigDir(), "paper.db"))
	v.SetDefault("store.snapshot_interval", time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.console", true)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZERODHA_API_KEY"); v != "" {
		cfg.Credentials.Zerodha.APIKey = v
	}
	if v := os.Getenv("ZERODHA_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Zerodha.AccessToken = v
	}
	if v := os.Getenv("PAPER_DB_PATH"); v != "" {
		cfg.Store.DBPath = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := fixed.Parse(c.Account.InitialCapital); err != nil {
		return fmt.Errorf("initial_capital %q is not a valid amount", c.Account.InitialCapital)
	}
	if c.Risk.MaxDailyLoss != "" {
		if _, err := fixed.Parse(c.Risk.MaxDailyLoss); err != nil {
			return fmt.Errorf("max_daily_loss %q is not a valid amount", c.Risk.MaxDailyLoss)
		}
	}
	if c.Risk.MaxDailyLossPct < 0 || c.Risk.MaxDailyLossPct > 100 {
		return fmt.Errorf("max_daily_loss_pct must be between 0 and 100")
	}
	if c.Risk.MaxUtilizationPct < 0 || c.Risk.MaxUtilizationPct > 100 {
		return fmt.Errorf("max_utilization_pct must be between 0 and 100")
	}

	switch c.Execution.LatencyDistribution {
	case "uniform", "normal", "exponential":
	default:
		return fmt.Errorf("invalid latency_distribution: %s", c.Execution.LatencyDistribution)
	}
	if c.Execution.LatencyMinMs < 0 || c.Execution.LatencyMaxMs < c.Execution.LatencyMinMs {
		return fmt.Errorf("latency bounds must satisfy 0 <= min <= max")
	}
	if c.Execution.LimitOrderTimeout <= 0 {
		return fmt.Errorf("limit_order_timeout must be positive")
	}

	if c.Market.StalenessMax <= 0 {
		return fmt.Errorf("staleness_max must be positive")
	}
	for _, u := range c.Market.Underlyings {
		switch models.Underlying(u) {
		case models.Nifty, models.BankNifty, models.FinNifty:
		default:
			return fmt.Errorf("unknown underlying: %s", u)
		}
	}

	return nil
}

// InitialCapital returns the starting capital as an exact decimal.
func (c *Config) InitialCapital() fixed.Point {
	return fixed.MustParse(c.Account.InitialCapital)
}

// MaxDailyLoss returns the absolute daily loss limit, zero when disabled.
func (c *Config) MaxDailyLoss() fixed.Point {
	if c.Risk.MaxDailyLoss == "" {
		return fixed.Zero
	}
	return fixed.MustParse(c.Risk.MaxDailyLoss)
}

// Underlyings returns the configured underlyings as typed values.
func (c *Config) Underlyings() []models.Underlying {
	out := make([]models.Underlying, 0, len(c.Market.Underlyings))
	for _, u := range c.Market.Underlyings {
		out = append(out, models.Underlying(u))
	}
	return out
}
