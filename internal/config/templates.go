package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Paper Trader Configuration

[account]
# Starting simulated capital in INR (exact decimal string)
initial_capital = "1000000"

[risk]
# Absolute daily loss limit in INR; empty string disables
max_daily_loss = "25000"
# Daily loss limit as percentage of starting capital
max_daily_loss_pct = 2.5
# Margin utilization limit as percentage of capital
max_utilization_pct = 95.0
# Warn when the daily loss crosses this fraction of the limit
warn_loss_pct = 60.0
# Warn when utilization crosses this percentage
warn_utilization_pct = 80.0

[execution]
# Latency distribution: "uniform", "normal", or "exponential"
latency_distribution = "normal"
latency_min_ms = 80
latency_max_ms = 450
# Extra latency applied during fast markets
high_vol_extra_ms = 200
# Resting limit orders cancel after this duration
limit_order_timeout = "5m"

[market]
# Underlyings to track: NIFTY, BANKNIFTY, FINNIFTY
underlyings = ["NIFTY", "BANKNIFTY"]
# Quotes older than this are too stale to trade on
staleness_max = "5s"
# How often resting limit orders are re-checked
sweep_interval = "500ms"
# Annualized risk-free rate in percent for pricing
risk_free_rate = 6.5

[store]
# SQLite database path; empty uses the config directory
db_path = ""
# How often the account snapshot is persisted
snapshot_interval = "1m"

[logging]
# Log level: trace, debug, info, warn, error
level = "info"
# Log file path; empty logs to console only
file = ""
max_size_mb = 10
max_backups = 5
console = true
`

const credentialsTemplate = `# Paper Trader Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[zerodha]
api_key = ""
access_token = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return nil
}
