package app

import (
	"paper-trader/internal/config"
	"paper-trader/internal/execution"
	"paper-trader/pkg/fixed"
)

// ConfigFrom maps the file configuration onto simulator tunables, keeping
// the defaults for anything the file does not cover.
func ConfigFrom(fileCfg *config.Config) Config {
	cfg := DefaultConfig()

	cfg.InitialCapital = fileCfg.InitialCapital()
	cfg.RiskFreeRatePct = fixed.FromFloat64(fileCfg.Market.RiskFreeRate)
	cfg.Staleness = fileCfg.Market.StalenessMax
	cfg.SnapshotInterval = fileCfg.Store.SnapshotInterval

	cfg.Engine.LimitOrderTimeout = fileCfg.Execution.LimitOrderTimeout

	cfg.Latency = execution.LatencyConfig{
		Distribution:   execution.LatencyDistribution(fileCfg.Execution.LatencyDistribution),
		MinMs:          fileCfg.Execution.LatencyMinMs,
		MaxMs:          fileCfg.Execution.LatencyMaxMs,
		HighVolExtraMs: fileCfg.Execution.HighVolExtraMs,
	}

	cfg.KillSwitch.MaxDailyLoss = fileCfg.MaxDailyLoss()
	cfg.KillSwitch.MaxDailyLossPct = fixed.FromFloat64(fileCfg.Risk.MaxDailyLossPct)
	cfg.KillSwitch.MaxUtilization = fixed.FromFloat64(fileCfg.Risk.MaxUtilizationPct)
	cfg.KillSwitch.WarnLossPct = fixed.FromFloat64(fileCfg.Risk.WarnLossPct)
	cfg.KillSwitch.WarnUtilizationPct = fixed.FromFloat64(fileCfg.Risk.WarnUtilizationPct)

	return cfg
}
