package margin

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

// KillSwitchConfig sets the trip and warning thresholds. Zero-valued
// limits disable their check.
type KillSwitchConfig struct {
	MaxDailyLoss    fixed.Point // absolute rupees, positive
	MaxDailyLossPct fixed.Point // percentage of initial capital
	MaxUtilization  fixed.Point // margin utilization percentage

	WarnLossPct        fixed.Point // P&L warning threshold, pct of capital
	WarnUtilizationPct fixed.Point
}

// ForceExit closes every open position with MARKET orders when the switch
// trips. Implemented by the application layer so the risk package does not
// depend on the fill engine.
type ForceExit func(reason string)

// TripListener observes kill-switch trips, for event fan-out.
type TripListener func(state models.KillSwitchState)

// WarnListener observes non-latching threshold warnings.
type WarnListener func(message string, marginState models.MarginState)

// KillSwitch is the automatic risk breaker. Checks run in a fixed order
// each cycle and the first breach wins; once tripped it latches until an
// explicit Reset regardless of P&L recovery.
type KillSwitch struct {
	cfg            KillSwitchConfig
	initialCapital fixed.Point
	log            zerolog.Logger
	forceExit      ForceExit
	onTrip         TripListener
	onWarn         WarnListener

	mu     sync.Mutex
	state  models.KillSwitchState
	warned map[string]bool // once per threshold bucket, cleared on reset
}

// NewKillSwitch creates a kill switch.
func NewKillSwitch(cfg KillSwitchConfig, initialCapital fixed.Point, log zerolog.Logger, forceExit ForceExit, onTrip TripListener) *KillSwitch {
	return &KillSwitch{
		cfg:            cfg,
		initialCapital: initialCapital,
		log:            log,
		forceExit:      forceExit,
		onTrip:         onTrip,
		warned:         make(map[string]bool),
	}
}

// Check evaluates the limits against the cycle's margin snapshot. dailyPnL
// is realized plus mark-to-market P&L for the session.
func (k *KillSwitch) Check(dailyPnL fixed.Point, marginState models.MarginState, now time.Time) models.KillSwitchState {
	k.mu.Lock()

	k.state.DailyPnL = dailyPnL
	if k.state.PeakPnL.IsZero() || dailyPnL.Gt(k.state.PeakPnL) {
		k.state.PeakPnL = dailyPnL
	}
	if k.state.TroughPnL.IsZero() || dailyPnL.Lt(k.state.TroughPnL) {
		k.state.TroughPnL = dailyPnL
	}

	if k.state.Triggered {
		state := k.state
		k.mu.Unlock()
		return state
	}

	loss := dailyPnL.Neg()
	reason := ""
	switch {
	case k.cfg.MaxDailyLoss.IsPos() && loss.Gte(k.cfg.MaxDailyLoss):
		reason = fmt.Sprintf("daily loss %s breached absolute limit %s", loss, k.cfg.MaxDailyLoss)
	case k.cfg.MaxDailyLossPct.IsPos() && k.initialCapital.IsPos() &&
		loss.Div(k.initialCapital).Mul(fixed.Hundred).Gte(k.cfg.MaxDailyLossPct):
		reason = fmt.Sprintf("daily loss %s breached %s%% of capital", loss, k.cfg.MaxDailyLossPct)
	case k.cfg.MaxUtilization.IsPos() && marginState.UtilizationPct.Gte(k.cfg.MaxUtilization):
		reason = fmt.Sprintf("margin utilization %s%% breached limit %s%%", marginState.UtilizationPct, k.cfg.MaxUtilization)
	}

	if reason == "" {
		warnings := k.warn(dailyPnL, marginState)
		state := k.state
		k.mu.Unlock()
		if k.onWarn != nil {
			for _, msg := range warnings {
				k.onWarn(msg, marginState)
			}
		}
		return state
	}

	k.state.Triggered = true
	k.state.Reason = reason
	k.state.TriggeredAt = now
	state := k.state
	k.mu.Unlock()

	k.log.Error().
		Str("reason", reason).
		Str("daily_pnl", dailyPnL.String()).
		Msg("kill switch tripped, halting trading")
	if k.onTrip != nil {
		k.onTrip(state)
	}
	if k.forceExit != nil {
		k.forceExit(reason)
	}
	return state
}

// Triggered reports whether the switch is latched.
func (k *KillSwitch) Triggered() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.Triggered
}

// State returns the latest snapshot.
func (k *KillSwitch) State() models.KillSwitchState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Reset unlatches the switch and clears warning buckets.
func (k *KillSwitch) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.state = models.KillSwitchState{}
	k.warned = make(map[string]bool)
	k.log.Info().Msg("kill switch reset")
}

// OnWarn registers a listener for threshold warnings.
func (k *KillSwitch) OnWarn(fn WarnListener) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.onWarn = fn
}

// warn emits non-latching threshold warnings, once per percentage bucket,
// so a hovering P&L does not flood the log. Caller holds the mutex; the
// returned messages are for listeners, fired after unlock.
func (k *KillSwitch) warn(dailyPnL fixed.Point, marginState models.MarginState) []string {
	var warnings []string

	if k.cfg.WarnLossPct.IsPos() && k.initialCapital.IsPos() && dailyPnL.IsNeg() {
		lossPct := dailyPnL.Neg().Div(k.initialCapital).Mul(fixed.Hundred)
		if lossPct.Gte(k.cfg.WarnLossPct) {
			key := "loss:" + lossPct.Rescale(0).String()
			if !k.warned[key] {
				k.warned[key] = true
				k.log.Warn().
					Str("loss_pct", lossPct.String()).
					Str("daily_pnl", dailyPnL.String()).
					Msg("daily loss approaching limit")
				warnings = append(warnings, fmt.Sprintf("daily loss at %s%% of capital", lossPct.Rescale(0)))
			}
		}
	}

	if k.cfg.WarnUtilizationPct.IsPos() && marginState.UtilizationPct.Gte(k.cfg.WarnUtilizationPct) {
		key := "util:" + marginState.UtilizationPct.Rescale(0).String()
		if !k.warned[key] {
			k.warned[key] = true
			k.log.Warn().
				Str("utilization_pct", marginState.UtilizationPct.String()).
				Msg("margin utilization elevated")
			warnings = append(warnings, fmt.Sprintf("margin utilization at %s%%", marginState.UtilizationPct.Rescale(0)))
		}
	}

	return warnings
}
