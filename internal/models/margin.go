package models

import (
	"time"

	"paper-trader/pkg/fixed"
)

// MarginCalculation is the per-position margin breakdown.
// Invariant: NetMargin = max(0, TotalMargin - premium received).
type MarginCalculation struct {
	Symbol         string
	SpanMargin     fixed.Point
	ExposureMargin fixed.Point
	TotalMargin    fixed.Point
	NetMargin      fixed.Point
}

// SpreadType names a recognized multi-leg structure.
type SpreadType string

const (
	SpreadNone       SpreadType = "NONE"
	SpreadStraddle   SpreadType = "STRADDLE"
	SpreadStrangle   SpreadType = "STRANGLE"
	SpreadIronFly    SpreadType = "IRON_FLY"
	SpreadIronCondor SpreadType = "IRON_CONDOR"
	SpreadVertical   SpreadType = "VERTICAL"
)

// SpreadAnalysis is the result of a portfolio spread scan.
type SpreadAnalysis struct {
	Type          SpreadType
	Underlying    Underlying
	Expiry        time.Time
	PositionIDs   []string
	MaxLoss       fixed.Point // zero when risk is undefined
	DefinedRisk   bool
	LegMarginSum  fixed.Point
	BenefitMargin fixed.Point // margin after spread benefit
}

// MarginState is the account-level margin snapshot for one update cycle.
// AvailableMargin is only rewarded by realized P&L; unrealized gains never
// increase it, unrealized losses reduce it.
type MarginState struct {
	InitialCapital     fixed.Point
	UsedMargin         fixed.Point
	AvailableMargin    fixed.Point
	PendingOrderMargin fixed.Point
	RealizedPnL        fixed.Point
	MTMPnL             fixed.Point
	NetLiquidation     fixed.Point
	UtilizationPct     fixed.Point
	UpdatedAt          time.Time
}

// KillSwitchState is the risk-breaker snapshot. Once Triggered it stays
// triggered until an explicit reset.
type KillSwitchState struct {
	Triggered   bool
	Reason      string
	TriggeredAt time.Time
	DailyPnL    fixed.Point
	PeakPnL     fixed.Point
	TroughPnL   fixed.Point
}
