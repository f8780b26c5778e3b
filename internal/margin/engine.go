// Package margin approximates SPAN-style margining for short option and
// futures positions, with spread recognition and account-level tracking.
package margin

import (
	"time"

	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

// EngineParams calibrates the SPAN approximation. Percentages are decimal
// fractions of notional unless noted.
type EngineParams struct {
	// Moneyness tiers for the short-option base rate, by distance of the
	// strike from spot.
	ATMBasePct     fixed.Point // within ATMDistance
	NearOTMBasePct fixed.Point // within NearOTMDistance
	OTMBasePct     fixed.Point // within OTMDistance
	DeepOTMBasePct fixed.Point // beyond OTMDistance

	ATMDistance     fixed.Point
	NearOTMDistance fixed.Point
	OTMDistance     fixed.Point

	IVBaseline    fixed.Point // IV percentage above which the surcharge starts
	IVSurcharge   fixed.Point // notional fraction per IV point above baseline
	ITMSurcharge  fixed.Point // share of the intrinsic-value ratio charged
	ExposurePct   fixed.Point
	ExpiryDayMult fixed.Point // days to expiry 0
	PreExpiryMult fixed.Point // days to expiry 1
	NearWeekMult  fixed.Point // days to expiry 2-3

	FuturesSpanPct  fixed.Point
	FuturesNearMult fixed.Point // within 3 days of expiry
}

// DefaultEngineParams returns the standard calibration.
func DefaultEngineParams() EngineParams {
	return EngineParams{
		ATMBasePct:     fixed.MustParse("0.18"),
		NearOTMBasePct: fixed.MustParse("0.14"),
		OTMBasePct:     fixed.MustParse("0.10"),
		DeepOTMBasePct: fixed.MustParse("0.07"),

		ATMDistance:     fixed.MustParse("0.02"),
		NearOTMDistance: fixed.MustParse("0.05"),
		OTMDistance:     fixed.MustParse("0.10"),

		IVBaseline:    fixed.FromInt(15),
		IVSurcharge:   fixed.MustParse("0.005"),
		ITMSurcharge:  fixed.Half,
		ExposurePct:   fixed.MustParse("0.03"),
		ExpiryDayMult: fixed.MustParse("1.5"),
		PreExpiryMult: fixed.MustParse("1.25"),
		NearWeekMult:  fixed.MustParse("1.10"),

		FuturesSpanPct:  fixed.MustParse("0.12"),
		FuturesNearMult: fixed.MustParse("1.1"),
	}
}

// Leg is one position presented for margining, joined with its contract
// reference data and the current market picture.
type Leg struct {
	PositionID   string
	Symbol       string
	Underlying   models.Underlying
	Type         models.InstrumentType
	Side         models.PositionSide
	Quantity     int64 // contracts, always positive
	Strike       fixed.Point
	Spot         fixed.Point
	Premium      fixed.Point // current per-unit option price
	IV           fixed.Point // percentage
	Expiry       time.Time
	DaysToExpiry int
}

// Engine computes per-leg margin requirements.
type Engine struct {
	params EngineParams
}

// NewEngine creates a margin engine.
func NewEngine(params EngineParams) *Engine {
	return &Engine{params: params}
}

// Calculate returns the margin breakdown for one leg. Long options carry
// no margin beyond the premium already paid. Short options pay a
// moneyness-tiered base rate with IV and ITM surcharges and an expiry
// multiplier; futures pay a flat rate on both sides.
func (e *Engine) Calculate(leg Leg) models.MarginCalculation {
	calc := models.MarginCalculation{Symbol: leg.Symbol}
	if leg.Quantity <= 0 || !leg.Spot.IsPos() {
		return calc
	}

	if leg.Type == models.InstrumentFUT {
		return e.futuresMargin(leg)
	}
	if !leg.Type.IsOption() || leg.Side == models.PositionLong {
		return calc
	}

	p := e.params
	notional := leg.Spot.MulInt64(leg.Quantity)

	span := notional.Mul(e.basePercent(leg))

	if leg.IV.Gt(p.IVBaseline) {
		span = span.Add(notional.Mul(leg.IV.Sub(p.IVBaseline)).Mul(p.IVSurcharge))
	}

	if intrinsic := intrinsicValue(leg); intrinsic.IsPos() {
		ratio := intrinsic.Div(leg.Spot)
		span = span.Add(notional.Mul(ratio).Mul(p.ITMSurcharge))
	}

	span = span.Mul(e.expiryMultiplier(leg.DaysToExpiry))
	exposure := notional.Mul(p.ExposurePct)
	total := span.Add(exposure)

	premiumReceived := leg.Premium.MulInt64(leg.Quantity)

	calc.SpanMargin = span
	calc.ExposureMargin = exposure
	calc.TotalMargin = total
	calc.NetMargin = fixed.Max(fixed.Zero, total.Sub(premiumReceived))
	return calc
}

// CalculateAll sums per-leg margins without spread recognition.
func (e *Engine) CalculateAll(legs []Leg) fixed.Point {
	total := fixed.Zero
	for _, leg := range legs {
		total = total.Add(e.Calculate(leg).NetMargin)
	}
	return total
}

func (e *Engine) futuresMargin(leg Leg) models.MarginCalculation {
	p := e.params
	notional := leg.Spot.MulInt64(leg.Quantity)

	span := notional.Mul(p.FuturesSpanPct)
	exposure := notional.Mul(p.ExposurePct)
	total := span.Add(exposure)
	if leg.DaysToExpiry <= 3 {
		total = total.Mul(p.FuturesNearMult)
	}

	return models.MarginCalculation{
		Symbol:         leg.Symbol,
		SpanMargin:     span,
		ExposureMargin: exposure,
		TotalMargin:    total,
		NetMargin:      total,
	}
}

// basePercent tiers the short-option rate by strike distance from spot.
func (e *Engine) basePercent(leg Leg) fixed.Point {
	p := e.params
	distance := leg.Spot.Sub(leg.Strike).Abs().Div(leg.Spot)
	switch {
	case distance.Lt(p.ATMDistance):
		return p.ATMBasePct
	case distance.Lt(p.NearOTMDistance):
		return p.NearOTMBasePct
	case distance.Lt(p.OTMDistance):
		return p.OTMBasePct
	default:
		return p.DeepOTMBasePct
	}
}

func (e *Engine) expiryMultiplier(daysToExpiry int) fixed.Point {
	p := e.params
	switch {
	case daysToExpiry <= 0:
		return p.ExpiryDayMult
	case daysToExpiry == 1:
		return p.PreExpiryMult
	case daysToExpiry <= 3:
		return p.NearWeekMult
	default:
		return fixed.One
	}
}

func intrinsicValue(leg Leg) fixed.Point {
	if leg.Type == models.InstrumentCE {
		return fixed.Max(fixed.Zero, leg.Spot.Sub(leg.Strike))
	}
	if leg.Type == models.InstrumentPE {
		return fixed.Max(fixed.Zero, leg.Strike.Sub(leg.Spot))
	}
	return fixed.Zero
}
