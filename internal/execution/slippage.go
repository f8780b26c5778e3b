// Package execution implements the order path: the slippage model, the
// latency simulator with its delay queue, and the fill engine state machine.
package execution

import (
	"time"

	"paper-trader/internal/market"
	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
	"paper-trader/pkg/utils"
)

// SlippageParams tunes the six slippage components. All price-like values
// are in rupees, percentages are decimal fractions.
type SlippageParams struct {
	Base fixed.Point // floor charged on every fill

	SpreadShare   fixed.Point // share of the bid-ask spread charged
	WideSpreadPct fixed.Point // spread/mid ratio above which the spread charge applies

	VelocityDivisor     fixed.Point // points-per-minute to rupees
	HighVelocityMult    fixed.Point
	ExtremeVelocityMult fixed.Point

	HighIVThreshold fixed.Point // IV percentage points
	IVPointCharge   fixed.Point // rupees per IV point above the threshold

	SizeImpactPct fixed.Point // mid fraction charged per unit of size ratio
	SizeCapPct    fixed.Point // cap on the size component, as a fraction of mid

	DepthUsageThreshold fixed.Point // share of visible liquidity before the penalty
	DepthPenaltyPct     fixed.Point // mid fraction charged past the threshold

	ExpiryDayMult fixed.Point // applied to the summed components on expiry day
	PreExpiryMult fixed.Point // applied the day before expiry

	ResidualPenaltyPct fixed.Point // synthetic price step past visible depth
}

// DefaultSlippageParams returns the calibration used by the simulator.
func DefaultSlippageParams() SlippageParams {
	return SlippageParams{
		Base:                fixed.MustParse("0.05"),
		SpreadShare:         fixed.MustParse("0.15"),
		WideSpreadPct:       fixed.MustParse("0.02"),
		VelocityDivisor:     fixed.Hundred,
		HighVelocityMult:    fixed.MustParse("1.5"),
		ExtremeVelocityMult: fixed.Two,
		HighIVThreshold:     fixed.FromInt(30),
		IVPointCharge:       fixed.MustParse("0.02"),
		SizeImpactPct:       fixed.MustParse("0.01"),
		SizeCapPct:          fixed.MustParse("0.02"),
		DepthUsageThreshold: fixed.Half,
		DepthPenaltyPct:     fixed.MustParse("0.005"),
		ExpiryDayMult:       fixed.Two,
		PreExpiryMult:       fixed.MustParse("1.5"),
		ResidualPenaltyPct:  fixed.MustParse("0.005"),
	}
}

// SlippageInput is everything the model needs for one order.
type SlippageInput struct {
	Tick         models.InstrumentTick
	Side         models.OrderSide
	Quantity     int64
	Velocity     fixed.Point // spot points per minute
	DaysToExpiry int
}

// Slippage is the per-component breakdown. Total is the day-multiplied sum
// of the six components; the breakdown fields are pre-multiplier.
type Slippage struct {
	Base          fixed.Point
	Spread        fixed.Point
	Velocity      fixed.Point
	IV            fixed.Point
	Size          fixed.Point
	Depth         fixed.Point
	DayMultiplier fixed.Point
	Total         fixed.Point
}

// SlippageModel computes execution slippage from market microstructure.
type SlippageModel struct {
	params SlippageParams
}

// NewSlippageModel creates a model with the given calibration.
func NewSlippageModel(params SlippageParams) *SlippageModel {
	return &SlippageModel{params: params}
}

// Estimate computes the slippage breakdown for one order. The six
// components are summed first and the expiry-day multiplier is applied to
// the sum, so identical inputs on expiry day cost exactly double.
func (m *SlippageModel) Estimate(in SlippageInput) Slippage {
	p := m.params
	mid := in.Tick.Mid()

	s := Slippage{
		Base:          p.Base,
		DayMultiplier: fixed.One,
	}

	spread := in.Tick.Spread()
	if mid.IsPos() && spread.Div(mid).Gt(p.WideSpreadPct) {
		s.Spread = spread.Mul(p.SpreadShare)
	}

	vel := in.Velocity.Abs().Div(p.VelocityDivisor)
	switch market.RegimeFor(in.Velocity) {
	case market.VelocityExtreme:
		vel = vel.Mul(p.ExtremeVelocityMult)
	case market.VelocityHigh:
		vel = vel.Mul(p.HighVelocityMult)
	}
	s.Velocity = vel

	if in.Tick.IV.Gt(p.HighIVThreshold) {
		s.IV = in.Tick.IV.Sub(p.HighIVThreshold).Mul(p.IVPointCharge)
	}

	if in.Quantity > 0 && mid.IsPos() {
		perMinute := perMinuteVolume(in.Tick)
		ratio := fixed.FromInt64(in.Quantity, 0).DivInt64(perMinute)
		s.Size = fixed.Min(mid.Mul(p.SizeImpactPct).Mul(ratio), mid.Mul(p.SizeCapPct))
	}

	if in.Tick.Depth != nil && mid.IsPos() {
		visible := sameSideLiquidity(in.Tick, in.Side)
		if visible > 0 {
			usage := fixed.FromInt64(in.Quantity, 0).DivInt64(visible)
			if usage.Gt(p.DepthUsageThreshold) {
				s.Depth = mid.Mul(p.DepthPenaltyPct)
			}
		}
	}

	switch in.DaysToExpiry {
	case 0:
		s.DayMultiplier = p.ExpiryDayMult
	case 1:
		s.DayMultiplier = p.PreExpiryMult
	}

	sum := s.Base.Add(s.Spread).Add(s.Velocity).Add(s.IV).Add(s.Size).Add(s.Depth)
	s.Total = sum.Mul(s.DayMultiplier)
	return s
}

// FillResult is the price outcome of executing a quantity against the book.
type FillResult struct {
	Price    fixed.Point // liquidity-weighted average, tick rounded
	Quantity int64
	Slippage fixed.Point
}

// Fill prices an execution. With depth present the order walks price
// levels, slippage applied to the first level only and a penalty price
// synthesized for residual quantity beyond visible depth. Without depth a
// BUY pays ask plus slippage and a SELL receives bid minus slippage,
// floored at zero. The result is rounded to the instrument tick, away from
// the taker.
func (m *SlippageModel) Fill(in SlippageInput, tickSize fixed.Point) FillResult {
	slip := m.Estimate(in)

	var price fixed.Point
	if levels := bookSide(in.Tick, in.Side); len(levels) > 0 {
		price = m.walkDepth(levels, in.Side, in.Quantity, slip.Total)
	} else if in.Side == models.OrderSideBuy {
		price = in.Tick.Ask.Add(slip.Total)
	} else {
		price = fixed.Max(fixed.Zero, in.Tick.Bid.Sub(slip.Total))
	}

	if tickSize.IsPos() {
		mode := fixed.RoundUp
		if in.Side == models.OrderSideSell {
			mode = fixed.RoundDown
		}
		price = fixed.RoundToTick(price, tickSize, mode)
	}

	return FillResult{
		Price:    fixed.Max(fixed.Zero, price),
		Quantity: in.Quantity,
		Slippage: slip.Total,
	}
}

// walkDepth consumes quantity across book levels and returns the
// liquidity-weighted average price.
func (m *SlippageModel) walkDepth(levels []models.DepthLevel, side models.OrderSide, quantity int64, slip fixed.Point) fixed.Point {
	remaining := quantity
	notional := fixed.Zero

	for i, level := range levels {
		if remaining <= 0 {
			break
		}
		price := level.Price
		if i == 0 {
			if side == models.OrderSideBuy {
				price = price.Add(slip)
			} else {
				price = fixed.Max(fixed.Zero, price.Sub(slip))
			}
		}
		take := min64(remaining, level.Quantity)
		notional = notional.Add(price.MulInt64(take))
		remaining -= take
	}

	if remaining > 0 {
		// Residual beyond visible depth executes at a penalty off the last
		// visible level.
		last := levels[len(levels)-1].Price
		step := last.Mul(m.params.ResidualPenaltyPct)
		synth := last.Add(step)
		if side == models.OrderSideSell {
			synth = fixed.Max(fixed.Zero, last.Sub(step))
		}
		notional = notional.Add(synth.MulInt64(remaining))
	}

	return notional.DivInt64(quantity)
}

// perMinuteVolume estimates average traded quantity per minute from the
// cumulative day volume and the elapsed session time. Floored at one so
// thin instruments hit the size cap instead of dividing by zero.
func perMinuteVolume(tick models.InstrumentTick) int64 {
	open := time.Date(
		tick.Timestamp.In(utils.IndiaLocation).Year(),
		tick.Timestamp.In(utils.IndiaLocation).Month(),
		tick.Timestamp.In(utils.IndiaLocation).Day(),
		9, 15, 0, 0, utils.IndiaLocation,
	)
	minutes := int64(tick.Timestamp.Sub(open).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	perMinute := tick.Volume / minutes
	if perMinute < 1 {
		perMinute = 1
	}
	return perMinute
}

// sameSideLiquidity returns the visible quantity the order would consume:
// the sell book for a BUY, the buy book for a SELL.
func sameSideLiquidity(tick models.InstrumentTick, side models.OrderSide) int64 {
	if side == models.OrderSideBuy {
		return tick.Depth.TotalSellQty()
	}
	return tick.Depth.TotalBuyQty()
}

// liquidityWithinLimit returns the visible quantity priced at or better
// than the limit, slippage applied to the first level the way the depth
// walk applies it. Book sides are best-first, so the eligible levels are
// always a prefix; stopping at the first breach keeps the depth walk off
// levels the limit does not cover.
func liquidityWithinLimit(tick models.InstrumentTick, side models.OrderSide, limit, slip fixed.Point) int64 {
	var total int64
	for i, level := range bookSide(tick, side) {
		price := level.Price
		if i == 0 {
			if side == models.OrderSideBuy {
				price = price.Add(slip)
			} else {
				price = fixed.Max(fixed.Zero, price.Sub(slip))
			}
		}
		if side == models.OrderSideBuy && price.Gt(limit) {
			break
		}
		if side == models.OrderSideSell && price.Lt(limit) {
			break
		}
		total += level.Quantity
	}
	return total
}

func bookSide(tick models.InstrumentTick, side models.OrderSide) []models.DepthLevel {
	if tick.Depth == nil {
		return nil
	}
	if side == models.OrderSideBuy {
		return tick.Depth.Sell
	}
	return tick.Depth.Buy
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
