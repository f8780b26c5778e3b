package pricing

import (
	"paper-trader/internal/market"
	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

// IV inflation parameters. Velocity tiers come from the market package so
// the slippage model and this model always agree on the regime.
var (
	inflationMedium  = fixed.MustParse("1.15")
	inflationHigh    = fixed.MustParse("1.30")
	inflationExtreme = fixed.MustParse("1.50")

	accelBoost     = fixed.MustParse("1.1")
	accelThreshold = fixed.Two

	// Moneyness scaling: the excess over 1.0 applies in full at the money
	// and shrinks linearly to 40% once the strike is 5% or more away.
	deepOTMDistance = fixed.MustParse("0.05")
	deepOTMFloor    = fixed.MustParse("0.4")

	expiryDayBoost  = fixed.MustParse("1.3")
	nearExpiryBoost = fixed.MustParse("1.15")
	weekExpiryBoost = fixed.MustParse("1.05")
)

// PainInput describes a short option under a moving spot.
type PainInput struct {
	Spot         fixed.Point
	Strike       fixed.Point
	BaseIV       fixed.Point // decimal fraction
	Velocity     fixed.Point // points per minute
	Acceleration fixed.Point
	DaysToExpiry int
}

// InflationFactor computes the IV inflation multiplier for a fast spot
// move: velocity-tiered base, acceleration kicker, moneyness scaling, and
// a days-to-expiry boost.
func InflationFactor(in PainInput) fixed.Point {
	factor := fixed.One
	switch market.RegimeFor(in.Velocity) {
	case market.VelocityMedium:
		factor = inflationMedium
	case market.VelocityHigh:
		factor = inflationHigh
	case market.VelocityExtreme:
		factor = inflationExtreme
	}

	if in.Acceleration.Abs().Gt(accelThreshold) {
		factor = factor.Mul(accelBoost)
	}

	// Scale the excess over 1.0 by moneyness: sellers at the money feel the
	// full spike, deep out-of-the-money strikes only 40% of it.
	if in.Spot.IsPos() {
		excess := factor.Sub(fixed.One)
		dist := in.Spot.Sub(in.Strike).Abs().Div(in.Spot)
		ratio := fixed.Min(dist.Div(deepOTMDistance), fixed.One)
		scale := fixed.One.Sub(fixed.One.Sub(deepOTMFloor).Mul(ratio))
		factor = fixed.One.Add(excess.Mul(scale))
	}

	switch {
	case in.DaysToExpiry <= 0:
		factor = factor.Mul(expiryDayBoost)
	case in.DaysToExpiry <= 3:
		factor = factor.Mul(nearExpiryBoost)
	case in.DaysToExpiry <= 7:
		factor = factor.Mul(weekExpiryBoost)
	}

	return factor
}

// InflatedIV returns the stressed IV (decimal fraction).
func InflatedIV(in PainInput) fixed.Point {
	return in.BaseIV.Mul(InflationFactor(in))
}

// SellerPainInput extends PainInput with the contract and position details
// needed to mark the short to market under stress.
type SellerPainInput struct {
	PainInput
	TimeToExpiry fixed.Point // years
	Rate         fixed.Point
	Type         models.InstrumentType
	Quantity     int64       // short contracts held
	SpotMove     fixed.Point // projected spot move over the horizon
	HorizonDays  int         // time decay applied to the stressed re-price
}

// SellerPain reports the stressed mark-to-market loss for a short option,
// decomposed into first-order, second-order and vega contributions. The
// decomposition is diagnostic; TotalLoss is the authoritative number.
type SellerPain struct {
	CurrentPrice  fixed.Point
	StressedPrice fixed.Point
	TotalLoss     fixed.Point // positive = loss for the seller
	DeltaPain     fixed.Point
	GammaPain     fixed.Point
	VegaPain      fixed.Point
	InflatedIV    fixed.Point // percentage
}

// CalculateSellerPain re-prices the short at the inflated IV, moved spot
// and decayed time, and reports the mark-to-market pain.
func CalculateSellerPain(in SellerPainInput) SellerPain {
	if in.HorizonDays < 0 {
		in.HorizonDays = 0
	}

	base := Params{
		Spot:         in.Spot,
		Strike:       in.Strike,
		TimeToExpiry: in.TimeToExpiry,
		Rate:         in.Rate,
		Volatility:   in.BaseIV,
		Type:         in.Type,
	}
	current := Calculate(base)

	stressedIV := InflatedIV(in.PainInput)
	decayed := fixed.Max(MinTimeToExpiry, in.TimeToExpiry.Sub(fixed.FromInt(in.HorizonDays).Div(daysPerYear)))

	stressed := base
	stressed.Spot = in.Spot.Add(in.SpotMove)
	stressed.Volatility = stressedIV
	stressed.TimeToExpiry = decayed
	stressedResult := Calculate(stressed)

	qty := fixed.FromInt64(in.Quantity, 0)
	totalLoss := stressedResult.Price.Sub(current.Price).Mul(qty)

	ivDeltaPts := stressedIV.Sub(in.BaseIV).Mul(fixed.Hundred)
	deltaPain := current.Greeks.Delta.Mul(in.SpotMove).Mul(qty)
	gammaPain := fixed.Half.Mul(current.Greeks.Gamma).Mul(in.SpotMove).Mul(in.SpotMove).Mul(qty)
	vegaPain := current.Greeks.Vega.Mul(ivDeltaPts).Mul(qty)

	return SellerPain{
		CurrentPrice:  current.Price,
		StressedPrice: stressedResult.Price,
		TotalLoss:     totalLoss,
		DeltaPain:     deltaPain,
		GammaPain:     gammaPain,
		VegaPain:      vegaPain,
		InflatedIV:    stressedIV.Mul(fixed.Hundred),
	}
}

// EstimateExpiryGammaPain is the standalone expiry-day estimator: with
// theta nearly spent, a short near-the-money option's loss on a move is
// dominated by the gamma term.
func EstimateExpiryGammaPain(spot, strike, move fixed.Point, quantity int64, optType models.InstrumentType) fixed.Point {
	greeks := CalculateGreeks(Params{
		Spot:         spot,
		Strike:       strike,
		TimeToExpiry: fixed.MustParse("0.0005"), // a few trading hours
		Rate:         fixed.Zero,
		Volatility:   fixed.MustParse("0.15"),
		Type:         optType,
	})
	qty := fixed.FromInt64(quantity, 0)
	return fixed.Half.Mul(greeks.Gamma).Mul(move).Mul(move).Mul(qty)
}

// WorstCaseLeg is one leg of a strategy for stress display.
type WorstCaseLeg struct {
	Strike   fixed.Point
	Type     models.InstrumentType
	Side     models.OrderSide
	Quantity int64
}

var (
	fiveSigma       = fixed.FromInt(5)
	tradingDaysRoot = fixed.MustParse("15.874507866") // sqrt(252)
)

// WorstCaseStrategyLoss stresses a strategy with a synthetic 5-sigma spot
// move in both directions under doubled IV and returns the worse outcome.
// Display only: this number must never feed live margin computation.
func WorstCaseStrategyLoss(legs []WorstCaseLeg, spot, iv, timeToExpiry, rate fixed.Point) fixed.Point {
	dailySigma := spot.Mul(iv).Div(tradingDaysRoot)
	move := fiveSigma.Mul(dailySigma)
	stressedIV := fixed.Min(iv.Mul(fixed.Two), IVMax)

	up := strategyValueChange(legs, spot, spot.Add(move), iv, stressedIV, timeToExpiry, rate)
	down := strategyValueChange(legs, spot, spot.Sub(move), iv, stressedIV, timeToExpiry, rate)

	worst := fixed.Min(up, down)
	if worst.IsNeg() {
		return worst.Neg()
	}
	return fixed.Zero
}

func strategyValueChange(legs []WorstCaseLeg, spot, stressedSpot, iv, stressedIV, timeToExpiry, rate fixed.Point) fixed.Point {
	change := fixed.Zero
	for _, leg := range legs {
		p := Params{
			Spot:         spot,
			Strike:       leg.Strike,
			TimeToExpiry: timeToExpiry,
			Rate:         rate,
			Volatility:   iv,
			Type:         leg.Type,
		}
		before := CalculateOptionPrice(p)

		p.Spot = stressedSpot
		p.Volatility = stressedIV
		after := CalculateOptionPrice(p)

		legChange := after.Sub(before).MulInt64(leg.Quantity)
		if leg.Side == models.OrderSideSell {
			legChange = legChange.Neg()
		}
		change = change.Add(legChange)
	}
	return change
}
