package pricing

import (
	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

// Implied volatility solver bounds and tolerances. IVMax doubles as a
// sentinel for unpriceable inputs (below intrinsic, above theoretical max);
// downstream code relies on it to flag stale market data.
var (
	IVMin             = fixed.MustParse("0.01")
	IVMax             = fixed.MustParse("5.00")
	IVInitialGuess    = fixed.MustParse("0.20")
	IVNewtonPrecision = fixed.MustParse("0.0001")
	ivVegaEpsilon     = fixed.MustParse("0.00000001")
)

const (
	ivNewtonMaxIterations    = 50
	ivBisectionMaxIterations = 100
)

// CalculateIV solves for the volatility that reproduces marketPrice.
// Newton-Raphson from a fixed initial guess, clamped each step to
// [IVMin, IVMax]; bisection fallback when vega vanishes or the iteration
// budget runs out. Sentinels: 0 for non-positive prices, IVMax for prices
// below intrinsic or above the theoretical maximum.
func CalculateIV(marketPrice fixed.Point, p Params) fixed.Point {
	if marketPrice.Lte(fixed.Zero) {
		return fixed.Zero
	}
	if p.Spot.Lte(fixed.Zero) || p.Strike.Lte(fixed.Zero) || p.TimeToExpiry.Lte(MinTimeToExpiry) {
		return fixed.Zero
	}

	// A price below intrinsic value is an arbitrage; a sane market never
	// shows it, so it marks bad data.
	if marketPrice.Lt(Intrinsic(p.Spot, p.Strike, p.Type)) {
		return IVMax
	}

	// Theoretical maximum: spot for calls, strike for puts.
	maxPrice := p.Spot
	if p.Type == models.InstrumentPE {
		maxPrice = p.Strike
	}
	if marketPrice.Gt(maxPrice) {
		return IVMax
	}

	vol := IVInitialGuess
	for i := 0; i < ivNewtonMaxIterations; i++ {
		p.Volatility = vol
		result := Calculate(p)

		diff := result.Price.Sub(marketPrice)
		if diff.Abs().Lt(IVNewtonPrecision) {
			return vol
		}

		// Vega here is per IV percentage point; the Newton step needs the
		// derivative per unit volatility.
		vegaPerUnit := result.Greeks.Vega.Mul(fixed.Hundred)
		if vegaPerUnit.Abs().Lt(ivVegaEpsilon) {
			return bisectIV(marketPrice, p)
		}

		vol = fixed.Clamp(vol.Sub(diff.Div(vegaPerUnit)), IVMin, IVMax)
	}

	return bisectIV(marketPrice, p)
}

// bisectIV binary-searches [IVMin, IVMax]. When even the budgeted
// iterations do not converge it returns the midpoint as the best estimate
// rather than failing.
func bisectIV(marketPrice fixed.Point, p Params) fixed.Point {
	lo, hi := IVMin, IVMax
	mid := lo

	for i := 0; i < ivBisectionMaxIterations; i++ {
		mid = lo.Add(hi).Div(fixed.Two)
		p.Volatility = mid
		price := CalculateOptionPrice(p)

		diff := price.Sub(marketPrice)
		if diff.Abs().Lt(IVNewtonPrecision) {
			return mid
		}
		if diff.IsPos() {
			hi = mid
		} else {
			lo = mid
		}
	}

	return mid
}
