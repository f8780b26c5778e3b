package pricing

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

// Property: pricing an option at volatility sigma and then solving the
// implied volatility from that price recovers sigma within the Newton
// precision (expressed through the reproduced price).
func TestProperty_IVRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	spotGen := gen.Float64Range(20000, 28000)
	strikeOffsetGen := gen.Float64Range(-1500, 1500)
	volGen := gen.Float64Range(0.08, 0.90)
	tteGen := gen.Float64Range(0.005, 0.25)

	properties.Property("IV solver recovers the pricing volatility", prop.ForAll(
		func(spot, strikeOffset, vol, tte float64) bool {
			p := Params{
				Spot:         fixed.FromFloat64(spot),
				Strike:       fixed.FromFloat64(spot + strikeOffset),
				TimeToExpiry: fixed.FromFloat64(tte),
				Rate:         fixed.MustParse("0.065"),
				Volatility:   fixed.FromFloat64(vol),
				Type:         models.InstrumentCE,
			}
			price := CalculateOptionPrice(p)
			if price.Lt(IVNewtonPrecision) {
				// Premium below solver precision carries no vol information.
				return true
			}

			solved := CalculateIV(price, p)
			if solved.Eq(IVMax) {
				return false
			}

			p.Volatility = solved
			reproduced := CalculateOptionPrice(p)
			return reproduced.Sub(price).Abs().Lte(IVNewtonPrecision.Mul(fixed.Ten))
		},
		spotGen, strikeOffsetGen, volGen, tteGen,
	))

	properties.TestingRun(t)
}

// Property: call price is non-decreasing in volatility.
func TestProperty_CallMonotonicInVol(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	volGen := gen.Float64Range(0.05, 1.5)
	bumpGen := gen.Float64Range(0.01, 0.5)

	properties.Property("higher vol never lowers a call price", prop.ForAll(
		func(vol, bump float64) bool {
			p := Params{
				Spot:         fixed.FromInt(24000),
				Strike:       fixed.FromInt(24200),
				TimeToExpiry: fixed.MustParse("0.05"),
				Rate:         fixed.MustParse("0.065"),
				Volatility:   fixed.FromFloat64(vol),
				Type:         models.InstrumentCE,
			}
			low := CalculateOptionPrice(p)
			p.Volatility = fixed.FromFloat64(vol + bump)
			high := CalculateOptionPrice(p)
			// Allow the CDF approximation error as tolerance.
			return high.Gte(low.Sub(fixed.MustParse("0.001")))
		},
		volGen, bumpGen,
	))

	properties.TestingRun(t)
}
