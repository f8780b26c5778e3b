// Package pricing implements Black-Scholes valuation, Greeks, implied
// volatility solving and the seller-pain IV inflation model.
package pricing

import (
	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

// MinTimeToExpiry is the floor below which the model collapses to
// intrinsic value, in years (~5 minutes of trading).
var MinTimeToExpiry = fixed.MustParse("0.00001")

var (
	daysPerYear = fixed.FromInt(365)
	twoPi       = fixed.MustParse("6.283185307179586")
	tinyVol     = fixed.MustParse("0.000000001")
)

// Params are the Black-Scholes inputs. Volatility is a decimal fraction
// (0.20 = 20%), TimeToExpiry is in years.
type Params struct {
	Spot         fixed.Point
	Strike       fixed.Point
	TimeToExpiry fixed.Point
	Rate         fixed.Point
	Volatility   fixed.Point
	Type         models.InstrumentType
}

// Result carries the theoretical price and Greeks for one contract.
type Result struct {
	Price  fixed.Point
	Greeks models.Greeks
}

// Intrinsic returns the exercise value of the option, clamped at zero.
func Intrinsic(spot, strike fixed.Point, optType models.InstrumentType) fixed.Point {
	if optType == models.InstrumentCE {
		return fixed.Max(fixed.Zero, spot.Sub(strike))
	}
	return fixed.Max(fixed.Zero, strike.Sub(spot))
}

// CalculateOptionPrice returns the Black-Scholes price. The price is never
// negative; at or below the minimal time to expiry it is the intrinsic value.
func CalculateOptionPrice(p Params) fixed.Point {
	return Calculate(p).Price
}

// Calculate prices the option and computes all Greeks in one pass.
func Calculate(p Params) Result {
	if p.Spot.Lte(fixed.Zero) || p.Strike.Lte(fixed.Zero) {
		return Result{Price: fixed.Zero}
	}

	if p.TimeToExpiry.Lte(MinTimeToExpiry) {
		return expiryResult(p)
	}
	if p.Volatility.Lt(tinyVol) {
		return forwardIntrinsicResult(p)
	}

	sqrtT := p.TimeToExpiry.Sqrt()
	volSqrtT := p.Volatility.Mul(sqrtT)

	// d1 = (ln(S/K) + (r + sigma^2/2) T) / (sigma sqrt(T))
	halfVar := p.Volatility.Mul(p.Volatility).Div(fixed.Two)
	d1 := p.Spot.Div(p.Strike).Log().
		Add(p.Rate.Add(halfVar).Mul(p.TimeToExpiry)).
		Div(volSqrtT)
	d2 := d1.Sub(volSqrtT)

	discount := p.Rate.Neg().Mul(p.TimeToExpiry).Exp()
	discountedStrike := p.Strike.Mul(discount)

	nd1 := normCDF(d1)
	nd2 := normCDF(d2)
	pdf1 := normPDF(d1)

	var price, delta, theta, rho fixed.Point
	if p.Type == models.InstrumentCE {
		price = p.Spot.Mul(nd1).Sub(discountedStrike.Mul(nd2))
		delta = nd1
		theta = p.Spot.Mul(pdf1).Mul(p.Volatility).Div(fixed.Two.Mul(sqrtT)).Neg().
			Sub(p.Rate.Mul(discountedStrike).Mul(nd2))
		rho = discountedStrike.Mul(p.TimeToExpiry).Mul(nd2).Div(fixed.Hundred)
	} else {
		negND1 := fixed.One.Sub(nd1)
		negND2 := fixed.One.Sub(nd2)
		price = discountedStrike.Mul(negND2).Sub(p.Spot.Mul(negND1))
		delta = nd1.Sub(fixed.One)
		theta = p.Spot.Mul(pdf1).Mul(p.Volatility).Div(fixed.Two.Mul(sqrtT)).Neg().
			Add(p.Rate.Mul(discountedStrike).Mul(negND2))
		rho = discountedStrike.Mul(p.TimeToExpiry).Mul(negND2).Div(fixed.Hundred).Neg()
	}

	gamma := pdf1.Div(p.Spot.Mul(volSqrtT))
	vega := p.Spot.Mul(pdf1).Mul(sqrtT).Div(fixed.Hundred)

	return Result{
		Price: fixed.Max(fixed.Zero, price),
		Greeks: models.Greeks{
			Delta: delta,
			Gamma: gamma,
			Theta: theta.Div(daysPerYear),
			Vega:  vega,
			Rho:   rho,
			IV:    p.Volatility.Mul(fixed.Hundred),
		},
	}
}

// CalculateGreeks returns only the Greeks for the given inputs.
func CalculateGreeks(p Params) models.Greeks {
	return Calculate(p).Greeks
}

// expiryResult is the step-function collapse at expiry: price is intrinsic,
// delta is +/-1 or 0, everything else is zero.
func expiryResult(p Params) Result {
	intrinsic := Intrinsic(p.Spot, p.Strike, p.Type)
	delta := fixed.Zero
	if p.Type == models.InstrumentCE && p.Spot.Gt(p.Strike) {
		delta = fixed.One
	}
	if p.Type == models.InstrumentPE && p.Spot.Lt(p.Strike) {
		delta = fixed.NegOne
	}
	return Result{
		Price: intrinsic,
		Greeks: models.Greeks{
			Delta: delta,
			IV:    p.Volatility.Mul(fixed.Hundred),
		},
	}
}

// forwardIntrinsicResult handles the zero-volatility degenerate case:
// price is the discounted forward intrinsic, delta a step function.
func forwardIntrinsicResult(p Params) Result {
	discount := p.Rate.Neg().Mul(p.TimeToExpiry).Exp()
	discountedStrike := p.Strike.Mul(discount)

	var price, delta fixed.Point
	if p.Type == models.InstrumentCE {
		price = fixed.Max(fixed.Zero, p.Spot.Sub(discountedStrike))
		if p.Spot.Gt(discountedStrike) {
			delta = fixed.One
		}
	} else {
		price = fixed.Max(fixed.Zero, discountedStrike.Sub(p.Spot))
		if p.Spot.Lt(discountedStrike) {
			delta = fixed.NegOne
		}
	}
	return Result{
		Price: price,
		Greeks: models.Greeks{
			Delta: delta,
			IV:    p.Volatility.Mul(fixed.Hundred),
		},
	}
}

// Abramowitz & Stegun 26.2.17 rational approximation coefficients.
// Maximum absolute error ~7.5e-8; used instead of a library distribution
// so pricing is bit-reproducible across runtimes.
var (
	cdfP  = fixed.MustParse("0.2316419")
	cdfB1 = fixed.MustParse("0.319381530")
	cdfB2 = fixed.MustParse("-0.356563782")
	cdfB3 = fixed.MustParse("1.781477937")
	cdfB4 = fixed.MustParse("-1.821255978")
	cdfB5 = fixed.MustParse("1.330274429")
)

// normCDF is the standard normal cumulative distribution function.
func normCDF(x fixed.Point) fixed.Point {
	if x.IsNeg() {
		return fixed.One.Sub(normCDF(x.Neg()))
	}

	k := fixed.One.Div(fixed.One.Add(cdfP.Mul(x)))
	k2 := k.Mul(k)
	k3 := k2.Mul(k)
	k4 := k3.Mul(k)
	k5 := k4.Mul(k)

	poly := cdfB1.Mul(k).
		Add(cdfB2.Mul(k2)).
		Add(cdfB3.Mul(k3)).
		Add(cdfB4.Mul(k4)).
		Add(cdfB5.Mul(k5))

	return fixed.Clamp(fixed.One.Sub(normPDF(x).Mul(poly)), fixed.Zero, fixed.One)
}

// normPDF is the standard normal density.
func normPDF(x fixed.Point) fixed.Point {
	exponent := x.Mul(x).Div(fixed.Two).Neg()
	return exponent.Exp().Div(twoPi.Sqrt())
}
