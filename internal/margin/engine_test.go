package margin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

var testExpiry = time.Date(2025, 9, 30, 15, 30, 0, 0, time.UTC)

func shortLeg(strike int, instrType models.InstrumentType, dte int) Leg {
	return Leg{
		PositionID:   "pos-1",
		Symbol:       "NIFTY25SEP24000CE",
		Underlying:   models.Nifty,
		Type:         instrType,
		Side:         models.PositionShort,
		Quantity:     50,
		Strike:       fixed.FromInt(strike),
		Spot:         fixed.FromInt(24000),
		Premium:      fixed.FromInt(150),
		IV:           fixed.FromInt(15),
		Expiry:       testExpiry,
		DaysToExpiry: dte,
	}
}

func TestEngine_MoneynessTiers(t *testing.T) {
	e := NewEngine(DefaultEngineParams())

	atm := e.Calculate(shortLeg(24000, models.InstrumentCE, 10))
	nearOTM := e.Calculate(shortLeg(24700, models.InstrumentCE, 10)) // ~2.9% away
	otm := e.Calculate(shortLeg(25700, models.InstrumentCE, 10))     // ~7.1% away
	deepOTM := e.Calculate(shortLeg(27000, models.InstrumentCE, 10)) // 12.5% away

	assert.True(t, atm.SpanMargin.Gt(nearOTM.SpanMargin))
	assert.True(t, nearOTM.SpanMargin.Gt(otm.SpanMargin))
	assert.True(t, otm.SpanMargin.Gt(deepOTM.SpanMargin))

	// ATM at base calibration: 24000*50*0.18.
	assert.True(t, atm.SpanMargin.Eq(fixed.FromInt(216000)), "ATM span %s", atm.SpanMargin)
}

func TestEngine_IVSurcharge(t *testing.T) {
	e := NewEngine(DefaultEngineParams())

	calm := shortLeg(24000, models.InstrumentCE, 10)
	stressed := calm
	stressed.IV = fixed.FromInt(25)

	base := e.Calculate(calm)
	high := e.Calculate(stressed)

	// 10 IV points over baseline: +0.5% of notional each.
	extra := fixed.FromInt(24000).MulInt64(50).Mul(fixed.MustParse("0.05"))
	assert.True(t, high.SpanMargin.Eq(base.SpanMargin.Add(extra)),
		"IV surcharge: %s vs %s + %s", high.SpanMargin, base.SpanMargin, extra)
}

func TestEngine_ITMSurcharge(t *testing.T) {
	e := NewEngine(DefaultEngineParams())

	otmPut := e.Calculate(shortLeg(24000, models.InstrumentPE, 10))
	itmPut := e.Calculate(shortLeg(24200, models.InstrumentPE, 10)) // 200 in the money

	assert.True(t, itmPut.SpanMargin.Gt(otmPut.SpanMargin), "an ITM short must carry more margin")
}

func TestEngine_ExpiryMultipliers(t *testing.T) {
	e := NewEngine(DefaultEngineParams())

	far := e.Calculate(shortLeg(24000, models.InstrumentCE, 10)).SpanMargin
	near := e.Calculate(shortLeg(24000, models.InstrumentCE, 3)).SpanMargin
	before := e.Calculate(shortLeg(24000, models.InstrumentCE, 1)).SpanMargin
	expiry := e.Calculate(shortLeg(24000, models.InstrumentCE, 0)).SpanMargin

	assert.True(t, near.Eq(far.Mul(fixed.MustParse("1.10"))))
	assert.True(t, before.Eq(far.Mul(fixed.MustParse("1.25"))))
	assert.True(t, expiry.Eq(far.Mul(fixed.MustParse("1.5"))))
}

func TestEngine_LongOptionsCarryNoMargin(t *testing.T) {
	e := NewEngine(DefaultEngineParams())

	long := shortLeg(24000, models.InstrumentCE, 10)
	long.Side = models.PositionLong

	calc := e.Calculate(long)
	assert.True(t, calc.TotalMargin.IsZero())
	assert.True(t, calc.NetMargin.IsZero())
}

func TestEngine_NetMarginOffsetsPremium(t *testing.T) {
	e := NewEngine(DefaultEngineParams())

	leg := shortLeg(24000, models.InstrumentCE, 10)
	calc := e.Calculate(leg)

	premium := leg.Premium.MulInt64(leg.Quantity)
	assert.True(t, calc.NetMargin.Eq(calc.TotalMargin.Sub(premium)))
	assert.True(t, calc.NetMargin.IsPos())
}

func TestEngine_FuturesMargin(t *testing.T) {
	e := NewEngine(DefaultEngineParams())

	fut := shortLeg(0, models.InstrumentFUT, 10)
	calc := e.Calculate(fut)

	notional := fixed.FromInt(24000).MulInt64(50)
	assert.True(t, calc.SpanMargin.Eq(notional.Mul(fixed.MustParse("0.12"))))
	assert.True(t, calc.ExposureMargin.Eq(notional.Mul(fixed.MustParse("0.03"))))
	assert.True(t, calc.TotalMargin.Eq(calc.SpanMargin.Add(calc.ExposureMargin)))

	near := shortLeg(0, models.InstrumentFUT, 2)
	nearCalc := e.Calculate(near)
	assert.True(t, nearCalc.TotalMargin.Eq(calc.TotalMargin.Mul(fixed.MustParse("1.1"))),
		"near-expiry futures multiplier")

	// Long futures pay the same margin as short.
	longFut := fut
	longFut.Side = models.PositionLong
	assert.True(t, e.Calculate(longFut).TotalMargin.Eq(calc.TotalMargin))
}
