package execution

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

// Property: for any valid quote and order, a BUY never fills below the ask
// and a SELL never fills above the bid or below zero. Slippage moves the
// price against the taker, never in their favor.
func TestProperty_FillPriceBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	model := NewSlippageModel(DefaultSlippageParams())
	tickSize := fixed.MustParse("0.05")

	bidGen := gen.Float64Range(0.05, 2000)
	spreadGen := gen.Float64Range(0.05, 50)
	qtyGen := gen.Int64Range(1, 20000)
	velocityGen := gen.Float64Range(-30, 30)
	ivGen := gen.Float64Range(5, 90)
	dteGen := gen.IntRange(0, 40)

	properties.Property("BUY fills at or above the ask", prop.ForAll(
		func(bid, spread float64, qty int64, velocity, iv float64, dte int) bool {
			tick := propTick(bid, spread, iv)
			result := model.Fill(SlippageInput{
				Tick:         tick,
				Side:         models.OrderSideBuy,
				Quantity:     qty,
				Velocity:     fixed.FromFloat64(velocity),
				DaysToExpiry: dte,
			}, tickSize)
			return result.Price.Gte(tick.Ask)
		},
		bidGen, spreadGen, qtyGen, velocityGen, ivGen, dteGen,
	))

	properties.Property("SELL fills at or below the bid, never negative", prop.ForAll(
		func(bid, spread float64, qty int64, velocity, iv float64, dte int) bool {
			tick := propTick(bid, spread, iv)
			result := model.Fill(SlippageInput{
				Tick:         tick,
				Side:         models.OrderSideSell,
				Quantity:     qty,
				Velocity:     fixed.FromFloat64(velocity),
				DaysToExpiry: dte,
			}, tickSize)
			return result.Price.Lte(tick.Bid) && result.Price.Gte(fixed.Zero)
		},
		bidGen, spreadGen, qtyGen, velocityGen, ivGen, dteGen,
	))

	properties.TestingRun(t)
}

func propTick(bid, spread, iv float64) models.InstrumentTick {
	b := fixed.FromFloat64(bid).Rescale(2)
	a := b.Add(fixed.FromFloat64(spread).Rescale(2))
	return models.InstrumentTick{
		Symbol:     "NIFTY25SEP24000CE",
		Underlying: models.Nifty,
		Type:       models.InstrumentCE,
		LTP:        b,
		Bid:        b,
		Ask:        a,
		IV:         fixed.FromFloat64(iv).Rescale(2),
		Volume:     250000,
		Timestamp:  time.Date(2025, 9, 1, 11, 0, 0, 0, time.UTC),
	}
}
