package portfolio

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-trader/internal/events"
	"paper-trader/internal/market"
	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

var managerNow = time.Date(2025, 9, 1, 11, 0, 0, 0, time.UTC)

func newTestManager(bus *events.Bus) *Manager {
	return NewManager(zerolog.Nop(), bus, func() time.Time { return managerNow })
}

func applyFill(m *Manager, side models.OrderSide, qty int64, price string) models.Position {
	return m.ApplyFill(
		models.Order{ID: "order-1", Symbol: "NIFTY25SEP24000CE", Side: side, Quantity: qty},
		models.Fill{Price: fixed.MustParse(price), Quantity: qty, Timestamp: managerNow},
	)
}

func TestManager_OpensPosition(t *testing.T) {
	m := newTestManager(nil)
	pos := applyFill(m, models.OrderSideBuy, 50, "100")

	assert.Equal(t, models.PositionLong, pos.Side)
	assert.Equal(t, int64(50), pos.Quantity)
	assert.True(t, pos.AvgPrice.Eq(fixed.FromInt(100)))
	assert.True(t, pos.RealizedPnL.IsZero())
}

func TestManager_WeightedAverageEntry(t *testing.T) {
	m := newTestManager(nil)
	applyFill(m, models.OrderSideBuy, 50, "100")
	pos := applyFill(m, models.OrderSideBuy, 100, "103")

	assert.Equal(t, int64(150), pos.Quantity)
	assert.True(t, pos.AvgPrice.Eq(fixed.FromInt(102)), "avg %s, want 102", pos.AvgPrice)
}

func TestManager_ReduceRealizesPnL(t *testing.T) {
	m := newTestManager(nil)
	applyFill(m, models.OrderSideBuy, 50, "100")
	pos := applyFill(m, models.OrderSideSell, 20, "104")

	assert.Equal(t, int64(30), pos.Quantity)
	assert.Equal(t, models.PositionLong, pos.Side)
	assert.True(t, pos.RealizedPnL.Eq(fixed.FromInt(80)), "realized %s, want (104-100)*20", pos.RealizedPnL)
	assert.True(t, pos.AvgPrice.Eq(fixed.FromInt(100)), "reducing must not move the entry price")
}

func TestManager_PositionFlip(t *testing.T) {
	m := newTestManager(nil)
	applyFill(m, models.OrderSideBuy, 50, "100")

	// Mark the long leg so it carries unrealized P&L into the flip.
	state := market.NewState(0)
	state.Update(models.InstrumentTick{
		Symbol:    "NIFTY25SEP24000CE",
		Bid:       fixed.FromInt(104),
		Ask:       fixed.FromInt(106),
		Timestamp: managerNow,
	})
	m.UpdatePrices(state, managerNow)

	pos := applyFill(m, models.OrderSideSell, 75, "105")

	assert.Equal(t, models.PositionShort, pos.Side)
	assert.Equal(t, int64(25), pos.Quantity)
	assert.True(t, pos.AvgPrice.Eq(fixed.FromInt(105)))
	assert.True(t, pos.RealizedPnL.IsZero(), "the new leg starts with zero realized P&L")
	assert.True(t, pos.UnrealizedPnL.IsZero(), "the closed leg's mark must not carry over")

	// (105-100)*50 realized on the closed long leg, now banked in the ledger.
	realized, unrealized := m.AggregatePnL()
	assert.True(t, realized.Eq(fixed.FromInt(250)), "realized %s, want 250", realized)
	assert.True(t, unrealized.IsZero(), "unrealized %s, want 0 until the next mark", unrealized)
}

func TestManager_CloseRemovesAndEmits(t *testing.T) {
	bus := events.NewBus(events.DefaultBusConfig())
	ch := bus.Subscribe("test")

	m := newTestManager(bus)
	applyFill(m, models.OrderSideBuy, 50, "100")
	pos := applyFill(m, models.OrderSideSell, 50, "103")

	assert.Equal(t, int64(0), pos.Quantity)
	_, open := m.Position("NIFTY25SEP24000CE")
	assert.False(t, open, "a flat position must be removed")

	var closedEvent *events.Event
	for len(ch) > 0 {
		ev := <-ch
		if ev.Type == events.TypePositionClosed {
			closedEvent = &ev
		}
	}
	require.NotNil(t, closedEvent, "closing must emit an event")
	assert.True(t, closedEvent.Position.RealizedPnL.Eq(fixed.FromInt(150)))
}

func TestManager_ShortSideRealization(t *testing.T) {
	m := newTestManager(nil)
	applyFill(m, models.OrderSideSell, 50, "100")
	pos := applyFill(m, models.OrderSideBuy, 50, "96")

	assert.Equal(t, int64(0), pos.Quantity)
	// Short 100, cover 96: (96-100)*50*(-1) = +200.
	assert.True(t, pos.RealizedPnL.Eq(fixed.FromInt(200)), "realized %s", pos.RealizedPnL)
}

func TestManager_UpdatePricesMarksToMid(t *testing.T) {
	m := newTestManager(nil)
	applyFill(m, models.OrderSideBuy, 50, "100")

	state := market.NewState(0)
	state.Update(models.InstrumentTick{
		Symbol:    "NIFTY25SEP24000CE",
		Bid:       fixed.FromInt(104),
		Ask:       fixed.FromInt(106),
		LTP:       fixed.FromInt(120), // stale print, mid wins
		Greeks:    &models.Greeks{Delta: fixed.Half},
		Timestamp: managerNow,
	})

	m.UpdatePrices(state, managerNow)
	pos, _ := m.Position("NIFTY25SEP24000CE")
	assert.True(t, pos.UnrealizedPnL.Eq(fixed.FromInt(250)), "unrealized %s, want (105-100)*50", pos.UnrealizedPnL)
	require.NotNil(t, pos.Greeks)
}

func TestManager_NetGreeksSignedSum(t *testing.T) {
	m := newTestManager(nil)
	m.Restore([]models.Position{
		{
			ID: "a", Symbol: "CE", Side: models.PositionShort, Quantity: 50,
			Greeks: &models.Greeks{Delta: fixed.MustParse("0.5"), Vega: fixed.FromInt(10)},
		},
		{
			ID: "b", Symbol: "PE", Side: models.PositionLong, Quantity: 50,
			Greeks: &models.Greeks{Delta: fixed.MustParse("-0.5"), Vega: fixed.FromInt(10)},
		},
		{
			ID: "c", Symbol: "FUT", Side: models.PositionLong, Quantity: 10,
			// No Greeks: skipped.
		},
	})

	net := m.NetGreeks()
	assert.True(t, net.Delta.Eq(fixed.FromInt(-50)), "delta %s", net.Delta)
	assert.True(t, net.Vega.IsZero(), "short vega cancels long vega: %s", net.Vega)
}

// Property: after any sequence of fills the position quantity equals the
// absolute running sum of signed fill quantities since the last flip or
// flat, and never goes negative.
func TestProperty_PositionQuantityInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	fillGen := gen.SliceOfN(12, gen.Int64Range(-200, 200).SuchThat(func(q int64) bool { return q != 0 }))

	properties.Property("quantity tracks the signed fill sum", prop.ForAll(
		func(fills []int64) bool {
			m := newTestManager(nil)
			var net int64
			for _, q := range fills {
				side := models.OrderSideBuy
				qty := q
				if q < 0 {
					side = models.OrderSideSell
					qty = -q
				}
				pos := applyFill(m, side, qty, "100")
				net += q

				expected := net
				if expected < 0 {
					expected = -expected
				}
				if pos.Quantity != expected || pos.Quantity < 0 {
					return false
				}
			}
			return true
		},
		fillGen,
	))

	properties.TestingRun(t)
}
