package execution

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/market"
	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
	"paper-trader/pkg/utils"
)

// syncExecutor runs tasks inline, with no simulated delay.
type syncExecutor struct{}

func (syncExecutor) Submit(_ time.Duration, run func(), _ func()) bool {
	run()
	return true
}

type stubResolver struct{}

func (stubResolver) Resolve(symbol string) (models.Instrument, bool) {
	return models.Instrument{Symbol: symbol, LotSize: 50, TickSize: fixed.MustParse("0.05")}, true
}

var engineNow = time.Date(2025, 9, 1, 11, 0, 0, 0, utils.IndiaLocation)

func newTestEngine(t *testing.T, state *market.State, onFill FillHandler) *Engine {
	t.Helper()
	return NewEngine(
		EngineConfig{LimitOrderTimeout: time.Minute},
		EngineDeps{
			State:    state,
			Slippage: NewSlippageModel(DefaultSlippageParams()),
			Latency:  NewLatencySimulator(LatencyConfig{Distribution: LatencyUniform}, nil),
			Executor: syncExecutor{},
			Stats:    NewPercentileTracker(64),
			Resolver: stubResolver{},
			Clock:    func() time.Time { return engineNow },
			Logger:   zerolog.Nop(),
			OnFill:   onFill,
		},
	)
}

func engineTick() models.InstrumentTick {
	tick := testTick("100", "100.5")
	tick.Expiry = engineNow.AddDate(0, 0, 30)
	tick.Timestamp = engineNow
	return tick
}

func TestEngine_MarketOrderFills(t *testing.T) {
	state := market.NewState(time.Minute)
	state.Update(engineTick())

	var fills []models.Fill
	engine := newTestEngine(t, state, func(_ models.Order, f models.Fill) { fills = append(fills, f) })

	order, err := engine.Submit(models.OrderRequest{
		Symbol:   "NIFTY25SEP24000CE",
		Side:     models.OrderSideBuy,
		Quantity: 50,
		Type:     models.OrderTypeMarket,
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusFilled, order.Status)
	assert.Equal(t, int64(50), order.FilledQty)
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Price.Gte(fixed.MustParse("100.5")), "buy fill %s below ask", fills[0].Price)
}

func TestEngine_RejectsWithoutMarketData(t *testing.T) {
	engine := newTestEngine(t, market.NewState(time.Minute), nil)

	order, err := engine.Submit(models.OrderRequest{
		Symbol:   "NIFTY25SEP24000CE",
		Side:     models.OrderSideBuy,
		Quantity: 50,
		Type:     models.OrderTypeMarket,
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNoMarketData))
	assert.Equal(t, models.OrderStatusRejected, order.Status)
	assert.Equal(t, "no market data", order.Reason)
}

func TestEngine_RejectsStaleMarketData(t *testing.T) {
	state := market.NewState(time.Minute)
	tick := engineTick()
	tick.Timestamp = engineNow.Add(-5 * time.Minute)
	state.Update(tick)

	engine := newTestEngine(t, state, nil)
	order, err := engine.Submit(models.OrderRequest{
		Symbol:   "NIFTY25SEP24000CE",
		Side:     models.OrderSideBuy,
		Quantity: 50,
		Type:     models.OrderTypeMarket,
	})
	require.Error(t, err)
	assert.Equal(t, models.OrderStatusRejected, order.Status)
}

func TestEngine_ValidatesRequests(t *testing.T) {
	engine := newTestEngine(t, market.NewState(time.Minute), nil)

	cases := []models.OrderRequest{
		{Side: models.OrderSideBuy, Quantity: 50, Type: models.OrderTypeMarket},
		{Symbol: "X", Side: models.OrderSideBuy, Quantity: 0, Type: models.OrderTypeMarket},
		{Symbol: "X", Side: "SHORT", Quantity: 50, Type: models.OrderTypeMarket},
		{Symbol: "X", Side: models.OrderSideBuy, Quantity: 50, Type: models.OrderTypeLimit},
	}
	for _, req := range cases {
		_, err := engine.Submit(req)
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidOrder), "request %+v must be invalid", req)
	}
}

func TestEngine_LimitOrderFillsWhenEligible(t *testing.T) {
	state := market.NewState(time.Minute)
	state.Update(engineTick())

	var filled []models.Order
	engine := newTestEngine(t, state, func(o models.Order, _ models.Fill) { filled = append(filled, o) })

	order, err := engine.Submit(models.OrderRequest{
		Symbol:     "NIFTY25SEP24000CE",
		Side:       models.OrderSideBuy,
		Quantity:   50,
		Type:       models.OrderTypeLimit,
		LimitPrice: fixed.FromInt(102),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusOpen, order.Status)

	engine.Sweep(engineNow.Add(time.Second))

	got, ok := engine.Get(order.ID)
	require.True(t, ok)
	assert.Equal(t, models.OrderStatusFilled, got.Status)
	assert.True(t, got.AveragePrice.Lte(fixed.FromInt(102)), "limit buy must not pay over the limit")
	require.Len(t, filled, 1)
}

func TestEngine_LimitOrderStaysOpenWhenIneligible(t *testing.T) {
	state := market.NewState(time.Minute)
	state.Update(engineTick())

	engine := newTestEngine(t, state, nil)
	order, err := engine.Submit(models.OrderRequest{
		Symbol:     "NIFTY25SEP24000CE",
		Side:       models.OrderSideBuy,
		Quantity:   50,
		Type:       models.OrderTypeLimit,
		LimitPrice: fixed.FromInt(100), // under the ask
	})
	require.NoError(t, err)

	engine.Sweep(engineNow.Add(time.Second))

	got, _ := engine.Get(order.ID)
	assert.Equal(t, models.OrderStatusOpen, got.Status)
	assert.Len(t, engine.PendingOrders(), 1)
}

func TestEngine_LimitOrderPartialThenFilled(t *testing.T) {
	state := market.NewState(time.Minute)
	tick := engineTick()
	tick.Depth = &models.MarketDepth{
		Sell: []models.DepthLevel{{Price: fixed.MustParse("100.5"), Quantity: 30}},
	}
	state.Update(tick)

	engine := newTestEngine(t, state, nil)
	order, err := engine.Submit(models.OrderRequest{
		Symbol:     "NIFTY25SEP24000CE",
		Side:       models.OrderSideBuy,
		Quantity:   50,
		Type:       models.OrderTypeLimit,
		LimitPrice: fixed.FromInt(102),
	})
	require.NoError(t, err)

	engine.Sweep(engineNow.Add(time.Second))
	got, _ := engine.Get(order.ID)
	assert.Equal(t, models.OrderStatusPartial, got.Status)
	assert.Equal(t, int64(30), got.FilledQty)

	engine.Sweep(engineNow.Add(2 * time.Second))
	got, _ = engine.Get(order.ID)
	assert.Equal(t, models.OrderStatusFilled, got.Status)
	assert.Equal(t, int64(50), got.FilledQty)
	assert.Len(t, got.Fills, 2)
}

func TestEngine_LimitFillStopsAtCoveredDepth(t *testing.T) {
	state := market.NewState(time.Minute)
	tick := engineTick()
	tick.Depth = &models.MarketDepth{
		Sell: []models.DepthLevel{
			{Price: fixed.MustParse("100.5"), Quantity: 10},
			{Price: fixed.MustParse("130"), Quantity: 500},
		},
	}
	state.Update(tick)

	engine := newTestEngine(t, state, nil)
	order, err := engine.Submit(models.OrderRequest{
		Symbol:     "NIFTY25SEP24000CE",
		Side:       models.OrderSideBuy,
		Quantity:   50,
		Type:       models.OrderTypeLimit,
		LimitPrice: fixed.FromInt(102),
	})
	require.NoError(t, err)

	engine.Sweep(engineNow.Add(time.Second))

	// Only the level the limit covers may fill; the 130 level would drag
	// the average far past the limit.
	got, _ := engine.Get(order.ID)
	assert.Equal(t, models.OrderStatusPartial, got.Status)
	assert.Equal(t, int64(10), got.FilledQty)
	assert.True(t, got.AveragePrice.Lte(fixed.FromInt(102)),
		"limit buy filled at %s over the limit", got.AveragePrice)
}

func TestEngine_LimitOrderTimeout(t *testing.T) {
	state := market.NewState(time.Hour)
	state.Update(engineTick())

	engine := newTestEngine(t, state, nil)
	order, err := engine.Submit(models.OrderRequest{
		Symbol:     "NIFTY25SEP24000CE",
		Side:       models.OrderSideBuy,
		Quantity:   50,
		Type:       models.OrderTypeLimit,
		LimitPrice: fixed.FromInt(100), // never eligible
	})
	require.NoError(t, err)

	engine.Sweep(engineNow.Add(2 * time.Minute))

	got, _ := engine.Get(order.ID)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
	assert.Equal(t, "timeout", got.Reason)
}

func TestEngine_ReportsTerminalTransitions(t *testing.T) {
	state := market.NewState(time.Minute)
	state.Update(engineTick())

	var updates []models.Order
	engine := NewEngine(
		EngineConfig{LimitOrderTimeout: time.Minute},
		EngineDeps{
			State:    state,
			Slippage: NewSlippageModel(DefaultSlippageParams()),
			Latency:  NewLatencySimulator(LatencyConfig{Distribution: LatencyUniform}, nil),
			Executor: syncExecutor{},
			Resolver: stubResolver{},
			Clock:    func() time.Time { return engineNow },
			Logger:   zerolog.Nop(),
			OnUpdate: func(o models.Order) { updates = append(updates, o) },
		},
	)

	resting := func() models.Order {
		t.Helper()
		order, err := engine.Submit(models.OrderRequest{
			Symbol:     "NIFTY25SEP24000CE",
			Side:       models.OrderSideBuy,
			Quantity:   50,
			Type:       models.OrderTypeLimit,
			LimitPrice: fixed.FromInt(100), // under the ask, never fills
		})
		require.NoError(t, err)
		return order
	}

	order := resting()
	require.True(t, engine.Cancel(order.ID))
	require.Len(t, updates, 1)
	assert.Equal(t, models.OrderStatusCancelled, updates[0].Status)
	assert.Equal(t, "cancelled", updates[0].Reason)

	resting()
	engine.Sweep(engineNow.Add(2 * time.Minute))
	require.Len(t, updates, 2)
	assert.Equal(t, models.OrderStatusCancelled, updates[1].Status)
	assert.Equal(t, "timeout", updates[1].Reason)

	_, err := engine.Submit(models.OrderRequest{
		Symbol:   "NOQUOTE",
		Side:     models.OrderSideBuy,
		Quantity: 50,
		Type:     models.OrderTypeMarket,
	})
	require.Error(t, err)
	require.Len(t, updates, 3)
	assert.Equal(t, models.OrderStatusRejected, updates[2].Status)
}

func TestEngine_SweepSkipsStaleSymbols(t *testing.T) {
	state := market.NewState(10 * time.Second)
	state.Update(engineTick())

	engine := newTestEngine(t, state, nil)
	order, err := engine.Submit(models.OrderRequest{
		Symbol:     "NIFTY25SEP24000CE",
		Side:       models.OrderSideBuy,
		Quantity:   50,
		Type:       models.OrderTypeLimit,
		LimitPrice: fixed.FromInt(102),
	})
	require.NoError(t, err)

	// Sweep past the staleness bound but before the order timeout: the
	// symbol is skipped, the order stays open.
	engine.Sweep(engineNow.Add(30 * time.Second))

	got, _ := engine.Get(order.ID)
	assert.Equal(t, models.OrderStatusOpen, got.Status)
}

func TestEngine_CancelIsIdempotent(t *testing.T) {
	state := market.NewState(time.Minute)
	state.Update(engineTick())

	engine := newTestEngine(t, state, nil)
	order, err := engine.Submit(models.OrderRequest{
		Symbol:     "NIFTY25SEP24000CE",
		Side:       models.OrderSideSell,
		Quantity:   50,
		Type:       models.OrderTypeLimit,
		LimitPrice: fixed.FromInt(200),
	})
	require.NoError(t, err)

	assert.True(t, engine.Cancel(order.ID))
	assert.False(t, engine.Cancel(order.ID), "second cancel must be a no-op")
	assert.False(t, engine.Cancel("missing"))

	got, _ := engine.Get(order.ID)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
}

func TestEngine_TerminalOrdersNeverMutate(t *testing.T) {
	state := market.NewState(time.Minute)
	state.Update(engineTick())

	engine := newTestEngine(t, state, nil)
	order, err := engine.Submit(models.OrderRequest{
		Symbol:   "NIFTY25SEP24000CE",
		Side:     models.OrderSideBuy,
		Quantity: 50,
		Type:     models.OrderTypeMarket,
	})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusFilled, order.Status)

	assert.False(t, engine.Cancel(order.ID))
	got, _ := engine.Get(order.ID)
	assert.Equal(t, models.OrderStatusFilled, got.Status)
	assert.Equal(t, int64(50), got.FilledQty)
}
