package execution

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/market"
	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
	"paper-trader/pkg/utils"
)

// InstrumentResolver supplies contract reference data (tick size, lot size)
// for a trading symbol.
type InstrumentResolver interface {
	Resolve(symbol string) (models.Instrument, bool)
}

// FillHandler receives each fill after the owning order has been updated.
// The order is a snapshot; mutating it has no effect on the engine.
type FillHandler func(order models.Order, fill models.Fill)

// UpdateHandler receives terminal transitions that produce no fill:
// rejections, cancellations, timeouts. The order is a snapshot.
type UpdateHandler func(order models.Order)

// EngineConfig tunes the fill engine.
type EngineConfig struct {
	// LimitOrderTimeout cancels open limit orders that have waited this
	// long, regardless of fill eligibility.
	LimitOrderTimeout time.Duration
}

// EngineDeps are the collaborating services, injected explicitly.
type EngineDeps struct {
	State    *market.State
	Spots    *market.SpotTracker
	Slippage *SlippageModel
	Latency  *LatencySimulator
	Executor Executor
	Stats    *PercentileTracker
	Resolver InstrumentResolver
	Clock    func() time.Time
	Logger   zerolog.Logger
	OnFill   FillHandler
	OnUpdate UpdateHandler
}

// Engine is the order execution state machine. Orders move strictly
// forward: PENDING, then OPEN for limits or FILLED for markets, with
// PARTIAL, CANCELLED and REJECTED as the other reachable states. Terminal
// orders never mutate.
//
// The market fill path runs on the executor's single worker and the limit
// sweep runs on the caller's polling tick; both take the engine mutex, so
// no two evaluations ever interleave on the same order.
type Engine struct {
	cfg  EngineConfig
	deps EngineDeps

	mu        sync.Mutex
	orders    map[string]*models.Order
	openQueue []string // insertion-ordered open limit order ids
}

// NewEngine creates a fill engine.
func NewEngine(cfg EngineConfig, deps EngineDeps) *Engine {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if cfg.LimitOrderTimeout <= 0 {
		cfg.LimitOrderTimeout = 5 * time.Minute
	}
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		orders: make(map[string]*models.Order),
	}
}

// Submit accepts an order request. Market orders are scheduled for a
// delayed fill; limit orders enter the open queue for the periodic sweep.
// A symbol without fresh market data is rejected immediately.
func (e *Engine) Submit(req models.OrderRequest) (models.Order, error) {
	if err := validateRequest(req); err != nil {
		return models.Order{}, err
	}

	now := e.deps.Clock()
	order := &models.Order{
		ID:         uuid.NewString(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Type:       req.Type,
		LimitPrice: req.LimitPrice,
		Status:     models.OrderStatusPending,
		Tag:        req.Tag,
		PlacedAt:   now,
		UpdatedAt:  now,
	}

	e.mu.Lock()
	e.orders[order.ID] = order

	if _, ok := e.deps.State.Fresh(req.Symbol, now); !ok {
		order.Status = models.OrderStatusRejected
		order.Reason = "no market data"
		snapshot := *order
		e.mu.Unlock()

		e.deps.Logger.Warn().
			Str("order_id", snapshot.ID).
			Str("symbol", snapshot.Symbol).
			Msg("order rejected: no market data")
		e.notifyUpdate(snapshot)
		return snapshot, apperrors.NewOrderError(snapshot.ID, snapshot.Symbol, "submit", "no market data", apperrors.ErrNoMarketData)
	}

	if req.Type == models.OrderTypeLimit {
		order.Status = models.OrderStatusOpen
		e.openQueue = append(e.openQueue, order.ID)
	}
	snapshot := *order
	e.mu.Unlock()

	if req.Type == models.OrderTypeMarket {
		// The executor may run the fill synchronously, so this happens
		// outside the engine lock.
		id := order.ID
		delay := e.deps.Latency.Sample(e.regimeFor(req.Symbol))
		accepted := e.deps.Executor.Submit(delay,
			func() { e.fillMarket(id, delay) },
			func() { e.rejectOrder(id, "execution halted") },
		)
		if !accepted {
			e.rejectOrder(id, "execution halted")
		}
		snapshot, _ = e.Get(id)
	}

	e.deps.Logger.Info().
		Str("order_id", snapshot.ID).
		Str("symbol", snapshot.Symbol).
		Str("side", string(snapshot.Side)).
		Str("type", string(snapshot.Type)).
		Int64("quantity", snapshot.Quantity).
		Str("status", string(snapshot.Status)).
		Msg("order submitted")
	return snapshot, nil
}

// Cancel cancels an order. Cancelling a terminal or unknown order is a
// no-op returning false.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	order, ok := e.orders[id]
	if !ok || order.Status.IsTerminal() {
		e.mu.Unlock()
		return false
	}
	order.Status = models.OrderStatusCancelled
	order.Reason = "cancelled"
	order.UpdatedAt = e.deps.Clock()
	snapshot := *order
	e.mu.Unlock()

	e.deps.Logger.Info().Str("order_id", id).Msg("order cancelled")
	e.notifyUpdate(snapshot)
	return true
}

// Get returns a snapshot of one order.
func (e *Engine) Get(id string) (models.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[id]
	if !ok {
		return models.Order{}, false
	}
	return *order, true
}

// PendingOrders returns snapshots of all non-terminal orders.
func (e *Engine) PendingOrders() []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	pending := make([]models.Order, 0)
	for _, order := range e.orders {
		if !order.Status.IsTerminal() {
			pending = append(pending, *order)
		}
	}
	return pending
}

// Sweep evaluates open limit orders against the current book, in
// submission order. Each order either times out, stays open, partially
// fills against visible liquidity, or fills completely. Symbols without
// fresh market data are skipped, not failed.
func (e *Engine) Sweep(now time.Time) {
	type callback struct {
		order models.Order
		fill  models.Fill
	}
	var callbacks []callback
	var timedOut []models.Order

	e.mu.Lock()
	remaining := e.openQueue[:0]
	for _, id := range e.openQueue {
		order, ok := e.orders[id]
		if !ok || order.Status.IsTerminal() {
			continue
		}

		if now.Sub(order.PlacedAt) > e.cfg.LimitOrderTimeout {
			order.Status = models.OrderStatusCancelled
			order.Reason = "timeout"
			order.UpdatedAt = now
			timedOut = append(timedOut, *order)
			continue
		}

		tick, ok := e.deps.State.Fresh(order.Symbol, now)
		if !ok {
			remaining = append(remaining, id)
			continue
		}

		in := SlippageInput{
			Tick:         tick,
			Side:         order.Side,
			Quantity:     order.Remaining(),
			Velocity:     e.velocityOf(tick),
			DaysToExpiry: daysToExpiryOf(tick, now),
		}
		slip := e.deps.Slippage.Estimate(in)

		if !limitEligible(order, tick, slip.Total) {
			remaining = append(remaining, id)
			continue
		}

		fillQty := order.Remaining()
		if len(bookSide(tick, order.Side)) > 0 {
			// Only liquidity the limit covers may fill; deeper levels would
			// drag the weighted average past the limit price.
			visible := liquidityWithinLimit(tick, order.Side, order.LimitPrice, slip.Total)
			if visible <= 0 {
				remaining = append(remaining, id)
				continue
			}
			fillQty = min64(fillQty, visible)
		}
		if fillQty <= 0 {
			remaining = append(remaining, id)
			continue
		}

		in.Quantity = fillQty
		result := e.deps.Slippage.Fill(in, e.tickSizeOf(order.Symbol))
		fill := models.Fill{
			Price:     result.Price,
			Quantity:  result.Quantity,
			Slippage:  result.Slippage,
			Timestamp: now,
		}
		order.AddFill(fill)
		order.UpdatedAt = now
		if order.Remaining() == 0 {
			order.Status = models.OrderStatusFilled
		} else {
			order.Status = models.OrderStatusPartial
			remaining = append(remaining, id)
		}
		callbacks = append(callbacks, callback{order: *order, fill: fill})
	}
	e.openQueue = append([]string(nil), remaining...)
	e.mu.Unlock()

	for _, order := range timedOut {
		e.deps.Logger.Info().Str("order_id", order.ID).Msg("limit order timed out")
		e.notifyUpdate(order)
	}
	for _, cb := range callbacks {
		e.deps.Logger.Info().
			Str("order_id", cb.order.ID).
			Str("symbol", cb.order.Symbol).
			Str("price", cb.fill.Price.String()).
			Int64("quantity", cb.fill.Quantity).
			Str("status", string(cb.order.Status)).
			Msg("limit order fill")
		if e.deps.OnFill != nil {
			e.deps.OnFill(cb.order, cb.fill)
		}
	}
}

// fillMarket executes a market order after its latency delay. Market fills
// are all-or-nothing: one fill, terminal FILLED.
func (e *Engine) fillMarket(id string, delay time.Duration) {
	now := e.deps.Clock()

	e.mu.Lock()
	order, ok := e.orders[id]
	if !ok || order.Status.IsTerminal() {
		e.mu.Unlock()
		return
	}

	tick, ok := e.deps.State.Lookup(order.Symbol)
	if !ok {
		order.Status = models.OrderStatusRejected
		order.Reason = "no market data"
		order.UpdatedAt = now
		snapshot := *order
		e.mu.Unlock()
		e.notifyUpdate(snapshot)
		return
	}

	result := e.deps.Slippage.Fill(SlippageInput{
		Tick:         tick,
		Side:         order.Side,
		Quantity:     order.Quantity,
		Velocity:     e.velocityOf(tick),
		DaysToExpiry: daysToExpiryOf(tick, now),
	}, e.tickSizeOf(order.Symbol))

	fill := models.Fill{
		Price:     result.Price,
		Quantity:  result.Quantity,
		Slippage:  result.Slippage,
		LatencyMs: delay.Milliseconds(),
		Timestamp: now,
	}
	order.AddFill(fill)
	order.Status = models.OrderStatusFilled
	order.UpdatedAt = now
	snapshot := *order
	e.mu.Unlock()

	if e.deps.Stats != nil {
		e.deps.Stats.Record(delay)
	}
	e.deps.Logger.Info().
		Str("order_id", snapshot.ID).
		Str("symbol", snapshot.Symbol).
		Str("price", fill.Price.String()).
		Int64("latency_ms", fill.LatencyMs).
		Msg("market order filled")
	if e.deps.OnFill != nil {
		e.deps.OnFill(snapshot, fill)
	}
}

func (e *Engine) rejectOrder(id, reason string) {
	e.mu.Lock()
	order, ok := e.orders[id]
	if !ok || order.Status.IsTerminal() {
		e.mu.Unlock()
		return
	}
	order.Status = models.OrderStatusRejected
	order.Reason = reason
	order.UpdatedAt = e.deps.Clock()
	snapshot := *order
	e.mu.Unlock()
	e.notifyUpdate(snapshot)
}

func (e *Engine) notifyUpdate(order models.Order) {
	if e.deps.OnUpdate != nil {
		e.deps.OnUpdate(order)
	}
}

func (e *Engine) regimeFor(symbol string) market.VelocityRegime {
	tick, ok := e.deps.State.Lookup(symbol)
	if !ok {
		return market.VelocityLow
	}
	return market.RegimeFor(e.velocityOf(tick))
}

func (e *Engine) velocityOf(tick models.InstrumentTick) fixed.Point {
	if e.deps.Spots == nil || tick.Underlying == "" {
		return fixed.Zero
	}
	mv, ok := e.deps.Spots.Movement(tick.Underlying)
	if !ok {
		return fixed.Zero
	}
	return mv.Velocity
}

func (e *Engine) tickSizeOf(symbol string) fixed.Point {
	if e.deps.Resolver == nil {
		return fixed.Zero
	}
	inst, ok := e.deps.Resolver.Resolve(symbol)
	if !ok {
		return fixed.Zero
	}
	return inst.TickSize
}

// limitEligible applies limit semantics to the slippage-adjusted market
// price: a BUY fills only when it would pay at or under the limit, a SELL
// only when it would receive at or over it.
func limitEligible(order *models.Order, tick models.InstrumentTick, slip fixed.Point) bool {
	if order.Side == models.OrderSideBuy {
		return tick.Ask.Add(slip).Lte(order.LimitPrice)
	}
	return fixed.Max(fixed.Zero, tick.Bid.Sub(slip)).Gte(order.LimitPrice)
}

// daysToExpiryOf treats instruments without an expiry as far-dated.
func daysToExpiryOf(tick models.InstrumentTick, now time.Time) int {
	if tick.Expiry.IsZero() {
		return 30
	}
	return utils.DaysToExpiry(now, tick.Expiry)
}

func validateRequest(req models.OrderRequest) error {
	if req.Symbol == "" {
		return apperrors.Wrap(apperrors.ErrInvalidOrder, "empty symbol")
	}
	if req.Quantity <= 0 {
		return apperrors.Wrap(apperrors.ErrInvalidOrder, "quantity must be positive")
	}
	if req.Side != models.OrderSideBuy && req.Side != models.OrderSideSell {
		return apperrors.Wrap(apperrors.ErrInvalidOrder, "unknown side")
	}
	switch req.Type {
	case models.OrderTypeMarket:
	case models.OrderTypeLimit:
		if !req.LimitPrice.IsPos() {
			return apperrors.Wrap(apperrors.ErrInvalidOrder, "limit price must be positive")
		}
	default:
		return apperrors.Wrap(apperrors.ErrInvalidOrder, "unknown order type")
	}
	return nil
}
