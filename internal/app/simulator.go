// Package app wires the simulation services into one explicitly
// constructed Simulator and drives the fixed-cadence update cycle.
package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/events"
	"paper-trader/internal/execution"
	"paper-trader/internal/logging"
	"paper-trader/internal/margin"
	"paper-trader/internal/market"
	"paper-trader/internal/models"
	"paper-trader/internal/portfolio"
	"paper-trader/internal/pricing"
	"paper-trader/internal/store"
	"paper-trader/pkg/fixed"
	"paper-trader/pkg/utils"
)

// ForceExitTag marks closing orders submitted by the kill switch, for
// audit separation from user orders.
const ForceExitTag = "kill-switch-exit"

// Config collects the tunables for one simulation instance.
type Config struct {
	InitialCapital   fixed.Point
	RiskFreeRatePct  fixed.Point // annualized, e.g. 6.5
	Staleness        time.Duration
	SnapshotInterval time.Duration

	Engine     execution.EngineConfig
	Latency    execution.LatencyConfig
	Slippage   execution.SlippageParams
	Margin     margin.EngineParams
	KillSwitch margin.KillSwitchConfig
}

// DefaultConfig returns a working calibration for a ten-lakh account.
func DefaultConfig() Config {
	return Config{
		InitialCapital:   fixed.FromInt(1000000),
		RiskFreeRatePct:  fixed.MustParse("6.5"),
		Staleness:        5 * time.Second,
		SnapshotInterval: time.Minute,
		Latency:          execution.DefaultLatencyConfig(),
		Slippage:         execution.DefaultSlippageParams(),
		Margin:           margin.DefaultEngineParams(),
		KillSwitch: margin.KillSwitchConfig{
			MaxDailyLoss:       fixed.FromInt(25000),
			MaxDailyLossPct:    fixed.MustParse("2.5"),
			MaxUtilization:     fixed.FromInt(95),
			WarnLossPct:        fixed.FromInt(60),
			WarnUtilizationPct: fixed.FromInt(80),
		},
	}
}

// Deps are the externally-owned collaborators. Store may be nil to run
// without persistence; Executor may be nil to use an internal delay queue.
type Deps struct {
	Logger   zerolog.Logger
	Bus      *events.Bus
	Store    *store.SQLiteStore
	Resolver execution.InstrumentResolver
	Clock    Clock
	Executor execution.Executor
}

// Simulator owns every simulation service. All portfolio, margin and
// kill-switch mutation happens either on Cycle or synchronously inside
// SubmitOrder; the market state cache alone is written by the feed.
type Simulator struct {
	cfg   Config
	log   zerolog.Logger
	clock Clock

	state    *market.State
	spots    *market.SpotTracker
	slippage *execution.SlippageModel
	latency  *execution.LatencySimulator
	queue    *execution.DelayQueue
	stats    *execution.PercentileTracker
	engine   *execution.Engine

	marginEngine *margin.Engine
	tracker      *margin.Tracker
	killSwitch   *margin.KillSwitch
	positions    *portfolio.Manager
	strategies   *portfolio.StrategyBook

	bus      *events.Bus
	store    *store.SQLiteStore
	resolver execution.InstrumentResolver

	lastSnapshot time.Time
}

// New builds a fully wired simulator.
func New(cfg Config, deps Deps) *Simulator {
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus(events.DefaultBusConfig())
	}

	s := &Simulator{
		cfg:      cfg,
		log:      logging.WithComponent(deps.Logger, "simulator"),
		clock:    deps.Clock,
		bus:      deps.Bus,
		store:    deps.Store,
		resolver: deps.Resolver,
	}

	s.state = market.NewState(cfg.Staleness)
	s.spots = market.NewSpotTracker(120, time.Second)
	s.slippage = execution.NewSlippageModel(cfg.Slippage)
	s.latency = execution.NewLatencySimulator(cfg.Latency, nil)
	s.stats = execution.NewPercentileTracker(1024)

	executor := deps.Executor
	if executor == nil {
		s.queue = execution.NewDelayQueue()
		executor = s.queue
	}

	s.positions = portfolio.NewManager(deps.Logger, s.bus, s.clock.Now)
	s.strategies = portfolio.NewStrategyBook(s.positions, s.clock.Now)

	s.engine = execution.NewEngine(cfg.Engine, execution.EngineDeps{
		State:    s.state,
		Spots:    s.spots,
		Slippage: s.slippage,
		Latency:  s.latency,
		Executor: executor,
		Stats:    s.stats,
		Resolver: deps.Resolver,
		Clock:    s.clock.Now,
		Logger:   deps.Logger,
		OnFill:   s.handleFill,
		OnUpdate: s.handleOrderUpdate,
	})

	s.marginEngine = margin.NewEngine(cfg.Margin)
	s.tracker = margin.NewTracker(cfg.InitialCapital)
	s.killSwitch = margin.NewKillSwitch(cfg.KillSwitch, cfg.InitialCapital,
		deps.Logger, s.forceExit, s.onKillSwitchTrip)
	s.killSwitch.OnWarn(func(msg string, marginState models.MarginState) {
		m := marginState
		s.bus.Publish(events.Event{
			Type:    events.TypeMarginWarning,
			At:      s.clock.Now(),
			Margin:  &m,
			Message: msg,
		})
	})

	return s
}

// OnTick is the feed entry point. Option ticks are enriched with solved
// IV and Greeks before caching; spot ticks also feed the movement tracker.
func (s *Simulator) OnTick(tick models.InstrumentTick) {
	now := s.clock.Now()

	if tick.Type == models.InstrumentSpot && tick.Underlying != "" {
		s.spots.Update(tick.Underlying, tick.LTP, now)
	}

	if tick.Type.IsOption() {
		s.enrich(&tick, now)
	}

	s.state.Update(tick)
}

// enrich solves IV from the quote midpoint and attaches Greeks. A sentinel
// IV (unpriceable quote) leaves the tick without Greeks rather than poison
// downstream consumers with bad sensitivities.
func (s *Simulator) enrich(tick *models.InstrumentTick, now time.Time) {
	spot, ok := s.state.Spot(tick.Underlying)
	if !ok || tick.Expiry.IsZero() || !tick.Strike.IsPos() {
		return
	}

	price := tick.Mid()
	if !price.IsPos() {
		return
	}

	params := pricing.Params{
		Spot:         spot,
		Strike:       tick.Strike,
		TimeToExpiry: fixed.FromFloat64(utils.YearsToExpiry(now, tick.Expiry)),
		Rate:         s.cfg.RiskFreeRatePct.Div(fixed.Hundred),
		Type:         tick.Type,
	}

	iv := pricing.CalculateIV(price, params)
	if !iv.IsPos() || iv.Gte(pricing.IVMax) {
		return
	}

	params.Volatility = iv
	greeks := pricing.CalculateGreeks(params)
	tick.IV = iv.Mul(fixed.Hundred)
	tick.Greeks = &greeks
}

// SubmitOrder gates a request on the kill switch and available margin,
// then hands it to the fill engine.
func (s *Simulator) SubmitOrder(req models.OrderRequest) (models.Order, error) {
	if s.killSwitch.Triggered() && req.Tag != ForceExitTag {
		return models.Order{}, apperrors.NewOrderError("", req.Symbol, "submit",
			"trading halted", apperrors.ErrKillSwitchActive)
	}

	if req.Tag != ForceExitTag {
		required := s.requiredMargin(req)
		if !s.tracker.CanPlaceOrder(required) {
			return models.Order{}, apperrors.NewOrderError("", req.Symbol, "submit",
				"required "+required.String(), apperrors.ErrInsufficientMargin)
		}
	}

	return s.engine.Submit(req)
}

// CancelOrder cancels a pending order. Returns false for unknown or
// already-terminal orders.
func (s *Simulator) CancelOrder(id string) bool {
	return s.engine.Cancel(id)
}

// Order returns one order snapshot.
func (s *Simulator) Order(id string) (models.Order, bool) {
	return s.engine.Get(id)
}

// PendingOrders returns all non-terminal orders.
func (s *Simulator) PendingOrders() []models.Order {
	return s.engine.PendingOrders()
}

// Positions returns snapshots of all open positions.
func (s *Simulator) Positions() []models.Position {
	return s.positions.Positions()
}

// AggregatePnL returns realized and unrealized P&L for the session.
func (s *Simulator) AggregatePnL() (realized, unrealized fixed.Point) {
	return s.positions.AggregatePnL()
}

// NetGreeks returns the side-signed portfolio Greeks.
func (s *Simulator) NetGreeks() models.Greeks {
	return s.positions.NetGreeks()
}

// MarginState returns the latest account margin snapshot.
func (s *Simulator) MarginState() models.MarginState {
	return s.tracker.State()
}

// KillSwitchState returns the risk-breaker snapshot.
func (s *Simulator) KillSwitchState() models.KillSwitchState {
	return s.killSwitch.State()
}

// ResetKillSwitch clears a latched trip.
func (s *Simulator) ResetKillSwitch() {
	s.killSwitch.Reset()
}

// Strategies exposes the strategy book.
func (s *Simulator) Strategies() *portfolio.StrategyBook {
	return s.strategies
}

// LatencyStats reports observed execution latency percentiles.
func (s *Simulator) LatencyStats() execution.LatencyStats {
	return s.stats.Stats()
}

// Events exposes the notification bus.
func (s *Simulator) Events() *events.Bus {
	return s.bus
}

// Quote returns the latest cached tick for a symbol, enriched with IV and
// Greeks when the pricing engine could solve them.
func (s *Simulator) Quote(symbol string) (models.InstrumentTick, bool) {
	return s.state.Lookup(symbol)
}

// Cycle runs one update pass: mark positions to market, recompute margin,
// evaluate the kill switch against this cycle's margin snapshot, then
// sweep resting limit orders. External schedulers call this on a fixed
// cadence.
func (s *Simulator) Cycle() {
	now := s.clock.Now()

	s.positions.UpdatePrices(s.state, now)
	s.strategies.Refresh()

	legs := s.marginLegs(now)
	used, _ := s.marginEngine.PortfolioMargin(legs)
	pending := s.pendingOrderMargin(now)
	realized, unrealized := s.positions.AggregatePnL()

	marginState := s.tracker.Update(used, pending, realized, unrealized, now)
	s.killSwitch.Check(realized.Add(unrealized), marginState, now)

	s.engine.Sweep(now)
	s.maybeSnapshot(now)
}

// Close stops the delay queue, rejecting queued fills.
func (s *Simulator) Close() {
	if s.queue != nil {
		s.queue.Close()
	}
}

// handleFill runs on the executor worker after the fill engine updates the
// order. It applies the fill to the portfolio, persists the trade, and
// publishes the fill event.
func (s *Simulator) handleFill(order models.Order, fill models.Fill) {
	s.positions.ApplyFill(order, fill)

	o, f := order, fill
	s.bus.Publish(events.Event{
		Type:  events.TypeOrderFill,
		At:    fill.Timestamp,
		Order: &o,
		Fill:  &f,
	})

	if s.store != nil {
		trades := s.positions.Trades()
		if len(trades) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.store.SaveTrade(ctx, trades[len(trades)-1]); err != nil {
				s.log.Error().Err(err).Str("order_id", order.ID).Msg("failed to persist trade")
			}
		}
	}
}

// handleOrderUpdate publishes rejections, cancellations and timeouts, so
// subscribers see the whole order lifecycle, not just fills.
func (s *Simulator) handleOrderUpdate(order models.Order) {
	o := order
	s.bus.Publish(events.Event{
		Type:    events.TypeOrderUpdate,
		At:      order.UpdatedAt,
		Order:   &o,
		Message: order.Reason,
	})
}

// forceExit submits closing MARKET orders for every open position. Runs
// when the kill switch trips.
func (s *Simulator) forceExit(reason string) {
	for _, pos := range s.positions.Positions() {
		req := models.OrderRequest{
			Symbol:   pos.Symbol,
			Side:     closingSide(pos.Side),
			Quantity: pos.Quantity,
			Type:     models.OrderTypeMarket,
			Tag:      ForceExitTag,
		}
		if _, err := s.engine.Submit(req); err != nil {
			s.log.Error().Err(err).
				Str("symbol", pos.Symbol).
				Str("reason", reason).
				Msg("forced exit order rejected")
		}
	}
}

func (s *Simulator) onKillSwitchTrip(state models.KillSwitchState) {
	ks := state
	s.bus.Publish(events.Event{
		Type:       events.TypeKillSwitchTrip,
		At:         s.clock.Now(),
		KillSwitch: &ks,
		Message:    state.Reason,
	})
}

// marginLegs joins open positions with contract reference data and the
// current market picture. Positions whose instrument or spot is unknown
// are margined at zero this cycle; the data usually arrives next tick.
func (s *Simulator) marginLegs(now time.Time) []margin.Leg {
	positions := s.positions.Positions()
	legs := make([]margin.Leg, 0, len(positions))
	for _, pos := range positions {
		leg, ok := s.legFor(pos.ID, pos.Symbol, pos.Side, pos.Quantity, now)
		if !ok {
			continue
		}
		legs = append(legs, leg)
	}
	return legs
}

// pendingOrderMargin sums the margin that open orders would consume if
// filled.
func (s *Simulator) pendingOrderMargin(now time.Time) fixed.Point {
	total := fixed.Zero
	for _, order := range s.engine.PendingOrders() {
		remaining := order.Remaining()
		if remaining <= 0 {
			continue
		}
		side := models.PositionLong
		if order.Side == models.OrderSideSell {
			side = models.PositionShort
		}
		leg, ok := s.legFor(order.ID, order.Symbol, side, remaining, now)
		if !ok {
			continue
		}
		total = total.Add(s.requiredForLeg(leg))
	}
	return total
}

// requiredMargin estimates what an order needs before admission: the SPAN
// approximation for short legs, the full premium outlay for long options.
func (s *Simulator) requiredMargin(req models.OrderRequest) fixed.Point {
	side := models.PositionLong
	if req.Side == models.OrderSideSell {
		side = models.PositionShort
	}
	leg, ok := s.legFor("", req.Symbol, side, req.Quantity, s.clock.Now())
	if !ok {
		// No market picture yet; let the fill engine reject it properly.
		return fixed.Zero
	}
	return s.requiredForLeg(leg)
}

func (s *Simulator) requiredForLeg(leg margin.Leg) fixed.Point {
	calc := s.marginEngine.Calculate(leg)
	if calc.NetMargin.IsPos() {
		return calc.NetMargin
	}
	if leg.Side == models.PositionLong && leg.Type.IsOption() {
		// Long options block the premium instead of margin.
		return leg.Premium.MulInt64(leg.Quantity)
	}
	return fixed.Zero
}

func (s *Simulator) legFor(id, symbol string, side models.PositionSide, quantity int64, now time.Time) (margin.Leg, bool) {
	if s.resolver == nil {
		return margin.Leg{}, false
	}
	inst, ok := s.resolver.Resolve(symbol)
	if !ok {
		return margin.Leg{}, false
	}
	tick, ok := s.state.Lookup(symbol)
	if !ok {
		return margin.Leg{}, false
	}
	spot, ok := s.state.Spot(inst.Underlying)
	if !ok && inst.Type == models.InstrumentFUT {
		spot = tick.LTP
		ok = spot.IsPos()
	}
	if !ok {
		return margin.Leg{}, false
	}

	premium := tick.Mid()
	if !premium.IsPos() {
		premium = tick.LTP
	}

	return margin.Leg{
		PositionID:   id,
		Symbol:       symbol,
		Underlying:   inst.Underlying,
		Type:         inst.Type,
		Side:         side,
		Quantity:     quantity,
		Strike:       inst.Strike,
		Spot:         spot,
		Premium:      premium,
		IV:           tick.IV,
		Expiry:       inst.Expiry,
		DaysToExpiry: utils.DaysToExpiry(now, inst.Expiry),
	}, true
}

// maybeSnapshot persists the portfolio on the configured interval. A save
// failure is logged; in-memory state stays authoritative.
func (s *Simulator) maybeSnapshot(now time.Time) {
	if s.store == nil || s.cfg.SnapshotInterval <= 0 {
		return
	}
	if !s.lastSnapshot.IsZero() && now.Sub(s.lastSnapshot) < s.cfg.SnapshotInterval {
		return
	}
	s.lastSnapshot = now

	realized, _ := s.positions.AggregatePnL()
	snap := store.Snapshot{
		TakenAt:        now,
		InitialCapital: s.cfg.InitialCapital,
		RealizedPnL:    realized,
		Positions:      s.positions.Positions(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		s.log.Error().Err(err).Msg("failed to persist snapshot")
	}
}

// RestoreSnapshot loads the latest persisted portfolio, if any.
func (s *Simulator) RestoreSnapshot(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	snap, ok, err := s.store.LoadLatestSnapshot(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	s.positions.Restore(snap.Positions)
	s.log.Info().
		Int("positions", len(snap.Positions)).
		Time("taken_at", snap.TakenAt).
		Msg("restored portfolio snapshot")
	return nil
}

func closingSide(side models.PositionSide) models.OrderSide {
	if side == models.PositionLong {
		return models.OrderSideSell
	}
	return models.OrderSideBuy
}
