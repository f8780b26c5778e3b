// Package portfolio applies fills to positions and tracks portfolio P&L
// and net Greeks.
package portfolio

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"paper-trader/internal/events"
	"paper-trader/internal/market"
	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

// Manager owns all open positions and the trade ledger. A fill either
// opens a position, averages into it, reduces it realizing P&L, or flips
// it into a logically new position. Quantity never goes negative; the
// direction lives in Side.
type Manager struct {
	mu        sync.Mutex
	positions map[string]*models.Position // by symbol
	trades    []models.Trade
	log       zerolog.Logger
	bus       *events.Bus
	clock     func() time.Time
}

// NewManager creates a position manager. The bus may be nil in tests.
func NewManager(log zerolog.Logger, bus *events.Bus, clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		positions: make(map[string]*models.Position),
		log:       log,
		bus:       bus,
		clock:     clock,
	}
}

// ApplyFill applies one fill to the symbol's position and appends the
// resulting trade to the ledger. The returned position is a snapshot; a
// closed position is returned with zero quantity.
func (m *Manager) ApplyFill(order models.Order, fill models.Fill) models.Position {
	now := m.clock()
	fillSide := positionSideFor(order.Side)

	m.mu.Lock()
	pos, exists := m.positions[order.Symbol]

	var trade models.Trade
	var closed, opened bool

	switch {
	case !exists:
		pos = &models.Position{
			ID:        uuid.NewString(),
			Symbol:    order.Symbol,
			Side:      fillSide,
			Quantity:  fill.Quantity,
			AvgPrice:  fill.Price,
			LastPrice: fill.Price,
			OpenedAt:  now,
			UpdatedAt: now,
		}
		m.positions[order.Symbol] = pos
		opened = true
		trade = m.newTrade(order, fill, pos.ID, fixed.Zero, now)

	case pos.Side == fillSide:
		// Same direction: quantity-weighted average entry.
		notional := pos.AvgPrice.MulInt64(pos.Quantity).Add(fill.Price.MulInt64(fill.Quantity))
		pos.Quantity += fill.Quantity
		pos.AvgPrice = notional.DivInt64(pos.Quantity)
		pos.UpdatedAt = now
		trade = m.newTrade(order, fill, pos.ID, fixed.Zero, now)

	default:
		// Opposite direction: realize P&L on the overlap.
		overlap := fill.Quantity
		if pos.Quantity < overlap {
			overlap = pos.Quantity
		}
		pnl := fill.Price.Sub(pos.AvgPrice).MulInt64(overlap).Mul(pos.Side.Sign())
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		pos.Quantity -= overlap
		pos.UpdatedAt = now
		trade = m.newTrade(order, fill, pos.ID, pnl, now)

		if remainder := fill.Quantity - overlap; remainder > 0 {
			// Flip: the remainder is a logically new position with its own
			// realized P&L.
			closedPnL := pos.RealizedPnL
			m.log.Info().
				Str("symbol", pos.Symbol).
				Str("realized_pnl", closedPnL.String()).
				Msg("position flipped")

			pos.ID = uuid.NewString()
			pos.Side = fillSide
			pos.Quantity = remainder
			pos.AvgPrice = fill.Price
			pos.RealizedPnL = fixed.Zero
			pos.UnrealizedPnL = fixed.Zero
			pos.OpenedAt = now
		} else if pos.Quantity == 0 {
			closed = true
			delete(m.positions, order.Symbol)
		}
	}

	pos.LastPrice = fill.Price
	m.trades = append(m.trades, trade)
	snapshot := *pos
	m.mu.Unlock()

	if opened {
		m.emit(events.Event{Type: events.TypePositionOpened, Position: &snapshot, At: now})
	}
	if closed {
		m.log.Info().
			Str("symbol", snapshot.Symbol).
			Str("realized_pnl", snapshot.RealizedPnL.String()).
			Msg("position closed")
		m.emit(events.Event{Type: events.TypePositionClosed, Position: &snapshot, At: now})
	}
	return snapshot
}

// UpdatePrices marks every position to the latest market picture,
// recomputing unrealized P&L from the mid price, or LTP when the book is
// one-sided, and refreshing Greeks. Symbols without data are left as-is.
func (m *Manager) UpdatePrices(state *market.State, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range m.positions {
		tick, ok := state.Lookup(pos.Symbol)
		if !ok {
			continue
		}
		price := tick.Mid()
		if !price.IsPos() {
			price = tick.LTP
		}
		pos.LastPrice = price
		pos.UnrealizedPnL = price.Sub(pos.AvgPrice).MulInt64(pos.Quantity).Mul(pos.Side.Sign())
		if tick.Greeks != nil {
			g := *tick.Greeks
			pos.Greeks = &g
		}
		pos.UpdatedAt = now
	}
}

// Position returns a snapshot for one symbol.
func (m *Manager) Position(symbol string) (models.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

// Positions returns snapshots of all open positions.
func (m *Manager) Positions() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, *pos)
	}
	return out
}

// AggregatePnL returns total realized and unrealized P&L across open
// positions plus realized P&L banked from closed ones.
func (m *Manager) AggregatePnL() (realized, unrealized fixed.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()

	realized = m.closedRealized()
	for _, pos := range m.positions {
		realized = realized.Add(pos.RealizedPnL)
		unrealized = unrealized.Add(pos.UnrealizedPnL)
	}
	return realized, unrealized
}

// NetGreeks sums Greeks across positions with known Greeks, signed by
// direction and scaled by quantity.
func (m *Manager) NetGreeks() models.Greeks {
	m.mu.Lock()
	defer m.mu.Unlock()

	var net models.Greeks
	for _, pos := range m.positions {
		if pos.Greeks == nil {
			continue
		}
		sign := pos.Side.Sign()
		qty := fixed.FromInt64(pos.Quantity, 0).Mul(sign)
		net.Delta = net.Delta.Add(pos.Greeks.Delta.Mul(qty))
		net.Gamma = net.Gamma.Add(pos.Greeks.Gamma.Mul(qty))
		net.Theta = net.Theta.Add(pos.Greeks.Theta.Mul(qty))
		net.Vega = net.Vega.Add(pos.Greeks.Vega.Mul(qty))
		net.Rho = net.Rho.Add(pos.Greeks.Rho.Mul(qty))
	}
	return net
}

// Trades returns a copy of the trade ledger.
func (m *Manager) Trades() []models.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

// Restore replaces open positions from a persisted snapshot.
func (m *Manager) Restore(positions []models.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string]*models.Position, len(positions))
	for _, pos := range positions {
		p := pos
		m.positions[pos.Symbol] = &p
	}
}

// closedRealized sums P&L-bearing trades whose position is gone. Caller
// holds the mutex.
func (m *Manager) closedRealized() fixed.Point {
	open := make(map[string]bool, len(m.positions))
	for _, pos := range m.positions {
		open[pos.ID] = true
	}
	total := fixed.Zero
	for _, trade := range m.trades {
		if !open[trade.PositionID] {
			total = total.Add(trade.PnLImpact)
		}
	}
	return total
}

func (m *Manager) newTrade(order models.Order, fill models.Fill, positionID string, pnl fixed.Point, now time.Time) models.Trade {
	return models.Trade{
		ID:         uuid.NewString(),
		OrderID:    order.ID,
		PositionID: positionID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   fill.Quantity,
		Price:      fill.Price,
		PnLImpact:  pnl,
		Timestamp:  now,
	}
}

func (m *Manager) emit(event events.Event) {
	if m.bus != nil {
		m.bus.Publish(event)
	}
}

func positionSideFor(side models.OrderSide) models.PositionSide {
	if side == models.OrderSideBuy {
		return models.PositionLong
	}
	return models.PositionShort
}
