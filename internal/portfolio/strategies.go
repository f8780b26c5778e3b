package portfolio

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

// StrategyBook groups positions into named multi-leg strategies and rolls
// their P&L up from the position manager. A strategy closes only when
// every linked position has closed.
type StrategyBook struct {
	mu         sync.Mutex
	strategies map[string]*models.Strategy
	manager    *Manager
	clock      func() time.Time
}

// NewStrategyBook creates a strategy book over the given manager.
func NewStrategyBook(manager *Manager, clock func() time.Time) *StrategyBook {
	if clock == nil {
		clock = time.Now
	}
	return &StrategyBook{
		strategies: make(map[string]*models.Strategy),
		manager:    manager,
		clock:      clock,
	}
}

// Create registers a strategy linking the given position IDs. The legs
// record the intent; the positions carry the state.
func (b *StrategyBook) Create(name string, legs []models.StrategyLeg, positionIDs []string) (models.Strategy, error) {
	if name == "" {
		return models.Strategy{}, fmt.Errorf("strategy name is required")
	}
	if len(positionIDs) == 0 {
		return models.Strategy{}, fmt.Errorf("strategy needs at least one position")
	}

	s := &models.Strategy{
		ID:          uuid.NewString(),
		Name:        name,
		Legs:        legs,
		PositionIDs: positionIDs,
		Status:      models.StrategyActive,
		CreatedAt:   b.clock(),
	}

	b.mu.Lock()
	b.strategies[s.ID] = s
	b.mu.Unlock()
	return *s, nil
}

// Refresh recomputes P&L for every strategy from the current positions
// and trade ledger, closing strategies whose positions are all gone.
func (b *StrategyBook) Refresh() {
	open := make(map[string]models.Position)
	for _, pos := range b.manager.Positions() {
		open[pos.ID] = pos
	}
	trades := b.manager.Trades()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.strategies {
		realized, unrealized := fixed.Zero, fixed.Zero
		anyOpen := false

		for _, id := range s.PositionIDs {
			if pos, ok := open[id]; ok {
				anyOpen = true
				realized = realized.Add(pos.RealizedPnL)
				unrealized = unrealized.Add(pos.UnrealizedPnL)
				continue
			}
			// Closed leg: recover its realized P&L from the ledger.
			for _, trade := range trades {
				if trade.PositionID == id {
					realized = realized.Add(trade.PnLImpact)
				}
			}
		}

		s.RealizedPnL = realized
		s.UnrealizedPnL = unrealized
		s.TotalPnL = realized.Add(unrealized)
		if !anyOpen && s.Status == models.StrategyActive {
			s.Status = models.StrategyClosed
		}
	}
}

// Strategy returns a snapshot of one strategy.
func (b *StrategyBook) Strategy(id string) (models.Strategy, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.strategies[id]
	if !ok {
		return models.Strategy{}, false
	}
	return *s, true
}

// Strategies returns snapshots of all strategies.
func (b *StrategyBook) Strategies() []models.Strategy {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Strategy, 0, len(b.strategies))
	for _, s := range b.strategies {
		out = append(out, *s)
	}
	return out
}
