package margin

import (
	"sync"
	"time"

	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

// Tracker maintains the account-level margin snapshot. Available margin is
// asymmetric on purpose: unrealized losses reduce it, unrealized gains
// never increase it.
type Tracker struct {
	mu             sync.RWMutex
	initialCapital fixed.Point
	state          models.MarginState
}

// NewTracker creates a tracker with the starting capital.
func NewTracker(initialCapital fixed.Point) *Tracker {
	return &Tracker{
		initialCapital: initialCapital,
		state: models.MarginState{
			InitialCapital:  initialCapital,
			AvailableMargin: initialCapital,
			NetLiquidation:  initialCapital,
		},
	}
}

// Update recomputes the snapshot for one cycle.
func (t *Tracker) Update(usedMargin, pendingOrderMargin, realizedPnL, unrealizedPnL fixed.Point, now time.Time) models.MarginState {
	t.mu.Lock()
	defer t.mu.Unlock()

	available := t.initialCapital.
		Add(realizedPnL).
		Sub(usedMargin).
		Sub(pendingOrderMargin).
		Add(fixed.Min(unrealizedPnL, fixed.Zero))

	netLiq := t.initialCapital.Add(realizedPnL).Add(unrealizedPnL)

	utilization := fixed.Zero
	if capital := t.initialCapital.Add(realizedPnL); capital.IsPos() {
		utilization = usedMargin.Add(pendingOrderMargin).Div(capital).Mul(fixed.Hundred)
	}

	t.state = models.MarginState{
		InitialCapital:     t.initialCapital,
		UsedMargin:         usedMargin,
		AvailableMargin:    available,
		PendingOrderMargin: pendingOrderMargin,
		RealizedPnL:        realizedPnL,
		MTMPnL:             unrealizedPnL,
		NetLiquidation:     netLiq,
		UtilizationPct:     utilization,
		UpdatedAt:          now,
	}
	return t.state
}

// State returns the latest snapshot.
func (t *Tracker) State() models.MarginState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// CanPlaceOrder admits an order only when its required net margin fits in
// the available margin of the latest snapshot.
func (t *Tracker) CanPlaceOrder(requiredMargin fixed.Point) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return requiredMargin.Lte(t.state.AvailableMargin)
}
