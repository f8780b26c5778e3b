package models

import (
	"time"

	"paper-trader/pkg/fixed"
)

// Greeks are per-instrument sensitivities from the pricing engine.
// They go stale when the instrument re-ticks without a re-price.
type Greeks struct {
	Delta fixed.Point
	Gamma fixed.Point
	Theta fixed.Point // per day
	Vega  fixed.Point // per 1 IV percentage point
	Rho   fixed.Point // per 1% rate change
	IV    fixed.Point // percentage
}

// Position is the net holding in one instrument.
// Invariant: Quantity >= 0; direction is carried by Side.
type Position struct {
	ID            string
	Symbol        string
	Side          PositionSide
	Quantity      int64
	AvgPrice      fixed.Point
	RealizedPnL   fixed.Point
	UnrealizedPnL fixed.Point
	LastPrice     fixed.Point
	Greeks        *Greeks
	OpenedAt      time.Time
	UpdatedAt     time.Time
}

// SignedQuantity returns quantity with the position's direction applied.
func (p *Position) SignedQuantity() int64 {
	if p.Side == PositionShort {
		return -p.Quantity
	}
	return p.Quantity
}

// StrategyStatus tracks a multi-leg strategy lifecycle.
type StrategyStatus string

const (
	StrategyActive StrategyStatus = "ACTIVE"
	StrategyClosed StrategyStatus = "CLOSED"
)

// StrategyLeg describes one intended leg of a strategy.
type StrategyLeg struct {
	Symbol   string
	Side     OrderSide
	Quantity int64
}

// Strategy is a named group of legs and their resulting positions.
// Status moves to CLOSED only when every linked position is closed.
type Strategy struct {
	ID            string
	Name          string
	Legs          []StrategyLeg
	PositionIDs   []string
	Status        StrategyStatus
	RealizedPnL   fixed.Point
	UnrealizedPnL fixed.Point
	TotalPnL      fixed.Point
	CreatedAt     time.Time
}
