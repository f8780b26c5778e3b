package models

import (
	"time"

	"paper-trader/pkg/fixed"
)

// OrderRequest is a trading intent submitted to the fill engine.
type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Quantity   int64
	Type       OrderType
	LimitPrice fixed.Point // required for LIMIT
	Tag        string
}

// Order is a simulated order tracked by the fill engine.
// Invariant: FilledQty <= Quantity; sum of fill quantities == FilledQty.
type Order struct {
	ID           string
	Symbol       string
	Side         OrderSide
	Quantity     int64
	Type         OrderType
	LimitPrice   fixed.Point
	Status       OrderStatus
	Reason       string // rejection/cancellation reason
	FilledQty    int64
	AveragePrice fixed.Point
	Fills        []Fill
	Tag          string
	PlacedAt     time.Time
	UpdatedAt    time.Time
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.FilledQty
}

// AddFill appends a fill and recomputes the liquidity-weighted average price.
func (o *Order) AddFill(f Fill) {
	o.Fills = append(o.Fills, f)
	o.FilledQty += f.Quantity

	notional := fixed.Zero
	for _, fl := range o.Fills {
		notional = notional.Add(fl.Price.MulInt64(fl.Quantity))
	}
	o.AveragePrice = notional.DivInt64(o.FilledQty)
}

// Fill is one execution against an order.
type Fill struct {
	Price     fixed.Point
	Quantity  int64
	Slippage  fixed.Point
	LatencyMs int64
	Timestamp time.Time
}

// Trade is a ledger entry produced by applying a fill to a position.
// PnLImpact is zero unless the trade reduces, closes, or flips a position.
type Trade struct {
	ID         string
	OrderID    string
	PositionID string
	Symbol     string
	Side       OrderSide
	Quantity   int64
	Price      fixed.Point
	PnLImpact  fixed.Point
	Timestamp  time.Time
}
