// Package models provides domain models for the paper-trading simulator.
package models

import (
	"time"

	"paper-trader/pkg/fixed"
)

// Exchange represents a stock exchange segment.
type Exchange string

const (
	NSE Exchange = "NSE"
	NFO Exchange = "NFO" // index F&O
)

// Underlying identifies an index underlying.
type Underlying string

const (
	Nifty     Underlying = "NIFTY"
	BankNifty Underlying = "BANKNIFTY"
	FinNifty  Underlying = "FINNIFTY"
)

// InstrumentType classifies a tradeable contract.
type InstrumentType string

const (
	InstrumentCE   InstrumentType = "CE"
	InstrumentPE   InstrumentType = "PE"
	InstrumentFUT  InstrumentType = "FUT"
	InstrumentSpot InstrumentType = "SPOT"
)

// IsOption reports whether the type is a call or put.
func (t InstrumentType) IsOption() bool {
	return t == InstrumentCE || t == InstrumentPE
}

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus represents the lifecycle state of a simulated order.
// Transitions move only forward; terminal orders never mutate.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// PositionSide represents the direction of a net holding.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Sign returns +1 for long, -1 for short.
func (s PositionSide) Sign() fixed.Point {
	if s == PositionLong {
		return fixed.One
	}
	return fixed.NegOne
}

// MoveDirection classifies the current spot drift.
type MoveDirection string

const (
	DirectionUp   MoveDirection = "UP"
	DirectionDown MoveDirection = "DOWN"
	DirectionFlat MoveDirection = "FLAT"
)

// DepthLevel is one price level of the visible order book.
type DepthLevel struct {
	Price    fixed.Point
	Quantity int64
	Orders   int
}

// MarketDepth is the five-level book attached to a full-mode tick.
type MarketDepth struct {
	Buy  []DepthLevel
	Sell []DepthLevel
}

// TotalBuyQty sums visible bid-side quantity.
func (d MarketDepth) TotalBuyQty() int64 {
	var total int64
	for _, l := range d.Buy {
		total += l.Quantity
	}
	return total
}

// TotalSellQty sums visible ask-side quantity.
func (d MarketDepth) TotalSellQty() int64 {
	var total int64
	for _, l := range d.Sell {
		total += l.Quantity
	}
	return total
}

// InstrumentTick is one normalized market update from the feed.
// Invariant: Bid <= LTP <= Ask when both sides are present.
type InstrumentTick struct {
	Token      uint32
	Symbol     string
	Underlying Underlying
	Type       InstrumentType
	Strike     fixed.Point
	Expiry     time.Time
	LTP        fixed.Point
	Bid        fixed.Point
	Ask        fixed.Point
	Depth      *MarketDepth
	OI         int64
	Volume     int64
	IV         fixed.Point // percentage, computed by the pricing engine
	Greeks     *Greeks
	Timestamp  time.Time
}

// Mid returns the quote midpoint, or LTP when the book is one-sided.
func (t InstrumentTick) Mid() fixed.Point {
	if t.Bid.IsZero() || t.Ask.IsZero() {
		return t.LTP
	}
	return t.Bid.Add(t.Ask).Div(fixed.Two)
}

// Spread returns ask minus bid, zero for a one-sided book.
func (t InstrumentTick) Spread() fixed.Point {
	if t.Bid.IsZero() || t.Ask.IsZero() {
		return fixed.Zero
	}
	return t.Ask.Sub(t.Bid)
}

// Instrument is contract reference data resolved from the instrument master.
type Instrument struct {
	Token      uint32
	Symbol     string
	Underlying Underlying
	Type       InstrumentType
	Strike     fixed.Point
	Expiry     time.Time
	LotSize    int
	TickSize   fixed.Point
}
