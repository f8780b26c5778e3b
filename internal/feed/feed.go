// Package feed connects the simulator to market data: a transport
// interface, the Zerodha WebSocket adapter, and the instrument resolver.
package feed

import (
	"context"

	"paper-trader/internal/models"
)

// TickMode selects the subscription depth.
type TickMode string

const (
	TickModeQuote TickMode = "quote"
	TickModeFull  TickMode = "full"
)

// Ticker is the market-data transport. Implementations deliver normalized
// ticks asynchronously and resubscribe automatically after a reconnect;
// consumers must tolerate out-of-order and momentarily absent ticks.
type Ticker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(symbols []string, mode TickMode) error
	Unsubscribe(symbols []string) error
	OnTick(handler func(models.InstrumentTick))
	OnError(handler func(error))
	OnConnect(handler func())
	OnDisconnect(handler func())
}
