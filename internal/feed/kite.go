package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	kitemodels "github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

// KiteTickerConfig holds credentials and reconnect tuning.
type KiteTickerConfig struct {
	APIKey      string
	AccessToken string
	MaxRetries  int
	BaseDelay   time.Duration
}

// KiteTicker streams ticks over the Zerodha WebSocket, normalizing them
// into InstrumentTick with contract metadata joined from the resolver.
// Prices cross to decimal here, at the ingestion boundary.
type KiteTicker struct {
	ticker   *kiteticker.Ticker
	cfg      KiteTickerConfig
	resolver *Resolver

	onTick       func(models.InstrumentTick)
	onError      func(error)
	onConnect    func()
	onDisconnect func()

	connected    bool
	reconnecting bool
	subscribed   map[uint32]TickMode

	mu      sync.RWMutex
	writeMu sync.Mutex // serializes websocket writes
}

// NewKiteTicker creates a ticker adapter.
func NewKiteTicker(cfg KiteTickerConfig, resolver *Resolver) *KiteTicker {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Second
	}
	return &KiteTicker{
		cfg:        cfg,
		resolver:   resolver,
		subscribed: make(map[uint32]TickMode),
	}
}

// Connect establishes the WebSocket session and blocks until connected or
// the context expires. After an unplanned close the adapter reconnects
// with backoff and resubscribes to everything it was subscribed to.
func (t *KiteTicker) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}

	t.ticker = kiteticker.New(t.cfg.APIKey, t.cfg.AccessToken)

	connectedCh := make(chan struct{})
	firstConnect := true

	t.ticker.OnConnect(func() {
		t.mu.Lock()
		t.connected = true
		t.reconnecting = false
		isFirst := firstConnect
		firstConnect = false
		t.mu.Unlock()

		select {
		case connectedCh <- struct{}{}:
		default:
		}

		if !isFirst {
			t.resubscribe()
			return
		}
		if t.onConnect != nil {
			go t.onConnect()
		}
	})

	t.ticker.OnClose(func(code int, reason string) {
		t.mu.Lock()
		wasConnected := t.connected
		t.connected = false
		t.mu.Unlock()

		if t.onDisconnect != nil && wasConnected {
			go t.onDisconnect()
		}
		go t.reconnect(ctx)
	})

	t.ticker.OnError(func(err error) {
		if t.onError != nil {
			go t.onError(err)
		}
	})

	t.ticker.OnTick(func(tick kitemodels.Tick) {
		if t.onTick != nil {
			t.onTick(t.convertTick(tick))
		}
	})

	t.ticker.OnReconnect(func(attempt int, delay time.Duration) {
		t.mu.Lock()
		t.reconnecting = true
		t.mu.Unlock()
	})

	t.mu.Unlock()

	go t.ticker.Serve()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-connectedCh:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("connection timeout")
	}
}

// Disconnect closes the session.
func (t *KiteTicker) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ticker != nil {
		t.ticker.Close()
		t.connected = false
	}
	return nil
}

// Subscribe subscribes symbols known to the resolver; unknown symbols are
// skipped.
func (t *KiteTicker) Subscribe(symbols []string, mode TickMode) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return fmt.Errorf("not connected")
	}
	tokens := make([]uint32, 0, len(symbols))
	for _, symbol := range symbols {
		inst, ok := t.resolver.Resolve(symbol)
		if !ok {
			continue
		}
		tokens = append(tokens, inst.Token)
		t.subscribed[inst.Token] = mode
	}
	t.mu.Unlock()

	return t.sendSubscribe(tokens, mode)
}

// Unsubscribe drops symbols from the stream.
func (t *KiteTicker) Unsubscribe(symbols []string) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return fmt.Errorf("not connected")
	}
	tokens := make([]uint32, 0, len(symbols))
	for _, symbol := range symbols {
		if inst, ok := t.resolver.Resolve(symbol); ok {
			tokens = append(tokens, inst.Token)
			delete(t.subscribed, inst.Token)
		}
	}
	t.mu.Unlock()

	if len(tokens) == 0 {
		return nil
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.ticker.Unsubscribe(tokens); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

// OnTick sets the tick handler.
func (t *KiteTicker) OnTick(handler func(models.InstrumentTick)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = handler
}

// OnError sets the error handler.
func (t *KiteTicker) OnError(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = handler
}

// OnConnect sets the connect handler.
func (t *KiteTicker) OnConnect(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = handler
}

// OnDisconnect sets the disconnect handler.
func (t *KiteTicker) OnDisconnect(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = handler
}

// IsConnected reports the session state.
func (t *KiteTicker) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *KiteTicker) sendSubscribe(tokens []uint32, mode TickMode) error {
	if len(tokens) == 0 {
		return nil
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.ticker.Subscribe(tokens); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	kiteMode := kiteticker.ModeQuote
	if mode == TickModeFull {
		kiteMode = kiteticker.ModeFull
	}
	if err := t.ticker.SetMode(kiteMode, tokens); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	return nil
}

// resubscribe restores all subscriptions after a reconnect.
func (t *KiteTicker) resubscribe() {
	t.mu.RLock()
	byMode := make(map[TickMode][]uint32)
	for token, mode := range t.subscribed {
		byMode[mode] = append(byMode[mode], token)
	}
	t.mu.RUnlock()

	for mode, tokens := range byMode {
		if err := t.sendSubscribe(tokens, mode); err != nil && t.onError != nil {
			go t.onError(err)
		}
	}
}

// reconnect retries the session with exponential backoff.
func (t *KiteTicker) reconnect(ctx context.Context) {
	t.mu.Lock()
	if t.reconnecting {
		t.mu.Unlock()
		return
	}
	t.reconnecting = true
	t.mu.Unlock()

	delay := t.cfg.BaseDelay
	for attempt := 0; attempt < t.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		t.mu.RLock()
		connected := t.connected
		t.mu.RUnlock()
		if connected {
			return
		}

		go t.ticker.Serve()
		delay *= 2
	}

	if t.onError != nil {
		t.onError(fmt.Errorf("gave up reconnecting after %d attempts", t.cfg.MaxRetries))
	}
}

// convertTick joins the wire tick with contract metadata and converts
// prices to decimal.
func (t *KiteTicker) convertTick(tick kitemodels.Tick) models.InstrumentTick {
	out := models.InstrumentTick{
		Token:     tick.InstrumentToken,
		LTP:       fixed.FromFloat64(tick.LastPrice),
		OI:        int64(tick.OI),
		Volume:    int64(tick.VolumeTraded),
		Timestamp: tick.Timestamp.Time,
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}

	if inst, ok := t.resolver.ResolveToken(tick.InstrumentToken); ok {
		out.Symbol = inst.Symbol
		out.Underlying = inst.Underlying
		out.Type = inst.Type
		out.Strike = inst.Strike
		out.Expiry = inst.Expiry
	}

	// Depth levels are fixed-size arrays on the wire; an absent level has
	// zero quantity.
	if tick.Depth.Buy[0].Quantity > 0 {
		out.Bid = fixed.FromFloat64(tick.Depth.Buy[0].Price)
	}
	if tick.Depth.Sell[0].Quantity > 0 {
		out.Ask = fixed.FromFloat64(tick.Depth.Sell[0].Price)
	}
	if tick.Depth.Buy[0].Quantity > 0 || tick.Depth.Sell[0].Quantity > 0 {
		out.Depth = convertDepth(tick.Depth)
	}
	return out
}

func convertDepth(depth kitemodels.Depth) *models.MarketDepth {
	out := &models.MarketDepth{}
	for _, level := range depth.Buy {
		if level.Quantity == 0 {
			continue
		}
		out.Buy = append(out.Buy, models.DepthLevel{
			Price:    fixed.FromFloat64(level.Price),
			Quantity: int64(level.Quantity),
			Orders:   int(level.Orders),
		})
	}
	for _, level := range depth.Sell {
		if level.Quantity == 0 {
			continue
		}
		out.Sell = append(out.Sell, models.DepthLevel{
			Price:    fixed.FromFloat64(level.Price),
			Quantity: int64(level.Quantity),
			Orders:   int(level.Orders),
		})
	}
	return out
}
