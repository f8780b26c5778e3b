// Package market holds the latest normalized market picture: a per-token
// tick cache and a rolling spot-movement tracker per underlying.
package market

import (
	"sync"
	"time"

	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

// State caches the latest tick per instrument and spot per underlying.
// It is updated only by the transport adapter; readers must treat a
// missing entry as benign and retryable, never fatal.
type State struct {
	mu        sync.RWMutex
	bySymbol  map[string]models.InstrumentTick
	byToken   map[uint32]string
	spot      map[models.Underlying]fixed.Point
	staleness time.Duration
}

// NewState creates an empty market state cache. staleness bounds how old a
// tick may be before Fresh lookups refuse it; zero disables the check.
func NewState(staleness time.Duration) *State {
	return &State{
		bySymbol:  make(map[string]models.InstrumentTick),
		byToken:   make(map[uint32]string),
		spot:      make(map[models.Underlying]fixed.Point),
		staleness: staleness,
	}
}

// Update stores a tick, keeping per-token timestamp monotonicity: a tick
// older than the cached one for the same token is dropped.
func (s *State) Update(tick models.InstrumentTick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.bySymbol[tick.Symbol]; ok && tick.Timestamp.Before(prev.Timestamp) {
		return
	}

	s.bySymbol[tick.Symbol] = tick
	if tick.Token != 0 {
		s.byToken[tick.Token] = tick.Symbol
	}
	if tick.Type == models.InstrumentSpot && tick.Underlying != "" {
		s.spot[tick.Underlying] = tick.LTP
	}
}

// Lookup returns the latest tick for a symbol.
func (s *State) Lookup(symbol string) (models.InstrumentTick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tick, ok := s.bySymbol[symbol]
	return tick, ok
}

// LookupToken returns the latest tick for an instrument token.
func (s *State) LookupToken(token uint32) (models.InstrumentTick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	symbol, ok := s.byToken[token]
	if !ok {
		return models.InstrumentTick{}, false
	}
	tick, ok := s.bySymbol[symbol]
	return tick, ok
}

// Fresh returns the latest tick for a symbol only if it is within the
// configured staleness bound of now.
func (s *State) Fresh(symbol string, now time.Time) (models.InstrumentTick, bool) {
	tick, ok := s.Lookup(symbol)
	if !ok {
		return models.InstrumentTick{}, false
	}
	if s.staleness > 0 && now.Sub(tick.Timestamp) > s.staleness {
		return models.InstrumentTick{}, false
	}
	return tick, true
}

// Spot returns the latest spot price for an underlying.
func (s *State) Spot(underlying models.Underlying) (fixed.Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spot, ok := s.spot[underlying]
	return spot, ok
}

// Symbols returns all cached symbols.
func (s *State) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	symbols := make([]string, 0, len(s.bySymbol))
	for symbol := range s.bySymbol {
		symbols = append(symbols, symbol)
	}
	return symbols
}
