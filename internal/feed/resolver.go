package feed

import (
	"context"
	"fmt"
	"sync"

	"paper-trader/internal/models"
	"paper-trader/internal/store"
)

// Resolver serves contract reference data from an in-memory cache backed
// by the instrument master in the store. Lookups are by trading symbol or
// by exchange token; misses fall through to the store once and cache the
// result.
type Resolver struct {
	store *store.SQLiteStore

	mu       sync.RWMutex
	bySymbol map[string]models.Instrument
	byToken  map[uint32]models.Instrument
}

// NewResolver creates a resolver over the given store.
func NewResolver(st *store.SQLiteStore) *Resolver {
	return &Resolver{
		store:    st,
		bySymbol: make(map[string]models.Instrument),
		byToken:  make(map[uint32]models.Instrument),
	}
}

// Warm preloads all contracts for the given underlyings.
func (r *Resolver) Warm(ctx context.Context, underlyings ...models.Underlying) error {
	for _, u := range underlyings {
		instruments, err := r.store.Instruments(ctx, u)
		if err != nil {
			return fmt.Errorf("failed to load instruments for %s: %w", u, err)
		}
		r.Put(instruments...)
	}
	return nil
}

// Put caches instruments, replacing any previous entries.
func (r *Resolver) Put(instruments ...models.Instrument) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range instruments {
		r.bySymbol[inst.Symbol] = inst
		if inst.Token != 0 {
			r.byToken[inst.Token] = inst
		}
	}
}

// Resolve returns the contract for a trading symbol.
func (r *Resolver) Resolve(symbol string) (models.Instrument, bool) {
	r.mu.RLock()
	inst, ok := r.bySymbol[symbol]
	r.mu.RUnlock()
	if ok {
		return inst, true
	}
	if r.store == nil {
		return models.Instrument{}, false
	}

	inst, found, err := r.store.Instrument(context.Background(), symbol)
	if err != nil || !found {
		return models.Instrument{}, false
	}
	r.Put(inst)
	return inst, true
}

// ResolveToken returns the contract for an exchange token.
func (r *Resolver) ResolveToken(token uint32) (models.Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byToken[token]
	return inst, ok
}

// Count returns the number of cached contracts.
func (r *Resolver) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySymbol)
}
