// Package pricing exposes the contract-pricing collaborators the settlement
// core consults. How expected prices are negotiated is outside this core; it
// only needs a lookup.
package pricing

import (
	"context"
	"sync"
)

// Provider kinds used across the platform's polymorphic references.
const (
	KindClinic       = "clinic"
	KindProfessional = "professional"
)

// ProviderKey identifies a contracted provider.
type ProviderKey struct {
	Kind string
	ID   int64
}

// ExpectedPriceResolver supplies the contract price for a procedure at a
// provider. ok=false means no contract price is known, which disables the
// price-deviation heuristic for that item.
type ExpectedPriceResolver interface {
	ExpectedPrice(ctx context.Context, tussCode string, provider ProviderKey) (price float64, ok bool, err error)
}

// StaticResolver is a table-backed resolver, loaded at startup from contract
// data. Lookup falls back from (provider, code) to the code's base price.
type StaticResolver struct {
	mu       sync.RWMutex
	byProv   map[ProviderKey]map[string]float64
	baseline map[string]float64
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{
		byProv:   make(map[ProviderKey]map[string]float64),
		baseline: make(map[string]float64),
	}
}

// SetBasePrice registers the payer's reference price for a TUSS code.
func (r *StaticResolver) SetBasePrice(tussCode string, price float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseline[tussCode] = price
}

// SetProviderPrice registers a provider-negotiated price for a TUSS code.
func (r *StaticResolver) SetProviderPrice(provider ProviderKey, tussCode string, price float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byProv[provider] == nil {
		r.byProv[provider] = make(map[string]float64)
	}
	r.byProv[provider][tussCode] = price
}

func (r *StaticResolver) ExpectedPrice(_ context.Context, tussCode string, provider ProviderKey) (float64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if prices, ok := r.byProv[provider]; ok {
		if p, ok := prices[tussCode]; ok {
			return p, true, nil
		}
	}
	if p, ok := r.baseline[tussCode]; ok {
		return p, true, nil
	}
	return 0, false, nil
}
