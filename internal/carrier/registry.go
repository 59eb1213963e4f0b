package carrier

import (
	"context"
	"fmt"
	"sync"
)

// Providers known to the platform.
const (
	ProviderVelocex  = "velocex"
	ProviderParcelio = "parcelio"
)

// Registry builds and caches adapters per (company, provider). Construction is
// keyed on the integration record; Invalidate must be called when credentials
// or configuration change so the next Get rebuilds the adapter.
type Registry struct {
	store Store

	mu    sync.Mutex
	cache map[string]Adapter
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store, cache: make(map[string]Adapter)}
}

func cacheKey(companyID int, provider string) string {
	return fmt.Sprintf("%d/%s", companyID, provider)
}

// Get returns the adapter for a company's integration with the given provider.
func (r *Registry) Get(ctx context.Context, companyID int, provider string) (Adapter, error) {
	key := cacheKey(companyID, provider)
	r.mu.Lock()
	if a, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return a, nil
	}
	r.mu.Unlock()

	integ, err := r.store.Integration(ctx, companyID, provider)
	if err != nil {
		return nil, err
	}
	a, err := r.build(integ)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = a
	r.mu.Unlock()
	return a, nil
}

// Active returns adapters for every active integration of a company.
func (r *Registry) Active(ctx context.Context, companyID int) ([]Adapter, error) {
	integrations, err := r.store.ActiveIntegrations(ctx, companyID)
	if err != nil {
		return nil, err
	}
	adapters := make([]Adapter, 0, len(integrations))
	for _, in := range integrations {
		a, err := r.Get(ctx, companyID, in.Provider)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// Invalidate drops the cached adapter for a company+provider.
func (r *Registry) Invalidate(companyID int, provider string) {
	r.mu.Lock()
	delete(r.cache, cacheKey(companyID, provider))
	r.mu.Unlock()
}

// WebhookSecret resolves the provider-level webhook secret via the store.
func (r *Registry) WebhookSecret(ctx context.Context, provider string) (string, error) {
	return r.store.WebhookSecret(ctx, provider)
}

func (r *Registry) build(integ *Integration) (Adapter, error) {
	switch integ.Provider {
	case ProviderVelocex:
		return NewVelocex(integ, r.store), nil
	case ProviderParcelio:
		return NewParcelio(integ, r.store), nil
	default:
		return nil, fmt.Errorf("unknown carrier provider %q", integ.Provider)
	}
}
