package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// ProviderRegistry is a concurrency-safe, in-process provider catalog.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: map[string]Provider{},
	}
}

func (r *ProviderRegistry) Register(provider Provider) error {
	if r == nil {
		return fmt.Errorf("core: registry is nil")
	}
	if provider == nil {
		return fmt.Errorf("core: provider is required")
	}
	id := strings.TrimSpace(provider.ID())
	if id == "" {
		return fmt.Errorf("core: provider id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("core: provider %q already registered", id)
	}
	r.providers[id] = provider
	return nil
}

func (r *ProviderRegistry) Get(providerID string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	id := strings.TrimSpace(providerID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[id]
	return provider, ok
}

// CapabilitiesFor answers what a caller may expect from a provider before
// starting a flow. Unknown providers fail with a typed not-found error.
func (r *ProviderRegistry) CapabilitiesFor(providerID string) (ProviderCapabilities, error) {
	provider, ok := r.Get(providerID)
	if !ok {
		return ProviderCapabilities{}, goerrors.New(
			fmt.Sprintf("provider %q is not registered", strings.TrimSpace(providerID)),
			goerrors.CategoryNotFound,
		).WithTextCode(ConnectionErrorProviderNotFound).
			WithMetadata(map[string]any{"provider_id": strings.TrimSpace(providerID)})
	}

	caps := provider.Capabilities()
	if strings.TrimSpace(caps.ProviderID) == "" {
		caps.ProviderID = provider.ID()
	}
	caps.RequiredScopes = append([]string(nil), caps.RequiredScopes...)
	return caps, nil
}

func (r *ProviderRegistry) List() []Provider {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	providers := make([]Provider, 0, len(ids))
	for _, id := range ids {
		providers = append(providers, r.providers[id])
	}
	return providers
}

var _ Registry = (*ProviderRegistry)(nil)
