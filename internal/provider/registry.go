package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cowork-ai/cowork/pkg/types"
)

// Registry holds the configured providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get returns a provider by id.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", id)
	}
	return p, nil
}

// List returns all providers sorted by id.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ResolveModel returns the model id to use for a provider: the explicit
// model when given, else the provider's default.
func (r *Registry) ResolveModel(providerID, modelID string) (string, error) {
	p, err := r.Get(providerID)
	if err != nil {
		return "", err
	}
	if modelID == "" {
		return DefaultModel(p), nil
	}
	return modelID, nil
}

// Model returns the model descriptor when the provider declares it.
func (r *Registry) Model(providerID, modelID string) (types.Model, bool) {
	p, err := r.Get(providerID)
	if err != nil {
		return types.Model{}, false
	}
	for _, m := range p.Models() {
		if m.ID == modelID {
			return m, true
		}
	}
	return types.Model{}, false
}
