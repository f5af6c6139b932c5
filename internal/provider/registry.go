package provider

import (
	"sync"

	"go.uber.org/zap"
)

// Registry maps provider ids to Provider implementations. An unknown
// id resolves to the default provider rather than failing, so callers
// never need to guard provider selection.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	defaultID string
	logger    *zap.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		logger:    logger,
	}
}

// Register adds a provider. The first registered provider becomes the
// default until SetDefault overrides it.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaultID == "" {
		r.defaultID = p.ID()
	}
	r.logger.Info("registered provider",
		zap.String("id", p.ID()),
		zap.String("kind", string(p.Kind())))
}

// SetDefault selects the fallback provider for unknown ids.
func (r *Registry) SetDefault(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[id]; ok {
		r.defaultID = id
	}
}

// DefaultID returns the current default provider id.
func (r *Registry) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultID
}

// Resolve returns the provider for id, falling back to the default when
// the id is unknown or empty. Returns nil only when the registry is empty.
func (r *Registry) Resolve(id string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[id]; ok {
		return p
	}
	return r.providers[r.defaultID]
}

// Get returns a provider by exact id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// List returns all registered providers.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}
