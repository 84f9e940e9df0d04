package source

import (
	"github.com/rotisserie/eris"

	"github.com/afflux/feedsync/internal/config"
	"github.com/afflux/feedsync/internal/model"
)

// Registry maps source names to their providers.
type Registry struct {
	providers map[model.Source]Provider
	order     []model.Source // insertion order for deterministic iteration
}

// NewRegistry creates a registry populated with all known providers.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		providers: make(map[model.Source]Provider),
	}

	r.Register(&AWIN{cfg: sourceCfg(cfg, model.SourceAWIN)})
	r.Register(&CJ{cfg: sourceCfg(cfg, model.SourceCJ)})
	r.Register(&Impact{cfg: sourceCfg(cfg, model.SourceImpact)})

	return r
}

func sourceCfg(cfg *config.Config, s model.Source) config.SourceConfig {
	if cfg == nil {
		return config.SourceConfig{}
	}
	return cfg.Sources[string(s)]
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	name := p.Name()
	r.providers[name] = p
	r.order = append(r.order, name)
}

// Get returns a provider by name.
func (r *Registry) Get(name model.Source) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, eris.Errorf("source: unknown provider %q", name)
	}
	return p, nil
}

// Select returns the named providers in request order, or every provider in
// registration order when names is empty.
func (r *Registry) Select(names []model.Source) ([]Provider, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	result := make([]Provider, 0, len(names))
	for _, name := range names {
		p, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

// All returns all providers in registration order.
func (r *Registry) All() []Provider {
	result := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.providers[name])
	}
	return result
}

// AllNames returns all registered source names in registration order.
func (r *Registry) AllNames() []model.Source {
	out := make([]model.Source, len(r.order))
	copy(out, r.order)
	return out
}
