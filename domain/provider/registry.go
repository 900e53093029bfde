package provider

import (
	"fmt"
	"sort"
)

// Registry maps provider identifiers to their validated configuration.
// It is built once at startup; an unknown provider or fallback name is a
// construction-time error, not a runtime surprise.
type Registry struct {
	configs map[ID]Config
}

// NewRegistry builds a registry from the given configurations.
func NewRegistry(configs ...Config) (*Registry, error) {
	if len(configs) == 0 {
		return nil, ErrEmptyRegistry
	}

	byID := make(map[ID]Config, len(configs))
	for _, cfg := range configs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("%w: empty provider name", ErrInvalidConfig)
		}
		if _, dup := byID[cfg.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate provider %q", ErrInvalidConfig, cfg.Name)
		}
		byID[cfg.Name] = cfg.withDefaults()
	}

	// Fallback chains may only reference registered providers.
	for _, cfg := range byID {
		for _, fb := range cfg.Fallbacks {
			if fb == cfg.Name {
				return nil, fmt.Errorf("%w: provider %q lists itself as fallback", ErrInvalidConfig, cfg.Name)
			}
			if _, ok := byID[fb]; !ok {
				return nil, fmt.Errorf("%w: provider %q references unknown fallback %q", ErrUnknownProvider, cfg.Name, fb)
			}
		}
	}

	return &Registry{configs: byID}, nil
}

// Get returns the configuration for a provider.
func (r *Registry) Get(p ID) (Config, bool) {
	cfg, ok := r.configs[p]
	return cfg, ok
}

// Fallbacks returns the ordered fallback chain for a provider. The chain
// is empty for an unknown provider.
func (r *Registry) Fallbacks(p ID) []ID {
	cfg, ok := r.configs[p]
	if !ok {
		return nil
	}
	chain := make([]ID, len(cfg.Fallbacks))
	copy(chain, cfg.Fallbacks)
	return chain
}

// IDs returns all registered provider identifiers in stable order.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(r.configs)
}
