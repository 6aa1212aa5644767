package models

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/cadre/internal/config"
)

// provider is one configured backend. Its chat model is built on first use
// and the outcome, error included, is kept.
type provider struct {
	cfg   config.ProviderConfig
	build func() (model.BaseChatModel, error)
}

// Registry resolves provider names to chat models. The provider set is
// fixed at construction.
type Registry struct {
	providers   map[string]*provider
	names       []string
	defaultName string
}

// NewRegistry creates a registry over the configured providers. Nothing
// is dialed until a provider is first requested.
func NewRegistry(cfg config.ModelsConfig) *Registry {
	r := &Registry{
		providers:   make(map[string]*provider, len(cfg.Providers)),
		defaultName: cfg.Default,
	}
	for name, pc := range cfg.Providers {
		r.names = append(r.names, name)
		r.providers[name] = &provider{
			cfg: pc,
			build: sync.OnceValues(func() (model.BaseChatModel, error) {
				return CreateModel(context.Background(), name, pc)
			}),
		}
	}
	sort.Strings(r.names)
	return r
}

// Get returns the chat model for name; an empty name is the default.
func (r *Registry) Get(ctx context.Context, name string) (model.BaseChatModel, error) {
	if name == "" {
		return r.Default(ctx)
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("model provider %q not found (configured: %v)", name, r.names)
	}
	return p.build()
}

// Default returns the default provider's chat model.
func (r *Registry) Default(ctx context.Context) (model.BaseChatModel, error) {
	if r.defaultName == "" {
		return nil, fmt.Errorf("no default model configured")
	}
	return r.Get(ctx, r.defaultName)
}

// DefaultName returns the name of the default provider.
func (r *Registry) DefaultName() string { return r.defaultName }

// Names returns the configured provider names, sorted.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Config returns the settings of name, or of the default when name is empty.
func (r *Registry) Config(name string) (config.ProviderConfig, bool) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return config.ProviderConfig{}, false
	}
	return p.cfg, true
}

// MaxConcurrent is how many calls a provider takes at once; unknown
// providers and unset limits get one.
func (r *Registry) MaxConcurrent(name string) int {
	if cfg, ok := r.Config(name); ok && cfg.MaxConcurrent > 0 {
		return cfg.MaxConcurrent
	}
	return 1
}

// TotalConcurrency sums MaxConcurrent over every provider, at least one.
func (r *Registry) TotalConcurrency() int {
	total := 0
	for _, name := range r.names {
		total += r.MaxConcurrent(name)
	}
	return max(total, 1)
}
