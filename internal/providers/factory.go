package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ncecere/sophnet_gateway/internal/config"
)

// Env carries what builders need besides the catalog entry.
type Env struct {
	Config *config.Config
	Logger *slog.Logger
	// OnPoll observes transcription status polls as (alias, status, attempt).
	OnPoll func(alias, status string, attempt int)
}

// Builder constructs a provider Route for a catalog entry.
type Builder func(ctx context.Context, env Env, entry config.ModelCatalogEntry) (Route, error)

// Factory builds provider routes from configuration using a registry of builders.
type Factory struct {
	env         Env
	definitions map[string]Definition
}

// FactoryOption customises a Factory.
type FactoryOption func(*Factory)

// WithLogger sets the logger handed to adapters.
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) { f.env.Logger = logger }
}

// WithPollObserver registers a callback for transcription status polls.
func WithPollObserver(fn func(alias, status string, attempt int)) FactoryOption {
	return func(f *Factory) { f.env.OnPoll = fn }
}

// NewFactory creates a factory with the default provider registry.
func NewFactory(cfg *config.Config, opts ...FactoryOption) *Factory {
	f := &Factory{env: Env{Config: EnsureConfig(cfg)}, definitions: cloneDefaultDefinitions()}
	for _, opt := range opts {
		opt(f)
	}
	if f.env.Logger == nil {
		f.env.Logger = slog.Default()
	}
	return f
}

// Register overrides or adds a provider for this factory only. The provider
// accepts every capability.
func (f *Factory) Register(name string, builder Builder) {
	if f.definitions == nil {
		f.definitions = make(map[string]Definition)
	}
	f.definitions[name] = Definition{Name: name, Description: name, Builder: builder}
}

// Build iterates over model catalog entries and instantiates provider adapters.
func (f *Factory) Build(ctx context.Context) (map[string][]Route, error) {
	routes := make(map[string][]Route)
	for _, entry := range f.env.Config.ModelCatalog {
		if !entry.IsEnabled() {
			continue
		}
		def, ok := f.definitions[entry.Provider]
		if !ok {
			return nil, fmt.Errorf("alias %q: provider %q unsupported", entry.Alias, entry.Provider)
		}
		if !def.Supports(entry.Capability) {
			return nil, fmt.Errorf("alias %q: provider %q cannot serve %q", entry.Alias, entry.Provider, entry.Capability)
		}
		route, err := def.Builder(ctx, f.env, entry)
		if err != nil {
			return nil, fmt.Errorf("alias %q: %w", entry.Alias, err)
		}
		routes[entry.Alias] = append(routes[entry.Alias], route)
	}
	return routes, nil
}
