package providers

import (
	"slices"
	"sort"
	"sync"

	"github.com/ncecere/sophnet_gateway/internal/config"
)

// Definition describes a provider a catalog entry can name.
type Definition struct {
	Name         string
	Description  string
	Capabilities []string
	Builder      Builder
}

// Supports reports whether the provider serves capability. A definition
// without declared capabilities accepts any.
func (d Definition) Supports(capability string) bool {
	return len(d.Capabilities) == 0 || slices.Contains(d.Capabilities, capability)
}

var (
	registryMu         sync.RWMutex
	defaultDefinitions = map[string]Definition{}
)

// RegisterDefinition makes a provider available to every new Factory.
func RegisterDefinition(def Definition) {
	if def.Builder == nil {
		panic("providers: definition builder required")
	}
	if def.Name == "" {
		panic("providers: definition name required")
	}
	if def.Description == "" {
		def.Description = def.Name
	}
	def.Capabilities = slices.Sorted(slices.Values(def.Capabilities))

	registryMu.Lock()
	defer registryMu.Unlock()
	defaultDefinitions[def.Name] = def
}

// DefaultDefinitions returns the registered providers sorted by name.
func DefaultDefinitions() []Definition {
	registryMu.RLock()
	defer registryMu.RUnlock()
	defs := make([]Definition, 0, len(defaultDefinitions))
	for _, def := range defaultDefinitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func cloneDefaultDefinitions() map[string]Definition {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make(map[string]Definition, len(defaultDefinitions))
	for name, def := range defaultDefinitions {
		out[name] = def
	}
	return out
}

// EnsureConfig panics on a nil config so builders can dereference freely.
func EnsureConfig(cfg *config.Config) *config.Config {
	if cfg == nil {
		panic("providers: config is required")
	}
	return cfg
}
