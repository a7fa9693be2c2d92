package dns

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Factory builds a provider from its settings. Backends register one in init().
type Factory func(log logr.Logger, settings map[string]string) (Provider, error)

var backends = struct {
	sync.RWMutex
	factories map[string]Factory
}{factories: map[string]Factory{}}

func backendName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register makes a backend available under name. Names are case-insensitive.
// Registering the same name twice panics.
func Register(name string, f Factory) {
	key := backendName(name)
	backends.Lock()
	defer backends.Unlock()
	if _, exists := backends.factories[key]; exists {
		panic(fmt.Sprintf("dns: provider %q already registered", key))
	}
	backends.factories[key] = f
}

// Registered returns the sorted names of all registered backends.
func Registered() []string {
	backends.RLock()
	defer backends.RUnlock()
	return sets.List(sets.KeySet(backends.factories))
}

// NewProvider builds the backend registered under name.
func NewProvider(name string, log logr.Logger, settings map[string]string) (Provider, error) {
	key := backendName(name)
	backends.RLock()
	f, ok := backends.factories[key]
	backends.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported DNS provider %q (registered: %s)", name, strings.Join(Registered(), ", "))
	}
	if settings == nil {
		settings = map[string]string{}
	}
	p, err := f(log.WithValues("provider", key), settings)
	if err != nil {
		return nil, fmt.Errorf("dns: create provider %q: %w", key, err)
	}
	return p, nil
}
