package syncvault

import (
	"fmt"
	"sort"
	"sync"

	"github.com/syncvault/syncvault/backend"
)

// Registry manages named backend instances (vaults). Registries are
// explicit, caller-constructed objects passed by reference; the package
// deliberately provides no process-wide default.
type Registry struct {
	mu      sync.RWMutex
	vaults  map[string]backend.Backend
	options map[string]map[string]string
}

// NewRegistry creates an empty vault registry.
func NewRegistry() *Registry {
	return &Registry{
		vaults:  make(map[string]backend.Backend),
		options: make(map[string]map[string]string),
	}
}

// Register adds a vault under a unique name. Registering an existing name
// fails; use Unregister first to replace a vault.
func (r *Registry) Register(name string, b backend.Backend, options map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.vaults[name]; exists {
		return fmt.Errorf("vault %q already registered", name)
	}

	r.vaults[name] = b

	if options == nil {
		options = make(map[string]string)
	}

	r.options[name] = options

	return nil
}

// Unregister removes a vault. Removing an unknown name fails.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.vaults[name]; !exists {
		return fmt.Errorf("vault %q not registered", name)
	}

	delete(r.vaults, name)
	delete(r.options, name)

	return nil
}

// Get returns the vault registered under name.
func (r *Registry) Get(name string) (backend.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.vaults[name]
	if !exists {
		return nil, fmt.Errorf("vault %q not registered", name)
	}

	return b, nil
}

// Options returns the configuration options stored with a vault.
func (r *Registry) Options(name string) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	opts, exists := r.options[name]
	if !exists {
		return nil, fmt.Errorf("vault %q not registered", name)
	}

	copied := make(map[string]string, len(opts))
	for k, v := range opts {
		copied[k] = v
	}

	return copied, nil
}

// List returns the registered vault names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.vaults))
	for name := range r.vaults {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
