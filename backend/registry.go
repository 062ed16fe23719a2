package backend

import "sync"

// Factory creates a new backend instance.
type Factory func() Backend

// Well-known backend names.
const (
	// NameCPU is the reference CPU backend.
	NameCPU = "cpu"
	// NameWGPU is the GPU backend over gogpu/wgpu.
	NameWGPU = "wgpu"
)

var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for backend selection (first available wins).
	backendPriority = []string{NameWGPU, NameCPU}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it is replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry. Useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns a list of registered backend names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}

// Get returns a new backend instance by name, or nil if not registered.
func Get(name string) Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := backends[name]
	if !ok {
		return nil
	}
	return factory()
}

// Default returns the first backend in priority order that registers and
// initializes successfully. The returned backend is already initialized.
// Returns ErrBackendNotAvailable if none works.
func Default() (Backend, error) {
	registryMu.RLock()
	priority := append([]string(nil), backendPriority...)
	registryMu.RUnlock()

	for _, name := range priority {
		b := Get(name)
		if b == nil {
			continue
		}
		if err := b.Init(); err != nil {
			b.Close()
			continue
		}
		return b, nil
	}
	return nil, ErrBackendNotAvailable
}
