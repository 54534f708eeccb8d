package device

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// BackendAuto selects the best available backend
const BackendAuto = "auto"

// HeadlessName is the simulated backend used when nothing else is available
const HeadlessName = "headless"

// preference is the order auto selection tries real backends in
var preference = []string{"jack", "pipewire", "oto"}

var (
	registryMu sync.RWMutex
	registry   = map[string]Backend{}
)

// Register makes a backend available by name. Backends register themselves
// from init so that importing the package is enough to enable them.
func Register(b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := strings.ToLower(b.Name())
	if _, dup := registry[name]; dup {
		panic("device: Register called twice for backend " + name)
	}
	registry[name] = b
}

// Lookup returns the named backend
func Lookup(name string) (Backend, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[strings.ToLower(name)]
	return b, ok
}

// Backends returns the sorted names of registered backends
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select resolves a configured backend name. "auto" (or empty) picks the
// first available real backend and falls back to headless.
func Select(name string) (Backend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = BackendAuto
	}

	if name != BackendAuto {
		b, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown audio backend %q (available: %s)", name, strings.Join(Backends(), ", "))
		}
		if !b.Available() {
			return nil, fmt.Errorf("audio backend %q is not available on this system", name)
		}
		return b, nil
	}

	for _, candidate := range preference {
		if b, ok := Lookup(candidate); ok && b.Available() {
			return b, nil
		}
	}
	if b, ok := Lookup(HeadlessName); ok {
		return b, nil
	}
	return nil, fmt.Errorf("no audio backend available")
}
