package module

import (
	"sort"
	"sync"
)

// process wide registry filled during bootstrap in main
var (
	mu  sync.RWMutex
	reg = map[string]Module{}
)

// Register publishes m under its name, replacing any earlier module of that name
func Register(m Module) {
	mu.Lock()
	reg[m.Name()] = m
	mu.Unlock()
}

// Lookup returns the module registered as name
func Lookup(name string) (Module, bool) {
	mu.RLock()
	defer mu.RUnlock()
	m, ok := reg[name]
	return m, ok
}

// Names lists registered modules in sorted order
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// PortsAs fetches the port set of name as T
func PortsAs[T any](name string) (T, bool) {
	var zero T
	m, ok := Lookup(name)
	if !ok {
		return zero, false
	}
	return PortsOf[T](m)
}

// Reset clears the registry for tests
func Reset() {
	mu.Lock()
	reg = map[string]Module{}
	mu.Unlock()
}
