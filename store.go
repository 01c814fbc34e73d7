package stencil

import (
	"sort"
	"sync"
)

// Store is the shared variable registry a session promotes values into.
// Implementations must be safe for concurrent use. The core only ever
// calls it from session setup and the explicit promotion action; it
// never writes on keystrokes.
type Store interface {
	// Has reports whether the store holds a value for name.
	Has(name string) bool

	// Get returns the stored value for name and whether it exists.
	Get(name string) (string, bool)

	// Set stores value under name, overwriting any previous value.
	Set(name, value string) error
}

// MemoryStore is an in-memory Store for tests and single-process hosts.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Has reports whether the store holds a value for name.
func (s *MemoryStore) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[name]
	return ok
}

// Get returns the stored value for name and whether it exists.
func (s *MemoryStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Set stores value under name.
func (s *MemoryStore) Set(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	return nil
}

// Names returns the stored variable names in sorted order.
func (s *MemoryStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of stored values.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
