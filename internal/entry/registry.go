package entry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrEntryNotFound      = errors.New("entry not found")
	ErrEntryAlreadyExists = errors.New("entry already registered")
)

// Registry holds the loaded entries by id
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates a new entry registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

// Register adds an entry to the registry
func (r *Registry) Register(e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := e.ID()
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("%w: %s", ErrEntryAlreadyExists, id)
	}

	r.entries[id] = e
	return nil
}

// Get retrieves an entry by id
func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}

	return e, nil
}

// List returns all registered entries sorted by id
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID() < entries[j].ID() })
	return entries
}

// Unregister removes an entry and unloads it
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	e, exists := r.entries[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	delete(r.entries, id)
	r.mu.Unlock()

	return e.Unload()
}

// UnloadAll unregisters every entry, returning the joined unload errors
func (r *Registry) UnloadAll() error {
	var errs []error
	for _, e := range r.List() {
		if err := r.Unregister(e.ID()); err != nil && !errors.Is(err, ErrEntryNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
