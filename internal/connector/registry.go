package connector

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDuplicateConnector is returned when a name is registered twice.
	ErrDuplicateConnector = errors.New("connector already registered")
	// ErrConnectorNotFound is returned for lookups of unknown names.
	ErrConnectorNotFound = errors.New("connector not found")
)

// Registry maps connector names to live connector instances. It never
// connects or disconnects the connectors it holds.
type Registry struct {
	connectors map[string]Connector
	mu         sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
	}
}

// Register adds c under c.Name(). A second connector with the same name is
// rejected, never silently replaced.
func (r *Registry) Register(c Connector) error {
	if c == nil {
		return fmt.Errorf("cannot register nil connector")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.connectors[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateConnector, name)
	}
	r.connectors[name] = c
	return nil
}

// Get returns the connector registered under name.
func (r *Registry) Get(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connectors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConnectorNotFound, name)
	}
	return c, nil
}

// Unregister removes the connector registered under name. Disconnecting it
// is the caller's job.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connectors[name]; !ok {
		return fmt.Errorf("%w: %q", ErrConnectorNotFound, name)
	}
	delete(r.connectors, name)
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connectors[name]
	return ok
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connected returns the names of connectors currently connected, sorted.
func (r *Registry) Connected() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, c := range r.connectors {
		if c.State() == StateConnected {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered connectors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connectors)
}

// Reset drops every registration.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors = make(map[string]Connector)
}
