// Package msgtype maps message types to the components that render them.
package msgtype

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chativa/chativa/internal/message"
)

// ErrNoComponent is returned by Resolve when neither a component nor a
// fallback is registered.
var ErrNoComponent = errors.New("no component registered for type")

// Component renders one message into a block of text at the given width.
type Component interface {
	Render(msg message.Message, width int) string
}

// ComponentFunc adapts a function to Component.
type ComponentFunc func(msg message.Message, width int) string

// Render calls f.
func (f ComponentFunc) Render(msg message.Message, width int) string {
	return f(msg, width)
}

// Registry maps message types to components. Registering an existing type
// replaces its component, so renderers can be swapped at runtime.
type Registry struct {
	mu         sync.RWMutex
	components map[string]Component
	fallback   Component
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{components: make(map[string]Component)}
}

// Register stores c for typ, overwriting any previous component.
func (r *Registry) Register(typ string, c Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[typ] = c
}

// Unregister removes the component for typ.
func (r *Registry) Unregister(typ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.components, typ)
}

// SetFallback sets the component used for types with no registration. A
// nil component clears it.
func (r *Registry) SetFallback(c Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = c
}

// Has reports whether typ has its own component. The fallback does not
// count.
func (r *Registry) Has(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.components[typ]
	return ok
}

// Resolve returns the component for typ, or the fallback.
func (r *Registry) Resolve(typ string) (Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.components[typ]; ok {
		return c, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoComponent, typ)
}

// List returns the registered types, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.components))
	for t := range r.components {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Reset removes every registration and the fallback.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components = make(map[string]Component)
	r.fallback = nil
}
