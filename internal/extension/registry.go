package extension

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/chativa/chativa/internal/message"
)

var (
	// ErrExtensionExists is returned when an extension name is installed twice.
	ErrExtensionExists = errors.New("extension already installed")
	// ErrExtensionNotFound is returned when uninstalling an unknown name.
	ErrExtensionNotFound = errors.New("extension not installed")
)

type entry struct {
	ext   Extension
	hooks hookSet
}

// Registry holds installed extensions and runs their hooks in installation
// order.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Install adds ext and calls its Install method with a fresh Context. If
// Install panics the extension is rolled back and an error returned.
func (r *Registry) Install(ext Extension) (err error) {
	if ext == nil {
		return fmt.Errorf("cannot install nil extension")
	}
	name := ext.Name()

	r.mu.Lock()
	if _, exists := r.entries[name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrExtensionExists, name)
	}
	r.entries[name] = &entry{ext: ext}
	r.order = append(r.order, name)
	r.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			r.remove(name)
			err = fmt.Errorf("install extension %q: panic: %v", name, rec)
		}
	}()

	ext.Install(&Context{name: name, registry: r})
	r.logger.Debug("extension installed", "extension", name, "version", ext.Version())
	return nil
}

// Uninstall calls the extension's Uninstall method and drops its hooks.
func (r *Registry) Uninstall(name string) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrExtensionNotFound, name)
	}

	r.remove(name)
	e.ext.Uninstall()
	r.logger.Debug("extension uninstalled", "extension", name)
	return nil
}

// Has reports whether name is installed.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Get returns the installed extension with the given name.
func (r *Registry) Get(name string) (Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.ext, true
}

// List returns installed extension names in installation order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Reset uninstalls every extension, most recent first.
func (r *Registry) Reset() {
	names := r.List()
	for i := len(names) - 1; i >= 0; i-- {
		_ = r.Uninstall(names[i])
	}
}

// RunAfterReceive passes msg through every onAfterReceive hook. It returns
// nil when a hook drops the message. With no hooks msg is returned as is.
func (r *Registry) RunAfterReceive(msg *message.IncomingMessage) *message.IncomingMessage {
	r.mu.RLock()
	var hooks []namedHook[AfterReceiveHook]
	for _, name := range r.order {
		for _, h := range r.entries[name].hooks.afterReceive {
			hooks = append(hooks, namedHook[AfterReceiveHook]{name, h})
		}
	}
	r.mu.RUnlock()

	cur := msg
	for _, h := range hooks {
		next, ok := runHook(r.logger, h.name, "afterReceive", func() *message.IncomingMessage { return h.fn(cur) })
		if !ok {
			continue
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// RunBeforeSend passes msg through every onBeforeSend hook. It returns nil
// when a hook drops the message.
func (r *Registry) RunBeforeSend(msg *message.OutgoingMessage) *message.OutgoingMessage {
	r.mu.RLock()
	var hooks []namedHook[BeforeSendHook]
	for _, name := range r.order {
		for _, h := range r.entries[name].hooks.beforeSend {
			hooks = append(hooks, namedHook[BeforeSendHook]{name, h})
		}
	}
	r.mu.RUnlock()

	cur := msg
	for _, h := range hooks {
		next, ok := runHook(r.logger, h.name, "beforeSend", func() *message.OutgoingMessage { return h.fn(cur) })
		if !ok {
			continue
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// NotifyOpen calls every onWidgetOpen callback.
func (r *Registry) NotifyOpen() {
	r.notify("widgetOpen", func(hs *hookSet) []LifecycleHook { return hs.open })
}

// NotifyClose calls every onWidgetClose callback.
func (r *Registry) NotifyClose() {
	r.notify("widgetClose", func(hs *hookSet) []LifecycleHook { return hs.close })
}

func (r *Registry) notify(point string, pick func(*hookSet) []LifecycleHook) {
	r.mu.RLock()
	var hooks []namedHook[LifecycleHook]
	for _, name := range r.order {
		for _, h := range pick(&r.entries[name].hooks) {
			hooks = append(hooks, namedHook[LifecycleHook]{name, h})
		}
	}
	r.mu.RUnlock()

	for _, h := range hooks {
		runHook(r.logger, h.name, point, func() struct{} { h.fn(); return struct{}{} })
	}
}

func (r *Registry) addHook(name string, add func(*hookSet)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		r.logger.Warn("hook registered by uninstalled extension ignored", "extension", name)
		return
	}
	add(&e.hooks)
}

func (r *Registry) remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
}

type namedHook[H any] struct {
	name string
	fn   H
}

// runHook calls fn, recovering a panic. ok is false when fn panicked, in
// which case the hook is skipped.
func runHook[T any](logger *slog.Logger, ext, point string, fn func() T) (result T, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("extension hook panicked", "extension", ext, "hook", point, "panic", rec)
			ok = false
		}
	}()
	return fn(), true
}
