// Package extension implements the plugin pipeline that lets external code
// intercept messages and widget lifecycle events.
package extension

import (
	"github.com/chativa/chativa/internal/message"
)

// Extension is a pluggable unit installed into a Registry.
type Extension interface {
	Name() string
	Version() string

	// Install registers hooks on ctx. It is called once, synchronously.
	Install(ctx *Context)

	// Uninstall releases anything Install acquired. Hooks are dropped by the
	// registry.
	Uninstall()
}

// AfterReceiveHook transforms an incoming message. Returning nil drops it
// and stops the pipeline.
type AfterReceiveHook func(msg *message.IncomingMessage) *message.IncomingMessage

// BeforeSendHook transforms an outgoing message. Returning nil drops it and
// stops the pipeline.
type BeforeSendHook func(msg *message.OutgoingMessage) *message.OutgoingMessage

// LifecycleHook is notified when the widget opens or closes.
type LifecycleHook func()

type hookSet struct {
	afterReceive []AfterReceiveHook
	beforeSend   []BeforeSendHook
	open         []LifecycleHook
	close        []LifecycleHook
}

// Context is handed to Extension.Install and binds hook registration to the
// installing extension.
type Context struct {
	name     string
	registry *Registry
}

// ExtensionName returns the name of the extension this context belongs to.
func (c *Context) ExtensionName() string {
	return c.name
}

// OnAfterReceive adds a hook run on every incoming message.
func (c *Context) OnAfterReceive(h AfterReceiveHook) {
	c.registry.addHook(c.name, func(hs *hookSet) { hs.afterReceive = append(hs.afterReceive, h) })
}

// OnBeforeSend adds a hook run on every outgoing message.
func (c *Context) OnBeforeSend(h BeforeSendHook) {
	c.registry.addHook(c.name, func(hs *hookSet) { hs.beforeSend = append(hs.beforeSend, h) })
}

// OnWidgetOpen adds a callback fired when the widget opens.
func (c *Context) OnWidgetOpen(h LifecycleHook) {
	c.registry.addHook(c.name, func(hs *hookSet) { hs.open = append(hs.open, h) })
}

// OnWidgetClose adds a callback fired when the widget closes.
func (c *Context) OnWidgetClose(h LifecycleHook) {
	c.registry.addHook(c.name, func(hs *hookSet) { hs.close = append(hs.close, h) })
}

// Func is an Extension assembled from plain functions, handy for small
// inline extensions and tests.
type Func struct {
	ExtName     string
	ExtVersion  string
	InstallFn   func(ctx *Context)
	UninstallFn func()
}

func (f *Func) Name() string    { return f.ExtName }
func (f *Func) Version() string { return f.ExtVersion }

func (f *Func) Install(ctx *Context) {
	if f.InstallFn != nil {
		f.InstallFn(ctx)
	}
}

func (f *Func) Uninstall() {
	if f.UninstallFn != nil {
		f.UninstallFn()
	}
}
