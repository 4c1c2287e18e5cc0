package connector

import (
	"sync"

	"github.com/chativa/chativa/internal/message"
)

// Fanout lets several listeners share a connector's single callback slots.
// Bind installs it on a connector; listeners are called in the order they
// were added.
type Fanout struct {
	mu         sync.RWMutex
	message    []MessageHandler
	connect    []ConnectHandler
	disconnect []DisconnectHandler
	typing     []TypingHandler
}

// AddMessage appends a message listener.
func (f *Fanout) AddMessage(fn MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.message = append(f.message, fn)
}

// AddConnect appends a connect listener.
func (f *Fanout) AddConnect(fn ConnectHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connect = append(f.connect, fn)
}

// AddDisconnect appends a disconnect listener.
func (f *Fanout) AddDisconnect(fn DisconnectHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnect = append(f.disconnect, fn)
}

// AddTyping appends a typing listener.
func (f *Fanout) AddTyping(fn TypingHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, fn)
}

// Bind installs the fanout into every callback slot of c.
func (f *Fanout) Bind(c Connector) {
	c.OnMessage(func(msg message.IncomingMessage) {
		f.mu.RLock()
		fns := append([]MessageHandler(nil), f.message...)
		f.mu.RUnlock()
		for _, fn := range fns {
			fn(msg)
		}
	})
	c.OnConnect(func() {
		f.mu.RLock()
		fns := append([]ConnectHandler(nil), f.connect...)
		f.mu.RUnlock()
		for _, fn := range fns {
			fn()
		}
	})
	c.OnDisconnect(func(reason string) {
		f.mu.RLock()
		fns := append([]DisconnectHandler(nil), f.disconnect...)
		f.mu.RUnlock()
		for _, fn := range fns {
			fn(reason)
		}
	})
	c.OnTyping(func(isTyping bool) {
		f.mu.RLock()
		fns := append([]TypingHandler(nil), f.typing...)
		f.mu.RUnlock()
		for _, fn := range fns {
			fn(isTyping)
		}
	})
}
