package connector

import (
	"log/slog"
	"sync"

	"github.com/chativa/chativa/internal/message"
)

// BaseConnector provides the name, state and single-slot callbacks shared by
// all adapters. Adapters embed it and call the emit helpers.
type BaseConnector struct {
	name             string
	addSentToHistory bool
	logger           *slog.Logger

	mu           sync.RWMutex
	state        State
	onMessage    MessageHandler
	onConnect    ConnectHandler
	onDisconnect DisconnectHandler
	onTyping     TypingHandler
	onUpdate     UpdateHandler
}

// NewBaseConnector creates a BaseConnector in the disconnected state.
func NewBaseConnector(name string, addSentToHistory bool, logger *slog.Logger) BaseConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return BaseConnector{
		name:             name,
		addSentToHistory: addSentToHistory,
		logger:           logger.With("connector", name),
		state:            StateDisconnected,
	}
}

// Name returns the connector's registry key.
func (c *BaseConnector) Name() string {
	return c.name
}

// AddSentToHistory reports whether the widget should echo sent messages.
func (c *BaseConnector) AddSentToHistory() bool {
	return c.addSentToHistory
}

// Logger returns the connector-scoped logger.
func (c *BaseConnector) Logger() *slog.Logger {
	return c.logger
}

// State returns the current connection state.
func (c *BaseConnector) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetState moves the connector to s.
func (c *BaseConnector) SetState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.logger.Debug("state changed", "from", prev, "to", s)
	}
}

// IsConnected reports whether the connector is in the connected state.
func (c *BaseConnector) IsConnected() bool {
	return c.State() == StateConnected
}

// OnMessage sets the incoming message callback.
func (c *BaseConnector) OnMessage(fn MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnConnect sets the connect callback.
func (c *BaseConnector) OnConnect(fn ConnectHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = fn
}

// OnDisconnect sets the disconnect callback.
func (c *BaseConnector) OnDisconnect(fn DisconnectHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// OnTyping sets the typing indicator callback.
func (c *BaseConnector) OnTyping(fn TypingHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTyping = fn
}

// OnMessageUpdate sets the message patch callback.
func (c *BaseConnector) OnMessageUpdate(fn UpdateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUpdate = fn
}

// EmitMessage delivers msg to the message callback, if any.
func (c *BaseConnector) EmitMessage(msg message.IncomingMessage) {
	c.mu.RLock()
	fn := c.onMessage
	c.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

// EmitConnect marks the connector connected and fires the connect callback.
func (c *BaseConnector) EmitConnect() {
	c.SetState(StateConnected)
	c.mu.RLock()
	fn := c.onConnect
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// EmitDisconnect fires the disconnect callback with reason. It does not
// change the state, so adapters that reconnect can report a drop while
// moving to StateReconnecting.
func (c *BaseConnector) EmitDisconnect(reason string) {
	c.mu.RLock()
	fn := c.onDisconnect
	c.mu.RUnlock()
	if fn != nil {
		fn(reason)
	}
}

// EmitTyping fires the typing callback.
func (c *BaseConnector) EmitTyping(isTyping bool) {
	c.mu.RLock()
	fn := c.onTyping
	c.mu.RUnlock()
	if fn != nil {
		fn(isTyping)
	}
}

// EmitUpdate fires the message patch callback.
func (c *BaseConnector) EmitUpdate(id string, patch message.Patch) {
	c.mu.RLock()
	fn := c.onUpdate
	c.mu.RUnlock()
	if fn != nil {
		fn(id, patch)
	}
}
