// Package connector defines the contract every chat backend adapter
// implements, and the registry that owns live adapter instances.
package connector

import (
	"context"
	"errors"

	"github.com/chativa/chativa/internal/message"
)

// State is the connection state of a connector.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Callback signatures. Each connector holds exactly one of each; setting a
// new one discards the previous.
type (
	MessageHandler    func(msg message.IncomingMessage)
	ConnectHandler    func()
	DisconnectHandler func(reason string)
	TypingHandler     func(isTyping bool)
	UpdateHandler     func(id string, patch message.Patch)
)

// Connector translates one external chat transport into the uniform
// message contract.
type Connector interface {
	// Name returns the key the connector is registered under.
	Name() string

	// AddSentToHistory reports whether outbound messages should be echoed
	// into the message store immediately. Backends that echo the user's own
	// messages return false.
	AddSentToHistory() bool

	// Connect establishes the session.
	Connect(ctx context.Context) error

	// Disconnect tears the session down. It is best effort and does not fail
	// when the transport has nothing to close.
	Disconnect(ctx context.Context) error

	// SendMessage delivers one outbound message over the transport.
	SendMessage(ctx context.Context, msg message.OutgoingMessage) error

	// State returns the current connection state.
	State() State

	OnMessage(fn MessageHandler)
	OnConnect(fn ConnectHandler)
	OnDisconnect(fn DisconnectHandler)
	OnTyping(fn TypingHandler)
}

// HistoryPage is one page of past messages.
type HistoryPage struct {
	Messages []message.IncomingMessage `json:"messages"`
	HasMore  bool                      `json:"hasMore"`
	Cursor   string                    `json:"cursor,omitempty"`
}

// HistoryLoader is implemented by connectors whose backend can return past
// messages. An empty cursor requests the most recent page.
type HistoryLoader interface {
	LoadHistory(ctx context.Context, cursor string) (HistoryPage, error)
}

// Updater is implemented by connectors that patch messages they already
// delivered, for example while a reply is streamed in.
type Updater interface {
	OnMessageUpdate(fn UpdateHandler)
}

// ErrHistoryUnsupported is returned by LoadHistory when the connector has no
// history capability. Callers treat it as "no history available".
var ErrHistoryUnsupported = errors.New("connector does not support history")

// LoadHistory loads a history page when c supports it.
func LoadHistory(ctx context.Context, c Connector, cursor string) (HistoryPage, error) {
	hl, ok := c.(HistoryLoader)
	if !ok {
		return HistoryPage{}, ErrHistoryUnsupported
	}
	return hl.LoadHistory(ctx, cursor)
}
