// Package widget is the composition root of a chat session. It owns the
// message store and the registries, routes messages between the active
// connector, the extension pipeline and the store, and keeps the reactive
// open/theme/typing/connection state.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chativa/chativa/internal/connector"
	"github.com/chativa/chativa/internal/extension"
	"github.com/chativa/chativa/internal/message"
	"github.com/chativa/chativa/internal/msgtype"
	"github.com/chativa/chativa/internal/store"
)

var (
	// ErrNotMounted is returned by operations that need an active connector.
	ErrNotMounted = errors.New("widget: not mounted")
	// ErrRemoved is returned once the widget has been torn down.
	ErrRemoved = errors.New("widget: removed")
)

// Options configures a Widget. Nil registries and store are created.
type Options struct {
	Connector  string
	Store      *store.Store
	Connectors *connector.Registry
	Extensions *extension.Registry
	Types      *msgtype.Registry
	Theme      Theme
	Logger     *slog.Logger
}

// State is the reactive widget state.
type State struct {
	Open           bool
	Theme          Theme
	Typing         bool
	Connection     connector.State
	Connector      string
	LastError      string
	HasMoreHistory bool
}

// Widget is one chat session.
type Widget struct {
	name       string
	store      *store.Store
	connectors *connector.Registry
	extensions *extension.Registry
	types      *msgtype.Registry
	logger     *slog.Logger

	mu            sync.Mutex
	state         State
	conn          connector.Connector
	historyCursor string
	historyDone   bool
	removed       bool
	onRemove      func()
	subs          map[int]func(State)
	nextSub       int
}

// New creates a widget for the named connector.
func New(opts Options) *Widget {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = store.New()
		opts.Store.SetLogger(logger)
	}
	if opts.Connectors == nil {
		opts.Connectors = connector.NewRegistry()
	}
	if opts.Extensions == nil {
		opts.Extensions = extension.NewRegistry(logger)
	}
	if opts.Types == nil {
		opts.Types = msgtype.NewRegistry()
	}

	theme := DefaultTheme()
	if merged, err := theme.Merge(opts.Theme); err == nil {
		theme = merged
	}

	return &Widget{
		name:       opts.Connector,
		store:      opts.Store,
		connectors: opts.Connectors,
		extensions: opts.Extensions,
		types:      opts.Types,
		logger:     logger.With("component", "widget"),
		state: State{
			Theme:          theme,
			Connection:     connector.StateDisconnected,
			Connector:      opts.Connector,
			HasMoreHistory: true,
		},
		subs: make(map[int]func(State)),
	}
}

func (w *Widget) Store() *store.Store             { return w.store }
func (w *Widget) Connectors() *connector.Registry { return w.connectors }
func (w *Widget) Extensions() *extension.Registry { return w.extensions }
func (w *Widget) Types() *msgtype.Registry        { return w.types }
func (w *Widget) Connector() (connector.Connector, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn, w.conn != nil
}

// Mount resolves the configured connector, binds its callbacks and
// connects. The connector must be registered beforehand.
func (w *Widget) Mount(ctx context.Context) error {
	w.mu.Lock()
	if w.removed {
		w.mu.Unlock()
		return ErrRemoved
	}
	if w.conn != nil {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	c, err := w.connectors.Get(w.name)
	if err != nil {
		return fmt.Errorf("widget: mount: %w", err)
	}

	c.OnMessage(w.receive)
	c.OnTyping(func(isTyping bool) {
		w.update(func(s *State) { s.Typing = isTyping })
	})
	c.OnConnect(func() {
		w.update(func(s *State) {
			s.Connection = connector.StateConnected
			s.LastError = ""
		})
	})
	c.OnDisconnect(func(reason string) {
		w.logger.Info("connector disconnected", "connector", c.Name(), "reason", reason)
		w.update(func(s *State) {
			s.Connection = c.State()
			s.Typing = false
			s.LastError = reason
		})
	})
	if u, ok := c.(connector.Updater); ok {
		u.OnMessageUpdate(func(id string, patch message.Patch) {
			w.store.UpdateByID(id, patch)
		})
	}

	w.mu.Lock()
	w.conn = c
	w.historyCursor, w.historyDone = "", false
	w.mu.Unlock()
	w.update(func(s *State) { s.Connection = connector.StateConnecting })

	if err := c.Connect(ctx); err != nil {
		// Leave the widget unmounted so the host can retry.
		w.mu.Lock()
		if w.conn == c {
			w.conn = nil
		}
		w.mu.Unlock()
		w.update(func(s *State) {
			s.Connection = c.State()
			s.LastError = err.Error()
		})
		return fmt.Errorf("widget: connect %s: %w", w.name, err)
	}
	w.update(func(s *State) { s.Connection = c.State() })
	return nil
}

// Unmount disconnects the active connector and detaches the widget from it.
func (w *Widget) Unmount(ctx context.Context) error {
	w.mu.Lock()
	c := w.conn
	w.conn = nil
	w.mu.Unlock()
	if c == nil {
		return nil
	}

	err := c.Disconnect(ctx)

	c.OnMessage(nil)
	c.OnTyping(nil)
	c.OnConnect(nil)
	c.OnDisconnect(nil)
	if u, ok := c.(connector.Updater); ok {
		u.OnMessageUpdate(nil)
	}

	w.update(func(s *State) {
		s.Connection = connector.StateDisconnected
		s.Typing = false
	})
	return err
}

// receive runs an incoming message through the extensions into the store.
func (w *Widget) receive(msg message.IncomingMessage) {
	if msg.ID == "" {
		msg.ID = message.NewID()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = message.Now()
	}
	if msg.Type == "" {
		msg.Type = message.TypeText
	}
	if msg.From == "" {
		msg.From = message.FromBot
	}

	out := w.extensions.RunAfterReceive(&msg)
	if out == nil {
		w.logger.Debug("incoming message dropped by extension", "id", msg.ID)
		return
	}
	w.store.AddMessage(out.Message())

	if out.From != message.FromUser && w.State().Typing {
		w.update(func(s *State) { s.Typing = false })
	}
}

// Send sends a text message.
func (w *Widget) Send(ctx context.Context, text string) error {
	return w.SendMessage(ctx, message.NewOutgoing(text))
}

// SendMessage stamps msg, runs the before-send hooks, echoes it into the
// store when the connector asks for it and hands it to the connector. A
// message dropped by a hook is not an error.
func (w *Widget) SendMessage(ctx context.Context, msg message.OutgoingMessage) error {
	w.mu.Lock()
	c := w.conn
	w.mu.Unlock()
	if c == nil {
		return ErrNotMounted
	}

	msg.Stamp()
	out := w.extensions.RunBeforeSend(&msg)
	if out == nil {
		w.logger.Debug("outgoing message dropped by extension", "id", msg.ID)
		return nil
	}

	if c.AddSentToHistory() {
		w.store.AddMessage(out.Message())
	}
	if err := c.SendMessage(ctx, *out); err != nil {
		return fmt.Errorf("widget: send via %s: %w", c.Name(), err)
	}
	return nil
}

// LoadHistory prepends the next page of older messages and returns how many
// were added. Connectors without history report zero.
func (w *Widget) LoadHistory(ctx context.Context) (int, error) {
	w.mu.Lock()
	c, cursor, done := w.conn, w.historyCursor, w.historyDone
	w.mu.Unlock()
	if c == nil {
		return 0, ErrNotMounted
	}
	if done {
		return 0, nil
	}

	page, err := connector.LoadHistory(ctx, c, cursor)
	if errors.Is(err, connector.ErrHistoryUnsupported) {
		w.finishHistory("")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("widget: load history: %w", err)
	}

	msgs := make([]message.Message, 0, len(page.Messages))
	for _, in := range page.Messages {
		if out := w.extensions.RunAfterReceive(&in); out != nil {
			msgs = append(msgs, out.Message())
		}
	}
	n := w.store.PrependMessages(msgs)

	if page.HasMore && page.Cursor != "" {
		w.mu.Lock()
		w.historyCursor = page.Cursor
		w.mu.Unlock()
	} else {
		w.finishHistory(page.Cursor)
	}
	return n, nil
}

func (w *Widget) finishHistory(cursor string) {
	w.mu.Lock()
	w.historyCursor, w.historyDone = cursor, true
	w.mu.Unlock()
	w.update(func(s *State) { s.HasMoreHistory = false })
}

// Open shows the chat and notifies extensions. Opening an open widget does
// nothing.
func (w *Widget) Open() {
	if w.setOpen(true) {
		w.extensions.NotifyOpen()
	}
}

// Close hides the chat and notifies extensions.
func (w *Widget) Close() {
	if w.setOpen(false) {
		w.extensions.NotifyClose()
	}
}

// Toggle flips between open and closed.
func (w *Widget) Toggle() {
	if w.State().Open {
		w.Close()
		return
	}
	w.Open()
}

func (w *Widget) setOpen(open bool) bool {
	changed := false
	w.update(func(s *State) {
		changed = s.Open != open
		s.Open = open
	})
	return changed
}

// SetTheme merges partial into the current theme.
func (w *Widget) SetTheme(partial Theme) error {
	var err error
	w.update(func(s *State) {
		var merged Theme
		if merged, err = s.Theme.Merge(partial); err == nil {
			s.Theme = merged
		}
	})
	return err
}

// State returns a copy of the current state.
func (w *Widget) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Subscribe registers fn for state changes and returns its unsubscribe
// function.
func (w *Widget) Subscribe(fn func(State)) func() {
	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

// OnRemove sets the teardown callback run by Remove.
func (w *Widget) OnRemove(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onRemove = fn
}

// Remove tears the widget down: the connector is unmounted, the widget is
// closed and the OnRemove callback runs. Later calls do nothing.
func (w *Widget) Remove() {
	w.mu.Lock()
	if w.removed {
		w.mu.Unlock()
		return
	}
	w.removed = true
	fn := w.onRemove
	w.mu.Unlock()

	if err := w.Unmount(context.Background()); err != nil {
		w.logger.Warn("unmount on remove", "error", err)
	}
	w.Close()
	if fn != nil {
		fn()
	}
}

// update mutates the state under the lock and notifies subscribers when it
// changed.
func (w *Widget) update(mutate func(*State)) {
	w.mu.Lock()
	before := w.state
	mutate(&w.state)
	after := w.state
	if before == after {
		w.mu.Unlock()
		return
	}
	subs := make([]func(State), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()

	for _, fn := range subs {
		fn(after)
	}
}
