// Package dummy implements an in-memory connector for demos and tests. It
// echoes user text, serves a seeded history and plays canned generative UI
// sequences.
package dummy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chativa/chativa/internal/connector"
	"github.com/chativa/chativa/internal/message"
)

const (
	// DefaultName is the registry key used when Options.Name is empty.
	DefaultName = "dummy"

	defaultPageSize = 20
	genUICommand    = "/genui "
)

// ErrNotConnected is returned by SendMessage before Connect.
var ErrNotConnected = errors.New("dummy: not connected")

// Options configures the dummy connector.
type Options struct {
	Name         string
	ConnectDelay time.Duration
	ReplyDelay   time.Duration

	// DisableEcho turns off the "You said: ..." replies.
	DisableEcho bool

	// History is served oldest first through LoadHistory.
	History  []message.IncomingMessage
	PageSize int

	Logger *slog.Logger
}

// Connector is the dummy connector.
type Connector struct {
	connector.BaseConnector
	opts Options

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a dummy connector.
func New(opts Options) *Connector {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	return &Connector{
		BaseConnector: connector.NewBaseConnector(opts.Name, true, opts.Logger),
		opts:          opts,
	}
}

// Connect waits ConnectDelay and reports the connection.
func (c *Connector) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	c.SetState(connector.StateConnecting)

	if err := sleep(ctx, c.opts.ConnectDelay); err != nil {
		c.SetState(connector.StateDisconnected)
		return err
	}

	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	c.EmitConnect()
	return nil
}

// Disconnect cancels pending replies.
func (c *Connector) Disconnect(ctx context.Context) error {
	wasConnected := c.IsConnected()

	c.mu.Lock()
	cancel := c.cancel
	c.ctx, c.cancel = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.SetState(connector.StateDisconnected)
	if wasConnected {
		c.EmitDisconnect("client disconnect")
	}
	return nil
}

// SendMessage schedules the reply to msg and returns immediately. Text of
// the form "/genui <name>" plays the named sequence instead of echoing.
func (c *Connector) SendMessage(ctx context.Context, msg message.OutgoingMessage) error {
	text := strings.TrimSpace(msg.Text())
	if name, ok := strings.CutPrefix(text, genUICommand); ok {
		return c.spawn(func(ctx context.Context) {
			if err := c.TriggerGenUI(ctx, strings.TrimSpace(name)); err != nil {
				c.EmitMessage(message.NewText("", err.Error()))
			}
		})
	}

	if c.opts.DisableEcho {
		if !c.connected() {
			return ErrNotConnected
		}
		return nil
	}

	reply := "You said: " + text
	if text == "" {
		reply = fmt.Sprintf("Received a %s message.", msg.Type)
	}
	return c.spawn(func(ctx context.Context) {
		c.EmitTyping(true)
		err := sleep(ctx, c.opts.ReplyDelay)
		c.EmitTyping(false)
		if err != nil {
			return
		}
		c.EmitMessage(message.NewText("", reply))
	})
}

// InjectMessage delivers msg as if the backend had sent it.
func (c *Connector) InjectMessage(msg message.IncomingMessage) {
	if msg.ID == "" {
		msg.ID = message.NewID()
	}
	if msg.Type == "" {
		msg.Type = message.TypeText
	}
	if msg.From == "" {
		msg.From = message.FromBot
	}
	c.EmitMessage(msg)
}

// LoadHistory pages backwards through Options.History. The cursor is the
// index one past the newest message of the requested page.
func (c *Connector) LoadHistory(ctx context.Context, cursor string) (connector.HistoryPage, error) {
	end := len(c.opts.History)
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > end {
			return connector.HistoryPage{}, fmt.Errorf("dummy: invalid history cursor %q", cursor)
		}
		end = n
	}

	start := max(0, end-c.opts.PageSize)
	page := connector.HistoryPage{
		Messages: append([]message.IncomingMessage(nil), c.opts.History[start:end]...),
		HasMore:  start > 0,
	}
	if page.HasMore {
		page.Cursor = strconv.Itoa(start)
	}
	return page, nil
}

// spawn runs fn bound to the connection lifetime. The lifetime check and
// wg.Add happen under the lock Disconnect clears ctx with, so Wait never
// races a new Add.
func (c *Connector) spawn(fn func(ctx context.Context)) error {
	c.mu.Lock()
	lifetime := c.ctx
	if lifetime == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		fn(lifetime)
	}()
	return nil
}

func (c *Connector) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx != nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
