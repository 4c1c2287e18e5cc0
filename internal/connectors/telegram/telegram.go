// Package telegram implements an operator bridge: widget messages are relayed
// to a Telegram chat and the operator's replies come back as bot messages.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/chativa/chativa/internal/connector"
	"github.com/chativa/chativa/internal/message"
)

// DefaultName is the registry key used when Options.Name is empty.
const DefaultName = "telegram"

var (
	// ErrMissingToken is returned by Connect without a bot token.
	ErrMissingToken = errors.New("telegram: bot token is required")
	// ErrMissingChatID is returned by Connect without an operator chat.
	ErrMissingChatID = errors.New("telegram: chat id is required")
	// ErrNotConnected is returned by SendMessage before Connect.
	ErrNotConnected = errors.New("telegram: not connected")
)

// Options configures the Telegram bridge.
type Options struct {
	Name   string
	Token  string
	ChatID int64

	// APIEndpoint overrides tgbotapi.APIEndpoint, mainly for tests.
	APIEndpoint string
	// PollTimeout is the long polling timeout in seconds.
	PollTimeout int
	// Label prefixes relayed visitor messages.
	Label string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Connector is the Telegram operator bridge.
type Connector struct {
	connector.BaseConnector
	opts Options

	mu     sync.Mutex
	bot    *tgbotapi.BotAPI
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Telegram bridge connector.
func New(opts Options) *Connector {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.APIEndpoint == "" {
		opts.APIEndpoint = tgbotapi.APIEndpoint
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Connector{
		BaseConnector: connector.NewBaseConnector(opts.Name, true, opts.Logger),
		opts:          opts,
	}
}

// Connect authorises the bot and starts long polling for operator replies.
func (c *Connector) Connect(ctx context.Context) error {
	if c.opts.Token == "" {
		return ErrMissingToken
	}
	if c.opts.ChatID == 0 {
		return ErrMissingChatID
	}
	if c.IsConnected() {
		return nil
	}

	c.SetState(connector.StateConnecting)

	bot, err := tgbotapi.NewBotAPIWithClient(c.opts.Token, c.opts.APIEndpoint, c.opts.HTTPClient)
	if err != nil {
		c.SetState(connector.StateDisconnected)
		return fmt.Errorf("telegram: authorize bot: %w", err)
	}
	if err := ctx.Err(); err != nil {
		c.SetState(connector.StateDisconnected)
		return err
	}
	c.Logger().Info("bot authorized", "username", bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.opts.PollTimeout
	updates := bot.GetUpdatesChan(u)

	pollCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.bot = bot
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.EmitConnect()

	go func() {
		defer close(done)
		c.processUpdates(pollCtx, updates)
	}()
	return nil
}

// Disconnect stops polling.
func (c *Connector) Disconnect(ctx context.Context) error {
	wasConnected := c.IsConnected()

	c.mu.Lock()
	bot, cancel, done := c.bot, c.cancel, c.done
	c.bot, c.cancel, c.done = nil, nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		bot.StopReceivingUpdates()
		<-done
	}

	c.SetState(connector.StateDisconnected)
	if wasConnected {
		c.EmitDisconnect("client disconnect")
	}
	return nil
}

// SendMessage relays the visitor's message to the operator chat. Markdown
// is sent as Telegram HTML, falling back to plain text when rejected.
func (c *Connector) SendMessage(ctx context.Context, msg message.OutgoingMessage) error {
	c.mu.Lock()
	bot := c.bot
	c.mu.Unlock()
	if bot == nil {
		return ErrNotConnected
	}

	text := msg.Text()
	if text == "" {
		text = fmt.Sprintf("[%s message]", msg.Type)
	}
	if c.opts.Label != "" {
		text = c.opts.Label + " " + text
	}

	out := tgbotapi.NewMessage(c.opts.ChatID, ToHTML(text))
	out.ParseMode = tgbotapi.ModeHTML

	if _, err := bot.Send(out); err != nil {
		c.Logger().Warn("html message rejected, retrying as plain text", "error", err)
		out.ParseMode = ""
		out.Text = StripMarkdown(text)
		if _, err := bot.Send(out); err != nil {
			return fmt.Errorf("telegram: send message: %w", err)
		}
	}
	return nil
}

func (c *Connector) processUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			if update.Message.Chat == nil || update.Message.Chat.ID != c.opts.ChatID {
				c.Logger().Debug("ignoring message from other chat")
				continue
			}
			if in, ok := c.toMessage(update.Message); ok {
				c.EmitMessage(in)
			}
		}
	}
}

// toMessage maps an operator message. Photos become image messages when
// their file URL can be resolved.
func (c *Connector) toMessage(m *tgbotapi.Message) (message.IncomingMessage, bool) {
	in := message.IncomingMessage{
		ID:        "tg-" + strconv.Itoa(m.MessageID),
		Type:      message.TypeText,
		From:      message.FromBot,
		Timestamp: int64(m.Date) * 1000,
	}

	switch {
	case len(m.Photo) > 0:
		c.mu.Lock()
		bot := c.bot
		c.mu.Unlock()
		if bot == nil {
			return in, false
		}
		photo := m.Photo[len(m.Photo)-1]
		src, err := bot.GetFileDirectURL(photo.FileID)
		if err != nil {
			c.Logger().Warn("resolve photo url", "error", err)
			in.Data = map[string]any{"text": m.Caption}
			return in, m.Caption != ""
		}
		in.Type = message.TypeImage
		in.Data = map[string]any{"src": src, "alt": m.Caption}
		return in, true

	case m.Text != "":
		in.Data = map[string]any{"text": m.Text}
		return in, true

	case m.Caption != "":
		in.Data = map[string]any{"text": m.Caption}
		return in, true
	}
	return in, false
}
