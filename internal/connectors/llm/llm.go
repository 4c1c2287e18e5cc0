// Package llm implements a bot connector backed by an OpenAI-compatible chat
// completion API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chativa/chativa/internal/connector"
	"github.com/chativa/chativa/internal/message"
)

const (
	// DefaultName is the registry key used when Options.Name is empty.
	DefaultName = "llm"
	// DefaultModel is used when Options.Model is empty.
	DefaultModel = openai.GPT4oMini

	defaultMaxHistory = 20
	fallbackReply     = "Sorry, I could not answer that right now."
)

// ErrNotConnected is returned by SendMessage before Connect.
var ErrNotConnected = errors.New("llm: not connected")

// Options configures the LLM connector.
type Options struct {
	Name         string
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string

	// Stream delivers the reply as it is generated: one message followed by
	// data patches.
	Stream bool
	// MaxHistory bounds the user/assistant turns sent with each request.
	MaxHistory int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Connector is the LLM bot connector.
type Connector struct {
	connector.BaseConnector
	opts Options

	mu      sync.Mutex
	client  *openai.Client
	ctx     context.Context
	cancel  context.CancelFunc
	history []openai.ChatCompletionMessage

	// replyMu keeps replies in the order their prompts were sent.
	replyMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates an LLM connector.
func New(opts Options) *Connector {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = defaultMaxHistory
	}
	return &Connector{
		BaseConnector: connector.NewBaseConnector(opts.Name, true, opts.Logger),
		opts:          opts,
	}
}

// Connect builds the API client. No request is made until the first message.
func (c *Connector) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}

	cfg := openai.DefaultConfig(c.opts.APIKey)
	if c.opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(c.opts.BaseURL, "/")
	}
	if c.opts.HTTPClient != nil {
		cfg.HTTPClient = c.opts.HTTPClient
	}

	c.mu.Lock()
	c.client = openai.NewClientWithConfig(cfg)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	c.EmitConnect()
	return nil
}

// Disconnect aborts in-flight completions. The conversation is kept so a
// reconnect continues it; Reset clears it.
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

// Reset forgets the conversation.
func (c *Connector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}

// SendMessage records the user's turn and starts the reply.
func (c *Connector) SendMessage(ctx context.Context, msg message.OutgoingMessage) error {
	text := strings.TrimSpace(msg.Text())

	// The lifetime check and wg.Add share the lock Disconnect clears ctx
	// under, so Wait never races a new Add.
	c.mu.Lock()
	lifetime := c.ctx
	if lifetime == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if text == "" {
		c.mu.Unlock()
		return fmt.Errorf("llm: %s messages are not supported", msg.Type)
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.replyMu.Lock()
		defer c.replyMu.Unlock()
		c.reply(lifetime, text)
	}()
	return nil
}

func (c *Connector) prompt(text string) []openai.ChatCompletionMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})
	if over := len(c.history) - c.opts.MaxHistory; over > 0 {
		c.history = append([]openai.ChatCompletionMessage(nil), c.history[over:]...)
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(c.history)+1)
	if c.opts.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: c.opts.SystemPrompt})
	}
	return append(msgs, c.history...)
}

func (c *Connector) remember(answer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: answer})
}

func (c *Connector) reply(ctx context.Context, text string) {
	req := openai.ChatCompletionRequest{
		Model:    c.opts.Model,
		Messages: c.prompt(text),
	}

	c.EmitTyping(true)

	var (
		answer string
		err    error
	)
	if c.opts.Stream {
		answer, err = c.stream(ctx, req)
	} else {
		answer, err = c.complete(ctx, req)
	}
	if err != nil {
		c.EmitTyping(false)
		if ctx.Err() != nil {
			return
		}
		c.Logger().Error("completion failed", "error", err)
		c.EmitMessage(message.NewText("", fallbackReply))
		return
	}
	c.remember(answer)
}

func (c *Connector) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty choices")
	}

	answer := resp.Choices[0].Message.Content
	c.EmitTyping(false)
	c.EmitMessage(message.NewText("", answer))
	return answer, nil
}

// stream delivers the first delta as a message and every later delta as a
// patch carrying the accumulated text.
func (c *Connector) stream(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	req.Stream = true
	s, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", err
	}
	defer s.Close()

	var (
		sb strings.Builder
		id string
	)
	for {
		resp, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		sb.WriteString(resp.Choices[0].Delta.Content)

		if id == "" {
			msg := message.NewText("", sb.String())
			msg.Data["streaming"] = true
			id = msg.ID
			c.EmitTyping(false)
			c.EmitMessage(msg)
			continue
		}
		c.EmitUpdate(id, message.DataPatch(map[string]any{"text": sb.String(), "streaming": true}))
	}

	if id == "" {
		return "", errors.New("stream ended without content")
	}
	c.EmitUpdate(id, message.DataPatch(map[string]any{"text": sb.String(), "streaming": false}))
	return sb.String(), nil
}
