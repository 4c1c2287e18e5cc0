// Package directline implements a connector for the Bot Framework DirectLine
// v3 REST and streaming API.
package directline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chativa/chativa/internal/connector"
	"github.com/chativa/chativa/internal/message"
)

const (
	// DefaultName is the registry key used when Options.Name is empty.
	DefaultName = "directline"
	// DefaultDomain is the public DirectLine endpoint.
	DefaultDomain = "https://directline.botframework.com/v3/directline"

	defaultPollInterval = time.Second
)

var (
	// ErrMissingCredentials is returned by Connect when neither a token nor a
	// secret is configured. No network call is made.
	ErrMissingCredentials = errors.New("directline: token or secret is required")
	// ErrNotConnected is returned by SendMessage without a conversation.
	ErrNotConnected = errors.New("directline: no active conversation")
)

// Options configures the DirectLine connector.
type Options struct {
	Name     string
	Token    string
	Secret   string
	Domain   string
	UserID   string
	UserName string

	// DisableWebSocket switches activity delivery from the stream URL to
	// polling.
	DisableWebSocket bool
	PollInterval     time.Duration

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *slog.Logger
}

// Connector is the DirectLine connector. The service echoes the user's own
// activities, so sent messages are not added to history locally.
type Connector struct {
	connector.BaseConnector
	opts   Options
	client *http.Client

	mu             sync.Mutex
	token          string
	conversationID string
	watermark      string
	conn           *websocket.Conn
	cancel         context.CancelFunc
	done           chan struct{}
}

// New creates a DirectLine connector.
func New(opts Options) *Connector {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Domain == "" {
		opts.Domain = DefaultDomain
	}
	opts.Domain = strings.TrimSuffix(opts.Domain, "/")
	if opts.UserID == "" {
		opts.UserID = "dl_" + strings.ReplaceAll(message.NewID(), "-", "")[:12]
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Connector{
		BaseConnector: connector.NewBaseConnector(opts.Name, false, opts.Logger),
		opts:          opts,
		client:        client,
	}
}

// UserID returns the id the connector sends activities as.
func (c *Connector) UserID() string {
	return c.opts.UserID
}

// ConversationID returns the active conversation id, or "".
func (c *Connector) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

type tokenResponse struct {
	Token          string `json:"token"`
	ConversationID string `json:"conversationId"`
	ExpiresIn      int    `json:"expires_in"`
}

type conversation struct {
	ConversationID string `json:"conversationId"`
	Token          string `json:"token"`
	StreamURL      string `json:"streamUrl"`
}

type channelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type attachment struct {
	ContentType string         `json:"contentType"`
	ContentURL  string         `json:"contentUrl,omitempty"`
	Content     map[string]any `json:"content,omitempty"`
	Name        string         `json:"name,omitempty"`
}

type activity struct {
	Type        string         `json:"type"`
	ID          string         `json:"id,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	From        channelAccount `json:"from"`
	Text        string         `json:"text,omitempty"`
	Attachments []attachment   `json:"attachments,omitempty"`
	Value       any            `json:"value,omitempty"`
}

type activitySet struct {
	Activities []activity `json:"activities"`
	Watermark  string     `json:"watermark,omitempty"`
}

// Connect obtains a token when only a secret is configured, starts a
// conversation and begins receiving activities.
func (c *Connector) Connect(ctx context.Context) error {
	if c.opts.Token == "" && c.opts.Secret == "" {
		return ErrMissingCredentials
	}

	if c.IsConnected() {
		return nil
	}
	c.stop()

	c.SetState(connector.StateConnecting)

	token := c.opts.Token
	if token == "" {
		generated, err := c.generateToken(ctx)
		if err != nil {
			c.SetState(connector.StateDisconnected)
			return err
		}
		token = generated
	}

	conv, err := c.startConversation(ctx, token)
	if err != nil {
		c.SetState(connector.StateDisconnected)
		return err
	}
	if conv.Token != "" {
		token = conv.Token
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	var conn *websocket.Conn
	if !c.opts.DisableWebSocket && conv.StreamURL != "" {
		conn, _, err = c.opts.Dialer.DialContext(ctx, conv.StreamURL, nil)
		if err != nil {
			c.Logger().Warn("stream dial failed, falling back to polling", "error", err)
			conn = nil
		}
	}

	c.mu.Lock()
	c.token = token
	c.conversationID = conv.ConversationID
	c.watermark = ""
	c.conn = conn
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.Logger().Info("conversation started", "conversation", conv.ConversationID, "websocket", conn != nil)
	c.EmitConnect()

	go func() {
		defer close(done)
		if conn != nil {
			c.readStream(streamCtx, conn)
			return
		}
		c.poll(streamCtx)
	}()
	return nil
}

// Disconnect stops receiving activities and forgets the conversation.
func (c *Connector) Disconnect(ctx context.Context) error {
	wasConnected := c.IsConnected()
	c.stop()
	c.SetState(connector.StateDisconnected)
	if wasConnected {
		c.EmitDisconnect("client disconnect")
	}
	return nil
}

// stop ends the receive goroutine, if any, and waits for it.
func (c *Connector) stop() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel, c.done, c.conn = nil, nil, nil
	c.conversationID = ""
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-done
}

// SendMessage posts msg as a message activity.
func (c *Connector) SendMessage(ctx context.Context, msg message.OutgoingMessage) error {
	c.mu.Lock()
	token, convID := c.token, c.conversationID
	c.mu.Unlock()
	if convID == "" {
		return ErrNotConnected
	}

	act := activity{
		Type: "message",
		From: channelAccount{ID: c.opts.UserID, Name: c.opts.UserName},
		Text: msg.Text(),
	}
	if msg.Type != "" && msg.Type != message.TypeText {
		act.Value = msg.Data
	}

	endpoint := fmt.Sprintf("%s/conversations/%s/activities", c.opts.Domain, url.PathEscape(convID))
	if err := c.do(ctx, http.MethodPost, endpoint, token, act, nil); err != nil {
		return fmt.Errorf("directline: send activity: %w", err)
	}
	return nil
}

func (c *Connector) generateToken(ctx context.Context) (string, error) {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, c.opts.Domain+"/tokens/generate", c.opts.Secret, nil, &resp); err != nil {
		return "", fmt.Errorf("directline: generate token: %w", err)
	}
	if resp.Token == "" {
		return "", errors.New("directline: generate token: empty token in response")
	}
	return resp.Token, nil
}

func (c *Connector) startConversation(ctx context.Context, token string) (conversation, error) {
	var conv conversation
	if err := c.do(ctx, http.MethodPost, c.opts.Domain+"/conversations", token, nil, &conv); err != nil {
		return conversation{}, fmt.Errorf("directline: start conversation: %w", err)
	}
	if conv.ConversationID == "" {
		return conversation{}, errors.New("directline: start conversation: missing conversationId")
	}
	return conv, nil
}

// do performs an authorised JSON request. A nil in skips the body; a nil out
// discards the response.
func (c *Connector) do(ctx context.Context, method, endpoint, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// readStream consumes activity sets from the websocket until it closes.
func (c *Connector) readStream(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.Logger().Warn("stream closed", "error", err)
			c.SetState(connector.StateDisconnected)
			c.EmitDisconnect(err.Error())
			return
		}
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}

		var set activitySet
		if err := json.Unmarshal(data, &set); err != nil {
			c.Logger().Warn("invalid activity set", "error", err)
			continue
		}
		c.handleSet(set)
	}
}

// poll fetches activities after the last watermark on every tick.
func (c *Connector) poll(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		c.fetchActivities(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Connector) fetchActivities(ctx context.Context) {
	c.mu.Lock()
	token, convID, watermark := c.token, c.conversationID, c.watermark
	c.mu.Unlock()
	if convID == "" {
		return
	}

	endpoint := fmt.Sprintf("%s/conversations/%s/activities", c.opts.Domain, url.PathEscape(convID))
	if watermark != "" {
		endpoint += "?watermark=" + url.QueryEscape(watermark)
	}

	var set activitySet
	if err := c.do(ctx, http.MethodGet, endpoint, token, nil, &set); err != nil {
		if ctx.Err() == nil {
			c.Logger().Warn("poll failed", "error", err)
		}
		return
	}
	c.handleSet(set)
}

func (c *Connector) handleSet(set activitySet) {
	if set.Watermark != "" {
		c.mu.Lock()
		c.watermark = set.Watermark
		c.mu.Unlock()
	}

	for _, act := range set.Activities {
		switch act.Type {
		case "message":
			c.EmitMessage(c.toMessage(act))
		case "typing":
			if act.From.ID != c.opts.UserID {
				c.EmitTyping(true)
			}
		default:
			c.Logger().Debug("ignoring activity", "type", act.Type)
		}
	}
}

// toMessage maps a message activity onto the widget message model.
func (c *Connector) toMessage(act activity) message.IncomingMessage {
	id := act.ID
	if id == "" {
		id = fmt.Sprintf("dl-%d", time.Now().UnixNano())
	}

	from := message.FromBot
	if act.From.ID == c.opts.UserID {
		from = message.FromUser
	}

	var ts int64
	if t, err := time.Parse(time.RFC3339Nano, act.Timestamp); err == nil {
		ts = t.UnixMilli()
	}

	msg := message.IncomingMessage{
		ID:        id,
		Type:      message.TypeText,
		Data:      map[string]any{"text": act.Text},
		From:      from,
		Timestamp: ts,
	}

	for _, att := range act.Attachments {
		switch {
		case att.ContentType == "application/vnd.microsoft.card.hero":
			data := map[string]any{}
			for k, v := range att.Content {
				data[k] = v
			}
			if act.Text != "" {
				data["text"] = act.Text
			}
			msg.Type = message.TypeCard
			msg.Data = data
			return msg
		case strings.HasPrefix(att.ContentType, "image/"):
			msg.Type = message.TypeImage
			msg.Data = map[string]any{"src": att.ContentURL, "alt": att.Name}
			if act.Text != "" {
				msg.Data["text"] = act.Text
			}
			return msg
		}
	}
	return msg
}
