// Package sse implements a connector that receives over a Server-Sent
// Events stream and sends with REST POST.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chativa/chativa/internal/connector"
	"github.com/chativa/chativa/internal/message"
)

// DefaultName is the registry key used when Options.Name is empty.
const DefaultName = "sse"

const defaultReconnectDelay = 3 * time.Second

var (
	// ErrMissingURL is returned by Connect when no stream URL is configured.
	ErrMissingURL = errors.New("sse: stream url is required")
	// ErrMissingSendURL is returned by SendMessage when no send URL is configured.
	ErrMissingSendURL = errors.New("sse: send url is required")
	// ErrNotConnected is returned by SendMessage before Connect succeeded.
	ErrNotConnected = errors.New("sse: not connected")
)

// Options configures the SSE connector.
type Options struct {
	Name    string
	URL     string // event stream; history lives at URL + "/history"
	SendURL string
	Headers map[string]string

	// DisableReconnect stops the connector from reopening the stream after
	// a drop.
	DisableReconnect bool
	ReconnectDelay   time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Connector is the SSE + REST connector.
type Connector struct {
	connector.BaseConnector
	opts   Options
	client *http.Client

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	lastEventID string
	retry       time.Duration
}

// New creates an SSE connector.
func New(opts Options) *Connector {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Connector{
		BaseConnector: connector.NewBaseConnector(opts.Name, true, opts.Logger),
		opts:          opts,
		client:        client,
		retry:         opts.ReconnectDelay,
	}
}

// Connect opens the event stream. It returns once the server answers with a
// 2xx status or sends a "connected" event. A failure of this first attempt is
// returned; later drops are reported through the disconnect callback.
func (c *Connector) Connect(ctx context.Context) error {
	if c.opts.URL == "" {
		return ErrMissingURL
	}

	c.mu.Lock()
	if c.cancel != nil {
		if c.State() != connector.StateDisconnected {
			c.mu.Unlock()
			return nil
		}
		// The stream gave up on its own; collect it before reopening.
		stale, staleDone := c.cancel, c.done
		c.cancel, c.done = nil, nil
		c.mu.Unlock()
		stale()
		<-staleDone
		c.mu.Lock()
		if c.cancel != nil {
			c.mu.Unlock()
			return nil
		}
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.SetState(connector.StateConnecting)
	c.mu.Unlock()

	ready := make(chan error, 1)
	go func() {
		defer close(done)
		c.run(streamCtx, ready)
	}()

	select {
	case err := <-ready:
		if err != nil {
			c.reset()
			return fmt.Errorf("sse: connect %s: %w", c.opts.URL, err)
		}
		return nil
	case <-ctx.Done():
		c.reset()
		return ctx.Err()
	}
}

// Disconnect closes the stream. It is safe to call when not connected.
func (c *Connector) Disconnect(ctx context.Context) error {
	wasConnected := c.IsConnected()
	c.reset()
	if wasConnected {
		c.EmitDisconnect("client disconnect")
	}
	return nil
}

// reset cancels the stream goroutine, waits for it and marks the connector
// disconnected.
func (c *Connector) reset() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.SetState(connector.StateDisconnected)
}

// SendMessage posts msg as JSON to the send URL. Sending is allowed while the
// stream is reconnecting.
func (c *Connector) SendMessage(ctx context.Context, msg message.OutgoingMessage) error {
	if c.opts.SendURL == "" {
		return ErrMissingSendURL
	}
	if c.State() == connector.StateDisconnected {
		return ErrNotConnected
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("sse: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.SendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sse: create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sse: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sse: send failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// LoadHistory fetches one page from URL + "/history".
func (c *Connector) LoadHistory(ctx context.Context, cursor string) (connector.HistoryPage, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil || c.opts.URL == "" {
		return connector.HistoryPage{}, fmt.Errorf("sse: invalid stream url %q", c.opts.URL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/history"
	if cursor != "" {
		q := u.Query()
		q.Set("cursor", cursor)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return connector.HistoryPage{}, fmt.Errorf("sse: create history request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.applyHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return connector.HistoryPage{}, fmt.Errorf("sse: load history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return connector.HistoryPage{}, fmt.Errorf("sse: history failed with status %d", resp.StatusCode)
	}

	var page connector.HistoryPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return connector.HistoryPage{}, fmt.Errorf("sse: decode history: %w", err)
	}
	for i := range page.Messages {
		page.Messages[i] = normalize(page.Messages[i])
	}
	return page, nil
}

func (c *Connector) applyHeaders(req *http.Request) {
	for k, v := range c.opts.Headers {
		req.Header.Set(k, v)
	}
}

// run keeps the stream open until ctx is cancelled. The first outcome of the
// initial attempt is sent on ready.
func (c *Connector) run(ctx context.Context, ready chan<- error) {
	settled := false
	settle := func(err error) {
		if !settled {
			settled = true
			ready <- err
		}
	}

	for {
		err := c.stream(ctx, settle)
		if ctx.Err() != nil {
			return
		}
		if !settled {
			settle(err)
			return
		}

		reason := "stream closed"
		if err != nil {
			reason = err.Error()
		}
		c.Logger().Warn("event stream dropped", "reason", reason)
		c.EmitDisconnect(reason)

		if c.opts.DisableReconnect {
			c.SetState(connector.StateDisconnected)
			return
		}
		c.SetState(connector.StateReconnecting)

		c.mu.Lock()
		delay := c.retry
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// stream performs one EventSource connection and reads it until it ends.
func (c *Connector) stream(ctx context.Context, settle func(error)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.applyHeaders(req)

	c.mu.Lock()
	if c.lastEventID != "" {
		req.Header.Set("Last-Event-ID", c.lastEventID)
	}
	c.mu.Unlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	announced := false
	announce := func() {
		if announced {
			return
		}
		announced = true
		settle(nil)
		c.EmitConnect()
	}
	announce()

	return c.read(resp.Body, announce)
}

// read parses the text/event-stream framing and dispatches each event.
func (c *Connector) read(body io.Reader, announce func()) error {
	r := bufio.NewReader(body)
	var data strings.Builder
	hasData := false

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("stream closed by server")
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				c.handlePayload(strings.TrimSuffix(data.String(), "\n"), announce)
			}
			data.Reset()
			hasData = false
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				c.mu.Lock()
				c.lastEventID = value
				c.mu.Unlock()
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				c.mu.Lock()
				c.retry = time.Duration(ms) * time.Millisecond
				c.mu.Unlock()
			}
		}
	}
}

// wireMessage is the flat form of a "message" event.
type wireMessage struct {
	ID          string         `json:"id"`
	MessageType string         `json:"messageType"`
	Data        map[string]any `json:"data"`
	Text        string         `json:"text"`
	From        string         `json:"from"`
	Timestamp   int64          `json:"timestamp"`
}

// handlePayload interprets one event payload. Payloads that are not JSON
// objects become plain text messages.
func (c *Connector) handlePayload(raw string, announce func()) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		c.EmitMessage(message.NewText("", raw))
		return
	}

	var typ string
	_ = json.Unmarshal(env["type"], &typ)

	switch typ {
	case "typing":
		var isTyping bool
		_ = json.Unmarshal(env["isTyping"], &isTyping)
		c.EmitTyping(isTyping)

	case "connected":
		announce()

	case "message":
		if nested, ok := env["message"]; ok {
			var msg message.IncomingMessage
			if err := json.Unmarshal(nested, &msg); err == nil {
				c.EmitMessage(normalize(msg))
				return
			}
		}
		var w wireMessage
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			c.EmitMessage(message.NewText("", raw))
			return
		}
		data := w.Data
		if data == nil && w.Text != "" {
			data = map[string]any{"text": w.Text}
		}
		c.EmitMessage(normalize(message.IncomingMessage{
			ID:        w.ID,
			Type:      w.MessageType,
			Data:      data,
			From:      w.From,
			Timestamp: w.Timestamp,
		}))

	default:
		if _, ok := env["data"]; !ok {
			c.Logger().Debug("ignoring unknown event", "type", typ)
			return
		}
		var msg message.IncomingMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			c.EmitMessage(message.NewText("", raw))
			return
		}
		c.EmitMessage(normalize(msg))
	}
}

func normalize(m message.IncomingMessage) message.IncomingMessage {
	if m.ID == "" {
		m.ID = message.NewID()
	}
	if m.Type == "" {
		m.Type = message.TypeText
	}
	if m.From == "" {
		m.From = message.FromBot
	}
	return m
}
