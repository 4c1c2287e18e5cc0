// Package signalr implements a connector for ASP.NET Core SignalR hubs using
// the JSON hub protocol.
package signalr

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
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chativa/chativa/internal/connector"
	"github.com/chativa/chativa/internal/message"
)

const (
	// DefaultName is the registry key used when Options.Name is empty.
	DefaultName = "signalr"

	recordSeparator = 0x1e
	pingInterval    = 15 * time.Second
)

// Hub protocol message types.
const (
	typeInvocation = 1
	typeCompletion = 3
	typePing       = 6
	typeClose      = 7
)

var (
	// ErrTransportNotInstalled is returned by Connect when no Dialer is
	// configured and DefaultDialer is nil.
	ErrTransportNotInstalled = errors.New("signalr: transport not installed")
	// ErrMissingURL is returned by Connect when no hub URL is configured.
	ErrMissingURL = errors.New("signalr: hub url is required")
	// ErrNotConnected is returned by SendMessage without a live connection.
	ErrNotConnected = errors.New("signalr: not connected")
)

// DefaultReconnectDelays is the retry schedule used when AutoReconnect is on
// and no delays are configured.
var DefaultReconnectDelays = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

// Options configures the SignalR connector.
type Options struct {
	Name          string
	URL           string
	ReceiveMethod string // default "ReceiveMessage"
	SendMethod    string // default "SendMessage"
	AccessToken   string
	Headers       map[string]string

	AutoReconnect   bool
	ReconnectDelays []time.Duration

	// SendArgs builds the hub method arguments. The default sends the
	// message object as the single argument.
	SendArgs func(msg message.OutgoingMessage) []any

	Dialer     Dialer
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Connector is the SignalR hub connector.
type Connector struct {
	connector.BaseConnector
	opts   Options
	client *http.Client

	invocationID atomic.Int64

	mu      sync.Mutex
	sess    *session
	cancel  context.CancelFunc
	done    chan struct{}
	pending map[string]chan error
}

// session is one negotiated, handshaken transport.
type session struct {
	transport Transport
	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *session) write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.transport.WriteMessage(frame)
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.transport.Close()
	})
}

// New creates a SignalR connector.
func New(opts Options) *Connector {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.ReceiveMethod == "" {
		opts.ReceiveMethod = "ReceiveMessage"
	}
	if opts.SendMethod == "" {
		opts.SendMethod = "SendMessage"
	}
	if opts.AutoReconnect && len(opts.ReconnectDelays) == 0 {
		opts.ReconnectDelays = DefaultReconnectDelays
	}
	if opts.SendArgs == nil {
		opts.SendArgs = func(msg message.OutgoingMessage) []any { return []any{msg} }
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Connector{
		BaseConnector: connector.NewBaseConnector(opts.Name, true, opts.Logger),
		opts:          opts,
		client:        client,
		pending:       make(map[string]chan error),
	}
}

// hubMessage covers every JSON hub protocol frame this client reads or writes.
type hubMessage struct {
	Type           int               `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

type negotiateResponse struct {
	ConnectionID     string `json:"connectionId"`
	ConnectionToken  string `json:"connectionToken"`
	NegotiateVersion int    `json:"negotiateVersion"`
	URL              string `json:"url"`
	AccessToken      string `json:"accessToken"`
	Error            string `json:"error"`
}

// resolveDialer picks the transport at connect time.
func (c *Connector) resolveDialer() (Dialer, error) {
	if c.opts.Dialer != nil {
		return c.opts.Dialer, nil
	}
	if DefaultDialer != nil {
		return DefaultDialer, nil
	}
	return nil, ErrTransportNotInstalled
}

// Connect negotiates, opens the transport and completes the handshake.
func (c *Connector) Connect(ctx context.Context) error {
	if c.opts.URL == "" {
		return ErrMissingURL
	}
	dialer, err := c.resolveDialer()
	if err != nil {
		return err
	}
	if c.State() != connector.StateDisconnected {
		return nil
	}
	c.stop()

	c.SetState(connector.StateConnecting)

	sess, pending, err := c.open(ctx, dialer)
	if err != nil {
		c.SetState(connector.StateDisconnected)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.sess = sess
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.EmitConnect()

	go func() {
		defer close(done)
		c.run(runCtx, dialer, sess, pending)
	}()
	return nil
}

// Disconnect closes the hub connection and cancels any reconnect attempt.
func (c *Connector) Disconnect(ctx context.Context) error {
	wasConnected := c.IsConnected()
	c.stop()
	c.SetState(connector.StateDisconnected)
	if wasConnected {
		c.EmitDisconnect("client disconnect")
	}
	return nil
}

func (c *Connector) stop() {
	c.mu.Lock()
	cancel, done, sess := c.cancel, c.done, c.sess
	c.cancel, c.done, c.sess = nil, nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	if sess != nil {
		_ = sess.write(frame(hubMessage{Type: typeClose}))
	}
	cancel()
	<-done
	c.failPending(ErrNotConnected)
}

// SendMessage invokes the send method and waits for its completion.
func (c *Connector) SendMessage(ctx context.Context, msg message.OutgoingMessage) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil || !c.IsConnected() {
		return ErrNotConnected
	}

	args := c.opts.SendArgs(msg)
	rawArgs := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("signalr: marshal argument: %w", err)
		}
		rawArgs = append(rawArgs, data)
	}

	id := strconv.FormatInt(c.invocationID.Add(1), 10)
	result := make(chan error, 1)

	c.mu.Lock()
	c.pending[id] = result
	c.mu.Unlock()

	if err := sess.write(frame(hubMessage{
		Type:         typeInvocation,
		InvocationID: id,
		Target:       c.opts.SendMethod,
		Arguments:    rawArgs,
	})); err != nil {
		c.dropPending(id)
		return fmt.Errorf("signalr: invoke %s: %w", c.opts.SendMethod, err)
	}

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("signalr: invoke %s: %w", c.opts.SendMethod, err)
		}
		return nil
	case <-ctx.Done():
		c.dropPending(id)
		return ctx.Err()
	}
}

func (c *Connector) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Connector) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan error)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- err
	}
}

func (c *Connector) complete(id, errText string) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	if errText != "" {
		ch <- errors.New(errText)
		return
	}
	ch <- nil
}

// open negotiates and performs the handshake. Records that arrived in the
// same frame as the handshake response are returned for processing.
func (c *Connector) open(ctx context.Context, dialer Dialer) (*session, [][]byte, error) {
	hubURL, token := c.opts.URL, c.opts.AccessToken

	neg, err := c.negotiate(ctx, hubURL, token)
	if err != nil {
		return nil, nil, err
	}
	if neg.URL != "" {
		hubURL = neg.URL
		if neg.AccessToken != "" {
			token = neg.AccessToken
		}
		if neg, err = c.negotiate(ctx, hubURL, token); err != nil {
			return nil, nil, err
		}
	}

	wsURL, err := websocketURL(hubURL, neg, token)
	if err != nil {
		return nil, nil, err
	}

	transport, err := dialer.Dial(ctx, wsURL, c.header(token))
	if err != nil {
		return nil, nil, fmt.Errorf("signalr: dial: %w", err)
	}
	sess := &session{transport: transport, closed: make(chan struct{})}

	if err := sess.write(append([]byte(`{"protocol":"json","version":1}`), recordSeparator)); err != nil {
		sess.close()
		return nil, nil, fmt.Errorf("signalr: handshake: %w", err)
	}

	// Transports have no read deadline; closing unblocks the read.
	stop := context.AfterFunc(ctx, sess.close)
	data, err := transport.ReadMessage()
	if !stop() {
		sess.close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, fmt.Errorf("signalr: handshake: %w", ctxErr)
		}
	}
	if err != nil {
		sess.close()
		return nil, nil, fmt.Errorf("signalr: handshake: %w", err)
	}
	records := splitRecords(data)
	if len(records) == 0 {
		sess.close()
		return nil, nil, errors.New("signalr: handshake: empty response")
	}

	var hs struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(records[0], &hs); err != nil {
		sess.close()
		return nil, nil, fmt.Errorf("signalr: handshake: %w", err)
	}
	if hs.Error != "" {
		sess.close()
		return nil, nil, fmt.Errorf("signalr: handshake rejected: %s", hs.Error)
	}
	return sess, records[1:], nil
}

func (c *Connector) negotiate(ctx context.Context, hubURL, token string) (negotiateResponse, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return negotiateResponse{}, fmt.Errorf("signalr: invalid url %q: %w", hubURL, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/negotiate"
	q := u.Query()
	q.Set("negotiateVersion", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return negotiateResponse{}, fmt.Errorf("signalr: negotiate: %w", err)
	}
	req.Header = c.header(token)

	resp, err := c.client.Do(req)
	if err != nil {
		return negotiateResponse{}, fmt.Errorf("signalr: negotiate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return negotiateResponse{}, fmt.Errorf("signalr: negotiate failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var neg negotiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&neg); err != nil {
		return negotiateResponse{}, fmt.Errorf("signalr: decode negotiate: %w", err)
	}
	if neg.Error != "" {
		return negotiateResponse{}, fmt.Errorf("signalr: negotiate: %s", neg.Error)
	}
	return neg, nil
}

func (c *Connector) header(token string) http.Header {
	h := http.Header{}
	for k, v := range c.opts.Headers {
		h.Set(k, v)
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// websocketURL turns the hub URL into the transport URL carrying the
// connection id.
func websocketURL(hubURL string, neg negotiateResponse, token string) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", fmt.Errorf("signalr: invalid url %q: %w", hubURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	id := neg.ConnectionToken
	if neg.NegotiateVersion == 0 || id == "" {
		id = neg.ConnectionID
	}
	q := u.Query()
	if id != "" {
		q.Set("id", id)
	}
	if token != "" {
		q.Set("access_token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// run reads the current session and, when configured, reconnects after a
// drop. It returns when ctx is cancelled or the connector gives up.
func (c *Connector) run(ctx context.Context, dialer Dialer, sess *session, pending [][]byte) {
	for {
		go c.ping(sess)
		go func(s *session) {
			select {
			case <-ctx.Done():
				s.close()
			case <-s.closed:
			}
		}(sess)

		reason, retry := c.read(ctx, sess, pending)
		sess.close()
		if ctx.Err() != nil {
			return
		}

		c.failPending(errors.New(reason))
		c.Logger().Warn("hub connection lost", "reason", reason)

		if !c.opts.AutoReconnect || !retry {
			c.SetState(connector.StateDisconnected)
			c.EmitDisconnect(reason)
			return
		}

		c.SetState(connector.StateReconnecting)
		c.EmitDisconnect(reason)

		sess, pending = c.reconnect(ctx, dialer)
		if sess == nil {
			if ctx.Err() != nil {
				return
			}
			c.SetState(connector.StateDisconnected)
			c.EmitDisconnect("reconnect attempts exhausted")
			return
		}

		c.mu.Lock()
		c.sess = sess
		c.mu.Unlock()
		c.EmitConnect()
	}
}

func (c *Connector) reconnect(ctx context.Context, dialer Dialer) (*session, [][]byte) {
	for i, delay := range c.opts.ReconnectDelays {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(delay):
		}

		sess, pending, err := c.open(ctx, dialer)
		if err == nil {
			c.Logger().Info("hub reconnected", "attempt", i+1)
			return sess, pending
		}
		c.Logger().Warn("reconnect attempt failed", "attempt", i+1, "error", err)
	}
	return nil, nil
}

func (c *Connector) ping(sess *session) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.closed:
			return
		case <-ticker.C:
			if err := sess.write(frame(hubMessage{Type: typePing})); err != nil {
				return
			}
		}
	}
}

// read dispatches hub messages until the session ends. It returns the
// disconnect reason and whether reconnecting is allowed.
func (c *Connector) read(ctx context.Context, sess *session, pending [][]byte) (string, bool) {
	records := pending
	for {
		for _, rec := range records {
			var msg hubMessage
			if err := json.Unmarshal(rec, &msg); err != nil {
				c.Logger().Warn("invalid hub message", "error", err)
				continue
			}

			switch msg.Type {
			case typeInvocation:
				c.handleInvocation(msg)
			case typeCompletion:
				c.complete(msg.InvocationID, msg.Error)
			case typePing:
			case typeClose:
				if msg.Error != "" {
					return msg.Error, msg.AllowReconnect
				}
				return "server closed connection", msg.AllowReconnect
			}
		}

		data, err := sess.transport.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "client disconnect", false
			}
			return err.Error(), true
		}
		records = splitRecords(data)
	}
}

func (c *Connector) handleInvocation(msg hubMessage) {
	if !strings.EqualFold(msg.Target, c.opts.ReceiveMethod) {
		c.Logger().Debug("ignoring hub invocation", "target", msg.Target)
		return
	}
	in, ok := decodeArguments(msg.Arguments)
	if !ok {
		c.Logger().Warn("unsupported arguments", "target", msg.Target)
		return
	}
	c.EmitMessage(in)
}

type wireMessage struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Text      string         `json:"text"`
	From      string         `json:"from"`
	Timestamp int64          `json:"timestamp"`
}

// decodeArguments accepts a message object, a text string, or the
// (user, text) pair used by the stock hub samples.
func decodeArguments(args []json.RawMessage) (message.IncomingMessage, bool) {
	if len(args) == 0 {
		return message.IncomingMessage{}, false
	}

	var text string
	if len(args) >= 2 {
		if err := json.Unmarshal(args[1], &text); err == nil {
			return message.NewText("", text), true
		}
	}
	if err := json.Unmarshal(args[0], &text); err == nil {
		return message.NewText("", text), true
	}

	var w wireMessage
	if err := json.Unmarshal(args[0], &w); err != nil {
		return message.IncomingMessage{}, false
	}
	in := message.IncomingMessage{
		ID:        w.ID,
		Type:      w.Type,
		Data:      w.Data,
		From:      w.From,
		Timestamp: w.Timestamp,
	}
	if in.Data == nil && w.Text != "" {
		in.Data = map[string]any{"text": w.Text}
	}
	if in.ID == "" {
		in.ID = message.NewID()
	}
	if in.Type == "" {
		in.Type = message.TypeText
	}
	if in.From == "" {
		in.From = message.FromBot
	}
	return in, true
}

func frame(msg hubMessage) []byte {
	data, _ := json.Marshal(msg)
	return append(data, recordSeparator)
}

func splitRecords(data []byte) [][]byte {
	var records [][]byte
	for _, part := range bytes.Split(data, []byte{recordSeparator}) {
		if len(bytes.TrimSpace(part)) > 0 {
			records = append(records, part)
		}
	}
	return records
}
