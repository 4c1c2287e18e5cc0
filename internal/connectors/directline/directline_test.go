package directline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chativa/chativa/internal/connector"
	"github.com/chativa/chativa/internal/message"
)

// fakeService is a minimal DirectLine endpoint.
type fakeService struct {
	t        *testing.T
	srv      *httptest.Server
	stream   bool
	sendCode atomic.Int32
	hits     atomic.Int32

	mu   sync.Mutex
	sent []activity
}

var initialSet = activitySet{
	Watermark: "2",
	Activities: []activity{
		{Type: "typing", From: channelAccount{ID: "bot"}},
		{Type: "message", ID: "c1|1", From: channelAccount{ID: "bot"}, Text: "hello", Timestamp: "2024-05-01T10:00:00Z"},
		{Type: "message", ID: "c1|2", From: channelAccount{ID: "bot"}, Attachments: []attachment{{
			ContentType: "application/vnd.microsoft.card.hero",
			Content:     map[string]any{"title": "Menu"},
		}}},
	},
}

func newFakeService(t *testing.T, stream bool) *fakeService {
	t.Helper()
	f := &fakeService{t: t, stream: stream}
	f.sendCode.Store(http.StatusOK)
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tokens/generate", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(tokenResponse{Token: "tok1", ConversationID: "c1"})
	})
	mux.HandleFunc("POST /conversations", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok1" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conv := conversation{ConversationID: "c1", Token: "tok2"}
		if f.stream {
			conv.StreamURL = "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/stream"
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(conv)
	})
	mux.HandleFunc("GET /conversations/c1/activities", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		assert.Equal(t, "Bearer tok2", r.Header.Get("Authorization"))
		if r.URL.Query().Get("watermark") == "" {
			_ = json.NewEncoder(w).Encode(initialSet)
			return
		}
		_ = json.NewEncoder(w).Encode(activitySet{Watermark: "2"})
	})
	mux.HandleFunc("POST /conversations/c1/activities", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		var act activity
		_ = json.NewDecoder(r.Body).Decode(&act)
		f.mu.Lock()
		f.sent = append(f.sent, act)
		f.mu.Unlock()
		w.WriteHeader(int(f.sendCode.Load()))
		_, _ = w.Write([]byte(`{"id":"c1|9"}`))
	})
	mux.HandleFunc("GET /stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(""))
		data, _ := json.Marshal(initialSet)
		_ = conn.WriteMessage(websocket.TextMessage, data)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func receive(t *testing.T, c *Connector) (chan message.IncomingMessage, chan bool) {
	t.Helper()
	msgs := make(chan message.IncomingMessage, 8)
	typing := make(chan bool, 8)
	c.OnMessage(func(m message.IncomingMessage) { msgs <- m })
	c.OnTyping(func(v bool) { typing <- v })
	return msgs, typing
}

func waitMessage(t *testing.T, ch chan message.IncomingMessage) message.IncomingMessage {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return message.IncomingMessage{}
	}
}

func TestConnect_MissingCredentials(t *testing.T) {
	f := newFakeService(t, false)
	c := New(Options{Domain: f.srv.URL})

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.Zero(t, f.hits.Load(), "no request may be made without credentials")
	assert.Equal(t, connector.StateDisconnected, c.State())
}

func TestConnect_SecretExchangeAndPolling(t *testing.T) {
	f := newFakeService(t, false)
	c := New(Options{Domain: f.srv.URL, Secret: "s3cret", DisableWebSocket: true, PollInterval: 10 * time.Millisecond})
	msgs, typing := receive(t, c)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect(context.Background())

	assert.True(t, c.IsConnected())
	assert.Equal(t, "c1", c.ConversationID())
	assert.False(t, c.AddSentToHistory())

	assert.True(t, <-typing)

	m := waitMessage(t, msgs)
	assert.Equal(t, "c1|1", m.ID)
	assert.Equal(t, "hello", m.Text())
	assert.Equal(t, message.FromBot, m.From)
	assert.Equal(t, int64(1714557600000), m.Timestamp)

	m = waitMessage(t, msgs)
	assert.Equal(t, message.TypeCard, m.Type)
	assert.Equal(t, "Menu", m.Data["title"])

	// Later polls carry the watermark and deliver nothing new.
	select {
	case extra := <-msgs:
		t.Fatalf("unexpected duplicate delivery %q", extra.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnect_WebSocketStream(t *testing.T) {
	f := newFakeService(t, true)
	c := New(Options{Domain: f.srv.URL, Token: "tok1"})
	msgs, _ := receive(t, c)

	require.NoError(t, c.Connect(context.Background()))

	assert.Equal(t, "c1|1", waitMessage(t, msgs).ID)
	assert.Equal(t, "c1|2", waitMessage(t, msgs).ID)

	reasons := make(chan string, 1)
	c.OnDisconnect(func(r string) { reasons <- r })
	require.NoError(t, c.Disconnect(context.Background()))
	assert.Equal(t, "client disconnect", <-reasons)
	assert.Equal(t, connector.StateDisconnected, c.State())
}

func TestConnect_RejectedToken(t *testing.T) {
	f := newFakeService(t, false)
	c := New(Options{Domain: f.srv.URL, Token: "wrong"})

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, connector.StateDisconnected, c.State())
}

func TestSendMessage(t *testing.T) {
	f := newFakeService(t, false)
	c := New(Options{Domain: f.srv.URL, Token: "tok1", UserID: "u42", UserName: "Ada", DisableWebSocket: true})

	assert.ErrorIs(t, c.SendMessage(context.Background(), message.NewOutgoing("early")), ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect(context.Background())

	require.NoError(t, c.SendMessage(context.Background(), message.NewOutgoing("hi bot")))

	f.mu.Lock()
	require.Len(t, f.sent, 1)
	act := f.sent[0]
	f.mu.Unlock()
	assert.Equal(t, "message", act.Type)
	assert.Equal(t, "hi bot", act.Text)
	assert.Equal(t, "u42", act.From.ID)
	assert.Equal(t, "Ada", act.From.Name)

	f.sendCode.Store(http.StatusBadGateway)
	err := c.SendMessage(context.Background(), message.NewOutgoing("again"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestToMessage(t *testing.T) {
	c := New(Options{UserID: "me"})

	tests := []struct {
		name     string
		act      activity
		wantType string
		wantFrom string
	}{
		{"bot text", activity{Type: "message", ID: "1", From: channelAccount{ID: "bot"}, Text: "hi"}, message.TypeText, message.FromBot},
		{"own echo", activity{Type: "message", ID: "2", From: channelAccount{ID: "me"}, Text: "hi"}, message.TypeText, message.FromUser},
		{"image", activity{Type: "message", ID: "3", From: channelAccount{ID: "bot"}, Attachments: []attachment{{ContentType: "image/png", ContentURL: "http://x/y.png"}}}, message.TypeImage, message.FromBot},
		{"unknown attachment", activity{Type: "message", ID: "4", From: channelAccount{ID: "bot"}, Text: "t", Attachments: []attachment{{ContentType: "application/pdf"}}}, message.TypeText, message.FromBot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := c.toMessage(tt.act)
			assert.Equal(t, tt.wantType, m.Type)
			assert.Equal(t, tt.wantFrom, m.From)
			assert.Equal(t, tt.act.ID, m.ID)
		})
	}

	m := c.toMessage(activity{Type: "message", Text: "no id"})
	assert.True(t, strings.HasPrefix(m.ID, "dl-"))
}
