package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chativa/chativa/internal/connector"
	"github.com/chativa/chativa/internal/message"
)

// streamServer writes the given frames, flushes, then holds the stream open
// until the client goes away.
func streamServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		flusher.Flush()
		for _, f := range frames {
			fmt.Fprint(w, f)
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(c *Connector) chan message.IncomingMessage {
	ch := make(chan message.IncomingMessage, 16)
	c.OnMessage(func(m message.IncomingMessage) { ch <- m })
	return ch
}

func next(t *testing.T, ch chan message.IncomingMessage) message.IncomingMessage {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return message.IncomingMessage{}
	}
}

func TestConnect_MissingURL(t *testing.T) {
	c := New(Options{})
	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrMissingURL)
}

func TestConnect_InitialFailureIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Options{URL: srv.URL})
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, connector.StateDisconnected, c.State())
}

func TestStream_MessageShapes(t *testing.T) {
	srv := streamServer(t,
		"data: {\"type\":\"message\",\"message\":{\"id\":\"n1\",\"type\":\"card\",\"data\":{\"title\":\"T\"}}}\n\n",
		"data: {\"type\":\"message\",\"id\":\"f1\",\"messageType\":\"image\",\"data\":{\"src\":\"x.png\"}}\n\n",
		"data: {\"type\":\"message\",\"id\":\"f2\",\"text\":\"hello\"}\n\n",
		"data: not json at all\n\n",
	)

	c := New(Options{URL: srv.URL})
	msgs := collect(c)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect(context.Background())

	assert.True(t, c.IsConnected())

	m := next(t, msgs)
	assert.Equal(t, "n1", m.ID)
	assert.Equal(t, message.TypeCard, m.Type)
	assert.Equal(t, message.FromBot, m.From)

	m = next(t, msgs)
	assert.Equal(t, "f1", m.ID)
	assert.Equal(t, message.TypeImage, m.Type)
	assert.Equal(t, "x.png", m.Data["src"])

	m = next(t, msgs)
	assert.Equal(t, message.TypeText, m.Type)
	assert.Equal(t, "hello", m.Text())

	m = next(t, msgs)
	assert.Equal(t, message.TypeText, m.Type)
	assert.Equal(t, "not json at all", m.Text())
	assert.NotEmpty(t, m.ID)
}

func TestStream_MultilineDataAndTyping(t *testing.T) {
	srv := streamServer(t,
		": keepalive\n\n",
		"data: {\"type\":\"typing\",\"isTyping\":true}\n\n",
		"id: 7\ndata: first\ndata: second\n\n",
	)

	c := New(Options{URL: srv.URL})
	msgs := collect(c)
	typing := make(chan bool, 1)
	c.OnTyping(func(v bool) { typing <- v })

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect(context.Background())

	select {
	case v := <-typing:
		assert.True(t, v)
	case <-time.After(2 * time.Second):
		t.Fatal("typing event not delivered")
	}

	m := next(t, msgs)
	assert.Equal(t, "first\nsecond", m.Text())

	c.mu.Lock()
	assert.Equal(t, "7", c.lastEventID)
	c.mu.Unlock()
}

func TestStream_ReconnectsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	var lastEventIDs []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		n := hits
		lastEventIDs = append(lastEventIDs, r.Header.Get("Last-Event-ID"))
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		if n == 1 {
			fmt.Fprint(w, "retry: 10\nid: a1\ndata: {\"type\":\"message\",\"id\":\"m1\",\"text\":\"one\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprint(w, "data: {\"type\":\"message\",\"id\":\"m2\",\"text\":\"two\"}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(Options{URL: srv.URL})
	msgs := collect(c)
	reasons := make(chan string, 4)
	c.OnDisconnect(func(reason string) { reasons <- reason })

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect(context.Background())

	assert.Equal(t, "m1", next(t, msgs).ID)
	select {
	case r := <-reasons:
		assert.NotEmpty(t, r)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not reported")
	}
	assert.Equal(t, "m2", next(t, msgs).ID)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lastEventIDs, 2)
	assert.Equal(t, "a1", lastEventIDs[1])
}

func TestConnect_ReopensAfterDropWithoutReconnect(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		n := hits
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		flusher.Flush()
		if n == 1 {
			return
		}
		fmt.Fprint(w, "data: {\"type\":\"message\",\"id\":\"m2\",\"text\":\"back\"}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(Options{URL: srv.URL, DisableReconnect: true})
	msgs := collect(c)
	reasons := make(chan string, 4)
	c.OnDisconnect(func(reason string) { reasons <- reason })

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect(context.Background())

	select {
	case <-reasons:
	case <-time.After(2 * time.Second):
		t.Fatal("drop not reported")
	}
	require.Eventually(t, func() bool {
		return c.State() == connector.StateDisconnected
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, "m2", next(t, msgs).ID)
	assert.Equal(t, connector.StateConnected, c.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, hits)
}

func TestDisconnect_NoReconnect(t *testing.T) {
	srv := streamServer(t)
	c := New(Options{URL: srv.URL})

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Disconnect(context.Background()))
	assert.Equal(t, connector.StateDisconnected, c.State())

	// Second disconnect is a no-op.
	require.NoError(t, c.Disconnect(context.Background()))
}

// chatServer serves the stream on GET and records POSTed messages.
func chatServer(t *testing.T, status int, got chan<- message.OutgoingMessage) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
			<-r.Context().Done()
			return
		}
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		var msg message.OutgoingMessage
		_ = json.Unmarshal(body, &msg)
		if got != nil {
			got <- msg
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSendMessage(t *testing.T) {
	got := make(chan message.OutgoingMessage, 1)
	srv := chatServer(t, http.StatusAccepted, got)

	c := New(Options{URL: srv.URL, SendURL: srv.URL, Headers: map[string]string{"X-Api-Key": "secret"}})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect(context.Background())

	msg := message.NewOutgoing("hi")
	require.NoError(t, c.SendMessage(context.Background(), msg))

	sent := <-got
	assert.Equal(t, msg.ID, sent.ID)
	assert.Equal(t, "hi", sent.Text())
}

func TestSendMessage_Errors(t *testing.T) {
	c := New(Options{})
	assert.ErrorIs(t, c.SendMessage(context.Background(), message.NewOutgoing("x")), ErrMissingSendURL)

	c = New(Options{URL: "http://127.0.0.1:1", SendURL: "http://127.0.0.1:1"})
	assert.ErrorIs(t, c.SendMessage(context.Background(), message.NewOutgoing("x")), ErrNotConnected)

	srv := chatServer(t, http.StatusInternalServerError, nil)
	c = New(Options{URL: srv.URL, SendURL: srv.URL, Headers: map[string]string{"X-Api-Key": "secret"}})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect(context.Background())

	err := c.SendMessage(context.Background(), message.NewOutgoing("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestLoadHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events/history", r.URL.Path)
		page := connector.HistoryPage{HasMore: true, Cursor: "c2"}
		if r.URL.Query().Get("cursor") == "c2" {
			page = connector.HistoryPage{}
		}
		page.Messages = append(page.Messages, message.IncomingMessage{ID: "h-" + r.URL.Query().Get("cursor"), Type: "text"})
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := New(Options{URL: srv.URL + "/events"})

	page, err := c.LoadHistory(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	assert.Equal(t, "c2", page.Cursor)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, message.FromBot, page.Messages[0].From)

	page, err = c.LoadHistory(context.Background(), "c2")
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.Equal(t, "h-c2", page.Messages[0].ID)
}
