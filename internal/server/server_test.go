package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chativa/chativa/internal/connector"
	"github.com/chativa/chativa/internal/connectors/sse"
	"github.com/chativa/chativa/internal/history"
	"github.com/chativa/chativa/internal/logging"
	"github.com/chativa/chativa/internal/message"
)

type fixture struct {
	srv     *Server
	ts      *httptest.Server
	history *history.Store
	reg     *prometheus.Registry
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	h, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	opts := Options{
		History:   h,
		RateLimit: 100,
		RateBurst: 100,
		Registry:  reg,
		Logger:    logging.Discard(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	srv, err := New(opts)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		h.Close()
	})
	return &fixture{srv: srv, ts: ts, history: h, reg: reg}
}

func (f *fixture) post(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.ts.URL+"/send", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestNewRequiresHistory(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestRoundTripThroughSSEConnector(t *testing.T) {
	f := newFixture(t, nil)

	c := sse.New(sse.Options{
		URL:     f.ts.URL + "/events",
		SendURL: f.ts.URL + "/send",
		Logger:  logging.Discard(),
	})

	var mu sync.Mutex
	var received []message.IncomingMessage
	var typing []bool
	c.OnMessage(func(m message.IncomingMessage) {
		mu.Lock()
		received = append(received, m)
		mu.Unlock()
	})
	c.OnTyping(func(v bool) {
		mu.Lock()
		typing = append(typing, v)
		mu.Unlock()
	})

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
	assert.Equal(t, connector.StateConnected, c.State())

	require.Eventually(t, func() bool { return f.srv.hub.len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.SendMessage(ctx, message.NewOutgoing("hello")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && len(typing) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "You said: hello", received[0].Text())
	assert.Equal(t, message.FromBot, received[0].From)
	assert.Equal(t, []bool{true, false}, typing)
	mu.Unlock()

	page, err := c.LoadHistory(ctx, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "hello", page.Messages[0].Text())
	assert.Equal(t, message.FromUser, page.Messages[0].From)
	assert.Equal(t, "You said: hello", page.Messages[1].Text())
	assert.False(t, page.HasMore)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.srv.metrics.messages.WithLabelValues(message.FromUser)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.srv.metrics.messages.WithLabelValues(message.FromBot)))
}

func TestEventStreamFraming(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	r := bufio.NewReader(resp.Body)
	readBlock := func() []string {
		var lines []string
		for {
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			if line == "" {
				return lines
			}
			lines = append(lines, line)
		}
	}

	assert.Equal(t, []string{"retry: 3000"}, readBlock())
	assert.Equal(t, []string{`data: {"type":"connected"}`}, readBlock())

	require.Eventually(t, func() bool { return f.srv.hub.len() == 1 }, time.Second, 5*time.Millisecond)
	f.srv.hub.message(message.NewText("m1", "hi").Message())

	block := readBlock()
	require.Len(t, block, 2)
	assert.Equal(t, "id: 1", block[0])
	var payload messagePayload
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(block[1], "data: ")), &payload))
	assert.Equal(t, "message", payload.Type)
	assert.Equal(t, "m1", payload.Message.ID)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"not json", `{`, http.StatusBadRequest},
		{"empty text", `{"type":"text","data":{"text":"  "}}`, http.StatusBadRequest},
		{"ok", `{"data":{"text":"hi"}}`, http.StatusAccepted},
		{"non-text without text", `{"type":"file","data":{"url":"x"}}`, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.post(t, tt.body)
			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}
}

func TestSendAssignsID(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.post(t, `{"data":{"text":"hi"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["id"])
}

func TestSendRateLimited(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.RateLimit = 0.001
		o.RateBurst = 1
	})

	assert.Equal(t, http.StatusAccepted, f.post(t, `{"data":{"text":"one"}}`).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, f.post(t, `{"data":{"text":"two"}}`).StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.srv.metrics.rateLimited))
}

func TestHistoryEndpoint(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.PageSize = 2 })
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.history.Append(message.NewText(id, id).Message()))
	}

	get := func(query string) (int, map[string]any) {
		resp, err := http.Get(f.ts.URL + "/events/history" + query)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	code, body := get("")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["hasMore"])
	assert.Len(t, body["messages"], 2)

	code, body = get("?cursor=" + body["cursor"].(string))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["hasMore"])
	assert.Len(t, body["messages"], 1)

	code, _ = get("?cursor=zzz")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(f.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp2.Body.Close()
	data, err := io.ReadAll(resp2.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "chativa_server_stream_clients")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.AllowedOrigins = []string{"https://shop.example"} })

	req, err := http.NewRequest(http.MethodOptions, f.ts.URL+"/send", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "https://shop.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	h, err := history.Open(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	defer h.Close()
	srv, err := New(Options{History: h, Addr: "127.0.0.1:0", Logger: logging.Discard()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
