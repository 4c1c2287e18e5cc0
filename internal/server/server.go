// Package server is the sandbox chat backend. It speaks the wire format of
// the sse connector: an event stream, a JSON send endpoint and a paginated
// history endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chativa/chativa/internal/history"
	"github.com/chativa/chativa/internal/message"
)

const (
	heartbeatInterval = 15 * time.Second
	retryMillis       = 3000
	maxBodyBytes      = 64 << 10
)

// Options configures a Server.
type Options struct {
	Addr           string
	History        *history.Store
	AllowedOrigins []string

	// RateLimit is sends per second per client; RateBurst the bucket size.
	RateLimit  float64
	RateBurst  int
	ReplyDelay time.Duration
	PageSize   int

	// Responder defaults to EchoResponder.
	Responder Responder

	// Registry defaults to a fresh prometheus registry served on /metrics.
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// Server is the sandbox backend.
type Server struct {
	opts     Options
	hub      *hub
	limiters *limiterPool
	metrics  *metrics
	logger   *slog.Logger
	router   chi.Router

	httpSrv *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server. History is required.
func New(opts Options) (*Server, error) {
	if opts.History == nil {
		return nil, errors.New("server: history store is required")
	}
	if opts.Responder == nil {
		opts.Responder = EchoResponder
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = history.DefaultPageSize
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		opts:     opts,
		hub:      newHub(),
		limiters: newLimiterPool(opts.RateLimit, opts.RateBurst),
		logger:   logger.With("component", "server"),
	}
	s.metrics = newMetrics(opts.Registry, func() float64 { return float64(s.hub.len()) })
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID", "Cache-Control"},
	}))

	r.Get("/events", s.handleEvents)
	r.Get("/events/history", s.handleHistory)
	r.Post("/send", s.handleSend)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{}))
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on Options.Addr until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("sandbox server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Close ends all event streams and waits for pending replies.
func (s *Server) Close() {
	s.cancel()
	s.hub.closeAll()
	s.wg.Wait()
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, events := s.hub.subscribe()
	defer s.hub.unsubscribe(id)

	if last := r.Header.Get("Last-Event-ID"); last != "" {
		s.logger.Debug("stream resumed", "lastEventId", last)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "retry: %d\n\n", retryMillis)
	fmt.Fprint(w, "data: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.ID != "" {
				fmt.Fprintf(w, "id: %s\n", ev.ID)
			}
			fmt.Fprintf(w, "data: %s\n\n", ev.Data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	if !s.limiters.Allow(clientKey(r)) {
		s.metrics.rateLimited.Inc()
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var msg message.OutgoingMessage
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message: "+err.Error())
		return
	}
	if msg.Type == "" {
		msg.Type = message.TypeText
	}
	if msg.Type == message.TypeText && strings.TrimSpace(msg.Text()) == "" {
		writeError(w, http.StatusBadRequest, "empty message")
		return
	}
	msg.From = message.FromUser
	msg.Stamp()

	if err := s.opts.History.Append(msg.Message()); err != nil {
		s.logger.Error("store user message", "id", msg.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not store message")
		return
	}
	s.metrics.messages.WithLabelValues(message.FromUser).Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reply(msg)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"id": msg.ID})
}

// reply runs the responder and streams its messages, framed by typing
// events.
func (s *Server) reply(msg message.OutgoingMessage) {
	s.hub.typing(true)
	defer s.hub.typing(false)

	if s.opts.ReplyDelay > 0 {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.opts.ReplyDelay):
		}
	}

	for _, out := range s.opts.Responder.Reply(s.ctx, msg) {
		if out.ID == "" {
			out.ID = message.NewID()
		}
		if out.Timestamp == 0 {
			out.Timestamp = message.Now()
		}
		if out.From == "" {
			out.From = message.FromBot
		}
		if err := s.opts.History.Append(out); err != nil {
			s.logger.Error("store reply", "id", out.ID, "error", err)
		}
		s.metrics.messages.WithLabelValues(out.From).Inc()
		s.hub.message(out)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	page, err := s.opts.History.Page(r.URL.Query().Get("cursor"), s.opts.PageSize)
	if errors.Is(err, history.ErrInvalidCursor) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("load history", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load history")
		return
	}
	if page.Messages == nil {
		page.Messages = []message.IncomingMessage{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": s.hub.len()})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
