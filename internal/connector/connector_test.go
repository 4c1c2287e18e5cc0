package connector

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chativa/chativa/internal/message"
)

// stubConnector is a minimal Connector used to exercise the registry and
// base helpers.
type stubConnector struct {
	BaseConnector
	sent []message.OutgoingMessage
}

func newStub(name string) *stubConnector {
	return &stubConnector{BaseConnector: NewBaseConnector(name, true, nil)}
}

func (s *stubConnector) Connect(ctx context.Context) error {
	s.EmitConnect()
	return nil
}

func (s *stubConnector) Disconnect(ctx context.Context) error {
	s.SetState(StateDisconnected)
	return nil
}

func (s *stubConnector) SendMessage(ctx context.Context, msg message.OutgoingMessage) error {
	s.sent = append(s.sent, msg)
	return nil
}

type historyStub struct {
	*stubConnector
}

func (h historyStub) LoadHistory(ctx context.Context, cursor string) (HistoryPage, error) {
	return HistoryPage{Messages: []message.IncomingMessage{message.NewText("h1", "old")}, Cursor: "next", HasMore: true}, nil
}

func TestRegistryRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(newStub("sse")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	err := r.Register(newStub("sse"))
	if !errors.Is(err, ErrDuplicateConnector) {
		t.Fatalf("expected ErrDuplicateConnector, got %v", err)
	}
	if !strings.Contains(err.Error(), `"sse"`) {
		t.Errorf("error should name the connector: %v", err)
	}
}

func TestRegistryRegisterNil(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); err == nil {
		t.Error("expected error for nil connector")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nope")
	if !errors.Is(err, ErrConnectorNotFound) {
		t.Fatalf("expected ErrConnectorNotFound, got %v", err)
	}
}

func TestRegistryListAndUnregister(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"sse", "dummy", "directline"} {
		if err := r.Register(newStub(name)); err != nil {
			t.Fatalf("Register(%q): %v", name, err)
		}
	}

	if got := strings.Join(r.List(), ","); got != "directline,dummy,sse" {
		t.Errorf("List() = %q", got)
	}

	c, _ := r.Get("dummy")
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.Unregister("dummy"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if c.State() != StateConnected {
		t.Error("Unregister must not disconnect the connector")
	}
	if err := r.Unregister("dummy"); !errors.Is(err, ErrConnectorNotFound) {
		t.Errorf("second Unregister: expected ErrConnectorNotFound, got %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	r.Reset()
	if r.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", r.Len())
	}
}

func TestRegistryConnected(t *testing.T) {
	r := NewRegistry()
	a, b := newStub("a"), newStub("b")
	r.Register(a)
	r.Register(b)
	b.Connect(context.Background())

	if got := r.Connected(); len(got) != 1 || got[0] != "b" {
		t.Errorf("Connected() = %v, want [b]", got)
	}
}

func TestBaseConnectorSingleSlot(t *testing.T) {
	c := newStub("x")
	var first, second int
	c.OnMessage(func(message.IncomingMessage) { first++ })
	c.OnMessage(func(message.IncomingMessage) { second++ })

	c.EmitMessage(message.NewText("1", "hi"))

	if first != 0 || second != 1 {
		t.Errorf("calls = (%d, %d), want (0, 1): last writer wins", first, second)
	}
}

func TestBaseConnectorEmitWithoutHandlers(t *testing.T) {
	c := newStub("x")
	c.EmitMessage(message.NewText("1", "hi"))
	c.EmitTyping(true)
	c.EmitDisconnect("gone")
	c.EmitUpdate("1", message.Patch{})
	c.EmitConnect()
	if c.State() != StateConnected {
		t.Errorf("State() = %q, want %q", c.State(), StateConnected)
	}
}

func TestFanout(t *testing.T) {
	c := newStub("x")
	var f Fanout
	var order []string
	f.AddMessage(func(message.IncomingMessage) { order = append(order, "a") })
	f.AddMessage(func(message.IncomingMessage) { order = append(order, "b") })
	var typing []bool
	f.AddTyping(func(v bool) { typing = append(typing, v) })
	var reasons []string
	f.AddDisconnect(func(r string) { reasons = append(reasons, r) })
	connects := 0
	f.AddConnect(func() { connects++ })
	f.Bind(c)

	c.EmitMessage(message.NewText("1", "hi"))
	c.EmitTyping(true)
	c.EmitDisconnect("bye")
	c.EmitConnect()

	if strings.Join(order, "") != "ab" {
		t.Errorf("order = %v, want [a b]", order)
	}
	if len(typing) != 1 || !typing[0] {
		t.Errorf("typing = %v", typing)
	}
	if len(reasons) != 1 || reasons[0] != "bye" {
		t.Errorf("reasons = %v", reasons)
	}
	if connects != 1 {
		t.Errorf("connects = %d, want 1", connects)
	}
}

func TestLoadHistoryCapability(t *testing.T) {
	plain := newStub("plain")
	if _, err := LoadHistory(context.Background(), plain, ""); !errors.Is(err, ErrHistoryUnsupported) {
		t.Errorf("expected ErrHistoryUnsupported, got %v", err)
	}

	page, err := LoadHistory(context.Background(), historyStub{newStub("hist")}, "")
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(page.Messages) != 1 || !page.HasMore || page.Cursor != "next" {
		t.Errorf("unexpected page: %+v", page)
	}
}
