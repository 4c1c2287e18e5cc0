package extension

import (
	"errors"
	"strings"
	"testing"

	"github.com/chativa/chativa/internal/message"
)

func incoming(text string) *message.IncomingMessage {
	m := message.NewText("m1", text)
	return &m
}

func TestEmptyPipelineIsIdentity(t *testing.T) {
	r := NewRegistry(nil)

	in := incoming("hello")
	if got := r.RunAfterReceive(in); got != in {
		t.Errorf("RunAfterReceive should return the same message")
	}

	out := message.NewOutgoing("hi")
	if got := r.RunBeforeSend(&out); got != &out {
		t.Errorf("RunBeforeSend should return the same message")
	}
}

func TestInstallDuplicate(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Install(&Func{ExtName: "a"}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	err := r.Install(&Func{ExtName: "a"})
	if !errors.Is(err, ErrExtensionExists) {
		t.Fatalf("expected ErrExtensionExists, got %v", err)
	}
	if !strings.Contains(err.Error(), `"a"`) {
		t.Errorf("error should name the extension: %v", err)
	}
}

func TestUninstallUnknown(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Uninstall("ghost"); !errors.Is(err, ErrExtensionNotFound) {
		t.Fatalf("expected ErrExtensionNotFound, got %v", err)
	}
}

func TestDropHookShortCircuits(t *testing.T) {
	r := NewRegistry(nil)
	laterRan := false
	r.Install(&Func{ExtName: "drop", InstallFn: func(ctx *Context) {
		ctx.OnAfterReceive(func(*message.IncomingMessage) *message.IncomingMessage { return nil })
	}})
	r.Install(&Func{ExtName: "later", InstallFn: func(ctx *Context) {
		ctx.OnAfterReceive(func(m *message.IncomingMessage) *message.IncomingMessage {
			laterRan = true
			return m
		})
	}})

	if got := r.RunAfterReceive(incoming("x")); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
	if laterRan {
		t.Error("hooks after a drop must not run")
	}
}

func TestHooksRunInInstallOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.Install(&Func{ExtName: "A", InstallFn: func(ctx *Context) {
		ctx.OnAfterReceive(func(m *message.IncomingMessage) *message.IncomingMessage {
			c := message.IncomingMessage(message.Message(*m).Clone())
			c.Data["x"] = "A"
			c.Data["trail"] = "A"
			return &c
		})
	}})
	r.Install(&Func{ExtName: "B", InstallFn: func(ctx *Context) {
		ctx.OnAfterReceive(func(m *message.IncomingMessage) *message.IncomingMessage {
			c := message.IncomingMessage(message.Message(*m).Clone())
			c.Data["y"] = "B"
			c.Data["trail"] = c.Data["trail"].(string) + "B"
			return &c
		})
	}})

	got := r.RunAfterReceive(incoming("x"))
	if got == nil {
		t.Fatal("unexpected drop")
	}
	if got.Data["x"] != "A" || got.Data["y"] != "B" {
		t.Errorf("both transforms should apply: %+v", got.Data)
	}
	if got.Data["trail"] != "AB" {
		t.Errorf("trail = %v, want AB (A's output feeds B)", got.Data["trail"])
	}
}

func TestBeforeSendPipeline(t *testing.T) {
	r := NewRegistry(nil)
	r.Install(&Func{ExtName: "upper", InstallFn: func(ctx *Context) {
		ctx.OnBeforeSend(func(m *message.OutgoingMessage) *message.OutgoingMessage {
			m.Data["text"] = strings.ToUpper(m.Text())
			return m
		})
	}})

	out := message.NewOutgoing("hi")
	got := r.RunBeforeSend(&out)
	if got.Text() != "HI" {
		t.Errorf("Text() = %q, want %q", got.Text(), "HI")
	}

	r.Install(&Func{ExtName: "block", InstallFn: func(ctx *Context) {
		ctx.OnBeforeSend(func(*message.OutgoingMessage) *message.OutgoingMessage { return nil })
	}})
	out2 := message.NewOutgoing("x")
	if r.RunBeforeSend(&out2) != nil {
		t.Error("expected outgoing drop")
	}
}

func TestUninstallRemovesHooks(t *testing.T) {
	r := NewRegistry(nil)
	uninstalled := false
	r.Install(&Func{
		ExtName: "drop",
		InstallFn: func(ctx *Context) {
			ctx.OnAfterReceive(func(*message.IncomingMessage) *message.IncomingMessage { return nil })
		},
		UninstallFn: func() { uninstalled = true },
	})

	if err := r.Uninstall("drop"); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if !uninstalled {
		t.Error("Uninstall should call the extension's Uninstall")
	}
	if r.RunAfterReceive(incoming("x")) == nil {
		t.Error("hooks of an uninstalled extension must not run")
	}
	if err := r.Install(&Func{ExtName: "drop"}); err != nil {
		t.Errorf("reinstall after uninstall: %v", err)
	}
}

func TestNotifyOpenClose(t *testing.T) {
	r := NewRegistry(nil)
	var events []string
	r.Install(&Func{ExtName: "a", InstallFn: func(ctx *Context) {
		ctx.OnWidgetOpen(func() { events = append(events, "a-open") })
		ctx.OnWidgetClose(func() { events = append(events, "a-close") })
	}})
	r.Install(&Func{ExtName: "b", InstallFn: func(ctx *Context) {
		ctx.OnWidgetOpen(func() { panic("boom") })
		ctx.OnWidgetOpen(func() { events = append(events, "b-open") })
	}})

	r.NotifyOpen()
	r.NotifyClose()

	if got := strings.Join(events, ","); got != "a-open,b-open,a-close" {
		t.Errorf("events = %q", got)
	}
}

func TestPanickingHookIsSkipped(t *testing.T) {
	r := NewRegistry(nil)
	r.Install(&Func{ExtName: "bad", InstallFn: func(ctx *Context) {
		ctx.OnAfterReceive(func(*message.IncomingMessage) *message.IncomingMessage { panic("bad hook") })
	}})
	r.Install(&Func{ExtName: "good", InstallFn: func(ctx *Context) {
		ctx.OnAfterReceive(func(m *message.IncomingMessage) *message.IncomingMessage {
			m.Data["seen"] = true
			return m
		})
	}})

	got := r.RunAfterReceive(incoming("x"))
	if got == nil || got.Data["seen"] != true {
		t.Errorf("pipeline should continue past a panicking hook: %+v", got)
	}
}

func TestInstallPanicRollsBack(t *testing.T) {
	r := NewRegistry(nil)
	err := r.Install(&Func{ExtName: "broken", InstallFn: func(*Context) { panic("nope") }})
	if err == nil {
		t.Fatal("expected error from panicking Install")
	}
	if r.Has("broken") {
		t.Error("failed install should be rolled back")
	}
}

func TestListAndReset(t *testing.T) {
	r := NewRegistry(nil)
	var uninstalled []string
	for _, n := range []string{"one", "two", "three"} {
		name := n
		r.Install(&Func{ExtName: name, UninstallFn: func() { uninstalled = append(uninstalled, name) }})
	}
	if got := strings.Join(r.List(), ","); got != "one,two,three" {
		t.Errorf("List() = %q", got)
	}

	r.Reset()
	if len(r.List()) != 0 {
		t.Errorf("List() after Reset = %v", r.List())
	}
	if got := strings.Join(uninstalled, ","); got != "three,two,one" {
		t.Errorf("uninstall order = %q", got)
	}
}

func TestContextAfterUninstallIsInert(t *testing.T) {
	r := NewRegistry(nil)
	var saved *Context
	r.Install(&Func{ExtName: "late", InstallFn: func(ctx *Context) { saved = ctx }})
	r.Uninstall("late")

	saved.OnAfterReceive(func(*message.IncomingMessage) *message.IncomingMessage { return nil })
	if r.RunAfterReceive(incoming("x")) == nil {
		t.Error("hook added through a stale context must be ignored")
	}
	if saved.ExtensionName() != "late" {
		t.Errorf("ExtensionName() = %q", saved.ExtensionName())
	}
}
