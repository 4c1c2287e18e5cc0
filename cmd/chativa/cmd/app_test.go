package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chativa/chativa/internal/config"
	"github.com/chativa/chativa/internal/connectors"
	"github.com/chativa/chativa/internal/connectors/dummy"
	"github.com/chativa/chativa/internal/extensions/htmltext"
	"github.com/chativa/chativa/internal/extensions/metrics"
	"github.com/chativa/chativa/internal/logging"
	"github.com/chativa/chativa/internal/message"
)

func TestBuildWidget(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Extensions.Metrics.Enabled = true
	cfg.Extensions.HTMLText.Enabled = true
	cfg.Widget.Theme.PrimaryColor = "#123456"

	w, err := buildWidget(cfg, prometheus.NewRegistry(), logging.Discard())
	if err != nil {
		t.Fatalf("buildWidget: %v", err)
	}
	if !w.Connectors().Has("dummy") {
		t.Error("dummy connector not registered")
	}
	for _, ext := range []string{metrics.Name, htmltext.Name} {
		if !w.Extensions().Has(ext) {
			t.Errorf("extension %s not installed", ext)
		}
	}
	if !w.Types().Has(message.TypeCard) {
		t.Error("renderers not registered")
	}
	if got := w.State().Theme.PrimaryColor; got != "#123456" {
		t.Errorf("primary color = %q", got)
	}

	if err := w.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer w.Unmount(context.Background())
}

func TestBuildWidgetErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Widget.Connector = "fax"
	if _, err := buildWidget(cfg, nil, logging.Discard()); !errors.Is(err, connectors.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}

	cfg = config.DefaultConfig()
	cfg.Log.Level = "loud"
	if _, err := buildWidget(cfg, nil, logging.Discard()); err == nil {
		t.Error("expected validation error")
	}
}

func TestThemeFromConfig(t *testing.T) {
	got := themeFromConfig(config.ThemeConfig{Position: "bottom-left", Width: 400})
	if got.Position != "bottom-left" || got.Width != 400 || got.PrimaryColor != "" {
		t.Errorf("theme = %+v", got)
	}
}

func TestWatchConnector(t *testing.T) {
	c := dummy.New(dummy.Options{Logger: logging.Discard()})
	var out bytes.Buffer
	counts := watchConnector(c, &out)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.InjectMessage(message.NewText("", "one"))
	c.InjectMessage(message.NewText("", "two"))
	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := counts.messages.Load(); got != 2 {
		t.Errorf("messages = %d, want 2", got)
	}
	if got := counts.drops.Load(); got != 1 {
		t.Errorf("drops = %d, want 1", got)
	}
	for _, want := range []string{"<- [text] one", "<- [text] two", "disconnected: client disconnect"} {
		if !bytes.Contains(out.Bytes(), []byte(want)) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestBuildInfoWrite(t *testing.T) {
	var out bytes.Buffer
	info := buildInfo{version: "1.2.3", commit: "abc123", date: "2026-01-02", dirty: true}
	if err := info.write(&out); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"chativa 1.2.3", "abc123 (modified)", "2026-01-02", "dummy", "sse"} {
		if !bytes.Contains(out.Bytes(), []byte(want)) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	if got := readBuildInfo(); got.version != Version || got.commit == "" || got.date == "" {
		t.Errorf("readBuildInfo() = %+v", got)
	}
}
