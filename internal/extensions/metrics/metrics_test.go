package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/chativa/chativa/internal/extension"
	"github.com/chativa/chativa/internal/logging"
	"github.com/chativa/chativa/internal/message"
)

func TestExtension_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	ext := New(reg)

	exts := extension.NewRegistry(logging.Discard())
	if err := exts.Install(ext); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	in := message.NewText("", "hi")
	exts.RunAfterReceive(&in)
	exts.RunAfterReceive(&in)
	out := message.NewOutgoing("yo")
	exts.RunBeforeSend(&out)
	exts.NotifyOpen()
	exts.NotifyClose()
	exts.NotifyOpen()

	if got := testutil.ToFloat64(ext.messages.WithLabelValues("received", "text")); got != 2 {
		t.Errorf("received = %v, want 2", got)
	}
	if got := testutil.ToFloat64(ext.messages.WithLabelValues("sent", "text")); got != 1 {
		t.Errorf("sent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ext.lifecycles.WithLabelValues("open")); got != 2 {
		t.Errorf("open = %v, want 2", got)
	}

	if n, err := testutil.GatherAndCount(reg); err != nil || n != 4 {
		t.Errorf("GatherAndCount() = %d, %v; want 4 series", n, err)
	}

	if err := exts.Uninstall(Name); err != nil {
		t.Fatalf("Uninstall() error = %v", err)
	}
	if n, _ := testutil.GatherAndCount(reg); n != 0 {
		t.Errorf("series after uninstall = %d, want 0", n)
	}
}

func TestExtension_ReinstallReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, second := New(reg), New(reg)
	if err := extension.NewRegistry(logging.Discard()).Install(first); err != nil {
		t.Fatal(err)
	}
	if err := extension.NewRegistry(logging.Discard()).Install(second); err != nil {
		t.Fatal(err)
	}

	if first.messages != second.messages {
		t.Error("second install should reuse the registered collector")
	}
}
