// Package metrics provides an extension that counts chat traffic and widget
// lifecycle events in Prometheus collectors.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chativa/chativa/internal/extension"
	"github.com/chativa/chativa/internal/message"
)

// Name is the extension name.
const Name = "metrics"

// Extension counts messages by direction and type, and widget open/close
// events.
type Extension struct {
	reg prometheus.Registerer

	messages   *prometheus.CounterVec // direction: received, sent
	lifecycles *prometheus.CounterVec // event: open, close
}

// New creates the extension. Collectors are registered with reg on install;
// a nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Extension {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Extension{
		reg: reg,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chativa",
			Subsystem: "widget",
			Name:      "messages_total",
			Help:      "Messages passing through the widget pipeline",
		}, []string{"direction", "type"}),
		lifecycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chativa",
			Subsystem: "widget",
			Name:      "lifecycle_events_total",
			Help:      "Widget open and close events",
		}, []string{"event"}),
	}
}

func (e *Extension) Name() string    { return Name }
func (e *Extension) Version() string { return "1.0.0" }

// Install registers the collectors and the counting hooks.
func (e *Extension) Install(ctx *extension.Context) {
	e.messages = register(e.reg, e.messages)
	e.lifecycles = register(e.reg, e.lifecycles)

	ctx.OnAfterReceive(func(msg *message.IncomingMessage) *message.IncomingMessage {
		e.messages.WithLabelValues("received", msg.Type).Inc()
		return msg
	})
	ctx.OnBeforeSend(func(msg *message.OutgoingMessage) *message.OutgoingMessage {
		e.messages.WithLabelValues("sent", msg.Type).Inc()
		return msg
	})
	ctx.OnWidgetOpen(func() { e.lifecycles.WithLabelValues("open").Inc() })
	ctx.OnWidgetClose(func() { e.lifecycles.WithLabelValues("close").Inc() })
}

// Uninstall unregisters the collectors.
func (e *Extension) Uninstall() {
	e.reg.Unregister(e.messages)
	e.reg.Unregister(e.lifecycles)
}

// register adds c to reg, reusing an identical collector that is already
// registered.
func register(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}
