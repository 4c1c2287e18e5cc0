package widget

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Cross-context envelope types exchanged with a host page or frame.
const (
	EnvelopeTheme        = "chativa-theme"
	EnvelopeRemoveWidget = "chativa-remove-widget"
	EnvelopeFrameReady   = "chativa-frame-ready"
	EnvelopeWidgetReady  = "chativa-widget-ready"
)

// ErrUnknownEnvelope is returned by HandleEnvelope for unrecognised types.
var ErrUnknownEnvelope = errors.New("widget: unknown envelope type")

// Envelope is a cross-context message.
type Envelope struct {
	Type  string `json:"type"`
	Theme *Theme `json:"theme,omitempty"`
}

// HandleEnvelope applies an envelope received from the host. A
// chativa-frame-ready envelope is answered with the widget-ready envelope,
// which is returned for the caller to post back.
func (w *Widget) HandleEnvelope(raw []byte) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("widget: decode envelope: %w", err)
	}

	switch env.Type {
	case EnvelopeTheme:
		if env.Theme == nil {
			return nil, nil
		}
		return nil, w.SetTheme(*env.Theme)
	case EnvelopeRemoveWidget:
		w.Remove()
		return nil, nil
	case EnvelopeFrameReady:
		return w.ReadyEnvelope(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnvelope, env.Type)
	}
}

// ReadyEnvelope returns the envelope announcing that the widget is ready.
func (w *Widget) ReadyEnvelope() []byte {
	data, _ := json.Marshal(Envelope{Type: EnvelopeWidgetReady})
	return data
}
