package dummy

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/chativa/chativa/internal/message"
)

// ErrUnknownSequence is returned by TriggerGenUI for an unknown name.
var ErrUnknownSequence = errors.New("dummy: unknown genui sequence")

type sequence func(ctx context.Context, c *Connector) error

var sequences = map[string]sequence{
	"weather":  weatherSequence,
	"form":     formSequence,
	"progress": progressSequence,
}

// Sequences lists the names accepted by TriggerGenUI.
func Sequences() []string {
	names := make([]string, 0, len(sequences))
	for name := range sequences {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TriggerGenUI plays the named sequence and returns when it has finished.
func (c *Connector) TriggerGenUI(ctx context.Context, name string) error {
	seq, ok := sequences[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSequence, name)
	}
	c.Logger().Debug("playing genui sequence", "name", name)
	return seq(ctx, c)
}

func genUI(component string, props map[string]any, streaming bool) map[string]any {
	return map[string]any{
		"component": component,
		"props":     props,
		"streaming": streaming,
	}
}

func (c *Connector) emitGenUI(id string, data map[string]any) {
	c.EmitMessage(message.IncomingMessage{
		ID:        id,
		Type:      message.TypeGenUI,
		Data:      data,
		From:      message.FromBot,
		Timestamp: message.Now(),
	})
}

func weatherSequence(ctx context.Context, c *Connector) error {
	c.EmitTyping(true)
	err := sleep(ctx, c.opts.ReplyDelay)
	c.EmitTyping(false)
	if err != nil {
		return err
	}

	id := message.NewID()
	c.emitGenUI(id, genUI("weather", map[string]any{"city": "Istanbul", "loading": true}, true))

	if err := sleep(ctx, c.opts.ReplyDelay); err != nil {
		return err
	}
	c.EmitUpdate(id, message.DataPatch(genUI("weather", map[string]any{
		"city":        "Istanbul",
		"temperature": 21,
		"unit":        "C",
		"condition":   "Partly cloudy",
		"loading":     false,
	}, false)))
	return nil
}

func formSequence(ctx context.Context, c *Connector) error {
	c.EmitTyping(true)
	err := sleep(ctx, c.opts.ReplyDelay)
	c.EmitTyping(false)
	if err != nil {
		return err
	}

	c.emitGenUI(message.NewID(), genUI("form", map[string]any{
		"title": "Contact us",
		"fields": []any{
			map[string]any{"name": "name", "label": "Name", "type": "text", "required": true},
			map[string]any{"name": "email", "label": "Email", "type": "email", "required": true},
			map[string]any{"name": "message", "label": "Message", "type": "textarea"},
		},
		"submitLabel": "Send",
	}, false))
	return nil
}

func progressSequence(ctx context.Context, c *Connector) error {
	id := message.NewID()
	c.emitGenUI(id, genUI("progress", map[string]any{"label": "Processing", "value": 0}, true))

	for _, v := range []int{25, 50, 75} {
		if err := sleep(ctx, c.opts.ReplyDelay); err != nil {
			return err
		}
		c.EmitUpdate(id, message.DataPatch(genUI("progress", map[string]any{"label": "Processing", "value": v}, true)))
	}

	if err := sleep(ctx, c.opts.ReplyDelay); err != nil {
		return err
	}
	c.EmitUpdate(id, message.DataPatch(genUI("progress", map[string]any{"label": "Done", "value": 100}, false)))
	return nil
}
