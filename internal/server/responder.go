package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/chativa/chativa/internal/message"
)

// Responder produces the bot replies to a user message.
type Responder interface {
	Reply(ctx context.Context, msg message.OutgoingMessage) []message.Message
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, msg message.OutgoingMessage) []message.Message

// Reply calls f.
func (f ResponderFunc) Reply(ctx context.Context, msg message.OutgoingMessage) []message.Message {
	return f(ctx, msg)
}

// EchoResponder answers every message by repeating it.
var EchoResponder = ResponderFunc(func(_ context.Context, msg message.OutgoingMessage) []message.Message {
	text := strings.TrimSpace(msg.Text())
	reply := "You said: " + text
	if text == "" {
		reply = fmt.Sprintf("Received a %s message.", msg.Type)
	}
	return []message.Message{message.NewText("", reply).Message()}
})
