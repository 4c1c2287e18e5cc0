// Package connectors builds the bundled connector adapters from
// configuration and registers them with a connector registry.
package connectors

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/chativa/chativa/internal/config"
	"github.com/chativa/chativa/internal/connector"
	"github.com/chativa/chativa/internal/connectors/directline"
	"github.com/chativa/chativa/internal/connectors/dummy"
	"github.com/chativa/chativa/internal/connectors/llm"
	"github.com/chativa/chativa/internal/connectors/signalr"
	"github.com/chativa/chativa/internal/connectors/sse"
	"github.com/chativa/chativa/internal/connectors/telegram"
	"github.com/chativa/chativa/internal/message"
)

// ErrUnknownKind is returned for connector kinds this package cannot build.
var ErrUnknownKind = errors.New("unknown connector kind")

type builder func(cfg *config.Config, logger *slog.Logger) connector.Connector

var builders = map[string]builder{
	dummy.DefaultName:      newDummy,
	sse.DefaultName:        newSSE,
	directline.DefaultName: newDirectLine,
	signalr.DefaultName:    newSignalR,
	telegram.DefaultName:   newTelegram,
	llm.DefaultName:        newLLM,
}

// Kinds returns the connector kinds that can be built, sorted.
func Kinds() []string {
	kinds := make([]string, 0, len(builders))
	for k := range builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Enabled reports whether the connector of the given kind is switched on in
// cfg. The widget's selected connector counts as enabled.
func Enabled(cfg *config.Config, kind string) bool {
	if kind == cfg.Widget.Connector {
		return true
	}
	c := cfg.Connectors
	switch kind {
	case dummy.DefaultName:
		return c.Dummy.Enabled
	case sse.DefaultName:
		return c.SSE.Enabled
	case directline.DefaultName:
		return c.DirectLine.Enabled
	case signalr.DefaultName:
		return c.SignalR.Enabled
	case telegram.DefaultName:
		return c.Telegram.Enabled
	case llm.DefaultName:
		return c.LLM.Enabled
	}
	return false
}

// New builds one connector of the given kind.
func New(cfg *config.Config, kind string, logger *slog.Logger) (connector.Connector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	build, ok := builders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return build(cfg, logger.With("connector", kind)), nil
}

// RegisterEnabled builds every enabled connector and registers it. The
// selected widget connector must be a known kind. Registration is strict: a
// name already present in reg is an error.
func RegisterEnabled(reg *connector.Registry, cfg *config.Config, logger *slog.Logger) ([]string, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if _, ok := builders[cfg.Widget.Connector]; !ok {
		return nil, fmt.Errorf("widget connector: %w: %q", ErrUnknownKind, cfg.Widget.Connector)
	}

	var names []string
	for _, kind := range Kinds() {
		if !Enabled(cfg, kind) {
			continue
		}
		c, err := New(cfg, kind, logger)
		if err != nil {
			return names, err
		}
		if err := reg.Register(c); err != nil {
			return names, fmt.Errorf("register %s: %w", kind, err)
		}
		names = append(names, kind)
	}
	return names, nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func newDummy(cfg *config.Config, logger *slog.Logger) connector.Connector {
	c := cfg.Connectors.Dummy
	return dummy.New(dummy.Options{
		ConnectDelay: millis(c.ConnectDelayMs),
		ReplyDelay:   millis(c.ReplyDelayMs),
		DisableEcho:  c.DisableEcho,
		History:      demoHistory(c.HistorySize, time.Now()),
		Logger:       logger,
	})
}

// demoHistory returns n bot messages spaced a minute apart, oldest first,
// ending an hour before now.
func demoHistory(n int, now time.Time) []message.IncomingMessage {
	if n <= 0 {
		return nil
	}
	end := now.Add(-time.Hour)
	out := make([]message.IncomingMessage, n)
	for i := range n {
		m := message.NewText(fmt.Sprintf("history-%d", i+1), fmt.Sprintf("Earlier message #%d", i+1))
		m.Timestamp = end.Add(-time.Duration(n-1-i) * time.Minute).UnixMilli()
		if i%2 == 1 {
			m.From = message.FromUser
		}
		out[i] = m
	}
	return out
}

func newSSE(cfg *config.Config, logger *slog.Logger) connector.Connector {
	c := cfg.Connectors.SSE
	return sse.New(sse.Options{
		URL:              c.URL,
		SendURL:          c.SendURL,
		Headers:          c.Headers,
		DisableReconnect: c.DisableReconnect,
		ReconnectDelay:   millis(c.ReconnectDelayMs),
		Logger:           logger,
	})
}

func newDirectLine(cfg *config.Config, logger *slog.Logger) connector.Connector {
	c := cfg.Connectors.DirectLine
	return directline.New(directline.Options{
		Token:            c.Token,
		Secret:           c.Secret,
		Domain:           c.Domain,
		UserID:           c.UserID,
		UserName:         c.UserName,
		DisableWebSocket: c.DisableWebSocket,
		PollInterval:     millis(c.PollIntervalMs),
		Logger:           logger,
	})
}

func newSignalR(cfg *config.Config, logger *slog.Logger) connector.Connector {
	c := cfg.Connectors.SignalR
	return signalr.New(signalr.Options{
		URL:           c.URL,
		ReceiveMethod: c.ReceiveMethod,
		SendMethod:    c.SendMethod,
		AccessToken:   c.AccessToken,
		Headers:       c.Headers,
		AutoReconnect: c.AutoReconnect,
		Logger:        logger,
	})
}

func newTelegram(cfg *config.Config, logger *slog.Logger) connector.Connector {
	c := cfg.Connectors.Telegram
	return telegram.New(telegram.Options{
		Token:       c.Token,
		ChatID:      c.ChatID,
		APIEndpoint: c.APIEndpoint,
		Label:       c.Label,
		Logger:      logger,
	})
}

func newLLM(cfg *config.Config, logger *slog.Logger) connector.Connector {
	c := cfg.Connectors.LLM
	return llm.New(llm.Options{
		APIKey:       c.APIKey,
		BaseURL:      c.BaseURL,
		Model:        c.Model,
		SystemPrompt: c.SystemPrompt,
		Stream:       c.Stream,
		Logger:       logger,
	})
}
