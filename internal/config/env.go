package config

import (
	"errors"
	"fmt"
	"strconv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHATIVA_"

type envBinding struct {
	key string
	set func(cfg *Config, value string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*dst(cfg) = v
		return nil
	}
}

var envBindings = []envBinding{
	{"CONNECTOR", str(func(c *Config) *string { return &c.Widget.Connector })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},
	{"SERVER_HOST", str(func(c *Config) *string { return &c.Server.Host })},
	{"SERVER_PORT", func(c *Config, v string) error {
		port, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Server.Port = port
		return nil
	}},
	{"SERVER_DB", str(func(c *Config) *string { return &c.Server.DBPath })},
	{"SSE_URL", str(func(c *Config) *string { return &c.Connectors.SSE.URL })},
	{"SSE_SEND_URL", str(func(c *Config) *string { return &c.Connectors.SSE.SendURL })},
	{"DIRECTLINE_TOKEN", str(func(c *Config) *string { return &c.Connectors.DirectLine.Token })},
	{"DIRECTLINE_SECRET", str(func(c *Config) *string { return &c.Connectors.DirectLine.Secret })},
	{"SIGNALR_URL", str(func(c *Config) *string { return &c.Connectors.SignalR.URL })},
	{"SIGNALR_TOKEN", str(func(c *Config) *string { return &c.Connectors.SignalR.AccessToken })},
	{"TELEGRAM_TOKEN", str(func(c *Config) *string { return &c.Connectors.Telegram.Token })},
	{"TELEGRAM_CHAT_ID", func(c *Config, v string) error {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.Connectors.Telegram.ChatID = id
		return nil
	}},
	{"LLM_API_KEY", str(func(c *Config) *string { return &c.Connectors.LLM.APIKey })},
	{"LLM_BASE_URL", str(func(c *Config) *string { return &c.Connectors.LLM.BaseURL })},
	{"LLM_MODEL", str(func(c *Config) *string { return &c.Connectors.LLM.Model })},
}

// ApplyEnv overrides cfg with CHATIVA_* variables found through lookup.
// OPENAI_API_KEY is honoured when no LLM key is configured.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok || v == "" {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s%s: %w", EnvPrefix, b.key, err))
		}
	}

	if cfg.Connectors.LLM.APIKey == "" {
		if v, ok := lookup("OPENAI_API_KEY"); ok {
			cfg.Connectors.LLM.APIKey = v
		}
	}
	return errors.Join(errs...)
}

// Validate reports configuration errors that would prevent startup.
func (c *Config) Validate() error {
	var errs []error
	if c.Widget.Connector == "" {
		errs = append(errs, errors.New("widget.connector must be set"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}
