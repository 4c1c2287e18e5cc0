package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Config represents the root configuration structure for Chativa.
type Config struct {
	Widget     WidgetConfig     `json:"widget" yaml:"widget"`
	Connectors ConnectorsConfig `json:"connectors" yaml:"connectors"`
	Extensions ExtensionsConfig `json:"extensions" yaml:"extensions"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// WidgetConfig selects the active connector and the widget's look.
type WidgetConfig struct {
	Connector string      `json:"connector" yaml:"connector"`
	Title     string      `json:"title" yaml:"title"`
	Theme     ThemeConfig `json:"theme" yaml:"theme"`
	// LoadHistory pages in the connector's history when the chat opens.
	LoadHistory bool `json:"loadHistory" yaml:"loadHistory"`
}

// ThemeConfig holds theme overrides. Empty fields keep the built-in theme.
type ThemeConfig struct {
	PrimaryColor    string `json:"primaryColor,omitempty" yaml:"primaryColor,omitempty"`
	SecondaryColor  string `json:"secondaryColor,omitempty" yaml:"secondaryColor,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty" yaml:"backgroundColor,omitempty"`
	TextColor       string `json:"textColor,omitempty" yaml:"textColor,omitempty"`
	Position        string `json:"position,omitempty" yaml:"position,omitempty"`
	Width           int    `json:"width,omitempty" yaml:"width,omitempty"`
}

// ConnectorsConfig holds the configuration of every connector kind.
type ConnectorsConfig struct {
	Dummy      DummyConfig      `json:"dummy" yaml:"dummy"`
	SSE        SSEConfig        `json:"sse" yaml:"sse"`
	DirectLine DirectLineConfig `json:"directline" yaml:"directline"`
	SignalR    SignalRConfig    `json:"signalr" yaml:"signalr"`
	Telegram   TelegramConfig   `json:"telegram" yaml:"telegram"`
	LLM        LLMConfig        `json:"llm" yaml:"llm"`
}

// DummyConfig configures the in-memory demo connector.
type DummyConfig struct {
	Enabled        bool `json:"enabled" yaml:"enabled"`
	ConnectDelayMs int  `json:"connectDelayMs" yaml:"connectDelayMs"`
	ReplyDelayMs   int  `json:"replyDelayMs" yaml:"replyDelayMs"`
	DisableEcho    bool `json:"disableEcho,omitempty" yaml:"disableEcho,omitempty"`
	// HistorySize seeds that many demo messages for history paging.
	HistorySize int `json:"historySize" yaml:"historySize"`
}

// SSEConfig configures the Server-Sent Events connector.
type SSEConfig struct {
	Enabled          bool              `json:"enabled" yaml:"enabled"`
	URL              string            `json:"url" yaml:"url"`
	SendURL          string            `json:"sendUrl" yaml:"sendUrl"`
	Headers          map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	DisableReconnect bool              `json:"disableReconnect,omitempty" yaml:"disableReconnect,omitempty"`
	ReconnectDelayMs int               `json:"reconnectDelayMs" yaml:"reconnectDelayMs"`
}

// DirectLineConfig configures the Bot Framework DirectLine connector.
type DirectLineConfig struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	Token            string `json:"token,omitempty" yaml:"token,omitempty"`
	Secret           string `json:"secret,omitempty" yaml:"secret,omitempty"`
	Domain           string `json:"domain,omitempty" yaml:"domain,omitempty"`
	UserID           string `json:"userId,omitempty" yaml:"userId,omitempty"`
	UserName         string `json:"userName,omitempty" yaml:"userName,omitempty"`
	DisableWebSocket bool   `json:"disableWebSocket,omitempty" yaml:"disableWebSocket,omitempty"`
	PollIntervalMs   int    `json:"pollIntervalMs,omitempty" yaml:"pollIntervalMs,omitempty"`
}

// SignalRConfig configures the SignalR hub connector.
type SignalRConfig struct {
	Enabled       bool              `json:"enabled" yaml:"enabled"`
	URL           string            `json:"url" yaml:"url"`
	ReceiveMethod string            `json:"receiveMethod,omitempty" yaml:"receiveMethod,omitempty"`
	SendMethod    string            `json:"sendMethod,omitempty" yaml:"sendMethod,omitempty"`
	AccessToken   string            `json:"accessToken,omitempty" yaml:"accessToken,omitempty"`
	Headers       map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	AutoReconnect bool              `json:"autoReconnect" yaml:"autoReconnect"`
}

// TelegramConfig configures the Telegram operator bridge.
type TelegramConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Token       string `json:"token" yaml:"token"`
	ChatID      int64  `json:"chatId" yaml:"chatId"`
	APIEndpoint string `json:"apiEndpoint,omitempty" yaml:"apiEndpoint,omitempty"`
	Label       string `json:"label,omitempty" yaml:"label,omitempty"`
}

// LLMConfig configures the OpenAI-compatible bot connector.
type LLMConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	APIKey       string `json:"apiKey" yaml:"apiKey"`
	BaseURL      string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Model        string `json:"model" yaml:"model"`
	SystemPrompt string `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	Stream       bool   `json:"stream" yaml:"stream"`
}

// ExtensionsConfig toggles the bundled extensions.
type ExtensionsConfig struct {
	Metrics  ToggleConfig `json:"metrics" yaml:"metrics"`
	HTMLText ToggleConfig `json:"htmlText" yaml:"htmlText"`
}

// ToggleConfig is an on/off switch.
type ToggleConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// ServerConfig configures the sandbox SSE backend.
type ServerConfig struct {
	Host           string   `json:"host" yaml:"host"`
	Port           int      `json:"port" yaml:"port"`
	DBPath         string   `json:"dbPath" yaml:"dbPath"`
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowedOrigins"`
	// RateLimit is the number of sends per second allowed per client.
	RateLimit    float64 `json:"rateLimit" yaml:"rateLimit"`
	RateBurst    int     `json:"rateBurst" yaml:"rateBurst"`
	ReplyDelayMs int     `json:"replyDelayMs" yaml:"replyDelayMs"`
	PageSize     int     `json:"pageSize" yaml:"pageSize"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" or "json"
}

// DefaultConfig returns a new Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Widget: WidgetConfig{
			Connector:   "dummy",
			Title:       "Chativa",
			LoadHistory: true,
		},
		Connectors: ConnectorsConfig{
			Dummy: DummyConfig{
				Enabled:      true,
				ReplyDelayMs: 600,
				HistorySize:  30,
			},
			SSE: SSEConfig{
				URL:              "http://127.0.0.1:8787/events",
				SendURL:          "http://127.0.0.1:8787/send",
				ReconnectDelayMs: 3000,
			},
			LLM: LLMConfig{
				Model:  "gpt-4o-mini",
				Stream: true,
			},
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8787,
			DBPath:         filepath.Join("~", DefaultConfigDir, "history.db"),
			AllowedOrigins: []string{"*"},
			RateLimit:      5,
			RateBurst:      10,
			ReplyDelayMs:   400,
			PageSize:       20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DBPath returns the expanded history database path.
func (c *Config) DBPath() string {
	path := c.Server.DBPath
	if path == "" {
		path = filepath.Join(GetConfigDir(), "history.db")
	}
	return expandPath(path)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
