// Package tui provides the interactive terminal components of Chativa: the
// chat client, the setup wizard and the status screen.
package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/chativa/chativa/internal/config"
)

// ConnectorOptions are the choices offered by the setup wizard.
var ConnectorOptions = []struct {
	Kind  string
	Label string
}{
	{"dummy", "Dummy (offline demo, echoes your messages)"},
	{"sse", "SSE (event stream + REST, works with 'chativa serve')"},
	{"directline", "DirectLine (Azure Bot Framework)"},
	{"signalr", "SignalR (ASP.NET Core hub)"},
	{"llm", "LLM (OpenAI-compatible chat completions)"},
	{"telegram", "Telegram (relay to an operator chat)"},
}

// LLMModels are the suggested models for the llm connector.
var LLMModels = []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1-mini"}

// Styles for the setup wizard.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginBottom(1)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2)
)

// SetupState holds the answers collected by the setup wizard.
type SetupState struct {
	Connector string
	Title     string

	SSEURL     string
	SSESendURL string

	DirectLineSecret string

	SignalRURL string

	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string

	TelegramToken  string
	TelegramChatID string

	PrimaryColor string
	Position     string

	EnableMetrics  bool
	EnableHTMLText bool

	Confirmed bool
}

// newSetupState seeds the wizard from an existing configuration.
func newSetupState(cfg *config.Config) *SetupState {
	s := &SetupState{
		Connector:        cfg.Widget.Connector,
		Title:            cfg.Widget.Title,
		SSEURL:           cfg.Connectors.SSE.URL,
		SSESendURL:       cfg.Connectors.SSE.SendURL,
		DirectLineSecret: cfg.Connectors.DirectLine.Secret,
		SignalRURL:       cfg.Connectors.SignalR.URL,
		LLMAPIKey:        cfg.Connectors.LLM.APIKey,
		LLMBaseURL:       cfg.Connectors.LLM.BaseURL,
		LLMModel:         cfg.Connectors.LLM.Model,
		TelegramToken:    cfg.Connectors.Telegram.Token,
		PrimaryColor:     cfg.Widget.Theme.PrimaryColor,
		Position:         cfg.Widget.Theme.Position,
		EnableMetrics:    cfg.Extensions.Metrics.Enabled,
		EnableHTMLText:   cfg.Extensions.HTMLText.Enabled,
	}
	if cfg.Connectors.Telegram.ChatID != 0 {
		s.TelegramChatID = strconv.FormatInt(cfg.Connectors.Telegram.ChatID, 10)
	}
	if s.Position == "" {
		s.Position = "bottom-right"
	}
	return s
}

// RunSetup runs the interactive setup wizard and saves the result to path
// (the default config path when empty).
func RunSetup(path string) (*config.Config, error) {
	if path == "" {
		path = config.GetConfigPath()
	}
	base, err := config.LoadConfig(path)
	if err != nil {
		base = config.DefaultConfig()
	}
	state := newSetupState(base)

	welcome := boxStyle.Render(
		titleStyle.Render("Welcome to Chativa Setup") + "\n\n" +
			"This wizard picks a chat backend and styles the widget.\n" +
			"You can always edit the configuration later at:\n" +
			subtitleStyle.Render(path),
	)
	fmt.Println(welcome)
	fmt.Println()

	steps := []struct {
		name string
		run  func(*SetupState) error
	}{
		{"connector", runConnectorStep},
		{"connector settings", runConnectorConfigStep},
		{"theme", runThemeStep},
		{"extensions", runExtensionsStep},
		{"confirmation", runConfirmationStep},
	}
	for _, step := range steps {
		if err := step.run(state); err != nil {
			return nil, fmt.Errorf("%s step failed: %w", step.name, err)
		}
	}

	if !state.Confirmed {
		return nil, fmt.Errorf("setup cancelled by user")
	}

	cfg, err := buildConfigFromState(base, state)
	if err != nil {
		return nil, err
	}
	if err := config.SaveConfig(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println(successStyle.Render("\n✓ Configuration saved successfully!"))
	fmt.Println(subtitleStyle.Render("Config file: " + path))
	return cfg, nil
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

func runConnectorStep(state *SetupState) error {
	options := make([]huh.Option[string], len(ConnectorOptions))
	for i, o := range ConnectorOptions {
		options[i] = huh.NewOption(o.Label, o.Kind)
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select a connector").
				Description("The backend the chat widget talks to").
				Options(options...).
				Value(&state.Connector),
			huh.NewInput().
				Title("Widget title").
				Value(&state.Title),
		),
	).Run()
}

func runConnectorConfigStep(state *SetupState) error {
	var fields []huh.Field

	switch state.Connector {
	case "sse":
		fields = append(fields,
			huh.NewInput().Title("Event stream URL").Value(&state.SSEURL).Validate(required("stream url")),
			huh.NewInput().Title("Send URL").Value(&state.SSESendURL).Validate(required("send url")),
		)
	case "directline":
		fields = append(fields,
			huh.NewInput().
				Title("DirectLine secret").
				Description("Exchanged for a conversation token on connect").
				EchoMode(huh.EchoModePassword).
				Value(&state.DirectLineSecret).
				Validate(required("secret")),
		)
	case "signalr":
		fields = append(fields,
			huh.NewInput().Title("Hub URL").Placeholder("https://example.com/chathub").Value(&state.SignalRURL).Validate(required("hub url")),
		)
	case "llm":
		models := make([]huh.Option[string], len(LLMModels))
		for i, m := range LLMModels {
			models[i] = huh.NewOption(m, m)
		}
		fields = append(fields,
			huh.NewInput().
				Title("API key").
				Placeholder("sk-...").
				EchoMode(huh.EchoModePassword).
				Value(&state.LLMAPIKey).
				Validate(required("API key")),
			huh.NewInput().
				Title("Base URL (optional)").
				Description("Leave empty for api.openai.com").
				Value(&state.LLMBaseURL),
			huh.NewSelect[string]().Title("Model").Options(models...).Value(&state.LLMModel),
		)
	case "telegram":
		fields = append(fields,
			huh.NewInput().
				Title("Telegram Bot Token").
				Description("Get this from @BotFather on Telegram").
				EchoMode(huh.EchoModePassword).
				Value(&state.TelegramToken).
				Validate(required("bot token")),
			huh.NewInput().
				Title("Operator chat ID").
				Value(&state.TelegramChatID).
				Validate(func(s string) error {
					if _, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err != nil {
						return fmt.Errorf("chat id must be a number")
					}
					return nil
				}),
		)
	default:
		return nil
	}

	return huh.NewForm(huh.NewGroup(fields...)).Run()
}

func runThemeStep(state *SetupState) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Primary color").
				Description("Hex color used for the header and your messages").
				Placeholder("#4f46e5").
				Value(&state.PrimaryColor),
			huh.NewSelect[string]().
				Title("Position").
				Options(
					huh.NewOption("Bottom right", "bottom-right"),
					huh.NewOption("Bottom left", "bottom-left"),
				).
				Value(&state.Position),
		),
	).Run()
}

func runExtensionsStep(state *SetupState) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable metrics?").
				Description("Count messages and widget events with Prometheus").
				Value(&state.EnableMetrics),
			huh.NewConfirm().
				Title("Convert HTML replies to text?").
				Value(&state.EnableHTMLText),
		),
	).Run()
}

func runConfirmationStep(state *SetupState) error {
	fmt.Println(boxStyle.Render(buildSummary(state)))
	fmt.Println()

	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save this configuration?").
				Affirmative("Yes, save").
				Negative("No, cancel").
				Value(&state.Confirmed),
		),
	).Run()
}

// buildSummary creates a text summary of the answers.
func buildSummary(state *SetupState) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Configuration Summary"))
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Connector: %s\n", successStyle.Render(state.Connector))
	fmt.Fprintf(&sb, "Title: %s\n", state.Title)

	switch state.Connector {
	case "sse":
		fmt.Fprintf(&sb, "Stream: %s\nSend: %s\n", state.SSEURL, state.SSESendURL)
	case "signalr":
		fmt.Fprintf(&sb, "Hub: %s\n", state.SignalRURL)
	case "llm":
		fmt.Fprintf(&sb, "Model: %s\n", state.LLMModel)
	case "telegram":
		fmt.Fprintf(&sb, "Operator chat: %s\n", state.TelegramChatID)
	}

	sb.WriteString("\n")
	if state.PrimaryColor != "" {
		fmt.Fprintf(&sb, "Primary color: %s\n", state.PrimaryColor)
	}
	fmt.Fprintf(&sb, "Position: %s\n", state.Position)
	fmt.Fprintf(&sb, "Metrics: %t\nHTML text: %t\n", state.EnableMetrics, state.EnableHTMLText)
	return sb.String()
}

// buildConfigFromState applies the wizard answers on top of base.
func buildConfigFromState(base *config.Config, state *SetupState) (*config.Config, error) {
	// Header maps and the origins slice stay shared with base; the wizard
	// never edits them.
	cfg := *base

	cfg.Widget.Connector = state.Connector
	if t := strings.TrimSpace(state.Title); t != "" {
		cfg.Widget.Title = t
	}
	cfg.Widget.Theme.PrimaryColor = strings.TrimSpace(state.PrimaryColor)
	cfg.Widget.Theme.Position = state.Position

	switch state.Connector {
	case "sse":
		cfg.Connectors.SSE.Enabled = true
		cfg.Connectors.SSE.URL = strings.TrimSpace(state.SSEURL)
		cfg.Connectors.SSE.SendURL = strings.TrimSpace(state.SSESendURL)
	case "directline":
		cfg.Connectors.DirectLine.Enabled = true
		cfg.Connectors.DirectLine.Secret = strings.TrimSpace(state.DirectLineSecret)
	case "signalr":
		cfg.Connectors.SignalR.Enabled = true
		cfg.Connectors.SignalR.URL = strings.TrimSpace(state.SignalRURL)
	case "llm":
		cfg.Connectors.LLM.Enabled = true
		cfg.Connectors.LLM.APIKey = strings.TrimSpace(state.LLMAPIKey)
		cfg.Connectors.LLM.BaseURL = strings.TrimSpace(state.LLMBaseURL)
		if state.LLMModel != "" {
			cfg.Connectors.LLM.Model = state.LLMModel
		}
	case "telegram":
		chatID, err := strconv.ParseInt(strings.TrimSpace(state.TelegramChatID), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram chat id %q: %w", state.TelegramChatID, err)
		}
		cfg.Connectors.Telegram.Enabled = true
		cfg.Connectors.Telegram.Token = strings.TrimSpace(state.TelegramToken)
		cfg.Connectors.Telegram.ChatID = chatID
	case "dummy":
		cfg.Connectors.Dummy.Enabled = true
	}

	cfg.Extensions.Metrics.Enabled = state.EnableMetrics
	cfg.Extensions.HTMLText.Enabled = state.EnableHTMLText
	return &cfg, nil
}
