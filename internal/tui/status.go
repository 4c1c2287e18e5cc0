package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/chativa/chativa/internal/config"
	"github.com/chativa/chativa/internal/connectors"
)

// Status display styles.
var (
	statusTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("205")).
				MarginBottom(1).
				Padding(0, 1)

	statusBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Width(64)

	statusSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				MarginTop(1)

	statusLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252")).
				Width(20)

	statusValueStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("255"))

	statusEnabledStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("82")).
				Bold(true)

	statusDisabledStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))

	statusWarningStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214"))
)

// ShowStatus prints the configuration status box.
func ShowStatus(cfg *config.Config) error {
	fmt.Println(statusBoxStyle.Render(RenderStatus(cfg)))
	return nil
}

// RenderStatus renders the configuration status without the surrounding box.
func RenderStatus(cfg *config.Config) string {
	var sb strings.Builder

	sb.WriteString(statusTitleStyle.Render("Chativa Configuration Status"))
	sb.WriteString("\n\n")

	sb.WriteString(statusSectionStyle.Render("Widget"))
	sb.WriteString("\n")
	sb.WriteString(renderWidgetStatus(cfg))
	sb.WriteString("\n")

	sb.WriteString(statusSectionStyle.Render("Connectors"))
	sb.WriteString("\n")
	sb.WriteString(renderConnectorsStatus(cfg))
	sb.WriteString("\n")

	sb.WriteString(statusSectionStyle.Render("Extensions"))
	sb.WriteString("\n")
	sb.WriteString(renderStatusRow("Metrics", enabledLabel(cfg.Extensions.Metrics.Enabled)))
	sb.WriteString(renderStatusRow("HTML text", enabledLabel(cfg.Extensions.HTMLText.Enabled)))
	sb.WriteString("\n")

	sb.WriteString(statusSectionStyle.Render("Sandbox server"))
	sb.WriteString("\n")
	sb.WriteString(renderServerStatus(cfg))

	return sb.String()
}

func renderWidgetStatus(cfg *config.Config) string {
	var sb strings.Builder
	sb.WriteString(renderStatusRow("Connector", statusEnabledStyle.Render(cfg.Widget.Connector)))
	sb.WriteString(renderStatusRow("Title", statusValueStyle.Render(cfg.Widget.Title)))
	if c := cfg.Widget.Theme.PrimaryColor; c != "" {
		swatch := lipgloss.NewStyle().Foreground(lipgloss.Color(c)).Render("██")
		sb.WriteString(renderStatusRow("Primary color", swatch+" "+statusValueStyle.Render(c)))
	}
	if p := cfg.Widget.Theme.Position; p != "" {
		sb.WriteString(renderStatusRow("Position", statusValueStyle.Render(p)))
	}
	sb.WriteString(renderStatusRow("Load history", enabledLabel(cfg.Widget.LoadHistory)))
	return sb.String()
}

func renderConnectorsStatus(cfg *config.Config) string {
	var sb strings.Builder
	for _, kind := range connectors.Kinds() {
		if !connectors.Enabled(cfg, kind) {
			sb.WriteString(renderStatusRow(kind, statusDisabledStyle.Render("disabled")))
			continue
		}
		label := "enabled"
		if kind == cfg.Widget.Connector {
			label = "active"
		}
		sb.WriteString(renderStatusRow(kind, statusEnabledStyle.Render(label)))
		for _, d := range connectorDetails(cfg, kind) {
			sb.WriteString(renderStatusRow("  "+d[0], d[1]))
		}
	}
	return sb.String()
}

// connectorDetails returns label/value pairs describing an enabled
// connector. Missing required settings are rendered as warnings.
func connectorDetails(cfg *config.Config, kind string) [][2]string {
	c := cfg.Connectors
	value := func(v string) string { return statusValueStyle.Render(v) }
	missing := func(what string) string { return statusWarningStyle.Render(what + " not set") }
	secret := func(v, what string) string {
		if v == "" {
			return missing(what)
		}
		return value(maskSecret(v))
	}

	switch kind {
	case "sse":
		return [][2]string{{"URL", orMissing(c.SSE.URL, "url", value, missing)}, {"Send URL", orMissing(c.SSE.SendURL, "send url", value, missing)}}
	case "directline":
		if c.DirectLine.Token != "" {
			return [][2]string{{"Token", secret(c.DirectLine.Token, "token")}}
		}
		return [][2]string{{"Secret", secret(c.DirectLine.Secret, "token or secret")}}
	case "signalr":
		return [][2]string{{"Hub URL", orMissing(c.SignalR.URL, "hub url", value, missing)}}
	case "telegram":
		chat := missing("chat id")
		if c.Telegram.ChatID != 0 {
			chat = value(fmt.Sprintf("%d", c.Telegram.ChatID))
		}
		return [][2]string{{"Token", secret(c.Telegram.Token, "token")}, {"Chat", chat}}
	case "llm":
		return [][2]string{{"Model", value(c.LLM.Model)}, {"API key", secret(c.LLM.APIKey, "api key")}}
	case "dummy":
		return [][2]string{{"Reply delay", value(fmt.Sprintf("%dms", c.Dummy.ReplyDelayMs))}}
	}
	return nil
}

func orMissing(v, what string, value, missing func(string) string) string {
	if v == "" {
		return missing(what)
	}
	return value(v)
}

func renderServerStatus(cfg *config.Config) string {
	var sb strings.Builder
	s := cfg.Server
	sb.WriteString(renderStatusRow("Listen", statusValueStyle.Render(fmt.Sprintf("%s:%d", s.Host, s.Port))))
	sb.WriteString(renderStatusRow("History DB", statusValueStyle.Render(cfg.DBPath())))
	sb.WriteString(renderStatusRow("Rate limit", statusValueStyle.Render(fmt.Sprintf("%g/s burst %d", s.RateLimit, s.RateBurst))))
	sb.WriteString(renderStatusRow("Origins", statusValueStyle.Render(strings.Join(s.AllowedOrigins, ", "))))
	return sb.String()
}

func enabledLabel(on bool) string {
	if on {
		return statusEnabledStyle.Render("enabled")
	}
	return statusDisabledStyle.Render("disabled")
}

// renderStatusRow renders a label-value row.
func renderStatusRow(label, value string) string {
	if label == "" {
		return fmt.Sprintf("  %s\n", value)
	}
	return fmt.Sprintf("  %s %s\n",
		statusLabelStyle.Render(label+":"),
		value,
	)
}

// maskSecret masks a token or key for display.
func maskSecret(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// ShowQuickStatus shows a minimal one-line status.
func ShowQuickStatus(cfg *config.Config) {
	n := 0
	for _, kind := range connectors.Kinds() {
		if connectors.Enabled(cfg, kind) {
			n++
		}
	}
	fmt.Printf("Chativa: %s | %s\n",
		statusEnabledStyle.Render(cfg.Widget.Connector),
		statusValueStyle.Render(fmt.Sprintf("%d connector(s) enabled", n)),
	)
}

// ShowConnectorList prints every connector kind with its state.
func ShowConnectorList(cfg *config.Config) {
	fmt.Println(statusTitleStyle.Render("Connectors"))
	fmt.Println()
	for _, kind := range connectors.Kinds() {
		var status string
		switch {
		case kind == cfg.Widget.Connector:
			status = statusEnabledStyle.Render("[ACTIVE]")
		case connectors.Enabled(cfg, kind):
			status = statusValueStyle.Render("[enabled]")
		default:
			status = statusDisabledStyle.Render("[disabled]")
		}
		fmt.Printf("  %-12s %s\n", kind, status)
	}
	fmt.Println()
}
