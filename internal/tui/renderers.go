package tui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/chativa/chativa/internal/message"
	"github.com/chativa/chativa/internal/msgtype"
)

var (
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	cardTitleStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	linkStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Underline(true)

	chipStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("205")).
			Padding(0, 1)
)

// RegisterRenderers installs the terminal renderers for the built-in message
// types and the fallback used for everything else.
func RegisterRenderers(reg *msgtype.Registry) {
	reg.Register(message.TypeText, msgtype.ComponentFunc(renderText))
	reg.Register(message.TypeCard, msgtype.ComponentFunc(renderCard))
	reg.Register(message.TypeImage, msgtype.ComponentFunc(renderImage))
	reg.Register(message.TypeQuickReply, msgtype.ComponentFunc(renderChoices))
	reg.Register(message.TypeButtons, msgtype.ComponentFunc(renderChoices))
	reg.Register(message.TypeCarousel, msgtype.ComponentFunc(renderCarousel))
	reg.Register(message.TypeFile, msgtype.ComponentFunc(renderFile))
	reg.Register(message.TypeVideo, msgtype.ComponentFunc(renderFile))
	reg.Register(message.TypeGenUI, msgtype.ComponentFunc(renderGenUI))
	reg.SetFallback(msgtype.ComponentFunc(renderFallback))
}

func str(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func wrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}

func renderText(msg message.Message, width int) string {
	return wrap(msg.Text(), width)
}

func renderCard(msg message.Message, width int) string {
	return cardStyle.Width(max(width-2, 10)).Render(cardBody(msg.Data))
}

func cardBody(data map[string]any) string {
	var parts []string
	if t := str(data, "title"); t != "" {
		parts = append(parts, cardTitleStyle.Render(t))
	}
	if s := str(data, "subtitle"); s != "" {
		parts = append(parts, mutedStyle.Render(s))
	}
	if t := str(data, "text"); t != "" {
		parts = append(parts, t)
	}
	if images, ok := data["images"].([]any); ok {
		for _, img := range images {
			if m, ok := img.(map[string]any); ok && str(m, "url") != "" {
				parts = append(parts, "[image] "+linkStyle.Render(str(m, "url")))
			}
		}
	}
	if labels := choiceLabels(data["buttons"]); len(labels) > 0 {
		parts = append(parts, renderChips(labels))
	}
	return strings.Join(parts, "\n")
}

func renderImage(msg message.Message, width int) string {
	line := "[image] " + linkStyle.Render(str(msg.Data, "src"))
	if alt := str(msg.Data, "alt"); alt != "" {
		line += " " + mutedStyle.Render(alt)
	}
	if t := str(msg.Data, "text"); t != "" {
		return wrap(t, width) + "\n" + line
	}
	return line
}

// choiceLabels extracts labels from a list of strings or of objects with a
// title, label or text field.
func choiceLabels(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var labels []string
	for _, item := range items {
		switch it := item.(type) {
		case string:
			labels = append(labels, it)
		case map[string]any:
			for _, key := range []string{"title", "label", "text"} {
				if s := str(it, key); s != "" {
					labels = append(labels, s)
					break
				}
			}
		}
	}
	return labels
}

func renderChips(labels []string) string {
	chips := make([]string, len(labels))
	for i, l := range labels {
		chips[i] = chipStyle.Render(l)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, chips...)
}

func renderChoices(msg message.Message, width int) string {
	labels := choiceLabels(msg.Data["options"])
	if len(labels) == 0 {
		labels = choiceLabels(msg.Data["buttons"])
	}
	if len(labels) == 0 {
		labels = choiceLabels(msg.Data["replies"])
	}
	text := wrap(msg.Text(), width)
	if len(labels) == 0 {
		return text
	}
	return text + "\n" + renderChips(labels)
}

func renderCarousel(msg message.Message, width int) string {
	items, _ := msg.Data["items"].([]any)
	if len(items) == 0 {
		items, _ = msg.Data["cards"].([]any)
	}
	var cards []string
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		header := mutedStyle.Render(fmt.Sprintf("%d/%d", i+1, len(items)))
		cards = append(cards, cardStyle.Width(max(width-2, 10)).Render(header+"\n"+cardBody(m)))
	}
	if len(cards) == 0 {
		return renderFallback(msg, width)
	}
	return strings.Join(cards, "\n")
}

func renderFile(msg message.Message, width int) string {
	name := str(msg.Data, "name")
	if name == "" {
		name = str(msg.Data, "title")
	}
	url := str(msg.Data, "url")
	if url == "" {
		url = str(msg.Data, "src")
	}
	label := "[" + msg.Type + "]"
	if name != "" {
		label += " " + name
	}
	if url != "" {
		label += " " + linkStyle.Render(url)
	}
	return wrap(label, width)
}

func renderGenUI(msg message.Message, width int) string {
	component := str(msg.Data, "component")
	props, _ := msg.Data["props"].(map[string]any)

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := []string{cardTitleStyle.Render(component)}
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", mutedStyle.Render(k), props[k]))
	}
	if streaming, _ := msg.Data["streaming"].(bool); streaming {
		lines = append(lines, mutedStyle.Render("…"))
	}
	return cardStyle.Width(max(width-2, 10)).Render(strings.Join(lines, "\n"))
}

func renderFallback(msg message.Message, width int) string {
	if t := msg.Text(); t != "" {
		return wrap(t, width)
	}
	data, err := json.Marshal(msg.Data)
	if err != nil {
		data = []byte(fmt.Sprint(msg.Data))
	}
	return wrap(mutedStyle.Render("["+msg.Type+"] ")+string(data), width)
}
