package telegram

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	fencedCode = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\n?(.*?)```")
	inlineCode = regexp.MustCompile("`([^`\n]+)`")
	mdLink     = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	mdBold     = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	mdItalic   = regexp.MustCompile(`(^|[^\w*])[*_]([^*_\n]+)[*_]([^\w*]|$)`)
	mdHeading  = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdQuote    = regexp.MustCompile(`(?m)^>\s?`)
)

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// ToHTML converts the markdown subset chat users type into the HTML
// Telegram accepts. Code spans are escaped and left unformatted.
func ToHTML(text string) string {
	if text == "" {
		return ""
	}

	var spans []string
	stash := func(html string) string {
		spans = append(spans, html)
		return fmt.Sprintf("\x00%d\x00", len(spans)-1)
	}

	text = fencedCode.ReplaceAllStringFunc(text, func(m string) string {
		body := fencedCode.FindStringSubmatch(m)[1]
		return stash("<pre><code>" + htmlEscaper.Replace(strings.TrimSpace(body)) + "</code></pre>")
	})
	text = inlineCode.ReplaceAllStringFunc(text, func(m string) string {
		return stash("<code>" + htmlEscaper.Replace(inlineCode.FindStringSubmatch(m)[1]) + "</code>")
	})

	text = mdHeading.ReplaceAllString(text, "")
	text = mdQuote.ReplaceAllString(text, "")
	text = htmlEscaper.Replace(text)
	text = mdLink.ReplaceAllString(text, `<a href="$2">$1</a>`)
	text = mdBold.ReplaceAllString(text, "<b>$1</b>")
	text = mdItalic.ReplaceAllString(text, "$1<i>$2</i>$3")

	for i, html := range spans {
		text = strings.Replace(text, fmt.Sprintf("\x00%d\x00", i), html, 1)
	}
	return text
}

// StripMarkdown removes markdown markers and keeps the text.
func StripMarkdown(text string) string {
	text = fencedCode.ReplaceAllString(text, "$1")
	text = inlineCode.ReplaceAllString(text, "$1")
	text = mdLink.ReplaceAllString(text, "$1")
	text = mdBold.ReplaceAllString(text, "$1")
	text = mdItalic.ReplaceAllString(text, "$1$2$3")
	text = mdHeading.ReplaceAllString(text, "")
	return mdQuote.ReplaceAllString(text, "")
}
