// Package htmltext provides an extension that turns HTML bodies in incoming
// text messages into plain text. Bots behind DirectLine and similar backends
// often answer with markup that a terminal cannot render.
package htmltext

import (
	"maps"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/chativa/chativa/internal/extension"
	"github.com/chativa/chativa/internal/message"
)

// Name is the extension name.
const Name = "html-text"

var tagPattern = regexp.MustCompile(`<[a-zA-Z/][^>]*>`)

// Extension rewrites data["text"] of incoming text messages that contain
// markup. The original markup is kept in data["html"] and anchors are
// collected into data["links"].
type Extension struct{}

// New creates the extension.
func New() *Extension { return &Extension{} }

func (e *Extension) Name() string    { return Name }
func (e *Extension) Version() string { return "1.0.0" }

// Install registers the receive hook.
func (e *Extension) Install(ctx *extension.Context) {
	ctx.OnAfterReceive(func(msg *message.IncomingMessage) *message.IncomingMessage {
		if msg.Type != message.TypeText {
			return msg
		}
		raw := msg.Text()
		if !tagPattern.MatchString(raw) {
			return msg
		}

		text, links, err := Convert(raw)
		if err != nil {
			return msg
		}

		out := *msg
		out.Data = maps.Clone(msg.Data)
		out.Data["text"] = text
		out.Data["html"] = raw
		if len(links) > 0 {
			out.Data["links"] = links
		}
		return &out
	})
}

func (e *Extension) Uninstall() {}

// Link is an anchor found in converted markup.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// Convert renders an HTML fragment as plain text. Block elements and <br>
// become line breaks and list items get a bullet.
func Convert(html string) (string, []Link, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", nil, err
	}
	doc.Find("script, style").Remove()

	var links []Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		links = append(links, Link{Text: strings.TrimSpace(s.Text()), Href: href})
	})

	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("li").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("• ")
		s.AppendHtml("\n")
	})
	doc.Find("p, div, h1, h2, h3, h4, h5, h6, tr, ul, ol").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	return tidy(doc.Find("body").Text()), links, nil
}

// tidy trims every line and collapses runs of blank lines.
func tidy(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
