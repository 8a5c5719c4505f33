// ABOUTME: Markdown to HTML rendering for outgoing messages
// ABOUTME: Uses goldmark with GFM; plain paragraphs are sent without formatting

package matrix

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

// renderMarkdown converts text to a Matrix formatted_body. It returns false
// when the result carries no formatting beyond a single paragraph.
func renderMarkdown(text string) (string, bool) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", false
	}

	out := strings.TrimSpace(buf.String())
	if out == "" || isPlainParagraph(out) {
		return "", false
	}
	return out, true
}

func isPlainParagraph(s string) bool {
	inner, ok := strings.CutPrefix(s, "<p>")
	if !ok {
		return false
	}
	inner, ok = strings.CutSuffix(inner, "</p>")
	return ok && !strings.Contains(inner, "<")
}
