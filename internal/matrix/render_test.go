// ABOUTME: Tests for markdown rendering of outgoing messages
// ABOUTME: Plain text stays unformatted; markdown produces HTML

package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderMarkdown_PlainText(t *testing.T) {
	_, ok := renderMarkdown("Working on it, I'll be right back.")
	assert.False(t, ok)

	_, ok = renderMarkdown("")
	assert.False(t, ok)
}

func TestRenderMarkdown_Formatting(t *testing.T) {
	out, ok := renderMarkdown("Use **goroutines**:\n\n```go\ngo f()\n```")
	assert.True(t, ok)
	assert.Contains(t, out, "<strong>goroutines</strong>")
	assert.Contains(t, out, "<code class=\"language-go\">")
}

func TestRenderMarkdown_List(t *testing.T) {
	out, ok := renderMarkdown("- one\n- two")
	assert.True(t, ok)
	assert.Contains(t, out, "<li>one</li>")
}

func TestRenderMarkdown_RawHTMLIsNotPassedThrough(t *testing.T) {
	out, ok := renderMarkdown("**bold** <script>alert(1)</script>")
	assert.True(t, ok)
	assert.NotContains(t, out, "<script>")
}
