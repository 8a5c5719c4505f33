// ABOUTME: Tests for bot mention detection and stripping
// ABOUTME: Table-driven over m.mentions, raw IDs, and display name prefixes

package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const botID = id.UserID("@gpt:example.org")

func TestMentionsBot(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		mentions *event.Mentions
		want     bool
	}{
		{"m.mentions", "hello there", &event.Mentions{UserIDs: []id.UserID{botID}}, true},
		{"other user mentioned", "hello there", &event.Mentions{UserIDs: []id.UserID{"@alice:example.org"}}, false},
		{"raw user id", "@gpt:example.org what is go?", nil, true},
		{"raw user id mixed case", "hey @GPT:example.org", nil, true},
		{"display name colon", "GPT: what is go?", nil, true},
		{"display name comma lower", "gpt, what is go?", nil, true},
		{"at display name", "@GPT what is go?", nil, true},
		{"name inside word", "GPTs are neat", nil, false},
		{"bare name without punctuation", "GPT what is go?", nil, false},
		{"no mention", "what is go?", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mentionsBot(tt.body, tt.mentions, botID, "GPT"))
		})
	}
}

func TestStripMention(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{"@gpt:example.org what is go?", "what is go?"},
		{"@gpt:example.org: what is go?", "what is go?"},
		{"GPT: what is go?", "what is go?"},
		{"gpt, summarize this", "summarize this"},
		{"@GPT image: a red fox", "image: a red fox"},
		{"please help @gpt:example.org", "please help"},
		{"GPT:", ""},
		{"no mention here", "no mention here"},
		{"  GPT:  multi\nline  ", "multi\nline"},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			assert.Equal(t, tt.want, stripMention(tt.body, botID, "GPT"))
		})
	}
}

func TestStripMention_NoDisplayName(t *testing.T) {
	assert.Equal(t, "GPT: hi", stripMention("GPT: hi", botID, ""))
}

func TestReplaceFold(t *testing.T) {
	assert.Equal(t, "a  b", replaceFold("a @GPT:Example.org b", "@gpt:example.org", ""))
	assert.Equal(t, "unchanged", replaceFold("unchanged", "", "x"))
}

func TestTrimReplyFallback(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"quoted fallback", "> <@gpt:example.org> Paris.\n\nand Spain?", "and Spain?"},
		{"multi line quote", "> <@alice:example.org> one\n> two\n\nthree", "three"},
		{"no quote", "what is go?", "what is go?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, trimReplyFallback(tt.body))
		})
	}
}

func TestStripPillMention(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{"hey GPT what is go?", "hey what is go?"},
		{"what is go, GPT?", "what is go?"},
		{"thanks GPT", "thanks"},
		{"GPT: what does GPT mean?", "what does GPT mean?"},
		{"@gpt:example.org what is go?", "what is go?"},
		{"GPTs are neat", "GPTs are neat"},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			assert.Equal(t, tt.want, stripPillMention(tt.body, botID, "GPT"))
		})
	}
}
