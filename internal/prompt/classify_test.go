// ABOUTME: Tests for inbound message classification
// ABOUTME: Covers image prefix detection, trimming, and empty-input handling

package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		parent string
		want   Request
	}{
		{
			name: "chat",
			text: "  what is the capital of France?  ",
			want: Request{Kind: KindChat, Prompt: "what is the capital of France?"},
		},
		{
			name: "image",
			text: "image: a cat riding a bike",
			want: Request{Kind: KindImage, Prompt: "a cat riding a bike"},
		},
		{
			name: "image prefix is case insensitive",
			text: "IMAGE:   sunset  ",
			want: Request{Kind: KindImage, Prompt: "sunset"},
		},
		{
			name: "leading whitespace before prefix",
			text: "\n Image:robot",
			want: Request{Kind: KindImage, Prompt: "robot"},
		},
		{
			name: "prefix must lead",
			text: "draw an image: robot",
			want: Request{Kind: KindChat, Prompt: "draw an image: robot"},
		},
		{
			name: "empty text",
			text: "   ",
			want: Request{Kind: KindEmpty},
		},
		{
			name: "bare image command",
			text: "image:",
			want: Request{Kind: KindEmpty, Hint: UsageHint},
		},
		{
			name:   "empty chat uses parent",
			text:   "",
			parent: "summarize this thread",
			want:   Request{Kind: KindChat, Prompt: "summarize this thread", FromParent: true},
		},
		{
			name:   "bare image command uses parent",
			text:   "image: ",
			parent: "a lighthouse at night",
			want:   Request{Kind: KindImage, Prompt: "a lighthouse at night", FromParent: true},
		},
		{
			name:   "text wins over parent",
			text:   "and in Spanish?",
			parent: "translate hello",
			want:   Request{Kind: KindChat, Prompt: "and in Spanish?"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text, tt.parent))
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "chat", KindChat.String())
	assert.Equal(t, "image", KindImage.String())
	assert.Equal(t, "empty", KindEmpty.String())
}
