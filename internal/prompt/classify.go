// ABOUTME: Classifies inbound chat text as an image, chat, or empty request
// ABOUTME: Recognizes the "image:" command prefix case-insensitively

package prompt

import "strings"

// ImagePrefix starts an image generation command.
const ImagePrefix = "image:"

// UsageHint is the reply to an image command without a prompt.
const UsageHint = "Please check your input. To generate image use this format -> image: robot walking a dog"

// Kind is the routing decision for an inbound message.
type Kind int

const (
	KindEmpty Kind = iota
	KindChat
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindImage:
		return "image"
	default:
		return "empty"
	}
}

// Request is a classified inbound message.
type Request struct {
	Kind   Kind
	Prompt string

	// FromParent is set when the prompt was taken from the thread parent
	// because the message itself carried no text.
	FromParent bool

	// Hint is an optional reply for empty requests.
	Hint string
}

// Classify routes text to image generation, chat completion, or nothing.
// parent is the thread parent text, empty when there is none. An empty
// message with a parent uses the parent as its prompt.
func Classify(text, parent string) Request {
	text = strings.TrimSpace(text)
	parent = strings.TrimSpace(parent)

	kind := KindChat
	body := text
	if len(text) >= len(ImagePrefix) && strings.EqualFold(text[:len(ImagePrefix)], ImagePrefix) {
		kind = KindImage
		body = strings.TrimSpace(text[len(ImagePrefix):])
	}

	if body != "" {
		return Request{Kind: kind, Prompt: body}
	}
	if parent != "" {
		return Request{Kind: kind, Prompt: parent, FromParent: true}
	}

	req := Request{Kind: KindEmpty}
	if kind == KindImage {
		req.Hint = UsageHint
	}
	return req
}
