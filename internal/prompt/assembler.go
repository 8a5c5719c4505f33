// ABOUTME: Builds the role-tagged message list sent to the completion API
// ABOUTME: Combines the system directive, recent thread history, thread parent and prompt

package prompt

import (
	"strings"
	"time"

	"github.com/2389/coven-relay/internal/history"
)

// DirectiveDisabled turns off the system directive when used as its value.
const DirectiveDisabled = "none"

// Message is one entry of the completion request.
type Message struct {
	Role    history.Role
	Content string
}

// Input is everything the assembler needs for one prompt.
type Input struct {
	Prompt   string
	ThreadID string
	Parent   string
	History  []history.Turn
}

// Assembler turns history and a new prompt into completion context.
type Assembler struct {
	Directive string
	Expiry    time.Duration

	now func() time.Time
}

// NewAssembler creates an assembler with the given system directive and
// history recency window.
func NewAssembler(directive string, expiry time.Duration) *Assembler {
	return &Assembler{
		Directive: directive,
		Expiry:    expiry,
		now:       time.Now,
	}
}

// Assemble returns the ordered context for in. The result always ends with
// the new prompt as a user message.
func (a *Assembler) Assemble(in Input) []Message {
	now := a.clock()
	parent := strings.TrimSpace(in.Parent)

	msgs := make([]Message, 0, len(in.History)+3)
	if a.directiveEnabled() {
		msgs = append(msgs, Message{Role: history.RoleSystem, Content: a.Directive})
	}

	for _, turn := range in.History {
		if turn.ThreadID != in.ThreadID {
			continue
		}
		if turn.CreatedAt.Add(a.Expiry).Before(now) {
			continue
		}
		if parent != "" && turn.Content == parent {
			continue
		}
		msgs = append(msgs, Message{Role: turn.Role, Content: turn.Content})
	}

	if parent != "" {
		msgs = append(msgs, Message{Role: history.RoleUser, Content: parent})
	}

	return append(msgs, Message{Role: history.RoleUser, Content: in.Prompt})
}

func (a *Assembler) directiveEnabled() bool {
	d := strings.TrimSpace(a.Directive)
	return d != "" && !strings.EqualFold(d, DirectiveDisabled)
}

func (a *Assembler) clock() time.Time {
	if a.now == nil {
		return time.Now()
	}
	return a.now()
}
