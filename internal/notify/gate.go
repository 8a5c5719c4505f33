// ABOUTME: Per-conversation cooldown for "working on it" acknowledgements
// ABOUTME: Tracks the last request time of each conversation and picks filler phrases

package notify

import (
	"math/rand/v2"
	"sync"
	"time"
)

// DefaultPhrases are the acknowledgements sent while a request is processed.
var DefaultPhrases = []string{
	"Generating... :gear:",
	"Multiplying matrices :abacus:",
	"I'm on it :saluting_face:",
	"Beep beep boop :robot_face:",
	"Death to the machines! :skull:",
	"Anything for you :unicorn_face:",
	"Here you go :rainbow:",
}

// Gate decides when a conversation gets an acknowledgement.
// It is safe for concurrent use.
type Gate struct {
	mu       sync.Mutex
	last     map[string]time.Time
	cooldown time.Duration
	phrases  []string

	now  func() time.Time
	pick func(n int) int
}

// NewGate creates a gate that lets an acknowledgement through when a
// conversation has been idle for longer than cooldown.
func NewGate(cooldown time.Duration, phrases []string) *Gate {
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	return &Gate{
		last:     make(map[string]time.Time),
		cooldown: cooldown,
		phrases:  phrases,
		now:      time.Now,
		pick:     rand.IntN,
	}
}

// Touch records a request for conversationID. It returns a phrase and true
// when this is the conversation's first request or the previous one is older
// than the cooldown.
func (g *Gate) Touch(conversationID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	prev, seen := g.last[conversationID]
	g.last[conversationID] = now

	if seen && now.Sub(prev) <= g.cooldown {
		return "", false
	}
	return g.phrases[g.pick(len(g.phrases))], true
}

// lastRequest returns when conversationID last sent a prompt.
func (g *Gate) lastRequest(conversationID string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.last[conversationID]
	return t, ok
}
