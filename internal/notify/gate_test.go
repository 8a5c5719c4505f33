// ABOUTME: Tests for the acknowledgement cooldown gate
// ABOUTME: Verifies first-request firing, cooldown suppression, and timestamp updates

package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testGate returns a gate driven by a manual clock.
func testGate(cooldown time.Duration) (*Gate, *time.Time) {
	g := NewGate(cooldown, nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, &now
}

func TestGate_FirstRequestFires(t *testing.T) {
	g, _ := testGate(15 * time.Minute)

	phrase, ok := g.Touch("!room")
	assert.True(t, ok)
	assert.Contains(t, DefaultPhrases, phrase)
}

func TestGate_WithinCooldownSuppressed(t *testing.T) {
	g, now := testGate(15 * time.Minute)

	_, ok := g.Touch("!room")
	require.True(t, ok)

	*now = now.Add(15 * time.Minute)
	phrase, ok := g.Touch("!room")
	assert.False(t, ok)
	assert.Empty(t, phrase)
}

func TestGate_AfterCooldownFires(t *testing.T) {
	g, now := testGate(15 * time.Minute)

	g.Touch("!room")
	*now = now.Add(15*time.Minute + time.Second)

	_, ok := g.Touch("!room")
	assert.True(t, ok)
}

func TestGate_AlwaysUpdatesTimestamp(t *testing.T) {
	g, now := testGate(10 * time.Minute)

	g.Touch("!room")
	// Requests every 6 minutes keep the conversation warm even though
	// 12 minutes pass since the last acknowledgement.
	*now = now.Add(6 * time.Minute)
	_, ok := g.Touch("!room")
	assert.False(t, ok)

	*now = now.Add(6 * time.Minute)
	_, ok = g.Touch("!room")
	assert.False(t, ok)

	last, seen := g.lastRequest("!room")
	require.True(t, seen)
	assert.Equal(t, *now, last)
}

func TestGate_ConversationsAreIndependent(t *testing.T) {
	g, _ := testGate(time.Hour)

	_, ok := g.Touch("!a")
	assert.True(t, ok)
	_, ok = g.Touch("!b")
	assert.True(t, ok)
	_, ok = g.Touch("!a")
	assert.False(t, ok)
}

func TestGate_CustomPhrases(t *testing.T) {
	g := NewGate(time.Minute, []string{"working"})

	phrase, ok := g.Touch("!room")
	require.True(t, ok)
	assert.Equal(t, "working", phrase)
}

func TestGate_UnknownConversation(t *testing.T) {
	g := NewGate(time.Minute, nil)

	_, ok := g.lastRequest("!nobody")
	assert.False(t, ok)
}
