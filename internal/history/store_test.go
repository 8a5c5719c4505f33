// ABOUTME: Tests for the in-memory history store
// ABOUTME: Covers FIFO eviction, thread isolation, and lazy time-based retention

package history

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeExchange(thread string, n int, at time.Time) (Turn, Turn) {
	return Turn{Role: RoleUser, Content: fmt.Sprintf("q%d", n), CreatedAt: at, ThreadID: thread},
		Turn{Role: RoleAssistant, Content: fmt.Sprintf("a%d", n), CreatedAt: at, ThreadID: thread}
}

func TestStore_Append_KeepsMostRecentPairs(t *testing.T) {
	s := NewStore(3)
	now := time.Now()

	for i := 1; i <= 7; i++ {
		u, a := makeExchange("", i, now)
		s.Append("!room", u, a)
	}

	turns := s.Turns("!room", "")
	require.Len(t, turns, 6)
	assert.Equal(t, "q5", turns[0].Content)
	assert.Equal(t, "a5", turns[1].Content)
	assert.Equal(t, "q7", turns[4].Content)
	assert.Equal(t, "a7", turns[5].Content)
	assert.Equal(t, 6, s.Len("!room", ""))
}

func TestStore_Append_ReportsEviction(t *testing.T) {
	s := NewStore(1)
	u, a := makeExchange("", 1, time.Now())
	assert.False(t, s.Append("!room", u, a))

	u, a = makeExchange("", 2, time.Now())
	assert.True(t, s.Append("!room", u, a))
}

func TestStore_Append_AlternatesRoles(t *testing.T) {
	s := NewStore(2)
	u, a := makeExchange("", 1, time.Now())
	s.Append("!room", u, a)

	turns := s.Turns("!room", "")
	require.Len(t, turns, 2)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, RoleAssistant, turns[1].Role)
}

func TestStore_ThreadsAreIndependent(t *testing.T) {
	s := NewStore(2)
	now := time.Now()

	for i := 1; i <= 5; i++ {
		u, a := makeExchange("$thread", i, now)
		s.Append("!room", u, a)
	}
	u, a := makeExchange("", 99, now)
	s.Append("!room", u, a)

	assert.Equal(t, 4, s.Len("!room", "$thread"))
	assert.Equal(t, 2, s.Len("!room", ""))
	assert.Equal(t, "q99", s.Turns("!room", "")[0].Content)
	for _, turn := range s.Turns("!room", "$thread") {
		assert.Equal(t, "$thread", turn.ThreadID)
	}
}

func TestStore_ConversationsAreIndependent(t *testing.T) {
	s := NewStore(3)
	u, a := makeExchange("", 1, time.Now())
	s.Append("!a", u, a)

	assert.Equal(t, 2, s.Len("!a", ""))
	assert.Equal(t, 0, s.Len("!b", ""))
	assert.Nil(t, s.Turns("!b", ""))
}

func TestStore_ExpiredTurnsStayUntilEvicted(t *testing.T) {
	s := NewStore(2)
	old := time.Now().Add(-24 * time.Hour)

	u, a := makeExchange("", 1, old)
	s.Append("!room", u, a)
	u, a = makeExchange("", 2, time.Now())
	s.Append("!room", u, a)

	// Age never removes entries; the stale pair still holds a slot.
	turns := s.Turns("!room", "")
	require.Len(t, turns, 4)
	assert.Equal(t, "q1", turns[0].Content)

	u, a = makeExchange("", 3, time.Now())
	s.Append("!room", u, a)
	assert.Equal(t, "q2", s.Turns("!room", "")[0].Content)
}

func TestStore_ZeroSizeRetainsNothing(t *testing.T) {
	s := NewStore(0)
	u, a := makeExchange("", 1, time.Now())
	s.Append("!room", u, a)

	assert.Equal(t, 0, s.Len("!room", ""))
	assert.Empty(t, s.Turns("!room", ""))
}

func TestStore_TurnsReturnsSnapshot(t *testing.T) {
	s := NewStore(2)
	u, a := makeExchange("", 1, time.Now())
	s.Append("!room", u, a)

	snap := s.Turns("!room", "")
	snap[0].Content = "mutated"

	assert.Equal(t, "q1", s.Turns("!room", "")[0].Content)
}

func TestStore_ConcurrentAppend(t *testing.T) {
	s := NewStore(3)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			u, a := makeExchange("", n, time.Now())
			s.Append("!room", u, a)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 6, s.Len("!room", ""))
}
