// ABOUTME: In-memory conversation history keyed by conversation and thread
// ABOUTME: Bounded per-thread rings of user/assistant exchanges with FIFO eviction

package history

import (
	"sync"
	"time"
)

// Role identifies the author of a Turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a conversation.
type Turn struct {
	Role      Role
	Content   string
	CreatedAt time.Time
	ThreadID  string
}

// exchange is a user prompt and the assistant reply it produced.
type exchange struct {
	User      Turn
	Assistant Turn
}

// ring is a fixed-capacity FIFO of exchanges for one thread.
type ring struct {
	items []exchange
	head  int // index of the oldest exchange
	count int
}

func newRing(capacity int) *ring {
	return &ring{items: make([]exchange, capacity)}
}

// push appends ex, evicting the oldest exchange when full.
// Returns true if an exchange was evicted.
func (r *ring) push(ex exchange) bool {
	if len(r.items) == 0 {
		return false
	}
	if r.count < len(r.items) {
		r.items[(r.head+r.count)%len(r.items)] = ex
		r.count++
		return false
	}
	r.items[r.head] = ex
	r.head = (r.head + 1) % len(r.items)
	return true
}

// turns flattens the ring oldest-first.
func (r *ring) turns() []Turn {
	out := make([]Turn, 0, r.count*2)
	for i := 0; i < r.count; i++ {
		ex := r.items[(r.head+i)%len(r.items)]
		out = append(out, ex.User, ex.Assistant)
	}
	return out
}

// Store holds conversation history for the lifetime of the process.
// It is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	size  int
	rooms map[string]map[string]*ring
}

// NewStore creates a store retaining at most size exchanges per thread.
// A size of zero or less disables retention.
func NewStore(size int) *Store {
	if size < 0 {
		size = 0
	}
	return &Store{
		size:  size,
		rooms: make(map[string]map[string]*ring),
	}
}

// Append records an exchange in the thread the turns are tagged with.
// If the thread is already full the oldest one is evicted.
// It reports whether an eviction happened.
func (s *Store) Append(conversationID string, user, assistant Turn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size == 0 {
		return false
	}

	threads, ok := s.rooms[conversationID]
	if !ok {
		threads = make(map[string]*ring)
		s.rooms[conversationID] = threads
	}

	r, ok := threads[user.ThreadID]
	if !ok {
		r = newRing(s.size)
		threads[user.ThreadID] = r
	}

	assistant.ThreadID = user.ThreadID
	return r.push(exchange{User: user, Assistant: assistant})
}

// Turns returns a snapshot of the thread's turns, oldest first.
func (s *Store) Turns(conversationID, threadID string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[conversationID][threadID]
	if !ok {
		return nil
	}
	return r.turns()
}

// Len returns the number of turns stored for the thread.
func (s *Store) Len(conversationID, threadID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[conversationID][threadID]
	if !ok {
		return 0
	}
	return r.count * 2
}
