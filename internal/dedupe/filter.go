// ABOUTME: Bounded, time-windowed filter of already handled event IDs
// ABOUTME: Oldest IDs are dropped first when the window or capacity is exceeded

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type sighting struct {
	id string
	at time.Time
}

// Filter remembers event IDs for a window, up to a fixed number of IDs.
// Expired IDs are pruned lazily on each call. It is safe for concurrent use.
type Filter struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	byID     map[string]*list.Element
	order    *list.List // oldest at front

	now func() time.Time
}

// NewFilter creates a filter remembering at most capacity IDs for window.
func NewFilter(window time.Duration, capacity int) *Filter {
	if capacity <= 0 {
		capacity = 1
	}
	return &Filter{
		window:   window,
		capacity: capacity,
		byID:     make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// First reports whether id is new. A new id is remembered, so a second call
// with the same id inside the window returns false.
func (f *Filter) First(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	f.prune(now)

	if _, ok := f.byID[id]; ok {
		return false
	}

	for f.order.Len() >= f.capacity {
		f.dropOldest()
	}
	f.byID[id] = f.order.PushBack(sighting{id: id, at: now})
	return true
}

// Len returns the number of remembered IDs.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.order.Len()
}

// prune drops sightings older than the window. Sightings are appended in
// time order, so it stops at the first one still inside the window.
func (f *Filter) prune(now time.Time) {
	for front := f.order.Front(); front != nil; front = f.order.Front() {
		s, _ := front.Value.(sighting)
		if now.Sub(s.at) <= f.window {
			return
		}
		f.dropOldest()
	}
}

func (f *Filter) dropOldest() {
	front := f.order.Front()
	if front == nil {
		return
	}
	s, _ := front.Value.(sighting)
	f.order.Remove(front)
	delete(f.byID, s.id)
}
