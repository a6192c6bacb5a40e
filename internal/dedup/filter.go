// Package dedup drops repeated message texts seen within a sliding window.
package dedup

import (
	"strings"
	"sync"
	"time"
)

const (
	DefaultWindow  = 600 * time.Second
	DefaultMaxSize = 20000
)

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type entry struct {
	key  string
	seen time.Time
}

// Filter remembers normalized texts for a window. Entries are kept in
// first-seen order so purging and size eviction only ever touch the front.
type Filter struct {
	mu      sync.Mutex
	window  time.Duration
	maxSize int
	clock   Clock

	seen  map[string]time.Time
	order []entry
}

// New creates a Filter. A window <= 0 disables deduplication.
func New(window time.Duration, maxSize int) *Filter {
	return NewWithClock(window, maxSize, realClock{})
}

// NewWithClock creates a Filter with an injectable clock for testing.
func NewWithClock(window time.Duration, maxSize int, clock Clock) *Filter {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Filter{
		window:  window,
		maxSize: maxSize,
		clock:   clock,
		seen:    make(map[string]time.Time),
	}
}

// Normalize trims, lowercases and collapses whitespace runs to one space.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// ShouldDrop reports whether text was already seen within the window. A
// text that is not a duplicate is recorded at the current time. A duplicate
// keeps the timestamp of the sighting that let it through, so a message
// repeated every few minutes passes again once a full window has elapsed
// since it was last accepted.
func (f *Filter) ShouldDrop(text string) bool {
	if f.window <= 0 {
		return false
	}
	key := Normalize(text)
	if key == "" {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	f.purge(now)

	if seen, ok := f.seen[key]; ok && now.Sub(seen) < f.window {
		return true
	}

	f.seen[key] = now
	f.order = append(f.order, entry{key: key, seen: now})
	for len(f.seen) > f.maxSize {
		f.evictFront()
	}
	return false
}

// Len returns the number of remembered texts.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func (f *Filter) purge(now time.Time) {
	cutoff := now.Add(-f.window)
	for len(f.order) > 0 && !f.order[0].seen.After(cutoff) {
		f.evictFront()
	}
	// compact once the dead prefix dominates the backing array
	if cap(f.order) > 1024 && len(f.order) < cap(f.order)/4 {
		f.order = append([]entry(nil), f.order...)
	}
}

func (f *Filter) evictFront() {
	e := f.order[0]
	f.order = f.order[1:]
	if cur, ok := f.seen[e.key]; ok && cur.Equal(e.seen) {
		delete(f.seen, e.key)
	}
}
