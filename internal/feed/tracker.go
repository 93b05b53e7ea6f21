package feed

import (
	"slices"
	"time"
)

// DefaultHighlightWindow is how long a new arrival stays highlighted.
const DefaultHighlightWindow = 60 * time.Second

// Tracker records which message ids a session has seen and which are still
// highlighted as new.
//
// The first non-empty observation is the baseline: its ids are seen but never
// highlighted. Every later id not yet seen is highlighted until exactly window
// after it was observed. Seen ids stay seen until Reset, so an id that drops
// out of view and comes back is not new again.
type Tracker struct {
	window    time.Duration
	baselined bool
	seen      map[string]struct{}
	highlight map[string]time.Time // id -> expiry
	queue     decayQueue
}

// NewTracker creates a Tracker. A non-positive window uses DefaultHighlightWindow.
func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultHighlightWindow
	}
	return &Tracker{
		window:    window,
		seen:      make(map[string]struct{}),
		highlight: make(map[string]time.Time),
	}
}

// Observe folds a batch of incoming ids into the session and returns the ones
// that are genuinely new, in input order. Baseline and repeat ids return nil.
func (t *Tracker) Observe(ids []string, now time.Time) []string {
	if len(ids) == 0 {
		return nil
	}

	if !t.baselined {
		for _, id := range ids {
			t.seen[id] = struct{}{}
		}
		t.baselined = true
		return nil
	}

	var fresh []string
	for _, id := range ids {
		if _, ok := t.seen[id]; ok {
			continue
		}
		t.seen[id] = struct{}{}

		at := now.Add(t.window)
		t.highlight[id] = at
		t.queue.Schedule(id, at)
		fresh = append(fresh, id)
	}
	return fresh
}

// Expire removes every highlight whose window has elapsed at now and returns
// the removed ids.
func (t *Tracker) Expire(now time.Time) []string {
	var removed []string
	for _, id := range t.queue.PopExpired(now) {
		if _, ok := t.highlight[id]; !ok {
			continue
		}
		delete(t.highlight, id)
		removed = append(removed, id)
	}
	return removed
}

// NextExpiry returns when the earliest highlight ends.
func (t *Tracker) NextExpiry() (time.Time, bool) {
	return t.queue.Next()
}

// Reset starts a new session: nothing is seen or highlighted and the next
// non-empty observation is a baseline again.
func (t *Tracker) Reset() {
	t.baselined = false
	t.seen = make(map[string]struct{})
	t.highlight = make(map[string]time.Time)
	t.queue.Clear()
}

// Baselined reports whether the session has its baseline.
func (t *Tracker) Baselined() bool { return t.baselined }

// Seen reports whether id was observed in this session.
func (t *Tracker) Seen(id string) bool {
	_, ok := t.seen[id]
	return ok
}

// Highlighted reports whether id is currently highlighted.
func (t *Tracker) Highlighted(id string) bool {
	_, ok := t.highlight[id]
	return ok
}

// SeenCount returns the size of the seen set.
func (t *Tracker) SeenCount() int { return len(t.seen) }

// Highlights returns the highlighted ids, sorted.
func (t *Tracker) Highlights() []string {
	ids := make([]string, 0, len(t.highlight))
	for id := range t.highlight {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
