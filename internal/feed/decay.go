package feed

import (
	"container/heap"
	"time"
)

type decayEntry struct {
	id string
	at time.Time
}

// decayHeap is a min-heap of highlight expiries.
type decayHeap []decayEntry

func (h decayHeap) Len() int           { return len(h) }
func (h decayHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h decayHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *decayHeap) Push(x any)        { *h = append(*h, x.(decayEntry)) }
func (h *decayHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// decayQueue schedules highlight removals. One queue serves every id; the
// owner drains it with PopExpired whenever the earliest expiry passes.
type decayQueue struct {
	h decayHeap
}

// Schedule queues id for removal at at.
func (q *decayQueue) Schedule(id string, at time.Time) {
	heap.Push(&q.h, decayEntry{id: id, at: at})
}

// PopExpired removes and returns every id whose expiry is at or before now,
// earliest first.
func (q *decayQueue) PopExpired(now time.Time) []string {
	var ids []string
	for q.h.Len() > 0 && !q.h[0].at.After(now) {
		ids = append(ids, heap.Pop(&q.h).(decayEntry).id)
	}
	return ids
}

// Next returns the earliest pending expiry.
func (q *decayQueue) Next() (time.Time, bool) {
	if q.h.Len() == 0 {
		return time.Time{}, false
	}
	return q.h[0].at, true
}

func (q *decayQueue) Len() int { return q.h.Len() }

func (q *decayQueue) Clear() { q.h = nil }
