// Package visual decouples playback-position display from audio scheduling.
// The scheduler pushes every scheduled step into a Queue; a Follower drains
// it once per rendered frame and reports the steps that are about to sound.
package visual

import (
	"sync"
	"sync/atomic"
)

// DefaultLimit bounds a Queue that nobody drains.
const DefaultLimit = 64

type Entry struct {
	Step int
	Time float64
}

// Queue is a bounded FIFO of scheduled steps with one producer and one
// consumer. Entries arrive in time order and are never re-sorted.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	head    int
	limit   int
	gen     uint64
	dropped atomic.Int64

	// held while popped entries are being emitted
	drainMu  sync.Mutex
	draining atomic.Bool
}

func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Queue{limit: limit}
}

// Push appends an entry. When the queue is full the oldest entry is dropped.
func (q *Queue) Push(step int, at float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lenLocked() >= q.limit {
		q.head++
		q.dropped.Add(1)
	}
	if q.head > 0 && q.head == len(q.entries) {
		q.entries, q.head = q.entries[:0], 0
	} else if q.head >= q.limit {
		n := copy(q.entries, q.entries[q.head:])
		q.entries, q.head = q.entries[:n], 0
	}
	q.entries = append(q.entries, Entry{Step: step, Time: at})
}

// Clear empties the queue. A PopDue pass in progress ends after its current
// callback, and Clear does not wait for that callback, so it is safe to call
// from inside one. Between passes Clear holds off the consumer until it is
// done.
func (q *Queue) Clear() {
	if !q.draining.Load() {
		q.drainMu.Lock()
		defer q.drainMu.Unlock()
	}
	q.mu.Lock()
	q.entries, q.head = q.entries[:0], 0
	q.gen++
	q.mu.Unlock()
}

// PopDue pops, in order, every head entry with Time < before and calls fn for
// each one. It returns the number popped.
func (q *Queue) PopDue(before float64, fn func(Entry)) int {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()
	q.draining.Store(true)
	defer q.draining.Store(false)
	q.mu.Lock()
	gen := q.gen
	q.mu.Unlock()
	n := 0
	for {
		q.mu.Lock()
		if q.gen != gen || q.lenLocked() == 0 || q.entries[q.head].Time >= before {
			q.mu.Unlock()
			return n
		}
		e := q.entries[q.head]
		q.head++
		q.mu.Unlock()
		n++
		if fn != nil {
			fn(e)
		}
	}
}

// Peek returns the head entry without removing it.
func (q *Queue) Peek() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lenLocked() == 0 {
		return Entry{}, false
	}
	return q.entries[q.head], true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *Queue) lenLocked() int { return len(q.entries) - q.head }

// Dropped is the number of entries discarded because the queue was full.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }
