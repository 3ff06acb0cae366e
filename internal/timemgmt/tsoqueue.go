package timemgmt

import (
	"container/heap"

	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/protocol"
)

// Entry is one buffered timestamp-ordered message.
type Entry struct {
	Time       Time
	seq        uint64 // arrival tiebreaker, keeps same-timestamp delivery in send order
	Retraction handle.MessageRetraction
	Message    protocol.Message
}

type entryHeap []Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Time != h[j].Time {
		return h[i].Time < h[j].Time
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(Entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// TSOQueue buffers timestamped messages for one constrained federate,
// keyed by (timestamp, arrival order) (spec.md §4.5).
type TSOQueue struct {
	entries entryHeap
	nextSeq uint64
}

// NewTSOQueue returns an empty queue.
func NewTSOQueue() *TSOQueue {
	return &TSOQueue{}
}

// Push buffers one timestamped message.
func (q *TSOQueue) Push(t Time, retraction handle.MessageRetraction, msg protocol.Message) {
	heap.Push(&q.entries, Entry{Time: t, seq: q.nextSeq, Retraction: retraction, Message: msg})
	q.nextSeq++
}

// Len reports the number of buffered messages.
func (q *TSOQueue) Len() int { return len(q.entries) }

// PeekTime returns the smallest buffered timestamp.
func (q *TSOQueue) PeekTime() (Time, bool) {
	if len(q.entries) == 0 {
		return 0, false
	}
	return q.entries[0].Time, true
}

// PopUpTo removes and returns, in timestamp order, every message with
// timestamp < limit, or <= limit when inclusive is set (spec.md §4.5:
// strictly < for time-advance-request, <= for the available variants and
// next-message delivery).
func (q *TSOQueue) PopUpTo(limit Time, inclusive bool) []Entry {
	var out []Entry
	for len(q.entries) > 0 {
		t := q.entries[0].Time
		if t > limit || (!inclusive && t == limit) {
			break
		}
		out = append(out, heap.Pop(&q.entries).(Entry))
	}
	return out
}

// PopAll drains the queue in timestamp order (flush-queue-request).
func (q *TSOQueue) PopAll() []Entry {
	var out []Entry
	for len(q.entries) > 0 {
		out = append(out, heap.Pop(&q.entries).(Entry))
	}
	return out
}

// Retract removes the message identified by retraction if it is still
// buffered, reporting whether anything was removed (spec.md §4.5
// Retraction; implemented here per the Open Question decision recorded in
// DESIGN.md).
func (q *TSOQueue) Retract(retraction handle.MessageRetraction) bool {
	for i := range q.entries {
		if q.entries[i].Retraction == retraction {
			heap.Remove(&q.entries, i)
			return true
		}
	}
	return false
}
