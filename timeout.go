package engine

import (
	"container/heap"
	"time"
)

// deadlineEntry is one scheduled expiry check, keyed by the time it
// becomes eligible for reclamation. Grounded on socket515-gaio's
// timedHeap: a container/heap min-heap of pending deadlines rather than
// a full O(n) sweep of every connection on each tick.
type deadlineEntry struct {
	deadline time.Time
	conn     *Connection
	gen      int64
}

// deadlineHeap orders entries soonest-first.
type deadlineHeap []*deadlineEntry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(*deadlineEntry)) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// scheduleDeadline pushes a fresh expiry entry for c, timeout seconds
// from now, stamped with c's current generation. Earlier entries for
// the same connection are left in the heap but become stale: when
// popped, their generation no longer matches c.deadlineGen and
// sweepTimeouts discards them without side effects.
func (w *Worker) scheduleDeadline(c *Connection) {
	c.deadlineGen++
	heap.Push(&w.deadlines, &deadlineEntry{
		deadline: time.Now().Add(w.timeout),
		conn:     c,
		gen:      c.deadlineGen,
	})
}

// sweepTimeouts pops every entry whose deadline has elapsed, discarding
// stale ones and closing connections that are still idle past timeout
// in a reclaimable state; Connection.Expired refuses to reclaim a
// connection mid-RESPONDING with bytes still in flight.
func (w *Worker) sweepTimeouts() {
	now := time.Now()
	for w.deadlines.Len() > 0 && w.deadlines[0].deadline.Before(now) {
		entry := heap.Pop(&w.deadlines).(*deadlineEntry)
		c := entry.conn
		if entry.gen != c.deadlineGen {
			continue // superseded by a later touch
		}
		if c.Expired(now, w.timeout) {
			w.closeConnection(c, ReasonTimeout)
		} else {
			// not reclaimable yet: either touched within the idle
			// threshold without a fresh deadline, or in a state Expired
			// refuses (e.g. RESPONDING); reschedule rather than drop
			// tracking.
			w.scheduleDeadline(c)
		}
	}
}
