// Package queue implements the two ordered ticket containers of
// SPEC_FULL.md §4.B (the EDF queue and the activation queue) and the
// waiting-for-event set of §4.C. Both queues support O(log n) insert,
// remove-by-domain, and min-peek; the waiting set supports O(1)
// insert/remove/lookup.
package queue

import (
	"container/heap"

	"github.com/gangsched/gangsched/pkg/gangsched/ticket"
)

// keyFunc extracts the primary ordering key (deadline or
// earliest_start_time) from a ticket.
type keyFunc func(*ticket.Ticket) int64

// entry is one slot in the backing heap.
type entry struct {
	key    int64
	domain ticket.DomainID
	tk     *ticket.Ticket
	index  int // position in the heap slice, maintained by container/heap
}

// heapSlice implements heap.Interface over entries ordered by (key,
// domain), the tie-break required by §4.B.
type heapSlice []*entry

func (h heapSlice) Len() int { return len(h) }
func (h heapSlice) Less(i, j int) bool {
	if h[i].key != h[j].key {
		return h[i].key < h[j].key
	}
	return h[i].domain < h[j].domain
}
func (h heapSlice) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *heapSlice) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *heapSlice) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue is an ordered ticket container keyed by a caller-chosen field,
// with O(1) membership lookup by domain on top of the O(log n) heap
// operations (§4.B).
type Queue struct {
	key     keyFunc
	entries heapSlice
	byDomid map[ticket.DomainID]*entry
}

func newQueue(key keyFunc) *Queue {
	return &Queue{key: key, byDomid: make(map[ticket.DomainID]*entry)}
}

// NewEDF returns an empty EDF queue, primary-keyed by deadline.
func NewEDF() *Queue {
	return newQueue(func(t *ticket.Ticket) int64 { return int64(t.Deadline) })
}

// NewActivation returns an empty activation queue, primary-keyed by
// earliest_start_time.
func NewActivation() *Queue {
	return newQueue(func(t *ticket.Ticket) int64 { return int64(t.EarliestStartTime) })
}

// Len returns the number of tickets queued.
func (q *Queue) Len() int { return len(q.entries) }

// Contains reports whether domain has a queued ticket.
func (q *Queue) Contains(domain ticket.DomainID) bool {
	_, ok := q.byDomid[domain]
	return ok
}

// Insert adds t to the queue under its current key value. It is the
// caller's responsibility to re-Insert after any mutation of the key
// field (e.g. after Rearm); the queue does not observe ticket
// mutations on its own.
func (q *Queue) Insert(t *ticket.Ticket) {
	e := &entry{key: q.key(t), domain: t.Domain, tk: t}
	q.byDomid[t.Domain] = e
	heap.Push(&q.entries, e)
}

// Peek returns the ticket with the smallest key without removing it.
func (q *Queue) Peek() (*ticket.Ticket, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	return q.entries[0].tk, true
}

// PopMin removes and returns the ticket with the smallest key.
func (q *Queue) PopMin() (*ticket.Ticket, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	e := heap.Pop(&q.entries).(*entry)
	delete(q.byDomid, e.domain)
	return e.tk, true
}

// Remove removes and returns the ticket belonging to domain, if any,
// so it can be re-homed in another queue (§4.B).
func (q *Queue) Remove(domain ticket.DomainID) (*ticket.Ticket, bool) {
	e, ok := q.byDomid[domain]
	if !ok {
		return nil, false
	}
	heap.Remove(&q.entries, e.index)
	delete(q.byDomid, domain)
	return e.tk, true
}

// Get returns the ticket belonging to domain without removing it.
func (q *Queue) Get(domain ticket.DomainID) (*ticket.Ticket, bool) {
	e, ok := q.byDomid[domain]
	if !ok {
		return nil, false
	}
	return e.tk, true
}

// All returns every queued ticket, in arbitrary order.
func (q *Queue) All() []*ticket.Ticket {
	out := make([]*ticket.Ticket, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e.tk)
	}
	return out
}

// WaitSet is the waiting-for-event set of §4.C: an O(1) map of domain
// id to ticket, used only for lookup, insert, remove and teardown
// iteration (no ordering).
type WaitSet struct {
	m map[ticket.DomainID]*ticket.Ticket
}

// NewWaitSet returns an empty waiting-for-event set.
func NewWaitSet() *WaitSet {
	return &WaitSet{m: make(map[ticket.DomainID]*ticket.Ticket)}
}

// Put inserts or replaces the ticket waiting for domain's event.
func (w *WaitSet) Put(t *ticket.Ticket) {
	w.m[t.Domain] = t
}

// Remove removes and returns the ticket waiting for domain's event,
// if any.
func (w *WaitSet) Remove(domain ticket.DomainID) (*ticket.Ticket, bool) {
	t, ok := w.m[domain]
	if !ok {
		return nil, false
	}
	delete(w.m, domain)
	return t, true
}

// Get returns the ticket waiting for domain's event without removing
// it.
func (w *WaitSet) Get(domain ticket.DomainID) (*ticket.Ticket, bool) {
	t, ok := w.m[domain]
	return t, ok
}

// Len returns the number of domains currently waiting.
func (w *WaitSet) Len() int { return len(w.m) }

// All returns every waiting ticket, in arbitrary order, for teardown.
func (w *WaitSet) All() []*ticket.Ticket {
	out := make([]*ticket.Ticket, 0, len(w.m))
	for _, t := range w.m {
		out = append(out, t)
	}
	return out
}
