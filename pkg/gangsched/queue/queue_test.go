package queue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gangsched/gangsched/pkg/gangsched/policy"
	"github.com/gangsched/gangsched/pkg/gangsched/ticket"
)

func mkTicket(domain ticket.DomainID, deadline, est int64) *ticket.Ticket {
	return &ticket.Ticket{
		Domain:            domain,
		Deadline:          policy.Time(deadline),
		EarliestStartTime: policy.Time(est),
	}
}

func TestEDFOrdering(t *testing.T) {
	q := NewEDF()
	q.Insert(mkTicket(3, 30, 0))
	q.Insert(mkTicket(1, 10, 0))
	q.Insert(mkTicket(2, 10, 0)) // tie on deadline, domid tie-break

	tk, ok := q.Peek()
	require.True(t, ok)
	require.Equal(t, ticket.DomainID(1), tk.Domain)

	first, _ := q.PopMin()
	require.Equal(t, ticket.DomainID(1), first.Domain)
	second, _ := q.PopMin()
	require.Equal(t, ticket.DomainID(2), second.Domain)
	third, _ := q.PopMin()
	require.Equal(t, ticket.DomainID(3), third.Domain)
}

func TestQueueRemoveByDomain(t *testing.T) {
	q := NewActivation()
	q.Insert(mkTicket(1, 0, 100))
	q.Insert(mkTicket(2, 0, 50))
	q.Insert(mkTicket(3, 0, 75))

	require.True(t, q.Contains(2))
	removed, ok := q.Remove(2)
	require.True(t, ok)
	require.Equal(t, ticket.DomainID(2), removed.Domain)
	require.False(t, q.Contains(2))
	require.Equal(t, 2, q.Len())

	tk, _ := q.Peek()
	require.Equal(t, ticket.DomainID(3), tk.Domain)
}

func TestQueueRemoveMissing(t *testing.T) {
	q := NewEDF()
	_, ok := q.Remove(42)
	require.False(t, ok)
}

func TestWaitSet(t *testing.T) {
	w := NewWaitSet()
	require.Equal(t, 0, w.Len())

	t1 := mkTicket(5, 0, 0)
	w.Put(t1)
	require.Equal(t, 1, w.Len())

	got, ok := w.Get(5)
	require.True(t, ok)
	require.Same(t, t1, got)

	removed, ok := w.Remove(5)
	require.True(t, ok)
	require.Same(t, t1, removed)
	require.Equal(t, 0, w.Len())

	_, ok = w.Remove(5)
	require.False(t, ok)
}
