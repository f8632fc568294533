package local

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gangsched/gangsched/pkg/gangsched/bitset"
	"github.com/gangsched/gangsched/pkg/gangsched/policy"
	"github.com/gangsched/gangsched/pkg/gangsched/ticket"
)

const grain = policy.Time(time.Millisecond)

func mask(n int, ids ...int) *bitset.Set { return bitset.FromSlice(n, ids) }

func newTestScheduler(n int) (*Scheduler, []*ticket.Ticket) {
	current := make([]*ticket.Ticket, n)
	arena := ticket.NewArena()
	full := mask(n, rng(n)...)
	s := NewScheduler(full, current, arena, 0, 100*grain, 10, grain)
	return s, current
}

func rng(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Scenario 5: two overlapping TT domains A({0,1}) and B({1,2}), both
// 50/100. A has the lower domid so its equal-deadline ticket is
// picked first; B's ticket must not land on CPU 1 until A's slice
// ends, and CPU 2 must not run A since it is outside A's mask.
func TestScenario5GangInvariantUnderOverlap(t *testing.T) {
	s, cur := newTestScheduler(3)
	arena := s.Arena

	polA := policy.TimeTriggered(0, 100*grain, 50*grain, false)
	polB := policy.TimeTriggered(0, 100*grain, 50*grain, false)

	tA := arena.Alloc(0, 0)
	ticket.Seed(tA, polA, 0, 0, 0, 0)
	s.AddDomain(DomainInfo{Mask: mask(3, 0, 1), Policy: polA}, tA)

	tB := arena.Alloc(1, 0)
	ticket.Seed(tB, polB, 0, 0, 0, 0)
	s.AddDomain(DomainInfo{Mask: mask(3, 1, 2), Policy: polB}, tB)

	sel0 := s.Decide(0, 0, false)
	s.Decide(1, 0, false)
	s.Decide(2, 0, false)

	require.False(t, sel0.Idle)
	require.Equal(t, ticket.DomainID(0), sel0.Domain)
	require.Same(t, tA, cur[0])
	require.Same(t, tA, cur[1], "gang invariant: A's ticket must cover every CPU in A's mask")
	require.NotEqual(t, ticket.DomainID(0), func() ticket.DomainID {
		if cur[2] == nil {
			return -1
		}
		return cur[2].Domain
	}(), "cpu 2 is outside A's mask and must not run A")
}

func TestExclusiveOccupiesWholeCohort(t *testing.T) {
	s, cur := newTestScheduler(4)
	pol := policy.Exclusive(0)
	tk := s.Arena.Alloc(0, 0)
	ticket.Seed(tk, pol, 0, 0, 0, 0)
	s.AddDomain(DomainInfo{Mask: mask(4, 0, 1, 2, 3), Policy: pol}, tk)

	sel := s.Decide(0, 0, false)
	require.False(t, sel.Idle)
	require.Equal(t, policy.Infinity, sel.Duration)
	for c := 0; c < 4; c++ {
		require.Same(t, tk, cur[c])
	}
}

func TestIdleWhenNoDomains(t *testing.T) {
	s, _ := newTestScheduler(2)
	sel := s.Decide(0, 0, false)
	require.True(t, sel.Idle)
}

func TestTaskletShortCircuitsToIdle(t *testing.T) {
	s, _ := newTestScheduler(2)
	pol := policy.TimeTriggered(0, 100*grain, 50*grain, false)
	tk := s.Arena.Alloc(0, 0)
	ticket.Seed(tk, pol, 0, 0, 0, 0)
	s.AddDomain(DomainInfo{Mask: mask(2, 0, 1), Policy: pol}, tk)

	sel := s.Decide(0, 0, true)
	require.True(t, sel.Idle)
}

func TestDrainFreesWithoutDoubleFree(t *testing.T) {
	s, cur := newTestScheduler(3)
	polA := policy.TimeTriggered(0, 100*grain, 50*grain, false)
	tA := s.Arena.Alloc(0, 0)
	ticket.Seed(tA, polA, 0, 0, 0, 0)
	s.AddDomain(DomainInfo{Mask: mask(3, 0, 1, 2), Policy: polA}, tA)

	s.Decide(0, 0, false)
	require.Same(t, tA, cur[0])

	require.NotPanics(t, func() { s.Drain() })
	for c := 0; c < 3; c++ {
		require.Nil(t, cur[c])
	}
	require.Nil(t, s.Arena.Get(tA.ID))
}

func TestCohortSaturationStopsTheLoopEarly(t *testing.T) {
	// Two domains sharing every CPU: once the first saturates the
	// cohort mask, the loop must stop without touching the second --
	// it simply stays queued in the EDF queue for the next decision.
	s, cur := newTestScheduler(2)
	polA := policy.TimeTriggered(0, 100*grain, 50*grain, false)
	polB := policy.TimeTriggered(0, 100*grain, 50*grain, false)

	tA := s.Arena.Alloc(0, 0)
	ticket.Seed(tA, polA, 0, 0, 0, 0)
	s.AddDomain(DomainInfo{Mask: mask(2, 0, 1), Policy: polA}, tA)

	tB := s.Arena.Alloc(1, 0)
	ticket.Seed(tB, polB, 0, 0, 0, 0)
	s.AddDomain(DomainInfo{Mask: mask(2, 0, 1), Policy: polB}, tB)

	s.Decide(0, 0, false)

	require.Same(t, tA, cur[0])
	require.Same(t, tA, cur[1])
	require.Equal(t, 1, s.EDF.Len())
	require.True(t, s.EDF.Contains(1))
}

func TestDeferredReinsertionOnPartialOverlap(t *testing.T) {
	// A covers {0,1}; B covers only {1}. A wins CPU 0 and 1 first
	// (lower domid), but the cohort (CPUs 0,1,2) is not yet saturated
	// so the loop keeps going, finds B overlaps the already-assigned
	// CPU 1, and defers B into the activation queue.
	s, cur := newTestScheduler(3)
	polA := policy.TimeTriggered(0, 100*grain, 50*grain, false)
	polB := policy.TimeTriggered(0, 100*grain, 50*grain, false)

	tA := s.Arena.Alloc(0, 0)
	ticket.Seed(tA, polA, 0, 0, 0, 0)
	s.AddDomain(DomainInfo{Mask: mask(3, 0, 1), Policy: polA}, tA)

	tB := s.Arena.Alloc(1, 0)
	ticket.Seed(tB, polB, 0, 0, 0, 0)
	s.AddDomain(DomainInfo{Mask: mask(3, 1), Policy: polB}, tB)

	s.Decide(0, 0, false)

	require.Same(t, tA, cur[0])
	require.Same(t, tA, cur[1])
	require.Nil(t, cur[2])
	require.Equal(t, 0, s.EDF.Len())
	require.True(t, s.Activation.Contains(1))
}
