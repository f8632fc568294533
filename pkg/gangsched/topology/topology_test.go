package topology

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gangsched/gangsched/pkg/gangsched/bitset"
	"github.com/gangsched/gangsched/pkg/gangsched/policy"
	"github.com/gangsched/gangsched/pkg/gangsched/ticket"
)

func rangeMask(n, lo, hi int) *bitset.Set {
	s := bitset.New(n)
	for i := lo; i <= hi; i++ {
		s.SetBit(i)
	}
	return s
}

func TestDisjointDomainsStaySeparateCohorts(t *testing.T) {
	domains := []Domain{
		{ID: 0, Mask: rangeMask(8, 0, 3), Kind: policy.KindTT},
		{ID: 1, Mask: rangeMask(8, 4, 7), Kind: policy.KindTT},
	}
	topo := Compute(domains, 8)
	require.Len(t, topo.Cohorts, 2)
	require.NotEqual(t, topo.CPUIndex[0], topo.CPUIndex[4])
}

func TestOverlappingDomainsMergeIntoOneCohort(t *testing.T) {
	domains := []Domain{
		{ID: 0, Mask: rangeMask(8, 0, 3), Kind: policy.KindTT},
		{ID: 1, Mask: rangeMask(8, 3, 6), Kind: policy.KindTT}, // shares cpu 3
	}
	topo := Compute(domains, 8)
	require.Len(t, topo.Cohorts, 1)
	require.Equal(t, topo.CPUIndex[0], topo.CPUIndex[6])
	require.ElementsMatch(t, []ticket.DomainID{0, 1}, topo.Cohorts[0].Domains)
}

// TestOverlapMergeChain mirrors the 40-CPU scenario: an exclusive domain,
// two disjoint TT domains, two overlapping ET domains, and two BE domains
// whose second one shares CPUs with the first BE's range, forcing the
// fixed-point merge to chain three cohorts together.
func TestOverlapMergeChain(t *testing.T) {
	const numCPUs = 40
	domains := []Domain{
		{ID: 0, Mask: rangeMask(numCPUs, 5, 14), Kind: policy.KindExclusive},
		{ID: 1, Mask: rangeMask(numCPUs, 0, 4), Kind: policy.KindTT},
		{ID: 2, Mask: rangeMask(numCPUs, 15, 19), Kind: policy.KindTT},
		{ID: 3, Mask: rangeMask(numCPUs, 15, 24), Kind: policy.KindET},
		{ID: 4, Mask: rangeMask(numCPUs, 25, 34), Kind: policy.KindET},
		{ID: 5, Mask: rangeMask(numCPUs, 15, 34), Kind: policy.KindBE},
		{ID: 6, Mask: rangeMask(numCPUs, 30, 39), Kind: policy.KindBE}, // shares 30..34 with domain 5
	}
	topo := Compute(domains, numCPUs)

	// domains 2,3,4,5,6 all transitively overlap through domain 5 and
	// must land in a single cohort spanning CPUs 15..39; domains 0 and
	// 1 stay separate since they never overlap anything.
	merged := topo.CohortOf(15)
	require.NotNil(t, merged)
	for _, cpu := range []int{16, 24, 25, 34, 35, 39} {
		require.Equal(t, merged, topo.CohortOf(cpu), "cpu %d should be in the merged cohort", cpu)
	}
	require.ElementsMatch(t, []ticket.DomainID{2, 3, 4, 5, 6}, merged.Domains)
	require.Equal(t, 2, merged.BEDomains)

	require.NotEqual(t, merged, topo.CohortOf(5))
	require.NotEqual(t, merged, topo.CohortOf(0))
}

func TestMuxgroupsSplitOnPartialOverlap(t *testing.T) {
	domains := []Domain{
		{ID: 0, Mask: rangeMask(4, 0, 1), Kind: policy.KindTT}, // {0,1}
		{ID: 1, Mask: rangeMask(4, 1, 2), Kind: policy.KindTT}, // {1,2}
	}
	topo := Compute(domains, 4)
	require.Len(t, topo.Cohorts, 1)

	g0 := topo.MuxgroupOf(0)
	g1 := topo.MuxgroupOf(1)
	g2 := topo.MuxgroupOf(2)

	require.NotNil(t, g0)
	require.NotNil(t, g1)
	require.NotNil(t, g2)

	// cpu 0 belongs only to domain 0, cpu 2 only to domain 1, cpu 1 to both.
	require.NotEqual(t, g0, g1)
	require.NotEqual(t, g0, g2)
	require.NotEqual(t, g1, g2)

	require.ElementsMatch(t, []ticket.DomainID{0}, g0.Domains)
	require.ElementsMatch(t, []ticket.DomainID{0, 1}, g1.Domains)
	require.ElementsMatch(t, []ticket.DomainID{1}, g2.Domains)
}

func TestMuxgroupIdenticalMembershipStaysOneGroup(t *testing.T) {
	domains := []Domain{
		{ID: 0, Mask: rangeMask(4, 0, 3), Kind: policy.KindBE},
		{ID: 1, Mask: rangeMask(4, 0, 3), Kind: policy.KindBE},
	}
	topo := Compute(domains, 4)
	require.Len(t, topo.Muxgroups, 1)
	require.ElementsMatch(t, []ticket.DomainID{0, 1}, topo.Muxgroups[0].Domains)
}
