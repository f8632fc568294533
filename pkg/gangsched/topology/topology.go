// Package topology computes the cohort and muxgroup partitioning of
// SPEC_FULL.md §4.G from a flat list of admitted domains, each with a
// CPU mask and a muxing policy. Both computations hold no state of
// their own and are re-run in full on every reconfiguration (§4.I
// step 6); their only side effect is that Compute sets the
// metrics.CohortCount and metrics.MuxgroupCount gauges.
package topology

import (
	"github.com/gangsched/gangsched/pkg/gangsched/bitset"
	"github.com/gangsched/gangsched/pkg/gangsched/metrics"
	"github.com/gangsched/gangsched/pkg/gangsched/policy"
	"github.com/gangsched/gangsched/pkg/gangsched/ticket"
)

// Domain is the topology-relevant projection of an admitted domain:
// its id, the CPU mask it runs on, and its policy kind (only the kind
// matters here, for the best-effort-per-cohort count).
type Domain struct {
	ID   ticket.DomainID
	Mask *bitset.Set
	Kind policy.Kind
}

// Cohort is a maximal group of CPUs transitively connected by
// overlapping domain CPU masks, and the domains that run on it.
type Cohort struct {
	Mask    *bitset.Set
	Domains []ticket.DomainID

	// BEDomains is the number of best-effort domains running in this
	// cohort, the be_doms_in_cohort term of the BE deadline formula
	// (§4.E).
	BEDomains int
}

// Muxgroup is a maximal subset of a cohort's CPUs whose running
// domains are identical; it is purely an optimization boundary (§4.G).
type Muxgroup struct {
	Mask    *bitset.Set
	Domains []ticket.DomainID
}

// Topology is the full result of a topology computation over a fixed
// CPU pool width.
type Topology struct {
	NumCPUs  int
	Cohorts  []*Cohort
	CPUIndex []int // cpu -> index into Cohorts, or -1 if idle

	Muxgroups []*Muxgroup
	CPUMuxIdx []int // cpu -> index into Muxgroups, or -1 if idle
}

// CohortOf returns the cohort containing cpu, or nil if cpu is idle.
func (t *Topology) CohortOf(cpu int) *Cohort {
	if cpu < 0 || cpu >= len(t.CPUIndex) || t.CPUIndex[cpu] < 0 {
		return nil
	}
	return t.Cohorts[t.CPUIndex[cpu]]
}

// MuxgroupOf returns the muxgroup containing cpu, or nil if cpu is idle.
func (t *Topology) MuxgroupOf(cpu int) *Muxgroup {
	if cpu < 0 || cpu >= len(t.CPUMuxIdx) || t.CPUMuxIdx[cpu] < 0 {
		return nil
	}
	return t.Muxgroups[t.CPUMuxIdx[cpu]]
}

// Compute partitions domains into cohorts and, within each cohort,
// into muxgroups, over a pool of numCPUs physical CPUs (§4.G).
func Compute(domains []Domain, numCPUs int) *Topology {
	cohorts := computeCohorts(domains, numCPUs)

	cpuIndex := make([]int, numCPUs)
	for i := range cpuIndex {
		cpuIndex[i] = -1
	}
	for ci, c := range cohorts {
		c.Mask.Iter(func(cpu int) bool {
			cpuIndex[cpu] = ci
			return true
		})
	}

	var muxgroups []*Muxgroup
	cpuMuxIdx := make([]int, numCPUs)
	for i := range cpuMuxIdx {
		cpuMuxIdx[i] = -1
	}
	for ci, c := range cohorts {
		groups := computeMuxgroups(c, domains, numCPUs)
		base := len(muxgroups)
		muxgroups = append(muxgroups, groups...)
		for gi, g := range groups {
			g.Mask.Iter(func(cpu int) bool {
				cpuMuxIdx[cpu] = base + gi
				return true
			})
		}
		_ = ci
	}

	metrics.CohortCount.Set(float64(len(cohorts)))
	metrics.MuxgroupCount.Set(float64(len(muxgroups)))

	return &Topology{
		NumCPUs:   numCPUs,
		Cohorts:   cohorts,
		CPUIndex:  cpuIndex,
		Muxgroups: muxgroups,
		CPUMuxIdx: cpuMuxIdx,
	}
}

// computeCohorts implements the fixed-point merge of §4.G: insert
// each domain as a singleton cohort, then repeatedly merge any two
// cohorts whose masks overlap until none do. Lower index wins a
// merge; the loser is removed and later cohorts shift down.
func computeCohorts(domains []Domain, numCPUs int) []*Cohort {
	var cohorts []*Cohort
	for _, d := range domains {
		c := &Cohort{Mask: d.Mask.Clone(), Domains: []ticket.DomainID{d.ID}}
		if d.Kind == policy.KindBE {
			c.BEDomains = 1
		}
		cohorts = append(cohorts, c)
	}

	for {
		merged := false
		for i := 0; i < len(cohorts) && !merged; i++ {
			for j := i + 1; j < len(cohorts); j++ {
				if !cohorts[i].Mask.Intersects(cohorts[j].Mask) {
					continue
				}
				cohorts[i].Mask.UnionInPlace(cohorts[j].Mask)
				cohorts[i].Domains = append(cohorts[i].Domains, cohorts[j].Domains...)
				cohorts[i].BEDomains += cohorts[j].BEDomains
				cohorts = append(cohorts[:j], cohorts[j+1:]...)
				merged = true
				break
			}
		}
		if !merged {
			break
		}
	}

	return cohorts
}

// computeMuxgroups partitions one cohort's CPUs into maximal subsets
// with identical domain membership (§4.G).
func computeMuxgroups(c *Cohort, all []Domain, numCPUs int) []*Muxgroup {
	byID := make(map[ticket.DomainID]Domain, len(all))
	for _, d := range all {
		byID[d.ID] = d
	}

	var groups []*Muxgroup
	for _, id := range c.Domains {
		d := byID[id]
		remaining := d.Mask.Clone()

		snapshot := groups
		groups = nil
		for _, g := range snapshot {
			if !g.Mask.Intersects(d.Mask) {
				groups = append(groups, g)
				continue
			}
			if g.Mask.SubsetOf(d.Mask) {
				g.Domains = append(g.Domains, id)
				remaining.DifferenceInPlace(g.Mask)
				groups = append(groups, g)
				continue
			}

			overlap := g.Mask.Intersect(d.Mask)
			nonoverlap := g.Mask.Difference(overlap)

			newDomains := make([]ticket.DomainID, len(g.Domains), len(g.Domains)+1)
			copy(newDomains, g.Domains)
			newDomains = append(newDomains, id)
			groups = append(groups, &Muxgroup{Mask: overlap, Domains: newDomains})

			if !nonoverlap.Empty() {
				groups = append(groups, &Muxgroup{Mask: nonoverlap, Domains: g.Domains})
			}

			remaining.DifferenceInPlace(overlap)
		}

		if !remaining.Empty() {
			groups = append(groups, &Muxgroup{Mask: remaining, Domains: []ticket.DomainID{id}})
		}
	}

	return groups
}
