// Package admission implements the schedulability test of
// SPEC_FULL.md §4.H: a utilisation-sum test that runs by default, and
// an optional Demand-Bound-Function variant for tightly-packed
// configurations, documented in §9 as abandoned in the original in
// favour of the simpler test but worth exposing behind a flag.
package admission

import (
	"fmt"

	"go.uber.org/multierr"
	"k8s.io/klog/v2"

	"github.com/gangsched/gangsched/pkg/gangsched/bitset"
	"github.com/gangsched/gangsched/pkg/gangsched/metrics"
	"github.com/gangsched/gangsched/pkg/gangsched/policy"
	"github.com/gangsched/gangsched/pkg/gangsched/ticket"
)

// Domain is the admission-relevant projection of a proposed domain.
type Domain struct {
	ID     ticket.DomainID
	Mask   *bitset.Set
	Policy policy.Policy
}

// InputError reports a malformed admission request (§4.H step 1):
// cpu_count = 0, be_reserve out of range, be_basic_period = 0, an
// invalid policy, a negative domain id, or an out-of-range CPU id.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string { return "admission: " + e.Reason }

// CPUReport describes one CPU that failed the test: its total
// utilisation and the domains running on it.
type CPUReport struct {
	CPU         int
	Utilization float64
	Domains     []ticket.DomainID
}

// Report is the outcome of a schedulability test.
type Report struct {
	Schedulable bool
	Offending   []CPUReport
	// Reason carries a human-readable explanation when Schedulable is
	// false for a reason that doesn't reduce to a CPU list (e.g.
	// be_reserve = 100).
	Reason string
}

func validateInputs(domains []Domain, beReserve int, beBasicPeriod policy.Time, numCPUs int, grain policy.Time) error {
	var err error
	if numCPUs == 0 {
		err = multierr.Append(err, &InputError{Reason: "cpu_count must be greater than zero"})
	}
	if beReserve > 100 {
		err = multierr.Append(err, &InputError{Reason: fmt.Sprintf("be_reserve %d exceeds 100", beReserve)})
	}
	if beReserve > 50 {
		klog.Warningf("admission: be_reserve=%d exceeds the recommended 50%% ceiling", beReserve)
	}
	if beBasicPeriod == 0 {
		err = multierr.Append(err, &InputError{Reason: "be_basic_period must not be zero"})
	}
	for _, d := range domains {
		if d.ID < 0 {
			err = multierr.Append(err, &InputError{Reason: fmt.Sprintf("domain id %d is negative", d.ID)})
		}
		if d.Mask.Len() != numCPUs {
			err = multierr.Append(err, &InputError{Reason: fmt.Sprintf("domain %d CPU mask width %d does not match cpu_count %d", d.ID, d.Mask.Len(), numCPUs)})
		}
		if verr := policy.Validate(d.Policy, grain); verr != nil {
			err = multierr.Append(err, verr)
		}
	}
	return err
}

// Check runs the default utilisation-sum schedulability test (§4.H
// steps 2-5): every CPU's total utilisation must not exceed 1.0, with
// best-effort charged at most once per CPU no matter how many
// best-effort domains share it.
func Check(domains []Domain, beReserve int, beBasicPeriod policy.Time, numCPUs int, grain policy.Time) (*Report, error) {
	if err := validateInputs(domains, beReserve, beBasicPeriod, numCPUs, grain); err != nil {
		return nil, err
	}

	if beReserve == 100 {
		metrics.SchedulabilityRejectionsTotal.Inc()
		return &Report{Schedulable: false, Reason: "be_reserve=100: no capacity remains"}, nil
	}

	util := make([]float64, numCPUs)
	beCharged := make([]bool, numCPUs)
	onCPU := make([][]ticket.DomainID, numCPUs)

	for _, d := range domains {
		d.Mask.Iter(func(cpu int) bool {
			onCPU[cpu] = append(onCPU[cpu], d.ID)
			switch d.Policy.Kind {
			case policy.KindExclusive:
				util[cpu] += 1.0
			case policy.KindTT, policy.KindET:
				util[cpu] += float64(d.Policy.ActiveTime) / float64(d.Policy.Period)
			case policy.KindBE:
				if !beCharged[cpu] {
					util[cpu] += float64(beReserve) / 100.0
					beCharged[cpu] = true
				}
			}
			return true
		})
	}

	var offending []CPUReport
	for cpu := 0; cpu < numCPUs; cpu++ {
		if util[cpu] > 1.0 {
			offending = append(offending, CPUReport{CPU: cpu, Utilization: util[cpu], Domains: onCPU[cpu]})
		}
	}

	if len(offending) > 0 {
		metrics.SchedulabilityRejectionsTotal.Inc()
	}

	return &Report{Schedulable: len(offending) == 0, Offending: offending}, nil
}

// CheckDBF runs the stricter Demand-Bound-Function variant (§9,
// §4.H): dbf(a,p,I) = a + max(0, I-p)*a/p when p < I, else 0. For
// every domain d on CPU c, the test requires:
//
//	period_d >= active_time_d + sum_{d' != d} dbf(a_d', p_d', period_d)
//
// with best-effort domains contributing (be_quantum, be_basic_period)
// as their (a, p) pair.
func CheckDBF(domains []Domain, beQuantum policy.Time, beBasicPeriod policy.Time, numCPUs int, grain policy.Time) (*Report, error) {
	if err := validateInputs(domains, 0, beBasicPeriod, numCPUs, grain); err != nil {
		return nil, err
	}

	type demand struct {
		id   ticket.DomainID
		kind policy.Kind
		a, p policy.Time
	}

	onCPU := make([][]demand, numCPUs)
	for _, d := range domains {
		var a, p policy.Time
		switch d.Policy.Kind {
		case policy.KindExclusive:
			a, p = policy.Infinity, 1
		case policy.KindTT, policy.KindET:
			a, p = d.Policy.ActiveTime, d.Policy.Period
		case policy.KindBE:
			a, p = beQuantum, beBasicPeriod
		}
		d.Mask.Iter(func(cpu int) bool {
			onCPU[cpu] = append(onCPU[cpu], demand{id: d.ID, kind: d.Policy.Kind, a: a, p: p})
			return true
		})
	}

	var offending []CPUReport
	for cpu := 0; cpu < numCPUs; cpu++ {
		dems := onCPU[cpu]
		var failing []ticket.DomainID
		for _, d := range dems {
			if d.kind == policy.KindExclusive {
				continue // exclusive occupies the whole CPU; no sharing to bound
			}
			total := d.a
			for _, other := range dems {
				if other.id == d.id {
					continue
				}
				total += dbf(other.a, other.p, d.p)
			}
			if total > d.p {
				failing = append(failing, d.id)
			}
		}
		if len(failing) > 0 {
			offending = append(offending, CPUReport{CPU: cpu, Domains: failing})
		}
	}

	if len(offending) > 0 {
		metrics.SchedulabilityRejectionsTotal.Inc()
	}

	return &Report{Schedulable: len(offending) == 0, Offending: offending}, nil
}

func dbf(a, p, interval policy.Time) policy.Time {
	if p >= interval {
		return 0
	}
	over := interval - p
	return a + (over*a)/p
}
