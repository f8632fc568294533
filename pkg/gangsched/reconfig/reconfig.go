// Package reconfig implements the global reconfiguration protocol of
// SPEC_FULL.md §4.I: parsing and validating an incoming configuration
// overlay, running the schedulability test, recomputing topology into
// temporary buffers, and publishing the result to every pool CPU
// through a two-phase spin barrier, the only cross-CPU critical
// section in the scheduler (§5).
package reconfig

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/atomic"
	"k8s.io/klog/v2"

	"github.com/gangsched/gangsched/pkg/gangsched/admission"
	"github.com/gangsched/gangsched/pkg/gangsched/apis/config"
	"github.com/gangsched/gangsched/pkg/gangsched/bitset"
	"github.com/gangsched/gangsched/pkg/gangsched/hostapi"
	"github.com/gangsched/gangsched/pkg/gangsched/local"
	"github.com/gangsched/gangsched/pkg/gangsched/metrics"
	"github.com/gangsched/gangsched/pkg/gangsched/policy"
	"github.com/gangsched/gangsched/pkg/gangsched/ticket"
	"github.com/gangsched/gangsched/pkg/gangsched/topology"
)

// ErrorKind classifies a reconfiguration rejection per SPEC_FULL.md §7.
type ErrorKind int

const (
	KindMalformed ErrorKind = iota
	KindNotFound
	KindCapacity
	KindBusy
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindNotFound:
		return "not-found"
	case KindCapacity:
		return "capacity"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Error reports why a reconfiguration was rejected. Every rejection
// leaves the admitted configuration unchanged (§7).
type Error struct {
	Kind      ErrorKind
	Reason    string
	Offending []admission.CPUReport // populated when Kind == KindCapacity
}

func (e *Error) Error() string {
	return fmt.Sprintf("reconfig: %s: %s", e.Kind, e.Reason)
}

// DomainUpdate is one incoming overlay entry (§4.I step 1). Remove, if
// set, deletes DomID from the admitted configuration instead of
// installing a mask/policy.
type DomainUpdate struct {
	DomID   ticket.DomainID
	CPUMask *bitset.Set
	Policy  policy.Policy
	Remove  bool
}

// AdmittedDomain is one entry of the currently-installed configuration.
type AdmittedDomain struct {
	Mask   *bitset.Set
	Policy policy.Policy
}

// Controller owns the admitted configuration for one CPU pool and runs
// reconfigurations against it. One Controller instance corresponds to
// one cpupool in the original source.
type Controller struct {
	numCPUs int
	params  config.BootParams
	collab  hostapi.Collaborators

	// permit is the single-permit reconfiguration semaphore (§5): a
	// buffered channel of size 1 gives a non-blocking try-acquire via a
	// send under select/default, so a busy rejection is itself
	// non-blocking rather than contending on a mutex.
	permit chan struct{}

	admitted      map[ticket.DomainID]AdmittedDomain
	currentTicket []*ticket.Ticket
	arena         *ticket.Arena
	schedulers    []*local.Scheduler
	topo          *topology.Topology
}

// NewController returns a Controller managing a pool of numCPUs CPUs,
// initially unconfigured.
func NewController(numCPUs int, params config.BootParams, collab hostapi.Collaborators) *Controller {
	return &Controller{
		numCPUs:       numCPUs,
		params:        params,
		collab:        collab,
		permit:        make(chan struct{}, 1),
		admitted:      make(map[ticket.DomainID]AdmittedDomain),
		currentTicket: make([]*ticket.Ticket, numCPUs),
		arena:         ticket.NewArena(),
	}
}

// Snapshot returns the currently admitted configuration (§4.J
// getinfo). The returned map is a copy; mutating it has no effect on
// the controller.
func (c *Controller) Snapshot() map[ticket.DomainID]AdmittedDomain {
	out := make(map[ticket.DomainID]AdmittedDomain, len(c.admitted))
	for id, d := range c.admitted {
		out[id] = d
	}
	return out
}

// CurrentTicket returns the ticket installed on cpu, or nil if idle.
// Exposed for the schedule-decision caller and for tests.
func (c *Controller) CurrentTicket(cpu int) *ticket.Ticket {
	if cpu < 0 || cpu >= len(c.currentTicket) {
		return nil
	}
	return c.currentTicket[cpu]
}

// Reconfigure installs updates on top of the current configuration
// (§4.I). It rejects the whole request -- leaving prior state intact
// -- on any validation, capacity, or concurrency failure.
func (c *Controller) Reconfigure(ctx context.Context, updates []DomainUpdate) error {
	select {
	case c.permit <- struct{}{}:
	default:
		metrics.ReconfigurationsTotal.WithLabelValues("busy").Inc()
		return &Error{Kind: KindBusy, Reason: "a reconfiguration is already in progress"}
	}
	defer func() { <-c.permit }()

	// Step 1-2: parse, validate, and overlay onto a snapshot.
	newConfig, err := c.overlay(updates)
	if err != nil {
		metrics.ReconfigurationsTotal.WithLabelValues("rejected").Inc()
		return err
	}

	// Step 3: sort by policy class and run the schedulability test.
	ids := make([]ticket.DomainID, 0, len(newConfig))
	for id := range newConfig {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ci, cj := newConfig[ids[i]].Policy.ClassOrder(), newConfig[ids[j]].Policy.ClassOrder()
		if ci != cj {
			return ci < cj
		}
		return ids[i] < ids[j]
	})

	admissionDomains := make([]admission.Domain, 0, len(ids))
	topoDomains := make([]topology.Domain, 0, len(ids))
	for _, id := range ids {
		d := newConfig[id]
		admissionDomains = append(admissionDomains, admission.Domain{ID: id, Mask: d.Mask, Policy: d.Policy})
		topoDomains = append(topoDomains, topology.Domain{ID: id, Mask: d.Mask, Kind: d.Policy.Kind})
	}

	var report *admission.Report
	var aerr error
	if c.params.EnableDBF {
		beQuantum := c.params.BEBasicPeriod * policy.Time(c.params.BEReservePercent) / 100
		report, aerr = admission.CheckDBF(admissionDomains, beQuantum, c.params.BEBasicPeriod, c.numCPUs, c.params.Grain)
	} else {
		report, aerr = admission.Check(admissionDomains, c.params.BEReservePercent, c.params.BEBasicPeriod, c.numCPUs, c.params.Grain)
	}
	if aerr != nil {
		metrics.ReconfigurationsTotal.WithLabelValues("rejected").Inc()
		return &Error{Kind: KindMalformed, Reason: aerr.Error()}
	}
	if !report.Schedulable {
		metrics.ReconfigurationsTotal.WithLabelValues("rejected").Inc()
		return &Error{Kind: KindCapacity, Reason: report.Reason, Offending: report.Offending}
	}

	// Step 4: topology into temporary buffers (topo is built fresh and
	// only published in the barrier below, never mutated in place).
	newTopo := topology.Compute(topoDomains, c.numCPUs)

	// Steps 5-9: two-phase barrier publication.
	c.runBarrier(ctx, newConfig, newTopo)

	c.admitted = newConfig
	metrics.ReconfigurationsTotal.WithLabelValues("applied").Inc()
	return nil
}

// overlay validates updates (§4.I step 1) and returns the new
// configuration map, without mutating c.admitted.
func (c *Controller) overlay(updates []DomainUpdate) (map[ticket.DomainID]AdmittedDomain, error) {
	seen := make(map[ticket.DomainID]bool, len(updates))
	for _, u := range updates {
		if seen[u.DomID] {
			return nil, &Error{Kind: KindMalformed, Reason: fmt.Sprintf("duplicate domain id %d in request", u.DomID)}
		}
		seen[u.DomID] = true
	}

	newConfig := make(map[ticket.DomainID]AdmittedDomain, len(c.admitted)+len(updates))
	for id, d := range c.admitted {
		newConfig[id] = d
	}

	poolCPUs := c.collab.Pool.CPUs()
	for _, u := range updates {
		if u.Remove {
			if _, ok := newConfig[u.DomID]; !ok {
				return nil, &Error{Kind: KindNotFound, Reason: fmt.Sprintf("domain %d not in this pool", u.DomID)}
			}
			delete(newConfig, u.DomID)
			continue
		}
		if u.DomID < 0 {
			return nil, &Error{Kind: KindMalformed, Reason: fmt.Sprintf("domain id %d is negative", u.DomID)}
		}
		if u.CPUMask == nil || u.CPUMask.Len() != c.numCPUs {
			return nil, &Error{Kind: KindMalformed, Reason: fmt.Sprintf("domain %d CPU mask has the wrong width", u.DomID)}
		}
		if u.CPUMask.Empty() {
			return nil, &Error{Kind: KindMalformed, Reason: fmt.Sprintf("domain %d has an empty CPU mask", u.DomID)}
		}
		if !u.CPUMask.SubsetOf(poolCPUs) {
			return nil, &Error{Kind: KindMalformed, Reason: fmt.Sprintf("domain %d CPU mask is not a subset of the pool", u.DomID)}
		}
		if !c.collab.Domains.DomainExists(u.DomID) {
			return nil, &Error{Kind: KindNotFound, Reason: fmt.Sprintf("domain %d does not exist", u.DomID)}
		}
		if vcpus := c.collab.Domains.VCPUCount(u.DomID); u.CPUMask.PopCount() != vcpus {
			return nil, &Error{Kind: KindMalformed, Reason: fmt.Sprintf("domain %d CPU mask has %d bits set, want %d (its VCPU count)", u.DomID, u.CPUMask.PopCount(), vcpus)}
		}
		if verr := policy.Validate(u.Policy, c.params.Grain); verr != nil {
			return nil, &Error{Kind: KindMalformed, Reason: verr.Error()}
		}
		newConfig[u.DomID] = AdmittedDomain{Mask: u.CPUMask, Policy: u.Policy}
	}

	return newConfig, nil
}

// barrier is the spin-barrier-by-counter primitive of §4.I step 7,
// used in place of a condition variable because the real scheduler's
// adjustment routine runs with local interrupts disabled (§9).
type barrier struct {
	n       int64
	counter atomic.Int64
}

func newBarrier(n int) *barrier { return &barrier{n: int64(n)} }

func (b *barrier) arriveAndWaitPhase(ctx context.Context, phase int64) bool {
	b.counter.Inc()
	target := phase * b.n
	for {
		if b.counter.Load() >= target {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		default:
			time.Sleep(time.Microsecond)
		}
	}
}

func (b *barrier) decrementBy2() { b.counter.Sub(2) }

// runBarrier implements §4.I steps 5-9: it spawns one participant per
// pool CPU, takes them through the two barriers, lets the designated
// CPU publish the new topology and rebuild every cohort's local
// scheduler between them, has every CPU report itself rebuilt after
// the second barrier, then (acting as the initiator) releases the
// pause and waits for the shared counter to unwind back to zero.
// Every timeout is advisory (§7): the protocol logs and proceeds.
func (c *Controller) runBarrier(ctx context.Context, newConfig map[ticket.DomainID]AdmittedDomain, newTopo *topology.Topology) {
	start := time.Now()
	defer func() { metrics.BarrierWaitSeconds.Observe(time.Since(start).Seconds()) }()

	poolCPUs := c.collab.Pool.CPUs().Slice()
	n := len(poolCPUs)
	if n == 0 {
		c.publish(newConfig, newTopo)
		return
	}
	designated := poolCPUs[0]
	for _, cpu := range poolCPUs {
		if cpu < designated {
			designated = cpu
		}
	}

	half := c.params.AdjustTimeUpperBound.Duration() / 2
	barrierCtx, cancel := context.WithTimeout(ctx, half)
	defer cancel()

	b := newBarrier(n)
	rebuildDone := &atomic.Int64{}
	paused := make(map[int]*atomic.Bool, n)
	for _, cpu := range poolCPUs {
		paused[cpu] = atomic.NewBool(true)
	}

	timedOut := bitset.New(c.numCPUs)
	done := make(chan struct{}, n)

	for _, cpu := range poolCPUs {
		go func(cpu int) {
			defer func() { done <- struct{}{} }()

			if !b.arriveAndWaitPhase(barrierCtx, 1) {
				timedOut.SetBit(cpu)
			}
			if cpu == designated {
				c.publish(newConfig, newTopo)
			}
			if !b.arriveAndWaitPhase(barrierCtx, 2) {
				timedOut.SetBit(cpu)
			}

			rebuildDone.Inc()

			for paused[cpu].Load() {
				select {
				case <-ctx.Done():
					return
				default:
					time.Sleep(time.Microsecond)
				}
			}
			b.decrementBy2()
		}(cpu)
	}

	// Wait for every CPU to finish rebuilding before acting as the
	// initiator of step 8, bounded by the same first-half deadline.
waitRebuild:
	for rebuildDone.Load() < int64(n) {
		select {
		case <-barrierCtx.Done():
			break waitRebuild
		default:
			time.Sleep(time.Millisecond)
		}
	}

	c.collab.IRQ.RaiseScheduleSoftirq(c.collab.Pool.CPUs())
	for _, cpu := range poolCPUs {
		paused[cpu].Store(false)
	}

	secondHalfCtx, cancel2 := context.WithTimeout(ctx, half)
	defer cancel2()
drain:
	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-secondHalfCtx.Done():
			break drain
		}
	}

	if !timedOut.Empty() {
		klog.Warningf("reconfig: CPUs %v did not reach the barrier within the adjustment bound; proceeding", timedOut.Slice())
	}
}

// publish implements §4.I steps 7a-7d: install the new topology, then
// rebuild every cohort's local scheduler from scratch -- draining
// whatever it held and seeding one fresh ticket per domain -- so that
// the rebuilt state reflects the overlay rather than the prior
// configuration. While seeding each domain it also walks the domain's
// new CPU mask setting VCPU affinity and migrating timers to the new
// home CPU (step 7b). Only the designated CPU performs this step;
// every other participant merely waits for it to finish at the
// barrier.
func (c *Controller) publish(newConfig map[ticket.DomainID]AdmittedDomain, newTopo *topology.Topology) {
	willResumeAt := ceilToGrain(c.collab.Clock.Now().Add(c.params.AdjustTimeUpperBound), c.params.Grain)

	for _, s := range c.schedulers {
		s.Drain()
	}

	schedulers := make([]*local.Scheduler, len(newTopo.Cohorts))
	for i, cohort := range newTopo.Cohorts {
		s := local.NewScheduler(cohort.Mask, c.currentTicket, c.arena, cohort.BEDomains, c.params.BEBasicPeriod, c.params.BEReservePercent, c.params.Grain)
		s.IsBlocked = c.collab.VCPUs.IsBlocked
		for _, id := range cohort.Domains {
			d := newConfig[id]
			info := local.DomainInfo{Mask: d.Mask, Policy: d.Policy}
			t := c.arena.Alloc(id, 0)
			ticket.Seed(t, d.Policy, willResumeAt, cohort.BEDomains, c.params.BEBasicPeriod, c.params.BEReservePercent)
			s.AddDomain(info, t)

			vcpu := 0
			d.Mask.Iter(func(cpu int) bool {
				c.collab.Affinity.SetAffinity(id, vcpu, cpu)
				c.collab.Affinity.MigrateTimer(id, vcpu, cpu)
				vcpu++
				return true
			})
		}
		schedulers[i] = s
	}

	c.topo = newTopo
	c.schedulers = schedulers
}

func (c *Controller) schedulerFor(cpu int) *local.Scheduler {
	if c.topo == nil || cpu < 0 || cpu >= len(c.topo.CPUIndex) {
		return nil
	}
	idx := c.topo.CPUIndex[cpu]
	if idx < 0 || idx >= len(c.schedulers) {
		return nil
	}
	return c.schedulers[idx]
}

// Decide runs a schedule decision for cpu against whichever cohort
// scheduler currently owns it (§4.F), delegating to pkg/local. It
// returns the idle selection if cpu belongs to no cohort (no domain
// currently targets it).
func (c *Controller) Decide(cpu int, now policy.Time, tasklet bool) local.Selection {
	s := c.schedulerFor(cpu)
	if s == nil {
		return local.Selection{Idle: true, Duration: policy.Infinity}
	}
	return s.Decide(cpu, now, tasklet)
}

func ceilToGrain(t, grain policy.Time) policy.Time {
	if grain <= 0 || t.IsInfinite() {
		return t
	}
	if t%grain == 0 {
		return t
	}
	return (t/grain + 1) * grain
}
