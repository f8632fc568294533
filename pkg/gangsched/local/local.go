// Package local implements the per-cohort local scheduler state of
// SPEC_FULL.md §4.D and the schedule-decision algorithm of §4.F, the
// algorithmic core of the gang scheduler: on every invocation it
// re-evaluates which ticket (if any) should run on each CPU of a
// cohort, honouring the gang invariant that a domain's ticket is
// installed on every CPU of its mask in the same decision step.
package local

import (
	"github.com/gangsched/gangsched"
	"github.com/gangsched/gangsched/pkg/gangsched/bitset"
	"github.com/gangsched/gangsched/pkg/gangsched/policy"
	"github.com/gangsched/gangsched/pkg/gangsched/queue"
	"github.com/gangsched/gangsched/pkg/gangsched/ticket"
)

// oneMillisecond is the re-insertion backoff used when a ticket loses
// the cohort-saturation race (§4.F step 4c).
const oneMillisecond = policy.Time(1_000_000)

// DomainInfo is the scheduling-relevant state of a domain known to a
// local scheduler: its CPU mask and muxing policy.
type DomainInfo struct {
	Mask   *bitset.Set
	Policy policy.Policy
}

// Selection is the outcome of a single-CPU schedule decision (§4.F
// contract): either a domain VCPU or the idle VCPU, plus a budget.
type Selection struct {
	Idle   bool
	Domain ticket.DomainID
	VCPU   int

	// Duration is the nanosecond budget the selection is good for, or
	// policy.Infinity for "no limit". Never negative: it is 0 when the
	// slice end is not after now.
	Duration policy.Time

	Migrated bool
}

// Scheduler is the local scheduling state owned by one cohort: its
// EDF and activation queues, its waiting-for-event set, the slice of
// domains it knows about, and the pool-wide current_ticket array
// (§4.D) shared with every CPU in CohortMask.
type Scheduler struct {
	CohortMask *bitset.Set

	EDF        *queue.Queue
	Activation *queue.Queue
	Waiters    *queue.WaitSet
	Arena      *ticket.Arena

	Domains map[ticket.DomainID]DomainInfo

	// CurrentTicket is indexed by pool-wide CPU id, per §4.D; it is
	// allocated once for the whole pool and shared across cohorts, but
	// a scheduler only ever writes the slots named by CohortMask.
	CurrentTicket []*ticket.Ticket

	BEDomsInCohort   int
	BEBasicPeriod    policy.Time
	BEReservePercent int
	Grain            policy.Time

	// IsBlocked reports whether a domain's VCPU is guest-blocked, used
	// by substitute selection (§4.F step 7, §9 "heuristic... keep the
	// stated contract and make the heuristic replaceable"). A nil
	// IsBlocked means no substitute is ever selected.
	IsBlocked func(domain ticket.DomainID, vcpu int) bool
}

// NewScheduler returns an empty local scheduler for the given cohort.
func NewScheduler(cohortMask *bitset.Set, currentTicket []*ticket.Ticket, arena *ticket.Arena, beDomsInCohort int, beBasicPeriod policy.Time, beReservePercent int, grain policy.Time) *Scheduler {
	return &Scheduler{
		CohortMask:       cohortMask,
		EDF:              queue.NewEDF(),
		Activation:       queue.NewActivation(),
		Waiters:          queue.NewWaitSet(),
		Arena:            arena,
		Domains:          make(map[ticket.DomainID]DomainInfo),
		CurrentTicket:    currentTicket,
		BEDomsInCohort:   beDomsInCohort,
		BEBasicPeriod:    beBasicPeriod,
		BEReservePercent: beReservePercent,
		Grain:            grain,
	}
}

// AddDomain registers a domain and seeds its ticket directly into the
// activation queue (used right after a reconfiguration rebuild, where
// ticket.Seed has already populated the ticket's timing fields).
func (s *Scheduler) AddDomain(info DomainInfo, t *ticket.Ticket) {
	s.Domains[t.Domain] = info
	s.Activation.Insert(t)
}

// Wakeup moves a domain's ticket from the waiting-for-event set into
// the activation queue (Waiting4Event -> Activation transition).
func (s *Scheduler) Wakeup(domain ticket.DomainID, now policy.Time) {
	t, ok := s.Waiters.Remove(domain)
	if !ok {
		return
	}
	t.EarliestStartTime = floorToGrain(now, s.Grain)
	t.State = ticket.StateActivation
	s.Activation.Insert(t)
}

// Sleep moves a domain's currently queued or running ticket into the
// waiting-for-event set, removing it from wherever it currently lives.
func (s *Scheduler) Sleep(domain ticket.DomainID) {
	if t, ok := s.EDF.Remove(domain); ok {
		t.State = ticket.StateWaiting4Event
		s.Waiters.Put(t)
		return
	}
	if t, ok := s.Activation.Remove(domain); ok {
		t.State = ticket.StateWaiting4Event
		s.Waiters.Put(t)
	}
}

// Drain frees every ticket owned by this scheduler -- queued,
// activating, waiting, or currently installed on a CPU -- and resets
// its queues. Tickets installed across several CPUs in a muxgroup are
// freed exactly once by walking an "already cleared" CPU mask (§4.D).
func (s *Scheduler) Drain() {
	cleared := bitset.New(len(s.CurrentTicket))
	s.CohortMask.Iter(func(cpu int) bool {
		if cleared.Test(cpu) {
			return true
		}
		t := s.CurrentTicket[cpu]
		if t == nil {
			cleared.SetBit(cpu)
			return true
		}
		if info, ok := s.Domains[t.Domain]; ok {
			info.Mask.Iter(func(c int) bool {
				s.CurrentTicket[c] = nil
				cleared.SetBit(c)
				return true
			})
		} else {
			s.CurrentTicket[cpu] = nil
			cleared.SetBit(cpu)
		}
		s.Arena.Free(t.ID)
		return true
	})

	for _, t := range s.EDF.All() {
		s.Arena.Free(t.ID)
	}
	for _, t := range s.Activation.All() {
		s.Arena.Free(t.ID)
	}
	for _, t := range s.Waiters.All() {
		s.Arena.Free(t.ID)
	}

	s.EDF = queue.NewEDF()
	s.Activation = queue.NewActivation()
	s.Waiters = queue.NewWaitSet()
	s.Domains = make(map[ticket.DomainID]DomainInfo)
}

func floorToGrain(t, grain policy.Time) policy.Time {
	if grain <= 0 || t.IsInfinite() {
		return t
	}
	return (t / grain) * grain
}

// updateCurrentTickets applies the §4.E time-update step once per
// distinct ticket currently installed across the cohort (a ticket
// shared by several CPUs in a muxgroup must only be charged once).
func (s *Scheduler) updateCurrentTickets(now policy.Time) {
	seen := make(map[ticket.TicketID]bool)
	s.CohortMask.Iter(func(cpu int) bool {
		t := s.CurrentTicket[cpu]
		if t == nil || seen[t.ID] {
			return true
		}
		seen[t.ID] = true
		info, ok := s.Domains[t.Domain]
		if !ok {
			return true
		}
		res, err := ticket.Update(t, now, info.Policy, s.BEDomsInCohort, s.BEBasicPeriod, s.BEReservePercent, s.Grain)
		if err != nil {
			gangsched.Fatalf("local: ticket update sanity check failed for domain %d: %v", t.Domain, err)
		}
		if res.ActivationComplete {
			for c := range s.CurrentTicket {
				if s.CurrentTicket[c] == t {
					s.CurrentTicket[c] = nil
				}
			}
			t.State = ticket.StateActivation
			s.Activation.Insert(t)
		}
		return true
	})
}

// drainActivationsReadyBy moves every ticket whose earliest_start_time
// has arrived from the activation queue into the EDF queue, and
// returns the earliest remaining activation time (policy.Infinity if
// the activation queue is now empty).
func (s *Scheduler) drainActivationsReadyBy(now policy.Time) policy.Time {
	for {
		t, ok := s.Activation.Peek()
		if !ok || t.EarliestStartTime > now {
			break
		}
		s.Activation.Remove(t.Domain)
		t.State = ticket.StateRunnable
		s.EDF.Insert(t)
	}
	if t, ok := s.Activation.Peek(); ok {
		return t.EarliestStartTime
	}
	return policy.Infinity
}

// Decide runs the §4.F algorithm for one decision step across the
// whole cohort and returns the selection for the single CPU cpu.
// tasklet reports whether the host is asking cpu to service a tasklet
// instead of a VCPU.
func (s *Scheduler) Decide(cpu int, now policy.Time, tasklet bool) Selection {
	prevOnCPU := s.CurrentTicket[cpu]

	s.updateCurrentTickets(now)
	earliestActv := s.drainActivationsReadyBy(now)

	if tasklet {
		return s.idleSelection(now, earliestActv)
	}

	endOfSlice := policy.Infinity
	assigned := bitset.New(s.CohortMask.Len())

	for s.EDF.Len() > 0 && !assigned.Equal(s.CohortMask) {
		t, _ := s.EDF.PopMin()
		info := s.Domains[t.Domain]

		if !info.Mask.Intersects(assigned) {
			info.Mask.Iter(func(c int) bool {
				s.CurrentTicket[c] = t
				return true
			})
			t.ActivatedAt = now
			t.State = ticket.StateRunning

			var slice policy.Time
			if t.RemainingTime.IsInfinite() {
				slice = policy.Infinity
			} else {
				slice = now.Add(t.RemainingTime)
			}
			if slice < endOfSlice {
				endOfSlice = slice
			}
			assigned.UnionInPlace(info.Mask)
		} else {
			tval := t.Deadline.Sub(t.RemainingTime)
			floor := now.Add(oneMillisecond)
			if tval < floor {
				tval = floor
			}
			t.EarliestStartTime = tval
			t.State = ticket.StateActivation
			s.Activation.Insert(t)
		}
	}

	if earliestActv < endOfSlice {
		endOfSlice = earliestActv
	}
	endOfSlice = floorToGrain(endOfSlice, s.Grain)

	s.handleYield(cpu, prevOnCPU, now)

	selected := s.CurrentTicket[cpu]
	if selected == nil {
		return s.idleSelection(now, endOfSlice)
	}

	duration := clampDuration(endOfSlice, now)
	return Selection{Domain: selected.Domain, VCPU: selected.VCPU, Duration: duration}
}

func (s *Scheduler) idleSelection(now, endOfSlice policy.Time) Selection {
	return Selection{Idle: true, Duration: clampDuration(endOfSlice, now)}
}

func clampDuration(endOfSlice, now policy.Time) policy.Time {
	if endOfSlice.IsInfinite() {
		return policy.Infinity
	}
	d := endOfSlice.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// handleYield implements §4.F step 7: if the ticket previously running
// on cpu is still the one selected, is multiplexed, and carries the
// single-yield flag, look for a space-filling substitute among the
// runnable (EDF) and activation queues whose VCPU is currently
// blocked, and install it in place of the yielding ticket for the
// remainder of the slice.
func (s *Scheduler) handleYield(cpu int, prevOnCPU *ticket.Ticket, now policy.Time) {
	cur := s.CurrentTicket[cpu]
	if cur == nil || cur != prevOnCPU || s.IsBlocked == nil {
		return
	}
	info, ok := s.Domains[cur.Domain]
	if !ok || !info.Policy.IsMultiplexed() || !cur.HasFlag(ticket.FlagSingleYield) {
		return
	}

	candidate := s.findSubstitute()
	cur.ClearFlag(ticket.FlagSingleYield)
	if candidate == nil {
		return
	}
	cur.Substitute = candidate.ID
	s.CurrentTicket[cpu] = candidate
}

// findSubstitute returns the first queued ticket whose policy is
// space-filling and whose VCPU is blocked, searching the EDF queue
// before the activation queue. This heuristic is intentionally
// replaceable (§9).
func (s *Scheduler) findSubstitute() *ticket.Ticket {
	for _, t := range s.EDF.All() {
		if info, ok := s.Domains[t.Domain]; ok && info.Policy.SpaceFilling && s.IsBlocked(t.Domain, t.VCPU) {
			return t
		}
	}
	for _, t := range s.Activation.All() {
		if info, ok := s.Domains[t.Domain]; ok && info.Policy.SpaceFilling && s.IsBlocked(t.Domain, t.VCPU) {
			return t
		}
	}
	return nil
}
