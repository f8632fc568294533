// Package ticket implements the per-VCPU scheduling control block
// (the "ticket"), its lifecycle state machine, and the time-update /
// re-arm arithmetic of SPEC_FULL.md §4.E. A ticket is allocated once
// per VCPU out of a single arena (§9 design note) and referenced by a
// stable TicketID rather than by pointer, so cross-CPU sharing in a
// muxgroup never risks a double free.
package ticket

import (
	"fmt"

	"github.com/gangsched/gangsched/pkg/gangsched/policy"
)

// MARGIN is the remaining-time threshold below which an activation is
// considered complete (original: `static const s_time_t MARGIN =
// us_2_ns(10);` in xen/common/sched_gang.c).
const MARGIN = policy.Time(10_000) // 10 microseconds, in nanoseconds

// DomainID identifies a domain.
type DomainID int32

// CPUID identifies a physical CPU within the pool.
type CPUID int

// TicketID is a stable index into an Arena.
type TicketID int

// State is the lifecycle state of a ticket (SPEC_FULL.md §4.F state
// machine diagram).
type State int

const (
	StateWaiting4Event State = iota
	StateActivation
	StateRunnable
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateWaiting4Event:
		return "Waiting4Event"
	case StateActivation:
		return "Activation"
	case StateRunnable:
		return "Runnable"
	case StateRunning:
		return "Running"
	default:
		return "Unknown"
	}
}

// Flag bits carried on a ticket, matching the original's GSBIT_* flags.
type Flag uint8

const (
	FlagSingleYield Flag = 1 << iota
	FlagSleeping
	FlagJustWoke
)

// Ticket is one per VCPU. All back-references are ids, never pointers
// (§9): true ownership flows one way, from the local scheduler that
// currently holds the ticket to the ticket itself.
type Ticket struct {
	ID     TicketID
	Domain DomainID
	VCPU   int // VCPU index within the domain

	EarliestStartTime policy.Time
	Deadline          policy.Time
	RemainingTime     policy.Time
	ActivatedAt       policy.Time

	State State
	Flags Flag

	// Substitute is the ticket id of a space-filling substitute
	// installed in place of this ticket during a guest yield, or -1
	// if none.
	Substitute TicketID
}

// HasFlag reports whether f is set.
func (t *Ticket) HasFlag(f Flag) bool { return t.Flags&f != 0 }

// SetFlag sets f.
func (t *Ticket) SetFlag(f Flag) { t.Flags |= f }

// ClearFlag clears f.
func (t *Ticket) ClearFlag(f Flag) { t.Flags &^= f }

// Arena is a uniform, stably-indexed store of tickets (§9: "a uniform
// arena with stable indices... avoids the double-free gymnastics
// around shared tickets in a muxgroup"). It performs no locking of its
// own; callers (the local scheduler) serialize access.
type Arena struct {
	tickets []*Ticket
	free    []TicketID
}

// NewArena returns an empty ticket arena.
func NewArena() *Arena {
	return &Arena{}
}

// Alloc returns a fresh ticket for the given domain/VCPU, reusing a
// freed slot when possible.
func (a *Arena) Alloc(domain DomainID, vcpu int) *Ticket {
	var id TicketID
	if n := len(a.free); n > 0 {
		id = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		id = TicketID(len(a.tickets))
		a.tickets = append(a.tickets, nil)
	}
	t := &Ticket{ID: id, Domain: domain, VCPU: vcpu, Substitute: -1, State: StateWaiting4Event}
	a.tickets[id] = t
	return t
}

// Get returns the ticket for id, or nil if it has been freed.
func (a *Arena) Get(id TicketID) *Ticket {
	if int(id) < 0 || int(id) >= len(a.tickets) {
		return nil
	}
	return a.tickets[id]
}

// Free releases id back to the arena. Freeing an already-free or
// out-of-range id is a no-op, which is what lets the local scheduler
// walk a "already-cleared" CPU mask and call Free once per domain
// sharing a muxgroup without double-freeing (§4.D).
func (a *Arena) Free(id TicketID) {
	if int(id) < 0 || int(id) >= len(a.tickets) || a.tickets[id] == nil {
		return
	}
	a.tickets[id] = nil
	a.free = append(a.free, id)
}

// All returns every currently-live ticket, in arbitrary order.
func (a *Arena) All() []*Ticket {
	out := make([]*Ticket, 0, len(a.tickets))
	for _, t := range a.tickets {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

// TimeUpdateResult reports what happened to a ticket during a time
// update (§4.E).
type TimeUpdateResult struct {
	// ActivationComplete is true when remaining time fell below
	// MARGIN and the ticket was re-armed per its policy.
	ActivationComplete bool
}

// SanityError is returned when a monotonic-clock sanity check fails
// (§4.E step 1); it indicates a Fatal-kind condition (§7).
type SanityError struct {
	Spent policy.Time
}

func (e *SanityError) Error() string {
	return fmt.Sprintf("ticket time update: spent=%d ns is implausibly negative (monotonic clock violation)", e.Spent)
}

// Update applies the §4.E time-update/re-arm step to t as of now,
// given its policy and the parameters needed by the BE deadline
// formula (beDomsInCohort, beBasicPeriod, beReservePercent) and the
// system grain (used by ET/BE re-anchoring). It returns whether the
// activation completed (and was re-armed) or is merely being
// accounted for mid-slice.
func Update(t *Ticket, now policy.Time, pol policy.Policy, beDomsInCohort int, beBasicPeriod policy.Time, beReservePercent int, grain policy.Time) (TimeUpdateResult, error) {
	spent := now.Sub(t.ActivatedAt)
	if spent < -10_000 { // -10 microseconds, matching §4.E step 1
		return TimeUpdateResult{}, &SanityError{Spent: spent}
	}
	if spent < 0 {
		spent = 0
	}

	if pol.Kind == policy.KindExclusive {
		// Exclusive tickets never expire; no time arithmetic (§4.E step 3).
		return TimeUpdateResult{}, nil
	}

	t.RemainingTime -= spent
	if t.RemainingTime >= MARGIN {
		return TimeUpdateResult{}, nil
	}

	Rearm(t, now, pol, beDomsInCohort, beBasicPeriod, beReservePercent, grain)
	return TimeUpdateResult{ActivationComplete: true}, nil
}

// Rearm re-arms t per its policy, per the §4.E formulas:
//
//	TT: earliest_start_time += period; deadline += period; remaining_time := active_time
//	ET: earliest_start_time := floor(now/grain)*grain; deadline += period; remaining_time := active_time
//	BE: earliest_start_time := floor(now/grain)*grain;
//	    deadline += be_doms_in_cohort * be_basic_period;
//	    remaining_time := be_basic_period * be_reserve_percent / 100
//	Exclusive: no-op (deadline stays Infinity)
func Rearm(t *Ticket, now policy.Time, pol policy.Policy, beDomsInCohort int, beBasicPeriod policy.Time, beReservePercent int, grain policy.Time) {
	switch pol.Kind {
	case policy.KindExclusive:
		return
	case policy.KindTT:
		t.EarliestStartTime = t.EarliestStartTime.Add(pol.Period)
		t.Deadline = t.Deadline.Add(pol.Period)
		t.RemainingTime = pol.ActiveTime
	case policy.KindET:
		t.EarliestStartTime = floorToGrain(now, grain)
		t.Deadline = t.Deadline.Add(pol.Period)
		t.RemainingTime = pol.ActiveTime
	case policy.KindBE:
		t.EarliestStartTime = floorToGrain(now, grain)
		t.Deadline = t.Deadline.Add(policy.Time(beDomsInCohort) * beBasicPeriod)
		t.RemainingTime = beBasicPeriod * policy.Time(beReservePercent) / 100
	}
}

func floorToGrain(t, grain policy.Time) policy.Time {
	if grain <= 0 {
		return t
	}
	return (t / grain) * grain
}

// AdjustActivationTime advances `from` by whole periods until it is >=
// willResumeAt, used to seed TT/ET/BE tickets during reconfiguration
// (§4.I step 7d, `adjust_activation_time`).
func AdjustActivationTime(willResumeAt, from, period policy.Time) policy.Time {
	if period <= 0 || from >= willResumeAt {
		return from
	}
	delta := willResumeAt - from
	periods := delta / period
	if delta%period != 0 {
		periods++
	}
	return from.Add(policy.Time(periods) * period)
}

// Seed initializes a freshly-allocated ticket's EST/deadline/remaining
// fields for the given policy, as of willResumeAt (§4.I step 7d).
func Seed(t *Ticket, pol policy.Policy, willResumeAt policy.Time, beDomsInCohort int, beBasicPeriod policy.Time, beReservePercent int) {
	switch pol.Kind {
	case policy.KindExclusive:
		t.EarliestStartTime = pol.From
		t.Deadline = policy.Infinity
		t.RemainingTime = policy.Infinity
	case policy.KindTT, policy.KindET:
		est := AdjustActivationTime(willResumeAt, pol.From, pol.Period)
		t.EarliestStartTime = est
		t.Deadline = est.Add(pol.Period)
		t.RemainingTime = pol.ActiveTime
	case policy.KindBE:
		est := AdjustActivationTime(willResumeAt, pol.From, beBasicPeriod)
		t.EarliestStartTime = est
		t.Deadline = est.Add(policy.Time(beDomsInCohort) * beBasicPeriod)
		t.RemainingTime = beBasicPeriod * policy.Time(beReservePercent) / 100
	}
	t.State = StateActivation
}
