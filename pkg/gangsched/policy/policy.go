// Package policy represents the four gang-scheduling muxing policies
// and validates proposed policy parameters. Validation is pure: it
// never mutates state and never touches the clock.
package policy

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Time is a nanosecond timestamp or duration with an explicit
// "never/no deadline" sentinel, mirroring the original scheduler's
// s_time_t/INFINITY pair.
type Time int64

// Infinity is the sentinel for "never" / "no deadline".
const Infinity Time = 1<<63 - 1

// IsInfinite reports whether t is the Infinity sentinel.
func (t Time) IsInfinite() bool { return t == Infinity }

// Add returns t+d, saturating at Infinity.
func (t Time) Add(d Time) Time {
	if t.IsInfinite() || d.IsInfinite() {
		return Infinity
	}
	return t + d
}

// Sub returns t-d. Callers must not subtract from Infinity.
func (t Time) Sub(d Time) Time {
	return t - d
}

// Duration converts t to a time.Duration, treating Infinity as the
// largest representable duration.
func (t Time) Duration() time.Duration {
	if t.IsInfinite() {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration(t)
}

// FromMillis converts a millisecond count (as used at the CLI/wire
// boundary) into a Time in nanoseconds.
func FromMillis(ms int64) Time {
	return Time(ms * int64(time.Millisecond))
}

// Kind identifies which arm of the muxing-policy tagged variant a
// Policy carries. The numeric values match the wire kind codes in
// SPEC_FULL.md §6.
type Kind uint8

const (
	KindNotSet    Kind = 0
	KindExclusive Kind = 1
	KindTT        Kind = 2
	KindET        Kind = 3
	KindBE        Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindNotSet:
		return "NotSet"
	case KindExclusive:
		return "Exclusive"
	case KindTT:
		return "TimeTriggered"
	case KindET:
		return "EventTriggered"
	case KindBE:
		return "BestEffort"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Policy is the tagged-variant muxing policy for a domain. Only the
// fields relevant to Kind are meaningful; callers should use the
// constructors below rather than building a Policy by hand.
type Policy struct {
	Kind Kind

	// From is the start time common to all four arms.
	From Time

	// Period and ActiveTime are used by TT and ET.
	Period     Time
	ActiveTime Time

	// Weight is used by BE.
	Weight uint16

	// SpaceFilling marks TT/ET/BE domains eligible to fill holes left
	// by other gang-scheduled domains (§4.F step 7).
	SpaceFilling bool
}

// Exclusive builds a non-multiplexed policy.
func Exclusive(from Time) Policy {
	return Policy{Kind: KindExclusive, From: from}
}

// TimeTriggered builds a time-triggered policy.
func TimeTriggered(from, period, activeTime Time, spaceFilling bool) Policy {
	return Policy{Kind: KindTT, From: from, Period: period, ActiveTime: activeTime, SpaceFilling: spaceFilling}
}

// EventTriggered builds an event-triggered (sporadic) policy.
func EventTriggered(from, period, activeTime Time, spaceFilling bool) Policy {
	return Policy{Kind: KindET, From: from, Period: period, ActiveTime: activeTime, SpaceFilling: spaceFilling}
}

// BestEffort builds a best-effort weighted policy.
func BestEffort(from Time, weight uint16, spaceFilling bool) Policy {
	return Policy{Kind: KindBE, From: from, Weight: weight, SpaceFilling: spaceFilling}
}

// IsMultiplexed reports whether the policy time-shares its CPUs with
// other domains (everything except Exclusive).
func (p Policy) IsMultiplexed() bool {
	return p.Kind != KindExclusive
}

// ClassOrder gives the policy-class precedence used for sorting
// domains in a reconfiguration (§4.I step 3): Exclusive < TT < ET < BE.
func (p Policy) ClassOrder() int {
	switch p.Kind {
	case KindExclusive:
		return 0
	case KindTT:
		return 1
	case KindET:
		return 2
	case KindBE:
		return 3
	default:
		return 4
	}
}

// ValidationError reports why a policy was rejected, keeping the
// specific reason required by SPEC_FULL.md §4.A rather than a bare
// "invalid argument" string.
type ValidationError struct {
	Kind   Kind
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("policy %s rejected: %s", e.Kind, e.Reason)
}

func invalid(kind Kind, format string, args ...interface{}) error {
	return &ValidationError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Validate rejects malformed policies per §4.A:
//   - any policy with From = Infinity
//   - TT/ET with ActiveTime >= Period or either <= grain
//   - BE with Weight == 0
//
// grain is the system minimum time grain (sched_ratelimit_us,
// default 1ms). Validate is pure: it never mutates p or touches the
// clock.
func Validate(p Policy, grain Time) error {
	if p.From.IsInfinite() {
		return invalid(p.Kind, "from must not be infinite")
	}
	switch p.Kind {
	case KindExclusive:
		return nil
	case KindTT, KindET:
		if p.Period <= grain {
			return invalid(p.Kind, "period %d must be greater than the minimum time grain %d", p.Period, grain)
		}
		if p.ActiveTime <= grain {
			return invalid(p.Kind, "active_time %d must be greater than the minimum time grain %d", p.ActiveTime, grain)
		}
		if p.ActiveTime >= p.Period {
			return invalid(p.Kind, "active_time %d must be less than period %d", p.ActiveTime, p.Period)
		}
		return nil
	case KindBE:
		if p.Weight == 0 {
			return invalid(p.Kind, "weight must be greater than zero")
		}
		return nil
	default:
		return invalid(p.Kind, "unknown policy kind")
	}
}

// ValidateAll validates every policy in policies, aggregating all
// failures (not just the first) with go.uber.org/multierr so a batch
// caller such as the reconfiguration protocol can report every
// offending domain in one pass.
func ValidateAll(policies []Policy, grain Time) error {
	var err error
	for _, p := range policies {
		if verr := Validate(p, grain); verr != nil {
			err = multierr.Append(err, verr)
		}
	}
	return err
}
