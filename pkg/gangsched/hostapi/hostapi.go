// Package hostapi declares the interfaces the gang scheduler needs
// from its host and nothing else: a clock, a way to raise the
// schedule softirq on a set of CPUs, VCPU block-state queries, the
// CPU-pool membership, domain-existence and VCPU-count lookups, and
// VCPU affinity/timer migration. SPEC_FULL.md §1 places the concrete
// timer/IRQ/cross-call machinery out of scope; this package specifies only the shape the
// core consumes.
package hostapi

import (
	"github.com/gangsched/gangsched/pkg/gangsched/bitset"
	"github.com/gangsched/gangsched/pkg/gangsched/policy"
	"github.com/gangsched/gangsched/pkg/gangsched/ticket"
)

// Clock returns the current monotonic time, in the same nanosecond
// base as policy.Time (original: NOW()).
type Clock interface {
	Now() policy.Time
}

// IRQRaiser asks every CPU in cpus to re-enter the schedule decision
// path (original: cpumask_raise_softirq(cpus, SCHEDULE_SOFTIRQ)).
type IRQRaiser interface {
	RaiseScheduleSoftirq(cpus *bitset.Set)
}

// VCPUState reports whether a domain's VCPU is guest-blocked, used by
// the local scheduler's substitute/space-filling selection (§4.F
// step 7).
type VCPUState interface {
	IsBlocked(domain ticket.DomainID, vcpu int) bool
}

// Pool is the CPU-pool abstraction the reconfiguration protocol
// consults: which CPUs belong to the pool this scheduler instance
// governs, and whether it is pool 0. The control layer does not call
// it; Registry.Putinfo/Getinfo take the caller's pool-0 privilege as
// an argument.
type Pool interface {
	// CPUs returns the CPU mask currently owned by this pool.
	CPUs() *bitset.Set

	// IsPoolZero reports whether this pool is the privileged pool 0,
	// the only pool allowed to reconfigure scheduling parameters
	// system-wide (§4.J).
	IsPoolZero() bool
}

// DomainDirectory answers the domain-existence and VCPU-count queries
// the reconfiguration protocol's parse/validate step needs (§4.I step
// 1): every domid named in an overlay must exist and belong to the
// right pool, and |cpumask| must equal the domain's current VCPU
// count.
type DomainDirectory interface {
	// DomainExists reports whether domain is a live domain in this
	// scheduler instance's pool.
	DomainExists(domain ticket.DomainID) bool

	// VCPUCount returns the number of VCPUs domain currently has.
	// Callers only invoke it after DomainExists has returned true.
	VCPUCount(domain ticket.DomainID) int
}

// Affinity is the host-side action the designated CPU drives during
// publish (§4.I step 7b): pin a domain's VCPU to its new home CPU and
// carry its timers along.
type Affinity interface {
	// SetAffinity pins domain's vcpu to cpu.
	SetAffinity(domain ticket.DomainID, vcpu int, cpu int)

	// MigrateTimer moves domain's vcpu's periodic timer to fire on cpu.
	MigrateTimer(domain ticket.DomainID, vcpu int, cpu int)
}

// Collaborators bundles the host-provided primitives a running
// scheduler instance needs, so wiring code has one value to pass
// around instead of six.
type Collaborators struct {
	Clock    Clock
	IRQ      IRQRaiser
	VCPUs    VCPUState
	Pool     Pool
	Domains  DomainDirectory
	Affinity Affinity
}
