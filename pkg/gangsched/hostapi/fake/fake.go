// Package fake provides an in-memory hostapi.Collaborators
// implementation for tests: a manually-advanced clock, an IRQ raiser
// that just counts calls, a settable blocked-VCPU set, a fixed pool
// CPU mask with a pool-0 flag, a settable domain directory, and an affinity fake
// that records every SetAffinity/MigrateTimer call.
package fake

import (
	"sync"

	"github.com/gangsched/gangsched/pkg/gangsched/bitset"
	"github.com/gangsched/gangsched/pkg/gangsched/policy"
	"github.com/gangsched/gangsched/pkg/gangsched/ticket"
)

// Clock is a manually-advanced fake clock.
type Clock struct {
	mu  sync.Mutex
	now policy.Time
}

// NewClock returns a fake clock starting at t.
func NewClock(t policy.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() policy.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the fake clock forward by d and returns the new time.
func (c *Clock) Advance(d policy.Time) policy.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
	return c.now
}

// IRQ records every RaiseScheduleSoftirq call for test assertions.
type IRQ struct {
	mu    sync.Mutex
	Calls []*bitset.Set
}

// RaiseScheduleSoftirq records cpus.
func (r *IRQ) RaiseScheduleSoftirq(cpus *bitset.Set) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, cpus.Clone())
}

// VCPUs is a settable blocked-VCPU predicate.
type VCPUs struct {
	mu      sync.Mutex
	blocked map[ticket.DomainID]map[int]bool
}

// NewVCPUs returns a VCPUs fake with nothing blocked.
func NewVCPUs() *VCPUs {
	return &VCPUs{blocked: make(map[ticket.DomainID]map[int]bool)}
}

// SetBlocked marks domain/vcpu as blocked or runnable.
func (v *VCPUs) SetBlocked(domain ticket.DomainID, vcpu int, blocked bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.blocked[domain] == nil {
		v.blocked[domain] = make(map[int]bool)
	}
	v.blocked[domain][vcpu] = blocked
}

// IsBlocked reports whether domain/vcpu was marked blocked.
func (v *VCPUs) IsBlocked(domain ticket.DomainID, vcpu int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.blocked[domain][vcpu]
}

// Pool is a fixed-membership fake CPU pool.
type Pool struct {
	mask     *bitset.Set
	poolZero bool
}

// NewPool returns a fake pool with the given CPU mask.
func NewPool(mask *bitset.Set, poolZero bool) *Pool {
	return &Pool{mask: mask, poolZero: poolZero}
}

// CPUs returns the pool's CPU mask.
func (p *Pool) CPUs() *bitset.Set { return p.mask }

// IsPoolZero reports whether this is pool 0.
func (p *Pool) IsPoolZero() bool { return p.poolZero }

// Domains is a settable fake domain directory.
type Domains struct {
	mu    sync.Mutex
	vcpus map[ticket.DomainID]int
}

// NewDomains returns a Domains fake with no domains declared.
func NewDomains() *Domains {
	return &Domains{vcpus: make(map[ticket.DomainID]int)}
}

// Declare registers domain as existing with the given VCPU count.
func (d *Domains) Declare(domain ticket.DomainID, vcpuCount int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vcpus[domain] = vcpuCount
}

// Forget removes domain, as if it had been destroyed.
func (d *Domains) Forget(domain ticket.DomainID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.vcpus, domain)
}

// DomainExists reports whether domain was declared.
func (d *Domains) DomainExists(domain ticket.DomainID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.vcpus[domain]
	return ok
}

// VCPUCount returns domain's declared VCPU count.
func (d *Domains) VCPUCount(domain ticket.DomainID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vcpus[domain]
}

// affinityCall records one SetAffinity or MigrateTimer invocation.
type affinityCall struct {
	Domain ticket.DomainID
	VCPU   int
	CPU    int
}

// Affinity records every SetAffinity/MigrateTimer call for test
// assertions.
type Affinity struct {
	mu         sync.Mutex
	Affinities []affinityCall
	Migrations []affinityCall
}

// NewAffinity returns an Affinity fake with no recorded calls.
func NewAffinity() *Affinity {
	return &Affinity{}
}

// SetAffinity records a VCPU pinned to cpu.
func (a *Affinity) SetAffinity(domain ticket.DomainID, vcpu int, cpu int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Affinities = append(a.Affinities, affinityCall{Domain: domain, VCPU: vcpu, CPU: cpu})
}

// MigrateTimer records a VCPU's timer moved to cpu.
func (a *Affinity) MigrateTimer(domain ticket.DomainID, vcpu int, cpu int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Migrations = append(a.Migrations, affinityCall{Domain: domain, VCPU: vcpu, CPU: cpu})
}
