// Package control implements the thin control-interface glue of
// SPEC_FULL.md §4.J: routing putinfo/getinfo calls to the right pool's
// reconfiguration controller, enforcing the pool-0 permission check
// that belongs to the outside-facing call rather than to the
// reconfiguration engine itself, and translating every failure into
// the typed error the CLI boundary switches on (§7).
package control

import (
	"context"
	"errors"
	"sync"

	"github.com/gangsched/gangsched"
	"github.com/gangsched/gangsched/pkg/gangsched/reconfig"
	"github.com/gangsched/gangsched/pkg/gangsched/ticket"
)

// Registry routes control-interface calls to the reconfig.Controller
// instance that owns each pool. One Registry serves every pool on a
// host.
type Registry struct {
	mu    sync.RWMutex
	pools map[int]*reconfig.Controller
}

// NewRegistry returns an empty pool registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[int]*reconfig.Controller)}
}

// Register associates poolID with the controller that governs it.
// Registering an id a second time replaces the prior controller.
func (r *Registry) Register(poolID int, c *reconfig.Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[poolID] = c
}

// Unregister removes poolID from the registry.
func (r *Registry) Unregister(poolID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pools, poolID)
}

func (r *Registry) lookup(poolID int) *reconfig.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pools[poolID]
}

// Putinfo installs updates on poolID's configuration (§4.J putinfo).
// callerOnPoolZero must reflect the caller's own privilege, decided by
// the host before this call is reached; control never infers it.
func (r *Registry) Putinfo(ctx context.Context, poolID int, callerOnPoolZero bool, updates []reconfig.DomainUpdate) error {
	if !callerOnPoolZero {
		return gangsched.Permissionf("putinfo requires the caller to be on pool 0")
	}
	c := r.lookup(poolID)
	if c == nil {
		return gangsched.NotFoundf("no such pool %d", poolID)
	}
	if err := c.Reconfigure(ctx, updates); err != nil {
		return translate(err)
	}
	return nil
}

// Getinfo returns poolID's currently admitted configuration (§4.J
// getinfo).
func (r *Registry) Getinfo(poolID int, callerOnPoolZero bool) (map[ticket.DomainID]reconfig.AdmittedDomain, error) {
	if !callerOnPoolZero {
		return nil, gangsched.Permissionf("getinfo requires the caller to be on pool 0")
	}
	c := r.lookup(poolID)
	if c == nil {
		return nil, gangsched.NotFoundf("no such pool %d", poolID)
	}
	return c.Snapshot(), nil
}

// translate maps a reconfig.Error onto the root package's typed error
// kinds so cmd/gangi-ctl only ever needs to switch on one type.
func translate(err error) error {
	var rerr *reconfig.Error
	if !errors.As(err, &rerr) {
		return err
	}
	switch rerr.Kind {
	case reconfig.KindMalformed:
		return gangsched.Invalidf("%s", rerr.Reason).Wrap(err)
	case reconfig.KindNotFound:
		return gangsched.NotFoundf("%s", rerr.Reason).Wrap(err)
	case reconfig.KindCapacity:
		return gangsched.Capacityf("%s", rerr.Reason).Wrap(err)
	case reconfig.KindBusy:
		return gangsched.Busyf("%s", rerr.Reason).Wrap(err)
	default:
		return err
	}
}
