package app

import (
	"context"
	"sort"

	"github.com/spf13/cobra"

	"github.com/gangsched/gangsched"
	"github.com/gangsched/gangsched/pkg/gangsched/apis/config"
	"github.com/gangsched/gangsched/pkg/gangsched/bitset"
	"github.com/gangsched/gangsched/pkg/gangsched/control"
	"github.com/gangsched/gangsched/pkg/gangsched/hostapi"
	"github.com/gangsched/gangsched/pkg/gangsched/hostapi/fake"
	"github.com/gangsched/gangsched/pkg/gangsched/reconfig"
	"github.com/gangsched/gangsched/pkg/gangsched/ticket"
	"github.com/gangsched/gangsched/pkg/gangsched/wire"
)

func newSetCommand(flags *sharedFlags) *cobra.Command {
	var domain int
	var cpuList string
	var policySpec string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set the gang-scheduling parameters of a domain",
		Long: `Sets a domain's CPU assignment and time-multiplexing policy:

  gangi-ctl set -p cpupoolid -d domid -c <CPU list> -t <policy>

CPU list: CPU ids separated with commas (e.g. 1,4,2,5).
Policy, separated with commas:
  no muxing:        no
  time triggered:   tt,period_ms,active_ms,[sf]
  event triggered:  et,period_ms,active_ms,[sf]
  best effort:      be,weight,[sf]
sf marks the domain eligible for space filling.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSet(flags, domain, cpuList, policySpec)
		},
	}

	cmd.Flags().IntVarP(&domain, "domain", "d", 0, "domain id (required, > 0)")
	cmd.Flags().StringVarP(&cpuList, "cpus", "c", "", "comma-separated CPU id list (required)")
	cmd.Flags().StringVarP(&policySpec, "policy", "t", "", "time-multiplexing policy spec (required)")
	for _, name := range []string{"domain", "cpus", "policy"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runSet(flags *sharedFlags, domain int, cpuList, policySpec string) error {
	if domain <= 0 {
		return gangsched.Invalidf("-d domain id must be > 0, got %d", domain)
	}

	cpuIDs, err := parseCPUList(cpuList)
	if err != nil {
		return err
	}

	path := flags.configPath()
	existing, err := loadBlobOrEmpty(path, flags.numCPUs)
	if err != nil {
		return err
	}

	numCPUs := existing.NumCPUs
	if numCPUs == 0 {
		numCPUs = flags.numCPUs
	}
	if numCPUs == 0 {
		numCPUs = maxOf(cpuIDs) + 1
	}
	for _, id := range cpuIDs {
		if id >= numCPUs {
			return gangsched.Invalidf("CPU id %d is outside the pool's %d CPUs", id, numCPUs)
		}
	}

	params := config.Default()
	policyVal, err := parsePolicySpec(policySpec, params.Grain)
	if err != nil {
		return err
	}

	poolMask := bitset.New(numCPUs)
	for i := 0; i < numCPUs; i++ {
		poolMask.SetBit(i)
	}
	domains := fake.NewDomains()
	collab := hostapi.Collaborators{
		Clock:    fake.NewClock(0),
		IRQ:      &fake.IRQ{},
		VCPUs:    fake.NewVCPUs(),
		Pool:     fake.NewPool(poolMask, true),
		Domains:  domains,
		Affinity: fake.NewAffinity(),
	}

	controller := reconfig.NewController(numCPUs, params, collab)
	registry := control.NewRegistry()
	registry.Register(flags.pool, controller)

	updates := make([]reconfig.DomainUpdate, 0, len(existing.Entries)+1)
	for _, e := range existing.Entries {
		if e.DomainID() == ticket.DomainID(domain) {
			continue
		}
		domains.Declare(e.DomainID(), e.CPUMap.PopCount())
		updates = append(updates, reconfig.DomainUpdate{
			DomID:   e.DomainID(),
			CPUMask: e.CPUMap,
			Policy:  e.Policy.ToPolicy(),
		})
	}
	domainCPUMask := bitset.FromSlice(numCPUs, cpuIDs)
	domains.Declare(ticket.DomainID(domain), domainCPUMask.PopCount())
	updates = append(updates, reconfig.DomainUpdate{
		DomID:   ticket.DomainID(domain),
		CPUMask: domainCPUMask,
		Policy:  policyVal,
	})

	if err := registry.Putinfo(context.Background(), flags.pool, true, updates); err != nil {
		return err
	}

	snap, err := registry.Getinfo(flags.pool, true)
	if err != nil {
		return err
	}

	blob := &wire.ConfigBlob{NumCPUs: numCPUs}
	for id, admitted := range snap {
		blob.Entries = append(blob.Entries, wire.DomainEntry{
			DomID:  int32(id),
			CPUMap: admitted.Mask,
			Policy: wire.FromPolicy(admitted.Policy),
		})
	}
	sort.Slice(blob.Entries, func(i, j int) bool { return blob.Entries[i].DomID < blob.Entries[j].DomID })

	return saveBlob(path, blob)
}

func maxOf(ids []int) int {
	m := 0
	for _, id := range ids {
		if id > m {
			m = id
		}
	}
	return m
}
