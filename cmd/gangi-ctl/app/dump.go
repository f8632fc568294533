package app

import (
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/gangsched/gangsched"
	"github.com/gangsched/gangsched/pkg/gangsched/wire"
)

func newDumpCommand(flags *sharedFlags) *cobra.Command {
	var domain int

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the gang-scheduling parameters of one or all domains",
		Long: `Prints a pool's gang-scheduling configuration:

  gangi-ctl dump -p cpupoolid            prints every domain's parameters
  gangi-ctl dump -p cpupoolid -d domid   prints one domain's parameters`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, flags, domain)
		},
	}

	cmd.Flags().IntVarP(&domain, "domain", "d", 0, "domain id (optional; omit to print every domain)")

	return cmd
}

func runDump(cmd *cobra.Command, flags *sharedFlags, domain int) error {
	path := flags.configPath()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return gangsched.NotFoundf("no configuration found for pool %d at %s", flags.pool, path)
		}
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	blob, err := wire.UnmarshalYAML(data)
	if err != nil {
		return err
	}

	entries := blob.Entries
	if domain > 0 {
		found := false
		for _, e := range entries {
			if e.DomID == int32(domain) {
				entries = []wire.DomainEntry{e}
				found = true
				break
			}
		}
		if !found {
			return gangsched.NotFoundf("no domain %d configured on pool %d", domain, flags.pool)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].DomID < entries[j].DomID })

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"DOMID", "CPUS", "POLICY", "PARAMS"})
	for _, e := range entries {
		p := e.Policy.ToPolicy()
		t.AppendRow(table.Row{e.DomID, e.CPUMap.Slice(), p.Kind.String(), formatParams(p)})
	}
	t.Render()
	return nil
}
