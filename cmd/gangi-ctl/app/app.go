// Package app wires the gangi-ctl command tree, mirroring the
// NewSchedulerCommand construction in cmd/koord-scheduler/app/server.go:
// a cobra.Command with pflag-backed flags and a Run closure that turns
// errors into a process exit rather than a panic.
package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gangsched/gangsched/pkg/gangsched/wire"
)

// sharedFlags holds the -p/-f/--num-cpus flags common to every
// subcommand, matching gsc's "-p cpupoolid" requirement on every
// invocation.
type sharedFlags struct {
	pool    int
	config  string
	numCPUs int
}

func (f *sharedFlags) register(fs *cobra.Command) {
	fs.PersistentFlags().IntVarP(&f.pool, "pool", "p", -1, "CPU pool id (required)")
	fs.PersistentFlags().StringVarP(&f.config, "config", "f", "", "configuration file path (default: gangsched-pool-<id>.yaml)")
	fs.PersistentFlags().IntVar(&f.numCPUs, "num-cpus", 0, "CPU pool width, only needed the first time a pool's file is written")
}

func (f *sharedFlags) configPath() string {
	if f.config != "" {
		return f.config
	}
	return fmt.Sprintf("gangsched-pool-%d.yaml", f.pool)
}

// NewCommand builds the gangi-ctl root command with the set and dump
// subcommands attached.
func NewCommand() *cobra.Command {
	flags := &sharedFlags{}

	root := &cobra.Command{
		Use:   "gangi-ctl",
		Short: "Control the gang scheduler and gang-scheduled domains",
		Long: `gangi-ctl sets and inspects the gang-scheduling configuration of
domains on a CPU pool: CPU assignment and time-multiplexing policy.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flags.pool < 0 {
				return fmt.Errorf("-p/--pool is required and must be >= 0")
			}
			return nil
		},
	}
	flags.register(root)

	root.AddCommand(newSetCommand(flags))
	root.AddCommand(newDumpCommand(flags))

	if err := root.MarkPersistentFlagFilename("config", "yaml", "yml"); err != nil {
		fmt.Fprintf(os.Stderr, "gangi-ctl: %v\n", err)
	}

	return root
}

func loadBlobOrEmpty(path string, numCPUsHint int) (*wire.ConfigBlob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &wire.ConfigBlob{NumCPUs: numCPUsHint}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	blob, err := wire.UnmarshalYAML(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return blob, nil
}

func saveBlob(path string, blob *wire.ConfigBlob) error {
	data, err := blob.MarshalYAML()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
