// Package cli implements syncctl, the operator tool for inspecting and
// repairing the agent's pending queues directly in the durable store.
package cli

import (
	"fmt"

	"fieldsync-agent/internal/config"
	"fieldsync-agent/internal/queue"
	"fieldsync-agent/internal/store"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Output string // "table" | "json" | "yaml"

	// OpenStore overrides the configured store in tests.
	OpenStore func() (store.Store, error)
	// Config is loaded from the environment when nil.
	Config *config.Config
}

// ValidOutputs defines the allowed output formats.
var ValidOutputs = []string{"table", "json", "yaml"}

// NewRootCommand creates the root command for syncctl.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	if opts == nil {
		opts = &RootOptions{}
	}

	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "Inspect and repair fieldsync pending queues",
		Long: `syncctl operates on the agent's durable store.

It lists pending items, reports retry state, prunes exhausted items and
validates checkpoint scans against a roadmap file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidOutput(opts.Output) {
				return fmt.Errorf("invalid output %q: must be one of %v", opts.Output, ValidOutputs)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "table", "output format (table|json|yaml)")

	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewPruneCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

func isValidOutput(format string) bool {
	for _, f := range ValidOutputs {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) config() (*config.Config, error) {
	if o.Config != nil {
		return o.Config, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	o.Config = cfg
	return cfg, nil
}

// openQueue opens the store and wraps it in a queue manager.
// The caller closes the returned store.
func (o *RootOptions) openQueue() (*queue.Manager, store.Store, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, nil, err
	}

	var s store.Store
	if o.OpenStore != nil {
		s, err = o.OpenStore()
	} else {
		s, err = store.Open(cfg.Store)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	q := queue.NewManager(s, queue.Options{
		MaxRetries:  cfg.Sync.MaxRetries,
		GPSCapacity: cfg.Sync.GPSQueueCapacity,
		BackoffBase: cfg.Sync.BackoffBase,
		BackoffMax:  cfg.Sync.BackoffMax,
	})
	return q, s, nil
}
