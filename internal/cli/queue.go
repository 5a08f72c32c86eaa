package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"fieldsync-agent/internal/model"
	"fieldsync-agent/internal/queue"

	"github.com/spf13/cobra"
)

// PendingRow is one pending item as shown to operators. The payload is
// omitted; use the agent API to read it.
type PendingRow struct {
	Class         model.EventClass `json:"class" yaml:"class"`
	OfflineID     string           `json:"offline_id" yaml:"offline_id"`
	EventType     string           `json:"event_type" yaml:"event_type"`
	QueuedAt      time.Time        `json:"queued_at" yaml:"queued_at"`
	RetryCount    int              `json:"retry_count" yaml:"retry_count"`
	State         string           `json:"state" yaml:"state"`
	LastAttemptAt *time.Time       `json:"last_attempt_at,omitempty" yaml:"last_attempt_at,omitempty"`
	LastError     string           `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

func itemState(q *queue.Manager, item model.PendingItem, now time.Time) string {
	switch {
	case q.Exhausted(item):
		return "exhausted"
	case q.Eligible(item, now):
		return "ready"
	}
	return "backoff"
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(opts *RootOptions) *cobra.Command {
	var class string

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			classes := model.EventClasses
			if class != "" {
				c, err := model.ParseEventClass(class)
				if err != nil {
					return err
				}
				classes = []model.EventClass{c}
			}

			q, s, err := opts.openQueue()
			if err != nil {
				return err
			}
			defer s.Close()

			now := time.Now()
			rows := []PendingRow{}
			for _, c := range classes {
				items, err := q.List(cmd.Context(), c)
				if err != nil {
					return err
				}
				for _, item := range items {
					rows = append(rows, PendingRow{
						Class:         c,
						OfflineID:     item.OfflineID,
						EventType:     item.EventType,
						QueuedAt:      item.QueuedAt,
						RetryCount:    item.RetryCount,
						State:         itemState(q, item, now),
						LastAttemptAt: item.LastAttemptAt,
						LastError:     item.LastError,
					})
				}
			}

			return newPrinter(opts, cmd.OutOrStdout()).print(rows, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "CLASS\tOFFLINE ID\tTYPE\tQUEUED\tRETRIES\tSTATE\tLAST ERROR")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
						r.Class, r.OfflineID, r.EventType, r.QueuedAt.Format(time.RFC3339),
						r.RetryCount, r.State, r.LastError)
				}
			})
		},
	}

	cmd.Flags().StringVar(&class, "class", "", "limit to one class (attendance|gps|checkpoint)")
	return cmd
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-class queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, s, err := opts.openQueue()
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := q.Stats(cmd.Context())
			if err != nil {
				return err
			}

			return newPrinter(opts, cmd.OutOrStdout()).print(stats, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "CLASS\tTOTAL\tREADY\tBACKOFF\tEXHAUSTED")
				for _, c := range model.EventClasses {
					st := stats[c]
					fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", c, st.Total, st.Ready, st.OnHold, st.Exhausted)
				}
			})
		},
	}
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(opts *RootOptions) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove exhausted items older than --max-age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, s, err := opts.openQueue()
			if err != nil {
				return err
			}
			defer s.Close()

			age := maxAge
			if age <= 0 {
				age = opts.Config.Sync.MaxAge
			}

			removed, err := q.PruneStale(cmd.Context(), age)
			if err != nil {
				return err
			}

			out := map[string]any{"removed": removed, "max_age": age.String()}
			return newPrinter(opts, cmd.OutOrStdout()).print(out, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "Removed %d exhausted item(s) older than %s\n", removed, age)
			})
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "retention for exhausted items (default SYNC_MAX_AGE)")
	return cmd
}

func newItemCommand(opts *RootOptions, use, short, done string, apply func(q *queue.Manager, ctx context.Context, class model.EventClass, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <class> <offline-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			class, err := model.ParseEventClass(args[0])
			if err != nil {
				return err
			}

			q, s, err := opts.openQueue()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := apply(q, cmd.Context(), class, args[1]); err != nil {
				return fmt.Errorf("%s %s/%s: %w", use, class, args[1], err)
			}
			newPrinter(opts, cmd.OutOrStdout()).line("%s %s/%s", done, class, args[1])
			return nil
		},
	}
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(opts *RootOptions) *cobra.Command {
	return newItemCommand(opts, "purge", "Delete one pending item", "purged",
		func(q *queue.Manager, ctx context.Context, class model.EventClass, id string) error {
			return q.Purge(ctx, class, id)
		})
}

// NewResetCommand creates the reset command.
func NewResetCommand(opts *RootOptions) *cobra.Command {
	return newItemCommand(opts, "reset", "Clear the retry state of one pending item", "reset",
		func(q *queue.Manager, ctx context.Context, class model.EventClass, id string) error {
			return q.Reset(ctx, class, id)
		})
}
