package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"fieldsync-agent/internal/checkpoint"
	"fieldsync-agent/internal/model"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// LoadRoadmap reads a roadmap from a YAML file.
func LoadRoadmap(path string) (*model.Roadmap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roadmap: %w", err)
	}

	var rm model.Roadmap
	if err := yaml.Unmarshal(data, &rm); err != nil {
		return nil, fmt.Errorf("parse roadmap %s: %w", path, err)
	}
	if len(rm.Checkpoints) == 0 {
		return nil, fmt.Errorf("roadmap %s has no checkpoints", path)
	}
	return &rm, nil
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	var (
		roadmapPath  string
		checkpointID string
		scan         string
		completed    []string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a scan against a roadmap without sending anything",
		Long: `Validate runs the checkpoint rules offline.

Completed checkpoints default to those with status "completed" in the
roadmap file. Exits 1 when the scan would be refused.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rm, err := LoadRoadmap(roadmapPath)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: err.Error()}
			}

			cp := checkpoint.Find(rm.Checkpoints, checkpointID)
			if cp == nil {
				return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("checkpoint %q not in roadmap", checkpointID)}
			}

			done := completed
			if !cmd.Flags().Changed("completed") {
				done = checkpoint.CompletedSet(rm.Checkpoints)
			}

			res := checkpoint.Validate(scan, *cp, done, rm.Checkpoints)
			err = newPrinter(opts, cmd.OutOrStdout()).print(res, func(tw *tabwriter.Writer) {
				verdict := "ACCEPTED"
				if !res.IsValid {
					verdict = "REFUSED"
				}
				fmt.Fprintf(tw, "%s\tcheckpoint %s\tmethod %s\n", verdict, cp.ID, res.MatchedMethod)
				for _, iss := range res.Errors {
					fmt.Fprintf(tw, "  error\t%s\t%s\n", iss.Code, iss.Message)
				}
				for _, iss := range res.Warnings {
					fmt.Fprintf(tw, "  warning\t%s\t%s\n", iss.Code, iss.Message)
				}
			})
			if err != nil {
				return err
			}

			if !res.IsValid {
				return &ExitError{Code: ExitFailure, Message: "scan refused"}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&roadmapPath, "roadmap", "", "roadmap YAML file")
	cmd.Flags().StringVar(&checkpointID, "checkpoint", "", "checkpoint id to complete")
	cmd.Flags().StringVar(&scan, "scan", "", "scanned QR code or NFC tag id")
	cmd.Flags().StringSliceVar(&completed, "completed", nil, "ids already completed this round")
	_ = cmd.MarkFlagRequired("roadmap")
	_ = cmd.MarkFlagRequired("checkpoint")

	return cmd
}
