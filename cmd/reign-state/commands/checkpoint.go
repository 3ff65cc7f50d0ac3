package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/reignhq/reign/pkg/state"
	"github.com/reignhq/reign/pkg/telemetry"
)

func newCheckpointCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Create and inspect checkpoints",
		Long: `Checkpoints are immutable snapshots of every deployed resource.

Take one before a deployment; if it goes wrong, "reign-state plan" shows
what rolling back to it involves and "reign-state rollback" restores it.`,
	}

	cmd.AddCommand(newCheckpointCreateCommand(a))
	cmd.AddCommand(newCheckpointListCommand(a))
	cmd.AddCommand(newCheckpointShowCommand(a))

	return cmd
}

func newCheckpointCreateCommand(a *app) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Snapshot the deployed resources",
		Example: `  reign-state checkpoint create -d "before v2.3 rollout"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := a.mgr.CreateCheckpoint(ctx, description)
			if err != nil {
				return err
			}
			cp, err := a.mgr.GetCheckpoint(ctx, id)
			if err != nil {
				return err
			}
			telemetry.FromContext(ctx).WithCheckpointID(id).Infof("Checkpoint created with %d resources", cp.ResourceCount)

			return a.render(cmd, cp.Summary(), func(w io.Writer) {
				fmt.Fprintf(w, "%s %s (%d resources)\n", okColor.Sprint("Created checkpoint"), cp.ID, cp.ResourceCount)
			})
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "checkpoint description")

	return cmd
}

func newCheckpointListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List checkpoints, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries, err := a.mgr.ListCheckpoints(cmd.Context())
			if err != nil {
				return err
			}
			if summaries == nil {
				summaries = []state.CheckpointSummary{}
			}

			return a.render(cmd, summaries, func(w io.Writer) {
				header(w, "ID", "CREATED", "RESOURCES", "DESCRIPTION")
				for _, s := range summaries {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, timeText(s.Timestamp), s.ResourceCount, orDash(s.Description))
				}
			})
		},
	}
}

func newCheckpointShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <checkpoint-id>",
		Short: "Show a checkpoint and its snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := a.mgr.GetCheckpoint(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return a.render(cmd, cp, func(w io.Writer) {
				fmt.Fprintf(w, "Checkpoint:\t%s\n", cp.ID)
				fmt.Fprintf(w, "Description:\t%s\n", orDash(cp.Description))
				fmt.Fprintf(w, "Created:\t%s\n", timeText(cp.Timestamp))
				fmt.Fprintf(w, "Resources:\t%d\n\n", cp.ResourceCount)
				resourceTable(cp.Resources)(w)
			})
		},
	}
}
