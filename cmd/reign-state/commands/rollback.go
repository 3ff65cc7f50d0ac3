package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reignhq/reign/pkg/state"
	"github.com/reignhq/reign/pkg/telemetry"
)

// errAborted is returned when the operator declines a confirmation prompt.
var errAborted = errors.New("aborted")

// confirm asks a yes/no question on stdin.
func confirm(cmd *cobra.Command, question string) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N]: ", question)

	answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	default:
		return errAborted
	}
}

func newPlanCommand(a *app) *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "plan <checkpoint-id>",
		Short: "Preview a rollback to a checkpoint",
		Long: `Compare the deployed resources with a checkpoint.

The plan lists resources to remove in teardown order (dependents first),
resources in the checkpoint that are no longer deployed, and resources left
unchanged. When policies are enabled their verdict is included; a denied
plan is still shown.`,
		Example: `  # Preview a rollback
  reign-state plan 5f0c...

  # Render the affected graph with resources to remove highlighted
  reign-state plan 5f0c... --dot | dot -Tsvg > plan.svg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			plan, err := a.mgr.GetRollbackPlan(ctx, args[0])
			if err != nil {
				return err
			}

			if dot {
				graph, err := a.mgr.Graph(ctx, state.ResourceFilter{})
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), graph.ToDOT(plan.ToRemove...))
				return err
			}

			return a.render(cmd, plan, planTable(plan))
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print the current graph in DOT format with removals highlighted")

	return cmd
}

func planTable(plan *state.RollbackPlan) func(io.Writer) {
	return func(w io.Writer) {
		fmt.Fprintf(w, "Checkpoint:\t%s\n", plan.CheckpointID)
		if plan.Description != "" {
			fmt.Fprintf(w, "Description:\t%s\n", plan.Description)
		}
		fmt.Fprintln(w)

		if plan.IsEmpty() {
			fmt.Fprintln(w, okColor.Sprint("No changes. Deployed resources match the checkpoint."))
		}

		if len(plan.Removals) > 0 {
			fmt.Fprintln(w, errColor.Sprintf("To remove (%d, in order):", len(plan.Removals)))
			for _, r := range plan.Removals {
				fmt.Fprintf(w, "  %d.\t%s\t%s\t%s\n", r.Order, r.ResourceID, r.ResourceType, r.AgentType)
			}
		}
		if len(plan.ToAdd) > 0 {
			fmt.Fprintln(w, warnColor.Sprintf("Missing, to recreate (%d):", len(plan.ToAdd)))
			for _, id := range plan.ToAdd {
				fmt.Fprintf(w, "  +\t%s\n", id)
			}
		}
		fmt.Fprintf(w, "Unchanged:\t%d\n", len(plan.Unchanged))

		if plan.Policy == nil {
			return
		}
		fmt.Fprintln(w)
		if plan.Policy.Allowed {
			fmt.Fprintln(w, okColor.Sprint("Policy: allowed"))
		} else {
			fmt.Fprintln(w, errColor.Sprint("Policy: denied"))
		}
		for _, v := range plan.Policy.Violations {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", errColor.Sprint(v.Severity), v.Policy, v.Message)
		}
		for _, warning := range plan.Policy.Warnings {
			fmt.Fprintf(w, "  %s\t%s\n", warnColor.Sprint("warning"), warning)
		}
	}
}

func newRollbackCommand(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "rollback <checkpoint-id>",
		Short: "Restore the recorded state to a checkpoint",
		Long: `Replace the recorded resource set with a checkpoint's snapshot.

Only recorded state changes. Use "reign-state plan" first and let the agents
tear down the listed resources in order. A rollback denied by policy
changes nothing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			if !yes {
				plan, err := a.mgr.GetRollbackPlan(ctx, id)
				if err != nil {
					return err
				}
				format, _ := a.format()
				if format == formatTable {
					if err := a.render(cmd, plan, planTable(plan)); err != nil {
						return err
					}
				}
				if err := confirm(cmd, fmt.Sprintf("Restore checkpoint %s?", id)); err != nil {
					return err
				}
			}

			log := telemetry.FromContext(ctx).WithCheckpointID(id)
			if err := a.mgr.RollbackToCheckpoint(ctx, id); err != nil {
				log.WithError(err).Warn("Rollback refused")
				return err
			}
			log.Info("Checkpoint restored")

			return a.render(cmd, map[string]any{"restored": id}, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s\n", okColor.Sprint("Restored checkpoint"), id)
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the plan preview and confirmation prompt")

	return cmd
}
