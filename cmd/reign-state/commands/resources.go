package commands

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/reignhq/reign/pkg/config"
	"github.com/reignhq/reign/pkg/state"
	"github.com/reignhq/reign/pkg/telemetry"
)

func newRecordCommand(a *app) *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record deployed resources from a manifest",
		Long: `Record resources reported by deployment agents.

The manifest is YAML or JSON: a list of resources, a single resource, or a
document with a top-level "resources" key. Recording an existing resource
updates it and keeps its original deployment time. Records that would
create a dependency cycle are rejected.`,
		Example: `  # Record resources from a manifest
  reign-state record -f deployed.yaml

  # Record every manifest in a directory
  reign-state record -f manifests/

  # Read the manifest from stdin
  docker-agent report | reign-state record -f -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := parseManifests(cmd, files)
			if err != nil {
				return err
			}

			for _, verr := range manifest.Errors {
				label := warnColor.Sprint("warning:")
				if verr.Severity == config.SeverityError {
					label = errColor.Sprint("error:")
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", label, verr.Error())
			}
			if manifest.HasErrors() {
				return fmt.Errorf("manifest is invalid; nothing was recorded")
			}

			ctx := cmd.Context()
			log := telemetry.FromContext(ctx)
			recorded := make([]string, 0, len(manifest.Resources))
			for _, r := range manifest.Resources {
				if err := a.mgr.RecordDeployment(ctx, r); err != nil {
					return fmt.Errorf("failed to record %s after recording %d resources: %w", r.ID, len(recorded), err)
				}
				log.WithResourceID(r.ID).Debug("Resource recorded")
				recorded = append(recorded, r.ID)
			}

			return a.render(cmd, map[string]any{"recorded": recorded}, func(w io.Writer) {
				fmt.Fprintf(w, "%s %d resources\n", okColor.Sprint("Recorded"), len(recorded))
			})
		},
	}

	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "manifest file or directory, - for stdin (repeatable)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// parseManifests parses the given sources, reading "-" from stdin.
func parseManifests(cmd *cobra.Command, sources []string) (*config.ParsedManifest, error) {
	parser := config.NewManifestParser()

	if !slices.Contains(sources, "-") {
		return parser.Parse(sources)
	}
	if len(sources) > 1 {
		return nil, fmt.Errorf("stdin (-) cannot be combined with other manifest sources")
	}
	return parser.ParseReader(cmd.InOrStdin(), "stdin")
}

func newGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <resource-id>",
		Short: "Show a tracked resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.mgr.GetResource(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return a.render(cmd, r, func(w io.Writer) {
				fmt.Fprintf(w, "ID:\t%s\n", r.ID)
				fmt.Fprintf(w, "Type:\t%s\n", r.Type)
				fmt.Fprintf(w, "Name:\t%s\n", orDash(r.Name))
				fmt.Fprintf(w, "Agent:\t%s\n", r.AgentType)
				fmt.Fprintf(w, "Status:\t%s\n", statusText(r.Status))
				fmt.Fprintf(w, "Depends on:\t%s\n", listText(r.DependsOn))
				fmt.Fprintf(w, "Deployed at:\t%s\n", timeText(r.DeployedAt))
				fmt.Fprintf(w, "Metadata:\t%s\n", metadataText(r.Metadata))
			})
		},
	}
}

func newListCommand(a *app) *cobra.Command {
	var (
		resourceType string
		agent        string
		statuses     []string
		all          bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked resources",
		Long: `List tracked resources in deployment order.

Only deployed resources are shown unless --status or --all is given.`,
		Example: `  # List deployed resources
  reign-state list

  # List terraform resources of one type
  reign-state list --agent terraform --type aws_vpc

  # Include failed and removed resources
  reign-state list --status failed --status removed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := state.ResourceFilter{
				Type:      resourceType,
				AgentType: state.AgentType(agent),
			}
			if all {
				filter.Statuses = []state.Status{state.StatusDeployed, state.StatusPending, state.StatusFailed, state.StatusRemoved}
			}
			for _, s := range statuses {
				st := state.Status(s)
				if !st.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				filter.Statuses = append(filter.Statuses, st)
			}

			resources, err := a.mgr.ListResources(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return a.render(cmd, resourceList(resources), resourceTable(resources))
		},
	}

	cmd.Flags().StringVar(&resourceType, "type", "", "filter by resource type")
	cmd.Flags().StringVar(&agent, "agent", "", "filter by agent (docker, kubernetes, terraform, github)")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "include resources of every status")

	return cmd
}

func newDependentsCommand(a *app) *cobra.Command {
	var transitive bool

	cmd := &cobra.Command{
		Use:   "dependents <resource-id>",
		Short: "List resources that depend on a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			if !transitive {
				dependents, err := a.mgr.Dependents(ctx, id)
				if err != nil {
					return err
				}
				return a.render(cmd, resourceList(dependents), resourceTable(dependents))
			}

			graph, err := a.mgr.Graph(ctx, state.ResourceFilter{})
			if err != nil {
				return err
			}
			ids := graph.TransitiveDependents(id)
			resources := make([]*state.Resource, 0, len(ids))
			for _, d := range ids {
				if r := graph.Resource(d); r != nil {
					resources = append(resources, r)
				}
			}
			return a.render(cmd, resources, resourceTable(resources))
		},
	}

	cmd.Flags().BoolVar(&transitive, "transitive", false, "include indirect dependents (deployed only)")

	return cmd
}

func newTimelineCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline",
		Short: "Show every resource in deployment order",
		RunE: func(cmd *cobra.Command, args []string) error {
			resources, err := a.mgr.Timeline(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(cmd, resourceList(resources), resourceTable(resources))
		},
	}
}

func newRemoveCommand(a *app) *cobra.Command {
	var (
		cascade bool
		yes     bool
	)

	cmd := &cobra.Command{
		Use:   "remove <resource-id>...",
		Short: "Mark resources as removed",
		Long: `Mark resources as removed after their agents have torn them down.

With --cascade every deployed resource that depends on the given ones is
removed too. The removal order is printed dependents first, which is the
order agents should tear resources down in.`,
		Example: `  # Mark a container removed
  reign-state remove web-1 --yes

  # Remove a network and everything using it
  reign-state remove net-1 --cascade --yes`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			current, err := a.mgr.AllResources(ctx)
			if err != nil {
				return err
			}

			ids := slices.Clone(args)
			if cascade {
				graph := state.NewDependencyGraph(current)
				for _, id := range args {
					for _, d := range graph.TransitiveDependents(id) {
						if !slices.Contains(ids, d) {
							ids = append(ids, d)
						}
					}
				}
			}

			plan, err := state.PlanRemovals(current, ids)
			if err != nil {
				return err
			}

			if !yes {
				if err := confirm(cmd, fmt.Sprintf("Remove %d resources (%s)?", len(plan.ToRemove), listText(plan.ToRemove))); err != nil {
					return err
				}
			}

			n, err := a.mgr.RollbackResources(ctx, plan.ToRemove)
			if err != nil {
				return err
			}
			telemetry.FromContext(ctx).WithFields(map[string]any{
				"order":   plan.ToRemove,
				"cascade": cascade,
			}).Infof("Removed %d resources", n)

			return a.render(cmd, map[string]any{"removed": n, "order": plan.ToRemove}, func(w io.Writer) {
				fmt.Fprintf(w, "%s %d resources\n", okColor.Sprint("Removed"), n)
				for i, id := range plan.ToRemove {
					fmt.Fprintf(w, "  %d.\t%s\n", i+1, id)
				}
			})
		},
	}

	cmd.Flags().BoolVar(&cascade, "cascade", false, "also remove deployed dependents")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")

	return cmd
}
