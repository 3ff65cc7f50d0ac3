package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reignhq/reign/pkg/policy"
	"github.com/reignhq/reign/pkg/state"
	"github.com/reignhq/reign/pkg/telemetry"
)

func newAuditCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail of state changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.mgr.ListAudit(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []state.AuditEntry{}
			}

			return a.render(cmd, entries, func(w io.Writer) {
				header(w, "ID", "TIME", "ACTION", "TARGET", "DETAILS")
				for _, e := range entries {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.ID, timeText(e.Timestamp), e.Action, orDash(e.TargetID), orDash(e.Details))
				}
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries to show (0 for all)")

	return cmd
}

func newReinitCommand(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reinit",
		Short: "Set the state store aside and start empty",
		Long: `Move the current state store aside and create an empty one.

Use this to recover from a store that cannot be read. The old store is kept
next to the new one with a .bak-<timestamp> suffix; nothing is deleted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reinit discards all tracked state; pass --yes to confirm")
			}

			if err := a.mgr.Reinitialize(cmd.Context()); err != nil {
				return err
			}
			telemetry.FromContext(cmd.Context()).Warn("State store reinitialized")

			return a.render(cmd, map[string]any{"reinitialized": true}, func(w io.Writer) {
				fmt.Fprintln(w, warnColor.Sprint("State store reinitialized"))
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm reinitialization")

	return cmd
}

// graphEdge is one dependency edge in graph output.
type graphEdge struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Missing bool   `json:"missing,omitempty"`
}

func newGraphCommand(a *app) *cobra.Command {
	var (
		dot       bool
		highlight []string
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show the dependency graph of deployed resources",
		Example: `  # List dependency edges
  reign-state graph

  # Render with Graphviz
  reign-state graph --dot --highlight db-1 | dot -Tpng > graph.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			resources, err := a.mgr.AllResources(cmd.Context())
			if err != nil {
				return err
			}
			graph := state.NewDependencyGraph(resources)

			if dot {
				_, err := io.WriteString(cmd.OutOrStdout(), graph.ToDOT(highlight...))
				return err
			}

			edges := []graphEdge{}
			for _, r := range resources {
				for _, dep := range graph.Dependencies(r.ID) {
					edges = append(edges, graphEdge{From: r.ID, To: dep, Missing: !graph.Has(dep)})
				}
			}

			return a.render(cmd, edges, func(w io.Writer) {
				header(w, "RESOURCE", "DEPENDS ON", "")
				for _, e := range edges {
					note := ""
					if e.Missing {
						note = warnColor.Sprint("not deployed")
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", e.From, e.To, note)
				}
			})
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print Graphviz DOT")
	cmd.Flags().StringSliceVar(&highlight, "highlight", nil, "resource IDs to draw bold in DOT output")

	return cmd
}

func newPoliciesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List the rollback policies in effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			policies := []policy.Policy{}
			if a.guard != nil {
				policies = a.guard.ListPolicies()
			}

			return a.render(cmd, policies, func(w io.Writer) {
				if a.guard == nil {
					fmt.Fprintln(w, dimColor.Sprint("Policy enforcement is disabled"))
					return
				}
				header(w, "NAME", "SEVERITY", "ENABLED", "SOURCE", "DESCRIPTION")
				for _, p := range policies {
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", p.Name, p.Severity, p.Enabled, p.Source, truncate(p.Description, 60))
				}
			})
		},
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return orDash(s)
	}
	return s[:n-3] + "..."
}
