package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/reignhq/reign/pkg/state"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func (a *app) format() (string, error) {
	if a.jsonOutput {
		return formatJSON, nil
	}
	switch a.output {
	case "", formatTable:
		return formatTable, nil
	case formatJSON, formatYAML:
		return a.output, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", a.output)
	}
}

// render writes v as JSON or YAML, or calls table with an aligned writer.
func (a *app) render(cmd *cobra.Command, v any, table func(w io.Writer)) error {
	format, err := a.format()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch format {
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		return writeYAML(out, v)
	default:
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	}
}

// writeYAML renders v through its JSON form so YAML output uses the same
// field names and order as JSON output.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	blockStyle(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle clears the flow and quoting styles inherited from JSON.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

var (
	headerColor = color.New(color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	errColor    = color.New(color.FgRed)
	dimColor    = color.New(color.Faint)
)

func header(w io.Writer, cols ...string) {
	fmt.Fprintln(w, headerColor.Sprint(strings.Join(cols, "\t")))
}

func statusText(s state.Status) string {
	switch s {
	case state.StatusDeployed:
		return okColor.Sprint(s)
	case state.StatusPending:
		return warnColor.Sprint(s)
	case state.StatusFailed:
		return errColor.Sprint(s)
	default:
		return dimColor.Sprint(s)
	}
}

func timeText(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func listText(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ",")
}

func metadataText(md state.Metadata) string {
	if len(md) == 0 {
		return "-"
	}
	m := md.AsMap()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func resourceTable(resources []*state.Resource) func(io.Writer) {
	return func(w io.Writer) {
		header(w, "ID", "TYPE", "NAME", "AGENT", "STATUS", "DEPENDS ON", "DEPLOYED AT")
		for _, r := range resources {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.Type, orDash(r.Name), r.AgentType, statusText(r.Status),
				listText(r.DependsOn), timeText(r.DeployedAt))
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// resourceList keeps JSON output an array even when empty.
func resourceList(resources []*state.Resource) []*state.Resource {
	if resources == nil {
		return []*state.Resource{}
	}
	return resources
}
