package state

import (
	"fmt"
	"slices"
	"strings"
)

// DependencyGraph indexes depends_on edges over a set of resources.
// Forward edges point from a resource to what it depends on; reverse
// edges point from a dependency to its dependents.
type DependencyGraph struct {
	// order is the resource ID order as given, used for deterministic walks
	order []string

	// nodes maps resource IDs to their resources
	nodes map[string]*Resource

	// dependencies maps resource IDs to the IDs they depend on
	dependencies map[string][]string

	// dependents maps resource IDs to the IDs that depend on them
	dependents map[string][]string
}

// NewDependencyGraph builds a graph from resources. Edges may reference IDs
// that are not part of the set. The graph does not copy the resources.
func NewDependencyGraph(resources []*Resource) *DependencyGraph {
	g := &DependencyGraph{
		order:        make([]string, 0, len(resources)),
		nodes:        make(map[string]*Resource, len(resources)),
		dependencies: make(map[string][]string, len(resources)),
		dependents:   make(map[string][]string),
	}
	for _, r := range resources {
		g.add(r)
	}
	return g
}

func (g *DependencyGraph) add(r *Resource) {
	if _, exists := g.nodes[r.ID]; !exists {
		g.order = append(g.order, r.ID)
	} else {
		g.dropEdges(r.ID)
	}
	g.nodes[r.ID] = r
	deps := dedupe(r.DependsOn)
	g.dependencies[r.ID] = deps
	for _, dep := range deps {
		g.dependents[dep] = append(g.dependents[dep], r.ID)
	}
}

func (g *DependencyGraph) dropEdges(id string) {
	for _, dep := range g.dependencies[id] {
		g.dependents[dep] = slices.DeleteFunc(g.dependents[dep], func(s string) bool { return s == id })
	}
	delete(g.dependencies, id)
}

// Len returns the number of resources in the graph.
func (g *DependencyGraph) Len() int {
	return len(g.order)
}

// Has reports whether id is a resource in the graph.
func (g *DependencyGraph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Resource returns the resource for id, or nil.
func (g *DependencyGraph) Resource(id string) *Resource {
	return g.nodes[id]
}

// Dependencies returns the IDs id depends on directly.
func (g *DependencyGraph) Dependencies(id string) []string {
	return slices.Clone(g.dependencies[id])
}

// Dependents returns the IDs that depend on id directly.
func (g *DependencyGraph) Dependents(id string) []string {
	return slices.Clone(g.dependents[id])
}

// TransitiveDependents returns every ID that depends on id directly or
// indirectly, in breadth-first order. id itself is not included.
func (g *DependencyGraph) TransitiveDependents(id string) []string {
	seen := map[string]bool{id: true}
	queue := []string{id}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range g.dependents[cur] {
			if seen[d] {
				continue
			}
			seen[d] = true
			out = append(out, d)
			queue = append(queue, d)
		}
	}
	return out
}

// RemovalOrder orders ids so that every resource comes before the resources
// it depends on, directly or through intermediaries outside ids.
//
// Each ID is walked in input order with an iterative depth-first search over
// dependent edges; an ID is emitted once all of its dependents are finished.
// IDs unknown to the graph are emitted as having no dependents. Duplicates are
// ignored. A cycle reachable from ids fails with a CycleDetected error.
func (g *DependencyGraph) RemovalOrder(ids []string) ([]string, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	result := make([]string, 0, len(want))
	colors := make(map[string]visitColor)
	for _, id := range ids {
		if colors[id] != unvisited {
			continue
		}
		cycle := g.walk(id, g.dependents, colors, func(n string) {
			if want[n] {
				result = append(result, n)
			}
		})
		if cycle != nil {
			// the walk follows dependent edges; report the path in depends-on direction
			slices.Reverse(cycle)
			return nil, NewCycleError(cycle)
		}
	}
	return result, nil
}

// DetectCycle returns the first dependency cycle found, or nil.
// The path starts and ends with the same ID, each element depending on the next.
func (g *DependencyGraph) DetectCycle() []string {
	colors := make(map[string]visitColor)
	for _, id := range g.order {
		if colors[id] != unvisited {
			continue
		}
		if cycle := g.walk(id, g.dependencies, colors, nil); cycle != nil {
			return cycle
		}
	}
	return nil
}

// WouldCreateCycle reports the cycle that recording r would close, or nil.
// The graph is not modified.
func (g *DependencyGraph) WouldCreateCycle(r *Resource) []string {
	edges := make(map[string][]string, len(g.dependencies)+1)
	for id, deps := range g.dependencies {
		edges[id] = deps
	}
	edges[r.ID] = dedupe(r.DependsOn)
	return g.walk(r.ID, edges, make(map[string]visitColor), nil)
}

// Validate returns a CycleDetected error if the graph is not a DAG.
func (g *DependencyGraph) Validate() error {
	if cycle := g.DetectCycle(); cycle != nil {
		return NewCycleError(cycle)
	}
	return nil
}

type visitColor uint8

const (
	unvisited visitColor = iota
	onStack
	finished
)

type frame struct {
	id   string
	next int
}

// walk runs an iterative post-order DFS from start over edges, calling emit
// as each node finishes. It returns the cycle path if it reaches a node that
// is still on the stack.
func (g *DependencyGraph) walk(start string, edges map[string][]string, colors map[string]visitColor, emit func(string)) []string {
	stack := []frame{{id: start}}
	colors[start] = onStack

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		children := edges[top.id]
		if top.next < len(children) {
			child := children[top.next]
			top.next++
			switch colors[child] {
			case unvisited:
				colors[child] = onStack
				stack = append(stack, frame{id: child})
			case onStack:
				return cyclePath(stack, child)
			}
			continue
		}
		colors[top.id] = finished
		if emit != nil {
			emit(top.id)
		}
		stack = stack[:len(stack)-1]
	}
	return nil
}

func cyclePath(stack []frame, closing string) []string {
	start := slices.IndexFunc(stack, func(f frame) bool { return f.id == closing })
	path := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		path = append(path, f.id)
	}
	return append(path, closing)
}

// FormatCycle formats a cycle path for error messages.
func FormatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

// ToDOT renders the graph in Graphviz DOT format. Edges point from a
// resource to the resource it depends on. IDs in highlight are drawn bold.
func (g *DependencyGraph) ToDOT(highlight ...string) string {
	var sb strings.Builder

	sb.WriteString("digraph Resources {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, id := range g.order {
		r := g.nodes[id]
		label := fmt.Sprintf("%s\\n%s (%s)", id, r.Type, r.AgentType)
		attrs := fmt.Sprintf("label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"", label, statusColor(r.Status))
		if slices.Contains(highlight, id) {
			attrs += ", penwidth=3"
		}
		fmt.Fprintf(&sb, "  %q [%s];\n", id, attrs)
	}

	sb.WriteString("\n")
	for _, id := range g.order {
		for _, dep := range g.dependencies[id] {
			style := "style=solid, color=black"
			if !g.Has(dep) {
				style = "style=dashed, color=gray"
			}
			fmt.Fprintf(&sb, "  %q -> %q [%s];\n", id, dep, style)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func statusColor(s Status) string {
	switch s {
	case StatusDeployed:
		return "lightgreen"
	case StatusPending:
		return "lightyellow"
	case StatusFailed:
		return "lightcoral"
	case StatusRemoved:
		return "lightgray"
	default:
		return "white"
	}
}
