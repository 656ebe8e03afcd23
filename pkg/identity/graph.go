package identity

import (
	"fmt"
	"sort"
	"strings"
)

// GraphNode is one resource in a dependency graph.
type GraphNode struct {
	// ID is the resource's current identifier.
	ID string `json:"id"`

	// Level is the node's depth in the topological ordering. Nodes at the
	// same level have no dependencies on each other.
	Level int `json:"level"`

	// Dependencies lists the IDs this node depends on.
	Dependencies []string `json:"dependencies,omitempty"`

	// Dependents lists the IDs that depend on this node.
	Dependents []string `json:"dependents,omitempty"`
}

// GraphEdge is one dependency edge. From must exist before To.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ResourceGraph is the dependency graph over a run's resource set.
type ResourceGraph struct {
	// Nodes maps current IDs to graph nodes.
	Nodes map[string]*GraphNode `json:"nodes"`

	// Edges lists every dependency edge.
	Edges []GraphEdge `json:"edges"`

	// Roots lists IDs with no dependencies.
	Roots []string `json:"roots"`

	// Depth is the number of topological levels.
	Depth int `json:"depth"`
}

// CycleError reports a circular dependency between resources. Circular
// dependencies abort the entire run before any strategy is evaluated.
type CycleError struct {
	Cycle []string `json:"cycle"`
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("circular resource dependency: %s", strings.Join(e.Cycle, " -> "))
}

// graphBuilder holds the intermediate state while constructing a graph.
type graphBuilder struct {
	resources map[string]*Resource
	// forward maps an ID to the IDs that depend on it.
	forward map[string][]string
	// backward maps an ID to the IDs it depends on.
	backward map[string][]string
	inDegree map[string]int
	levels   [][]string
}

// BuildGraph constructs the dependency graph for a resource set. It rejects
// duplicate identifiers, references to unknown resources and circular
// dependencies.
func BuildGraph(resources []Resource) (*ResourceGraph, error) {
	if len(resources) == 0 {
		return &ResourceGraph{
			Nodes: make(map[string]*GraphNode),
			Edges: make([]GraphEdge, 0),
			Roots: make([]string, 0),
		}, nil
	}

	b := &graphBuilder{
		resources: make(map[string]*Resource, len(resources)),
		forward:   make(map[string][]string),
		backward:  make(map[string][]string),
		inDegree:  make(map[string]int),
	}

	if err := b.index(resources); err != nil {
		return nil, err
	}
	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	return b.build(), nil
}

func (b *graphBuilder) index(resources []Resource) error {
	for i := range resources {
		r := &resources[i]
		if r.CurrentID == "" {
			return fmt.Errorf("resource %q has empty current ID", r.Name)
		}
		if _, exists := b.resources[r.CurrentID]; exists {
			return fmt.Errorf("duplicate resource ID: %s", r.CurrentID)
		}
		b.resources[r.CurrentID] = r
		b.forward[r.CurrentID] = make([]string, 0)
		b.backward[r.CurrentID] = make([]string, 0)
		b.inDegree[r.CurrentID] = 0
	}

	for _, r := range b.resources {
		for _, dep := range r.Dependencies {
			if _, exists := b.resources[dep]; !exists {
				return fmt.Errorf("resource %s depends on unknown resource %s", r.CurrentID, dep)
			}
			b.forward[dep] = append(b.forward[dep], r.CurrentID)
			b.backward[r.CurrentID] = append(b.backward[r.CurrentID], dep)
			b.inDegree[r.CurrentID]++
		}
	}

	return nil
}

// detectCycles runs a depth-first search over every node. Nodes are visited
// in sorted order so the reported cycle is stable.
func (b *graphBuilder) detectCycles() error {
	ids := make([]string, 0, len(b.resources))
	for id := range b.resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	visited := make(map[string]bool)
	inStack := make(map[string]bool)

	for _, id := range ids {
		if visited[id] {
			continue
		}
		if cycle := b.walk(id, visited, inStack, nil); cycle != nil {
			return &CycleError{Cycle: cycle}
		}
	}

	return nil
}

func (b *graphBuilder) walk(id string, visited, inStack map[string]bool, path []string) []string {
	visited[id] = true
	inStack[id] = true
	path = append(path, id)

	for _, next := range b.forward[id] {
		if !visited[next] {
			if cycle := b.walk(next, visited, inStack, path); cycle != nil {
				return cycle
			}
		} else if inStack[next] {
			start := 0
			for i, p := range path {
				if p == next {
					start = i
					break
				}
			}
			return append(append([]string(nil), path[start:]...), next)
		}
	}

	inStack[id] = false
	return nil
}

// computeLevels assigns topological levels with Kahn's algorithm. Level
// membership is sorted so equal inputs always produce equal graphs.
func (b *graphBuilder) computeLevels() error {
	degree := make(map[string]int, len(b.inDegree))
	for id, d := range b.inDegree {
		degree[id] = d
	}

	current := make([]string, 0)
	for id, d := range degree {
		if d == 0 {
			current = append(current, id)
		}
	}

	processed := 0
	for len(current) > 0 {
		sort.Strings(current)
		b.levels = append(b.levels, current)
		processed += len(current)

		next := make([]string, 0)
		for _, id := range current {
			for _, dependent := range b.forward[id] {
				degree[dependent]--
				if degree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	// Unreachable after detectCycles, kept as a backstop.
	if processed != len(b.resources) {
		return fmt.Errorf("dependency graph is not acyclic")
	}

	return nil
}

func (b *graphBuilder) build() *ResourceGraph {
	g := &ResourceGraph{
		Nodes: make(map[string]*GraphNode, len(b.resources)),
		Edges: make([]GraphEdge, 0),
		Roots: make([]string, 0),
		Depth: len(b.levels),
	}

	for level, ids := range b.levels {
		for _, id := range ids {
			g.Nodes[id] = &GraphNode{
				ID:           id,
				Level:        level,
				Dependencies: b.backward[id],
				Dependents:   b.forward[id],
			}
			if level == 0 {
				g.Roots = append(g.Roots, id)
			}
		}
	}

	ids := make([]string, 0, len(b.resources))
	for id := range b.resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, dep := range b.backward[id] {
			g.Edges = append(g.Edges, GraphEdge{From: dep, To: id})
		}
	}

	return g
}

// Levels returns node IDs grouped by topological level. Resources within a
// level have no dependencies on each other.
func (g *ResourceGraph) Levels() [][]string {
	levels := make([][]string, g.Depth)
	for i := range levels {
		levels[i] = make([]string, 0)
	}
	for _, node := range g.Nodes {
		levels[node.Level] = append(levels[node.Level], node.ID)
	}
	for i := range levels {
		sort.Strings(levels[i])
	}
	return levels
}

// OrderedByDependency returns every node ID in topological order.
func (g *ResourceGraph) OrderedByDependency() []string {
	out := make([]string, 0, len(g.Nodes))
	for _, level := range g.Levels() {
		out = append(out, level...)
	}
	return out
}

// ToDOT renders the graph in Graphviz DOT format, grouped by level.
func (g *ResourceGraph) ToDOT(resources []Resource) string {
	byID := make(map[string]*Resource, len(resources))
	for i := range resources {
		byID[resources[i].CurrentID] = &resources[i]
	}

	var sb strings.Builder
	sb.WriteString("digraph ResourceGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range g.Levels() {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			label := escapeDOT(id)
			if r, ok := byID[id]; ok {
				label = escapeDOT(r.Name) + "\\n" + escapeDOT(r.Type)
			}
			sb.WriteString(fmt.Sprintf("    %q [label=\"%s\"];\n", id, label))
		}
		sb.WriteString("  }\n\n")
	}

	for _, edge := range g.Edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q;\n", edge.From, edge.To))
	}

	sb.WriteString("}\n")
	return sb.String()
}

// escapeDOT escapes a string for use inside a double-quoted DOT label.
func escapeDOT(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
