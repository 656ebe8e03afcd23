package identity

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func graphResources() []Resource {
	return []Resource{
		{Type: "database", CurrentID: "db1", Name: "orders-db"},
		{Type: "queue", CurrentID: "q1", Name: "orders-queue", Dependencies: []string{"db1"}},
		{Type: "function", CurrentID: "fn1", Name: "api", Dependencies: []string{"db1", "q1"}},
		{Type: "function", CurrentID: "fn2", Name: "worker", Dependencies: []string{"q1"}},
	}
}

func TestBuildGraph_Levels(t *testing.T) {
	g, err := BuildGraph(graphResources())
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	if g.Depth != 3 {
		t.Errorf("Expected depth 3, got %d", g.Depth)
	}
	if !reflect.DeepEqual(g.Roots, []string{"db1"}) {
		t.Errorf("Unexpected roots: %v", g.Roots)
	}

	want := [][]string{{"db1"}, {"q1"}, {"fn1", "fn2"}}
	if got := g.Levels(); !reflect.DeepEqual(got, want) {
		t.Errorf("Unexpected levels: %v", got)
	}

	if got := g.OrderedByDependency(); !reflect.DeepEqual(got, []string{"db1", "q1", "fn1", "fn2"}) {
		t.Errorf("Unexpected order: %v", got)
	}
}

func TestBuildGraph_Empty(t *testing.T) {
	g, err := BuildGraph(nil)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}
	if len(g.Nodes) != 0 || g.Depth != 0 {
		t.Errorf("Expected empty graph, got %+v", g)
	}
}

func TestBuildGraph_Deterministic(t *testing.T) {
	first, err := BuildGraph(graphResources())
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}
	second, err := BuildGraph(graphResources())
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	if !reflect.DeepEqual(first.Edges, second.Edges) {
		t.Errorf("Edges differ between identical inputs:\n%v\n%v", first.Edges, second.Edges)
	}
	if !reflect.DeepEqual(first.Levels(), second.Levels()) {
		t.Errorf("Levels differ between identical inputs")
	}
}

func TestBuildGraph_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		resources []Resource
		wantErr   string
	}{
		{
			name:      "empty ID",
			resources: []Resource{{Type: "queue", Name: "orders-queue"}},
			wantErr:   "empty current ID",
		},
		{
			name: "duplicate ID",
			resources: []Resource{
				{Type: "queue", CurrentID: "q1"},
				{Type: "topic", CurrentID: "q1"},
			},
			wantErr: "duplicate resource ID",
		},
		{
			name: "unknown dependency",
			resources: []Resource{
				{Type: "function", CurrentID: "fn1", Dependencies: []string{"missing"}},
			},
			wantErr: "unknown resource",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildGraph(tt.resources)
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected %q in error, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestBuildGraph_CycleDetection(t *testing.T) {
	_, err := BuildGraph([]Resource{
		{Type: "function", CurrentID: "a", Dependencies: []string{"c"}},
		{Type: "function", CurrentID: "b", Dependencies: []string{"a"}},
		{Type: "function", CurrentID: "c", Dependencies: []string{"b"}},
	})
	if err == nil {
		t.Fatal("Expected a cycle error")
	}

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected CycleError, got %T: %v", err, err)
	}
	if len(cycleErr.Cycle) != 4 {
		t.Errorf("Expected cycle of length 4, got %v", cycleErr.Cycle)
	}
	if cycleErr.Cycle[0] != cycleErr.Cycle[len(cycleErr.Cycle)-1] {
		t.Errorf("Cycle should close on itself: %v", cycleErr.Cycle)
	}
}

func TestBuildGraph_SelfDependency(t *testing.T) {
	_, err := BuildGraph([]Resource{
		{Type: "function", CurrentID: "a", Dependencies: []string{"a"}},
	})
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected CycleError, got %T: %v", err, err)
	}
}

func TestResourceGraphToDOT(t *testing.T) {
	resources := graphResources()
	g, err := BuildGraph(resources)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	dot := g.ToDOT(resources)
	for _, want := range []string{
		"digraph ResourceGraph",
		`"db1" -> "q1";`,
		`orders-queue\nqueue`,
		"cluster_level_2",
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT output to contain %q:\n%s", want, dot)
		}
	}
}

func TestResourceGraphToDOT_EscapesLabels(t *testing.T) {
	resources := []Resource{
		{Type: `queue "primary"`, CurrentID: "q1", Name: `orders\main`},
	}
	g, err := BuildGraph(resources)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	dot := g.ToDOT(resources)
	if !strings.Contains(dot, `orders\\main\nqueue \"primary\"`) {
		t.Errorf("Expected quotes and backslashes escaped in label:\n%s", dot)
	}
	if strings.Contains(dot, `label="orders\main`) {
		t.Errorf("Found unescaped label:\n%s", dot)
	}
}
