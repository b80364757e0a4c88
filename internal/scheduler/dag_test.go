package scheduler

import (
	"strings"
	"testing"
)

// TestDAGValidate tests DAG validation with various graph structures.
func TestDAGValidate(t *testing.T) {
	tests := []struct {
		name        string
		steps       []*Step
		wantErr     bool
		errContains string
	}{
		{
			name: "valid linear chain",
			steps: []*Step{
				{ID: "A"},
				{ID: "B", DependsOn: []string{"A"}},
				{ID: "C", DependsOn: []string{"B"}},
			},
		},
		{
			name: "valid parallel steps",
			steps: []*Step{
				{ID: "A"},
				{ID: "B"},
				{ID: "C", DependsOn: []string{"A", "B"}},
			},
		},
		{
			name:  "single step no deps",
			steps: []*Step{{ID: "A"}},
		},
		{
			name: "direct cycle",
			steps: []*Step{
				{ID: "A", DependsOn: []string{"B"}},
				{ID: "B", DependsOn: []string{"A"}},
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name: "transitive cycle behind a root",
			steps: []*Step{
				{ID: "R"},
				{ID: "A", DependsOn: []string{"R", "C"}},
				{ID: "B", DependsOn: []string{"A"}},
				{ID: "C", DependsOn: []string{"B"}},
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name: "missing dependency",
			steps: []*Step{
				{ID: "A", DependsOn: []string{"nonexistent"}},
			},
			wantErr:     true,
			errContains: "nonexistent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dag := NewDAG()
			for _, s := range tt.steps {
				if err := dag.AddStep(s); err != nil {
					t.Fatalf("AddStep(%s): %v", s.ID, err)
				}
			}

			order, err := dag.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("Error message %q doesn't contain %q", err.Error(), tt.errContains)
				}
				return
			}
			if len(order) != len(tt.steps) {
				t.Fatalf("expected %d steps in order, got %v", len(tt.steps), order)
			}
			pos := make(map[string]int, len(order))
			for i, id := range order {
				pos[id] = i
			}
			for _, s := range tt.steps {
				for _, dep := range s.DependsOn {
					if pos[dep] >= pos[s.ID] {
						t.Errorf("%s ordered before its dependency %s: %v", s.ID, dep, order)
					}
				}
			}
		})
	}
}

func TestDAGAddStep(t *testing.T) {
	dag := NewDAG()
	if err := dag.AddStep(&Step{ID: "A"}); err != nil {
		t.Fatalf("AddStep: %v", err)
	}
	if err := dag.AddStep(&Step{ID: "A"}); err == nil {
		t.Error("expected duplicate ID to be rejected")
	}
	if err := dag.AddStep(&Step{}); err == nil {
		t.Error("expected empty ID to be rejected")
	}
}

func TestDAGGetReturnsCopy(t *testing.T) {
	dag := NewDAG()
	dag.AddStep(&Step{ID: "A", Resources: []string{"db"}})

	s, ok := dag.Get("A")
	if !ok {
		t.Fatal("step A not found")
	}
	s.Status = StepFailed
	s.Resources[0] = "mutated"

	again, _ := dag.Get("A")
	if again.Status != StepPending || again.Resources[0] != "db" {
		t.Errorf("Get leaked internal state: %+v", again)
	}
	if _, ok := dag.Get("missing"); ok {
		t.Error("expected missing step to be reported")
	}
}

func TestChain(t *testing.T) {
	dag, err := Chain(&Step{ID: "fetch"}, &Step{ID: "parse"}, &Step{ID: "store"})
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}

	order, err := dag.Order()
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	want := []string{"fetch", "parse", "store"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
	if deps := dag.Dependents("fetch"); len(deps) != 1 || deps[0] != "parse" {
		t.Errorf("expected parse to depend on fetch, got %v", deps)
	}
}
