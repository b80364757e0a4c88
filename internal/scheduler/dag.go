package scheduler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
)

// DAG is a directed acyclic graph of steps.
type DAG struct {
	mu         sync.RWMutex
	steps      map[string]*Step    // All steps indexed by ID
	dependents map[string][]string // Maps stepID -> steps that depend on it
	locks      *ResourceLockManager
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		steps:      make(map[string]*Step),
		dependents: make(map[string][]string),
		locks:      NewResourceLockManager(),
	}
}

// Chain builds a DAG in which every step depends on the one before it.
// Dependencies already listed on a step are kept.
func Chain(steps ...*Step) (*DAG, error) {
	d := NewDAG()
	for i, s := range steps {
		if i > 0 {
			s.DependsOn = append(s.DependsOn, steps[i-1].ID)
		}
		if err := d.AddStep(s); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// AddStep adds a step to the DAG. Returns error if the ID already exists.
func (d *DAG) AddStep(step *Step) error {
	if step.ID == "" {
		return fmt.Errorf("step has no ID")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.steps[step.ID]; exists {
		return fmt.Errorf("step with ID %q already exists", step.ID)
	}

	d.steps[step.ID] = step
	for _, depID := range step.DependsOn {
		d.dependents[depID] = append(d.dependents[depID], step.ID)
	}
	return nil
}

// Validate runs a topological sort and returns the step IDs in dependency
// order. It fails on a cycle or on a dependency that names no step.
func (d *DAG) Validate() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for stepID, step := range d.steps {
		for _, depID := range step.DependsOn {
			if _, exists := d.steps[depID]; !exists {
				return nil, fmt.Errorf("step %q depends on non-existent step %q", stepID, depID)
			}
		}
	}

	var edges []toposort.Edge
	for stepID, step := range d.steps {
		if len(step.DependsOn) == 0 {
			// Root step: an edge from nil keeps it in the result
			edges = append(edges, toposort.Edge{nil, stepID})
			continue
		}
		for _, depID := range step.DependsOn {
			// Edge (depID, stepID) means depID must come before stepID
			edges = append(edges, toposort.Edge{depID, stepID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("DAG contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	// Steps on a cycle with no root never make it into the sort
	if len(order) != len(d.steps) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for stepID := range d.steps {
			if !found[stepID] {
				missing = append(missing, stepID)
			}
		}
		return nil, fmt.Errorf("DAG contains cycle: unreachable steps %s", strings.Join(missing, ", "))
	}

	return order, nil
}

// Dependents returns the IDs of steps that list stepID in DependsOn.
func (d *DAG) Dependents(stepID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.dependents[stepID]...)
}

// Get returns a copy of the step with the given ID.
func (d *DAG) Get(stepID string) (*Step, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	step, exists := d.steps[stepID]
	if !exists {
		return nil, false
	}
	return cloneStep(step), true
}

// Steps returns copies of all steps in dependency order, or in no particular
// order if the DAG does not validate.
func (d *DAG) Steps() []*Step {
	order, err := d.Validate()

	d.mu.RLock()
	defer d.mu.RUnlock()

	steps := make([]*Step, 0, len(d.steps))
	if err == nil {
		for _, id := range order {
			steps = append(steps, cloneStep(d.steps[id]))
		}
		return steps
	}
	for _, step := range d.steps {
		steps = append(steps, cloneStep(step))
	}
	return steps
}

// Order returns topologically sorted step IDs (calls Validate).
func (d *DAG) Order() ([]string, error) {
	return d.Validate()
}

func (d *DAG) setStatus(stepID string, status StepStatus, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	step := d.steps[stepID]
	step.Status = status
	step.Error = err
}

func (d *DAG) status(stepID string) (StepStatus, FailureMode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	step := d.steps[stepID]
	return step.Status, step.FailureMode, step.Error
}

func cloneStep(step *Step) *Step {
	if step == nil {
		return nil
	}

	cp := *step
	if step.DependsOn != nil {
		cp.DependsOn = append([]string(nil), step.DependsOn...)
	}
	if step.Resources != nil {
		cp.Resources = append([]string(nil), step.Resources...)
	}
	return &cp
}
