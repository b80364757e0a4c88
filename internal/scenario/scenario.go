// Package scenario holds the demo workloads run by the structured command.
// Each one exercises part of the runtime and checks its own outcome.
package scenario

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/aristath/structured/internal/config"
	"github.com/aristath/structured/internal/executor"
	"github.com/aristath/structured/internal/resilience"
	"github.com/aristath/structured/internal/task"
)

// All runs every scenario in registration order.
const All = "all"

// Env is what a scenario runs against.
type Env struct {
	Config    *config.RuntimeConfig
	Executors *config.Executors
	Breakers  *resilience.BreakerRegistry
	Out       io.Writer
}

// NewEnv builds executors and breakers from cfg.
func NewEnv(cfg *config.RuntimeConfig, out io.Writer) *Env {
	return &Env{
		Config:    cfg,
		Executors: config.BuildExecutors(cfg),
		Breakers:  resilience.NewBreakerRegistry(resilience.BreakerFromConfig(cfg.Breaker)),
		Out:       out,
	}
}

// Close shuts the environment's executors down.
func (e *Env) Close() {
	e.Executors.Shutdown()
}

// Main is the serial executor scenarios treat as the main actor's.
func (e *Env) Main() executor.Executor { return e.Executors.Get("main") }

// IO is the pool scenarios use for blocking-style work.
func (e *Env) IO() executor.Executor { return e.Executors.Get("io") }

func (e *Env) printf(format string, args ...any) {
	fmt.Fprintf(e.Out, format, args...)
}

// Scenario is one named demo.
type Scenario struct {
	Name        string
	Description string
	Run         func(ctx context.Context, env *Env) error
}

var registry = []Scenario{
	{"a", "group results arrive in completion order", completionOrder},
	{"b", "cancelling a parent cancels its running children", cancelPropagation},
	{"c", "an actor serializes concurrent increments", actorCounter},
	{"preference", "executor preference is inherited, reset, and dropped by detached tasks", executorPreference},
	{"timeout", "work racing a deadline", timeouts},
	{"pipeline", "a step graph with retries, shared resources, and failure modes", pipeline},
}

// Names lists the scenario names, including All.
func Names() []string {
	names := make([]string, 0, len(registry)+1)
	for _, s := range registry {
		names = append(names, s.Name)
	}
	return append(names, All)
}

// Lookup finds a scenario by name.
func Lookup(name string) (Scenario, bool) {
	for _, s := range registry {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}

// Describe writes one line per scenario.
func Describe(w io.Writer) {
	byName := make([]Scenario, len(registry))
	copy(byName, registry)
	sort.SliceStable(byName, func(i, j int) bool { return byName[i].Name < byName[j].Name })
	for _, s := range byName {
		fmt.Fprintf(w, "  %-11s %s\n", s.Name, s.Description)
	}
}

// Run runs the named scenario, or every scenario for All, each as its own
// root task.
func Run(ctx context.Context, env *Env, name string) error {
	if name == All {
		for _, s := range registry {
			if err := runOne(ctx, env, s); err != nil {
				return err
			}
		}
		return nil
	}

	s, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("unknown scenario %q", name)
	}
	return runOne(ctx, env, s)
}

func runOne(ctx context.Context, env *Env, s Scenario) error {
	env.printf("== %s: %s\n", s.Name, s.Description)

	h := task.Spawn(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.Run(ctx, env)
	}, task.WithName("scenario:"+s.Name), task.WithPriority(env.Config.Priority()))

	if _, err := h.Await(ctx); err != nil {
		return fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return nil
}
