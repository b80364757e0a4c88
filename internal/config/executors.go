package config

import (
	"runtime"

	"github.com/aristath/structured/internal/executor"
)

// Priority returns the configured default priority.
func (c *RuntimeConfig) Priority() executor.Priority {
	p, err := executor.ParsePriority(c.DefaultPriority)
	if err != nil {
		return executor.PriorityMedium
	}
	return p
}

// DefaultWorkers resolves the default pool size.
func (c *RuntimeConfig) DefaultWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return max(runtime.GOMAXPROCS(0), executor.MinDefaultWorkers)
}

// Executors holds the live executors built from a configuration.
type Executors struct {
	Default executor.Executor
	Named   map[string]executor.Executor
}

// Get returns the named executor, or the default one.
func (e *Executors) Get(name string) executor.Executor {
	if ex, ok := e.Named[name]; ok {
		return ex
	}
	return e.Default
}

// Shutdown shuts every executor down.
func (e *Executors) Shutdown() {
	for _, ex := range e.Named {
		ex.Shutdown()
	}
	e.Default.Shutdown()
}

// BuildExecutors creates the default pool and every named executor.
func BuildExecutors(c *RuntimeConfig) *Executors {
	ex := &Executors{
		Default: executor.NewConcurrent("default", c.DefaultWorkers()),
		Named:   make(map[string]executor.Executor, len(c.Executors)),
	}
	for name, ec := range c.Executors {
		if ec.Mode == "serial" {
			ex.Named[name] = executor.NewSerial(name)
			continue
		}
		workers := ec.Workers
		if workers <= 0 {
			workers = c.DefaultWorkers()
		}
		ex.Named[name] = executor.NewConcurrent(name, workers)
	}
	return ex
}
