package executor

import (
	"runtime"
	"sync"
)

// MinDefaultWorkers is the floor for the default pool size. Task bodies that
// block without suspending hold a worker, so a pool of one is too easy to
// starve.
const MinDefaultWorkers = 4

var (
	defaultMu   sync.Mutex
	defaultExec Executor
)

// Default returns the process-wide concurrent executor, creating it on first
// use with max(GOMAXPROCS, MinDefaultWorkers) workers.
func Default() Executor {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultExec == nil {
		defaultExec = NewConcurrent("default", max(runtime.GOMAXPROCS(0), MinDefaultWorkers))
	}
	return defaultExec
}

// SetDefault replaces the process-wide executor and returns the previous one.
// The previous executor is not shut down.
func SetDefault(ex Executor) Executor {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	prev := defaultExec
	defaultExec = ex
	return prev
}
