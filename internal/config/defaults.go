package config

// DefaultConfig returns the built-in configuration: an automatic default
// pool, a serial "main" executor and an "io" pool.
func DefaultConfig() *RuntimeConfig {
	return &RuntimeConfig{
		Workers:           0,
		DefaultPriority:   "medium",
		DeadlockTimeoutMs: 5000,
		EventBuffer:       256,
		Executors: map[string]ExecutorConfig{
			"main": {Mode: "serial"},
			"io":   {Mode: "concurrent", Workers: 8},
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			InitialIntervalMs: 100,
			MaxIntervalMs:     2000,
			Multiplier:        2.0,
		},
		Breaker: BreakerConfig{
			MaxRequests:      1,
			IntervalMs:       60000,
			TimeoutMs:        30000,
			FailureThreshold: 5,
		},
		Trace: TraceConfig{
			Enabled: false,
			Path:    "structured-trace.db",
		},
	}
}
