package config

import "time"

// ExecutorConfig declares a named executor.
type ExecutorConfig struct {
	Mode    string `json:"mode"`              // "serial" or "concurrent"
	Workers int    `json:"workers,omitempty"` // Pool size for concurrent executors
}

// RetryConfig is the backoff policy for retried work.
type RetryConfig struct {
	MaxAttempts       int     `json:"max_attempts"`
	InitialIntervalMs int     `json:"initial_interval_ms"`
	MaxIntervalMs     int     `json:"max_interval_ms"`
	Multiplier        float64 `json:"multiplier"`
}

// BreakerConfig tunes the circuit breakers guarding retried work.
type BreakerConfig struct {
	MaxRequests      uint32 `json:"max_requests"`      // Requests allowed while half-open
	IntervalMs       int    `json:"interval_ms"`       // Closed-state count reset period
	TimeoutMs        int    `json:"timeout_ms"`        // Open-state duration
	FailureThreshold uint32 `json:"failure_threshold"` // Consecutive failures that trip the breaker
}

// TraceConfig controls the SQLite task trace.
type TraceConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// RuntimeConfig is the top-level configuration.
type RuntimeConfig struct {
	Workers           int                       `json:"workers"`             // Default executor pool size, 0 = automatic
	DefaultPriority   string                    `json:"default_priority"`    // background, low, medium, high
	DeadlockTimeoutMs int                       `json:"deadlock_timeout_ms"` // 0 disables the watchdog
	EventBuffer       int                       `json:"event_buffer"`        // Per-subscriber event buffer
	Executors         map[string]ExecutorConfig `json:"executors"`
	Retry             RetryConfig               `json:"retry"`
	Breaker           BreakerConfig             `json:"breaker"`
	Trace             TraceConfig               `json:"trace"`
}

// DeadlockTimeout returns the watchdog patience for isolation hops.
func (c *RuntimeConfig) DeadlockTimeout() time.Duration {
	return time.Duration(c.DeadlockTimeoutMs) * time.Millisecond
}

// InitialInterval returns the first retry wait.
func (r RetryConfig) InitialInterval() time.Duration {
	return time.Duration(r.InitialIntervalMs) * time.Millisecond
}

// MaxInterval returns the cap on retry waits.
func (r RetryConfig) MaxInterval() time.Duration {
	return time.Duration(r.MaxIntervalMs) * time.Millisecond
}

// Interval returns the closed-state reset period.
func (b BreakerConfig) Interval() time.Duration {
	return time.Duration(b.IntervalMs) * time.Millisecond
}

// Timeout returns how long a tripped breaker stays open.
func (b BreakerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutMs) * time.Millisecond
}
