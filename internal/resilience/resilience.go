// Package resilience retries task work with exponential backoff behind
// per-name circuit breakers. Waits between attempts are task suspensions, so
// a retrying task gives its executor to other work and stops as soon as it is
// cancelled.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/structured/internal/config"
	"github.com/aristath/structured/internal/task"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	MaxAttempts         int           // Total attempts including the first; 0 = unlimited
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time; 0 = unlimited
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:         3,
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// RetryFromConfig maps the file configuration onto a RetryConfig, keeping
// defaults for unset values.
func RetryFromConfig(c config.RetryConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		rc.MaxAttempts = c.MaxAttempts
	}
	if c.InitialIntervalMs > 0 {
		rc.InitialInterval = c.InitialInterval()
	}
	if c.MaxIntervalMs > 0 {
		rc.MaxInterval = c.MaxInterval()
	}
	if c.Multiplier > 0 {
		rc.Multiplier = c.Multiplier
	}
	return rc
}

func (c RetryConfig) policy() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.InitialInterval
	exp.MaxInterval = c.MaxInterval
	exp.MaxElapsedTime = c.MaxElapsedTime
	exp.Multiplier = c.Multiplier
	exp.RandomizationFactor = c.RandomizationFactor

	var b backoff.BackOff = exp
	if c.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(c.MaxAttempts-1))
	}
	b.Reset()
	return b
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// BreakerSettings tunes the breakers a registry creates.
type BreakerSettings struct {
	MaxRequests      uint32        // Requests allowed while half-open
	Interval         time.Duration // Closed-state count reset period; 0 never resets
	Timeout          time.Duration // How long a tripped breaker stays open
	FailureThreshold uint32        // Consecutive failures that trip the breaker
}

// DefaultBreakerSettings returns the default breaker settings.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:      3,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerFromConfig maps the file configuration onto BreakerSettings.
func BreakerFromConfig(c config.BreakerConfig) BreakerSettings {
	s := DefaultBreakerSettings()
	if c.MaxRequests > 0 {
		s.MaxRequests = c.MaxRequests
	}
	if c.IntervalMs > 0 {
		s.Interval = c.Interval()
	}
	if c.TimeoutMs > 0 {
		s.Timeout = c.Timeout()
	}
	if c.FailureThreshold > 0 {
		s.FailureThreshold = c.FailureThreshold
	}
	return s
}

// BreakerRegistry manages circuit breakers keyed by name.
type BreakerRegistry struct {
	settings BreakerSettings

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates a new circuit breaker registry.
func NewBreakerRegistry(settings BreakerSettings) *BreakerRegistry {
	return &BreakerRegistry{
		settings: settings,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for name, creating it on first use.
func (r *BreakerRegistry) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	threshold := r.settings.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: r.settings.MaxRequests,
		Interval:    r.settings.Interval,
		Timeout:     r.settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("WARNING: circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Cancellation says nothing about the health of the work.
			return err == nil || task.IsCancellation(err) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[name] = cb
	return cb
}

// State returns the state of the named breaker.
func (r *BreakerRegistry) State(name string) gobreaker.State {
	return r.Get(name).State()
}

// Retry runs work through cb until it succeeds, fails permanently, the
// breaker rejects it, the policy gives up, or the calling task is cancelled.
// Cancellation is never retried.
func Retry[T any](ctx context.Context, cb *gobreaker.CircuitBreaker, cfg RetryConfig, work task.Work[T]) (T, error) {
	var zero T
	policy := cfg.policy()

	for attempt := 1; ; attempt++ {
		if err := task.CheckCancellation(ctx); err != nil {
			return zero, err
		}

		result, err := cb.Execute(func() (any, error) {
			return work(ctx)
		})
		if err == nil {
			v, _ := result.(T)
			return v, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("breaker %s: %w", cb.Name(), err)
		}
		if task.IsCancellation(err) {
			return zero, err
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return zero, perm.Err
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return zero, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		if err := task.Sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}
