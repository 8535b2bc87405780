// Package resilience provides resilient execution patterns using fortify.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker open")

// errPermanent marks errors that must not be retried.
var errPermanent = errors.New("permanent failure")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() []error {
	return []error{e.err, errPermanent}
}

// Permanent marks err so the executor does not retry it. The original error
// stays reachable through errors.Is and errors.As.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Executor applies bulkhead, timeout, retry and circuit breaker patterns to
// operations returning T.
type Executor[T any] struct {
	bulkhead bulkhead.Bulkhead[T]
	breaker  circuitbreaker.CircuitBreaker[T]
	retry    retry.Retry[T]
	timeout  time.Duration
}

// ExecutorConfig configures the resilient executor.
type ExecutorConfig struct {
	// MaxConcurrent limits concurrent executions. Zero disables the bulkhead.
	MaxConcurrent int

	// CircuitBreakerThreshold is the number of consecutive failures before
	// opening. Zero disables the breaker.
	CircuitBreakerThreshold int

	// CircuitBreakerTimeout is how long the circuit stays open.
	CircuitBreakerTimeout time.Duration

	// RetryMaxAttempts is the total number of attempts, including the first.
	RetryMaxAttempts int

	// RetryInitialDelay is the initial delay between retries.
	RetryInitialDelay time.Duration

	// RetryBackoffMultiplier is the exponential backoff multiplier.
	RetryBackoffMultiplier float64

	// Timeout bounds the whole execution including retries. Zero means none.
	Timeout time.Duration
}

// DefaultExecutorConfig returns a configuration with sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
		RetryMaxAttempts:        2,
		RetryInitialDelay:       250 * time.Millisecond,
		RetryBackoffMultiplier:  2.0,
	}
}

// NewExecutor creates a new resilient executor.
func NewExecutor[T any](config ExecutorConfig) *Executor[T] {
	e := &Executor[T]{timeout: config.Timeout}

	if config.MaxConcurrent > 0 {
		e.bulkhead = bulkhead.New[T](bulkhead.Config{
			MaxConcurrent: config.MaxConcurrent,
		})
	}

	if config.CircuitBreakerThreshold > 0 {
		threshold := uint32(config.CircuitBreakerThreshold) // #nosec G115 -- positive checked above
		e.breaker = circuitbreaker.New[T](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    config.CircuitBreakerTimeout,
			Timeout:     config.CircuitBreakerTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		})
	}

	attempts := config.RetryMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	multiplier := config.RetryBackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	e.retry = retry.New[T](retry.Config{
		MaxAttempts:        attempts,
		InitialDelay:       config.RetryInitialDelay,
		BackoffPolicy:      retry.BackoffExponential,
		Multiplier:         multiplier,
		NonRetryableErrors: []error{errPermanent, context.Canceled, context.DeadlineExceeded},
	})

	return e
}

// Execute runs fn with resilience patterns applied.
// Composition order: Bulkhead → Timeout → Retry → Circuit Breaker.
func (e *Executor[T]) Execute(ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	run := func(ctx context.Context) (T, error) {
		if e.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}
		return e.retry.Do(ctx, func(ctx context.Context) (T, error) {
			return e.guarded(ctx, fn)
		})
	}

	var (
		result T
		err    error
	)
	if e.bulkhead != nil {
		result, err = e.bulkhead.Execute(ctx, run)
	} else {
		result, err = run(ctx)
	}
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil && !errors.Is(err, ctxErr) {
		err = errors.Join(ctxErr, err)
	}
	return result, err
}

// guarded runs one attempt through the breaker. A rejection by the breaker
// itself is reported as ErrCircuitOpen and is not retried.
func (e *Executor[T]) guarded(ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, Permanent(err)
	}
	if e.breaker == nil {
		return fn(ctx)
	}

	called := false
	result, err := e.breaker.Execute(ctx, func(ctx context.Context) (T, error) {
		called = true
		return fn(ctx)
	})
	if err != nil && !called {
		return result, Permanent(ErrCircuitOpen)
	}
	return result, err
}

// CircuitBreakerState returns the current state of the circuit breaker.
// It reports closed when no breaker is configured.
func (e *Executor[T]) CircuitBreakerState() circuitbreaker.State {
	if e.breaker == nil {
		var closed circuitbreaker.State
		return closed
	}
	return e.breaker.State()
}
