package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/itsneelabh/agentrt/core"
)

// RetryConfig configures retry behavior: fixed attempt budget, exponential
// backoff, optional jitter.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryConfig provides sensible defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// defaultRateLimitPolicy is the larger retry budget applied once an error
// classifies as rate_limited: more attempts, a much longer cap, since the
// caller is waiting on an external quota window rather than a transient
// blip.
func defaultRateLimitPolicy() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   core.DefaultRateLimitMaxAttempt,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      core.DefaultRateLimitMaxDelay,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// RetryAfterProvider lets an error carry a server-supplied retry delay
// (e.g. an HTTP 429's Retry-After header). When present it overrides the
// computed backoff for that attempt.
type RetryAfterProvider interface {
	RetryAfter() (time.Duration, bool)
}

func retryAfterOf(err error) (time.Duration, bool) {
	var p RetryAfterProvider
	if errors.As(err, &p) {
		return p.RetryAfter()
	}
	return 0, false
}

// Retry executes a function with retry logic
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		// Check context
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Try the function
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		// Don't sleep after the last attempt
		if attempt == config.MaxAttempts {
			break
		}

		// Calculate next delay with exponential backoff
		if attempt > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}
		if delay < 0 {
			delay = 0
		}

		// Add jitter if enabled to prevent synchronized retries
		// across multiple clients (thundering herd mitigation)
		if config.JitterEnabled {
			jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
			delay += jitter
		}

		// Sleep with context cancellation
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded for %v: %w", config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}

// RetryWithCircuitBreaker combines retry logic with circuit breaker
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		if !cb.CanExecute() {
			return core.ErrCircuitBreakerOpen
		}

		err := fn()
		if err != nil {
			cb.RecordFailure()
			return err
		}

		cb.RecordSuccess()
		return nil
	})
}

// RetryExecutor is the named Retry/Backoff Engine: it classifies every
// failure through core.Classify and switches to the larger rate-limit
// budget when the kind is rate_limited, instead of matching on
// error-message substrings. It also composes with a per-key
// core.CircuitBreaker (resilience.CircuitBreaker underneath): repeated
// failures against the same downstream (an operation, or a
// (provider, model) pair) trip that key's breaker open, short-circuiting
// further attempts against it without waiting out the full retry budget,
// the way RetryWithCircuitBreaker does for a single fixed breaker.
type RetryExecutor struct {
	config           *RetryConfig
	rateLimitPolicy  *RetryConfig
	logger           core.Logger
	telemetryEnabled bool
	metrics          MetricsCollector

	breakersMu sync.Mutex
	breakers   map[string]core.CircuitBreaker
}

// NewRetryExecutor builds an executor around config (DefaultRetryConfig if
// nil) with the standard rate-limit override policy attached.
func NewRetryExecutor(config *RetryConfig) *RetryExecutor {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryExecutor{
		config:          config,
		rateLimitPolicy: defaultRateLimitPolicy(),
		logger:          &core.NoOpLogger{},
		breakers:        make(map[string]core.CircuitBreaker),
	}
}

// breakerFor returns the circuit breaker guarding key, creating one with
// CreateCircuitBreaker's production defaults (50% error threshold, 10
// request volume floor) on first use.
func (r *RetryExecutor) breakerFor(key string) core.CircuitBreaker {
	r.breakersMu.Lock()
	defer r.breakersMu.Unlock()
	if cb, ok := r.breakers[key]; ok {
		return cb
	}
	cb, err := CreateCircuitBreaker(key, ResilienceDependencies{Logger: r.logger})
	if err != nil {
		// DefaultConfig().Validate() cannot fail for a name-only override;
		// fall back to a breaker-less passthrough rather than panic.
		r.logger.Warn("failed to create circuit breaker, proceeding without one", map[string]interface{}{
			"key": key, "error": err.Error(),
		})
		return nil
	}
	r.breakers[key] = cb
	return cb
}

// SetLogger attaches a logger, scoping it to the resilience component when
// the logger supports it.
func (r *RetryExecutor) SetLogger(logger core.Logger) {
	if logger == nil {
		r.logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		r.logger = cal.WithComponent("runtime/resilience")
		return
	}
	r.logger = logger
}

// SetRateLimitPolicy overrides the retry budget used once an error
// classifies as rate_limited.
func (r *RetryExecutor) SetRateLimitPolicy(policy *RetryConfig) {
	r.rateLimitPolicy = policy
}

// Execute runs fn under the configured retry policy, tagging every log
// line with the operation name so callers can correlate across attempts.
// Attempts are also gated by operation's own circuit breaker (see
// ExecuteWithBreakerKey to share a breaker across several operations that
// hit the same downstream, e.g. several sub-agents calling the same
// (provider, model) pair).
func (r *RetryExecutor) Execute(ctx context.Context, operation string, fn func() error) error {
	return r.ExecuteWithBreakerKey(ctx, operation, operation, fn)
}

// ExecuteWithBreakerKey is Execute with an explicit circuit-breaker key,
// letting several distinct operations (distinguished only for logging)
// share one breaker when they share one real downstream dependency.
func (r *RetryExecutor) ExecuteWithBreakerKey(ctx context.Context, operation, breakerKey string, fn func() error) error {
	cb := r.breakerFor(breakerKey)
	if cb != nil {
		wrapped := fn
		fn = func() error { return cb.Execute(ctx, wrapped) }
	}

	cfg := r.config
	logger := r.logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	logger.Info("Starting retry operation", map[string]interface{}{
		"operation":       "retry_start",
		"retry_operation": operation,
		"max_attempts":    cfg.MaxAttempts,
		"initial_delay":   cfg.InitialDelay.String(),
		"backoff_factor":  cfg.BackoffFactor,
	})

	maxAttempts := cfg.MaxAttempts
	delay := cfg.InitialDelay
	usingRateLimitPolicy := false
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			logger.Info("retry operation succeeded", map[string]interface{}{
				"operation":       "retry_success",
				"retry_operation": operation,
				"attempt":         attempt,
			})
			return nil
		}
		lastErr = err

		// Switch to the larger rate-limit budget the first time we see a
		// rate_limited classification; subsequent attempts keep using it.
		if !usingRateLimitPolicy && r.rateLimitPolicy != nil && core.Classify(err) == core.KindRateLimited {
			usingRateLimitPolicy = true
			cfg = r.rateLimitPolicy
			maxAttempts = cfg.MaxAttempts
			delay = cfg.InitialDelay
		}

		if attempt == maxAttempts {
			break
		}

		if retryAfter, ok := retryAfterOf(err); ok {
			delay = retryAfter
		} else {
			if attempt > 1 {
				delay = time.Duration(float64(delay) * cfg.BackoffFactor)
				if delay > cfg.MaxDelay {
					delay = cfg.MaxDelay
				}
			}
			if delay < 0 {
				delay = 0
			}
			if cfg.JitterEnabled {
				jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
				delay += jitter
			}
		}

		logger.Debug("backing off before retry", map[string]interface{}{
			"operation":       "retry_backoff",
			"retry_operation": operation,
			"attempt":         attempt,
			"delay_ms":        delay.Milliseconds(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	logger.Error("retry operation exhausted", map[string]interface{}{
		"operation":       "retry_exhausted",
		"retry_operation": operation,
		"attempts":        maxAttempts,
		"error":           lastErr.Error(),
		"kind":            string(core.Classify(lastErr)),
	})

	return fmt.Errorf("max retry attempts (%d) exceeded for %v: %w", maxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}
