// Package retry provides exponential backoff for the offline subsystem: the
// Policy used to schedule queued operations, and a context-aware Do loop for
// in-process retries.
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/c360/offlinekit/errors"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return stderrors.As(err, &nre)
}

// ShouldRetry reports whether err is worth another attempt: it is not marked
// non-retryable and its kind or class is transient.
func ShouldRetry(err error) bool {
	return err != nil && !IsNonRetryable(err) && errors.IsRetryable(err)
}

// Policy is the backoff schedule for queued operations. The delay before retry
// n (n = attempts made so far, starting at 1) is min(Base × 2^(n-1), Cap).
type Policy struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
}

// DefaultPolicy returns base 2s, cap 5m, 3 retries.
func DefaultPolicy() Policy {
	return Policy{
		Base:       2 * time.Second,
		Cap:        5 * time.Minute,
		MaxRetries: 3,
	}
}

// Validate checks the policy values.
func (p Policy) Validate() error {
	if p.Base <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Validate",
			fmt.Sprintf("backoff base must be positive, got %v", p.Base))
	}
	if p.Cap < p.Base {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Validate",
			fmt.Sprintf("backoff cap %v must be >= base %v", p.Cap, p.Base))
	}
	if p.MaxRetries <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Validate",
			fmt.Sprintf("max retries must be positive, got %d", p.MaxRetries))
	}
	return nil
}

// Delay returns the backoff after attempts failed attempts.
func (p Policy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Base
	for i := 1; i < attempts; i++ {
		delay *= 2
		// Doubling past the cap (or overflowing) stops here
		if delay >= p.Cap || delay <= 0 {
			return p.Cap
		}
	}
	if delay > p.Cap {
		return p.Cap
	}
	return delay
}

// DelayFor returns the delay after attempts failures ending in err. A rate-limit
// error carrying a server-provided retry-after overrides the computed backoff.
func (p Policy) DelayFor(err error, attempts int) time.Duration {
	if d, ok := errors.RetryAfter(err); ok {
		return d
	}
	return p.Delay(attempts)
}

// Exhausted reports whether attempts has reached the retry budget.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxRetries
}

// Config provides retry configuration for Do
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (0 = no retry, just run once)
	InitialDelay time.Duration // Initial delay between attempts
	MaxDelay     time.Duration // Maximum delay between attempts
	Multiplier   float64       // Backoff multiplier (typically 2.0)
	AddJitter    bool          // Add randomness to prevent thundering herd
}

// Do executes fn with exponential backoff retry. Errors that are marked
// NonRetryable, or that classify as fatal or invalid, stop immediately. A
// rate-limit error's retry-after replaces the computed delay.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.InitialDelay < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "InitialDelay cannot be negative")
	}
	if cfg.MaxDelay < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "MaxDelay cannot be negative")
	}
	if cfg.Multiplier < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "Multiplier cannot be negative")
	}
	// Prevent overflow with extremely large multipliers
	if cfg.Multiplier > 1000 {
		cfg.Multiplier = 1000
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "MaxDelay must be >= InitialDelay")
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !ShouldRetry(err) {
			return err
		}

		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, ctx.Err())
		}

		// Don't sleep after the last attempt
		if attempt == cfg.MaxAttempts {
			break
		}

		sleepDuration := delay
		if d, ok := errors.RetryAfter(err); ok {
			sleepDuration = d
		} else if cfg.AddJitter && delay >= 4 {
			// Add up to 25% jitter using thread-safe random
			randMu.Lock()
			jitter := time.Duration(randSource.Int63n(int64(delay / 4)))
			randMu.Unlock()
			sleepDuration = delay + jitter
		}

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}

		// Calculate next delay with overflow protection
		nextDelay := float64(delay) * cfg.Multiplier
		if nextDelay > float64(cfg.MaxDelay) || nextDelay > float64(time.Duration(1<<63-1)) {
			delay = cfg.MaxDelay
		} else {
			delay = time.Duration(nextDelay)
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
