package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// RetryConfig controls retry behavior for transient bridge failures.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries).
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
	// Multiplier grows the backoff after each failed attempt.
	Multiplier float64
}

// DefaultRetryConfig returns the defaults used for command invocations.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
		Multiplier:     2.0,
	}
}

// isRetryableError reports whether the failure is worth retrying.
// Command rejections from the backend are final; only transport-level
// trouble qualifies.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var transient *transientBridgeError
	return errors.As(err, &transient)
}

// transientBridgeError marks bridge failures that may succeed on retry,
// such as a dropped connection mid-invoke.
type transientBridgeError struct {
	err error
}

func (e *transientBridgeError) Error() string {
	return fmt.Sprintf("transient bridge error: %v", e.err)
}

func (e *transientBridgeError) Unwrap() error { return e.err }

// markTransient wraps err so executeWithRetry will retry it.
func markTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientBridgeError{err: err}
}

// executeWithRetry runs fn, retrying transient failures with
// exponential backoff until the config is exhausted or ctx is done.
func executeWithRetry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil || config.MaxRetries <= 0 {
		return fn()
	}

	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return err
		}
		if attempt >= config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return fmt.Errorf("retry exhausted after %d attempts: %w", config.MaxRetries+1, lastErr)
}
