package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RetryPolicy bounds the attempts made by Retry
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Retryable decides whether an error should trigger another attempt.
	// Nil means IsRetryableError.
	Retryable func(error) bool
}

// RetryError is returned when every attempt failed
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. The wait doubles each attempt starting at BaseDelay.
func Retry(ctx context.Context, policy RetryPolicy, logger *Logger, fn func(ctx context.Context) error) (int, error) {
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryableError
	}

	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}

	var lastErr error
	attempt := 0
	for ; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := policy.BaseDelay * time.Duration(1<<uint(attempt-1))
			logger.Info("Retrying in %v (attempt %d/%d)...", wait, attempt, policy.MaxRetries)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, &RetryError{Attempts: attempt, Err: ctx.Err()}
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("Retry successful on attempt %d", attempt+1)
			}
			return attempt + 1, nil
		}

		lastErr = err
		logger.Warn("Attempt %d failed: %v", attempt+1, err)

		if !retryable(err) {
			attempt++
			break
		}
	}

	if attempt > policy.MaxRetries+1 {
		attempt = policy.MaxRetries + 1
	}
	return attempt, &RetryError{Attempts: attempt, Err: lastErr}
}

// IsRetryableError checks if an error should trigger a retry
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"network",
		"dial tcp",
		"i/o timeout",
		"no such host",
		"connection timed out",
		"eof",
		"status code: 429",
		"status code: 500",
		"status code: 502",
		"status code: 503",
		"status code: 504",
		"rate limit",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
