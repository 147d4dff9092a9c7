package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/delegation-service/internal/logging"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts  int           // Total attempts including the first call
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Cap on any single delay
	Multiplier   float64       // Backoff growth factor
}

// DefaultConfig returns the backoff used while waiting for backends at startup.
// Pattern: 1s, 2s, 4s, 8s
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// Func is a function that can be retried. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// Predicate reports whether err is worth another attempt
type Predicate func(err error) bool

// Result contains information about the retry operation
type Result struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
}

// Succeeded reports whether the final attempt returned nil
func (r *Result) Succeeded() bool {
	return r.LastError == nil
}

// WithExponentialBackoff runs fn until it succeeds, retryable rejects the
// error, attempts run out or ctx is done. A nil retryable retries every error.
func WithExponentialBackoff(ctx context.Context, config *Config, retryable Predicate, fn Func) *Result {
	if config == nil {
		config = DefaultConfig()
	}
	logger := logging.FromContext(ctx)
	start := time.Now()
	result := &Result{}

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		err := fn(ctx, attempt)
		result.LastError = err
		if err == nil {
			if attempt > 1 {
				logger.WithField("attempts", attempt).Info("Operation succeeded after retry")
			}
			break
		}

		if attempt >= config.MaxAttempts || (retryable != nil && !retryable(err)) {
			break
		}

		delay := calculateDelay(config, attempt)
		logger.WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": config.MaxAttempts,
			"delay":       delay.String(),
			"error":       err.Error(),
		}).Warn("Operation failed, retrying with exponential backoff")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			result.TotalDuration = time.Since(start)
			return result
		}
	}

	result.TotalDuration = time.Since(start)
	return result
}

// Do is WithExponentialBackoff that only reports the final error
func Do(ctx context.Context, config *Config, retryable Predicate, fn Func) error {
	result := WithExponentialBackoff(ctx, config, retryable, fn)
	if result.Succeeded() {
		return nil
	}
	if result.Attempts > 1 {
		return fmt.Errorf("operation failed after %d attempts: %w", result.Attempts, result.LastError)
	}
	return result.LastError
}

// calculateDelay returns initialDelay * multiplier^(attempt-1), capped at MaxDelay
func calculateDelay(config *Config, attempt int) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}
