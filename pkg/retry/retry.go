package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries       int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	JitterFactor     float64 // 0.0-1.0, +/- jitter applied to each delay
	MaxSameErrorType int     // After N consecutive same-type errors, treat as permanent (0 disables)
}

// DefaultConfig returns defaults suited to remote sheet fetches and foreign
// database preflights: 3 retries from 200ms, capped at 5s, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     200 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 3,
	}
}

func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// Do executes fn with exponential backoff, retrying every error.
// Respects context cancellation during wait periods.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := run(ctx, cfg, false, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for functions that return a value. The last result is
// returned even when every attempt failed.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	return run(ctx, cfg, false, fn)
}

// DoIfRetryable only retries transient errors (see IsRetryable). Permanent
// errors return immediately, and repeated failures of the same error type
// escalate to a permanent failure after MaxSameErrorType attempts.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := run(ctx, cfg, true, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResultIfRetryable is DoIfRetryable for functions that return a value.
func DoWithResultIfRetryable[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	return run(ctx, cfg, true, fn)
}

func run[T any](ctx context.Context, cfg *Config, onlyRetryable bool, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var (
		result         T
		lastErr        error
		lastErrorType  string
		sameErrorCount int
	)
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		result, lastErr = r, err

		if onlyRetryable {
			if !IsRetryable(err) {
				return result, err
			}
			errorType := classifyErrorType(err)
			if errorType == lastErrorType {
				sameErrorCount++
				if cfg.MaxSameErrorType > 0 && sameErrorCount >= cfg.MaxSameErrorType {
					return result, fmt.Errorf("repeated error (%d times, type=%s): %w", sameErrorCount, errorType, err)
				}
			} else {
				sameErrorCount = 1
				lastErrorType = errorType
			}
		}

		if attempt == cfg.MaxRetries {
			break
		}

		timer := time.NewTimer(applyJitter(delay, cfg.JitterFactor))
		select {
		case <-timer.C:
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		}
	}

	return result, lastErr
}

// StatusError is returned for HTTP responses with a non-success status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", e.StatusCode, e.URL)
}

// IsRetryable reports whether the status is worth another attempt.
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"network is unreachable",
	"server closed the connection",
	"bad connection",
	"the database system is starting up",
	"could not set lock on file",
	"rate limit",
	"service unavailable",
	"too many requests",
}

// IsRetryable determines if an error is transient and worth retrying.
//
// Errors implementing IsRetryable() decide for themselves; net.Error
// timeouts are retryable; anything else is matched against known transient
// messages from database drivers and HTTP servers.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// classifyErrorType extracts a coarse category used to detect repeated
// failures of the same kind.
func classifyErrorType(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("http_%d", statusErr.StatusCode)
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "connection reset"):
		return "connection"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "timed out"):
		return "timeout"
	case strings.Contains(errStr, "broken pipe"):
		return "broken_pipe"
	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "too many requests"):
		return "rate_limit"
	case strings.Contains(errStr, "lock"):
		return "lock"
	}
	return "unknown"
}
