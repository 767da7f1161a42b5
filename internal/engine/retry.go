package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// RetryConfig configures bounded exponential backoff for backend calls.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns the defaults used for embedding and search calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Retryable reports whether an error is a transient backend failure worth
// retrying: timeouts, rate limits, and 5xx-class upstream errors.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return containsAny(err.Error(),
		"rate limit", "429",
		"500", "502", "503", "504", "unavailable",
		"connection reset", "connection refused", "timeout", "temporary",
	)
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// Retry runs fn with exponential backoff until it succeeds, returns a
// non-retryable error, or the attempt budget is exhausted. The last error is
// returned unwrapped so callers can classify it.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	var lastErr error
	delay := cfg.InitialInterval

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !Retryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}

		delay *= 2
		if delay > cfg.MaxInterval {
			delay = cfg.MaxInterval
		}
	}

	return lastErr
}
