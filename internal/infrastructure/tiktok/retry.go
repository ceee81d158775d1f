package tiktok

import (
	"context"
	"errors"
	"time"

	"tiktok-shop-finance-layer/internal/domain"
)

// Platform envelope codes treated as transient. 429-style throttling plus
// the documented internal-error code.
var transientAPICodes = map[int]bool{
	429:      true,
	10000020: true, // too many requests
	10001001: true, // internal error, retry suggested
}

// RetryConfig bounds the per-page retry loop in the sync engine.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns conservative retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// IsTransient reports whether err is worth retrying: transport failures and
// the known-transient subset of envelope codes. Auth expiry and parse
// failures are terminal.
func IsTransient(err error) bool {
	var te *domain.TransportError
	if errors.As(err, &te) {
		return true
	}
	var ae *domain.APIError
	if errors.As(err, &ae) {
		return transientAPICodes[ae.Code]
	}
	return false
}

// Do runs fn with capped exponential backoff for transient errors. It stops
// on the first terminal error and respects ctx between attempts.
func (rc RetryConfig) Do(ctx context.Context, fn func() error) error {
	delay := rc.BaseDelay
	var err error
	for attempt := 1; attempt <= rc.MaxAttempts; attempt++ {
		err = fn()
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == rc.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > rc.MaxDelay {
			delay = rc.MaxDelay
		}
	}
	return err
}
