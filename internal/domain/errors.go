package domain

import (
	"errors"
	"fmt"
)

// ErrSyncInProgress is returned when a sync run is requested for a
// connection whose previous run still holds the sync lock.
var ErrSyncInProgress = errors.New("sync already in progress for connection")

// TransportError wraps a network-level failure (DNS, timeout, reset).
// Retriable with backoff.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error calling %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a platform-level rejection: the envelope carried a non-zero
// code even though the HTTP transport may have succeeded.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform api error %d: %s", e.Code, e.Message)
}

// AuthExpiredError means the refresh token itself is dead. Terminal: the
// user must re-authorize, automatic retry cannot succeed.
type AuthExpiredError struct {
	ConnectionID string
	Reason       string
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("authorization expired for connection %s: %s", e.ConnectionID, e.Reason)
}

// ParseError marks an unexpected payload shape. The raw body is kept for
// diagnosis since the platform's schema varies by region and version.
type ParseError struct {
	Endpoint string
	Raw      string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse response from %s: %v", e.Endpoint, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsAuthExpired reports whether err carries an AuthExpiredError anywhere in
// its chain.
func IsAuthExpired(err error) bool {
	var ae *AuthExpiredError
	return errors.As(err, &ae)
}
