package surveycto

import (
	"fmt"
	"time"
)

// AuthError means the server rejected the credentials. Fatal, never retried.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// RateLimitError means the server asked us to back off. The caller is
// expected to record a cooldown and fail the current run.
type RateLimitError struct {
	RetryAfter time.Duration
	StatusCode int
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (status %d, retry after %s): %s", e.StatusCode, e.RetryAfter, e.Message)
}

// ConnError is a transport-level failure reaching the server. Fatal for the
// run; the caller may re-trigger later.
type ConnError struct {
	Err error
}

func (e *ConnError) Error() string { return "unable to reach the SurveyCTO server: " + e.Err.Error() }
func (e *ConnError) Unwrap() error { return e.Err }

// MalformedError covers unexpected statuses and payloads we cannot interpret.
type MalformedError struct {
	Message string
}

func (e *MalformedError) Error() string { return e.Message }
