package apiclient

import (
	"errors"
	"fmt"
	"time"
)

// ErrAttemptsExhausted tags the final error of a retry chain.
var ErrAttemptsExhausted = errors.New("attempts exhausted")

// ValidationError reports a request the server rejected as malformed.
// It is never retried.
type ValidationError struct {
	Status  int
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%d): %s", e.Status, e.Message)
}

// AuthError reports a rejected caller identity. It is never retried.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("unauthorized (%d): %s", e.Status, e.Message)
}

// RateLimitedError carries the wait until the caller's quota resets.
// It is never retried automatically.
type RateLimitedError struct {
	Message   string
	RetryWait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s: %s", e.RetryWait, e.Message)
}

// WaitMinutes returns the reset wait rounded up to whole minutes for user
// messaging. A 90 second wait reads as 2 minutes.
func (e *RateLimitedError) WaitMinutes() int {
	minutes := int(e.RetryWait / time.Minute)
	if e.RetryWait%time.Minute != 0 {
		minutes++
	}
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// TransientError reports a network-level failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient network failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ServerError reports a non-2xx status outside the terminal set. Retryable.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
}

// ExhaustedError wraps the last error after the retry budget ran out. The
// underlying error is surfaced unchanged through Unwrap.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrAttemptsExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrAttemptsExhausted }

// Retryable reports whether the client may issue another attempt for err.
func Retryable(err error) bool {
	var validation *ValidationError
	var auth *AuthError
	var limited *RateLimitedError
	if errors.As(err, &validation) || errors.As(err, &auth) || errors.As(err, &limited) {
		return false
	}
	return true
}
