package reliability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// StatusError is a non-2xx reply from an upstream HTTP service.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s HTTP %d", e.Service, e.Code)
	}
	return fmt.Sprintf("%s HTTP %d: %s", e.Service, e.Code, e.Body)
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is worth another attempt. Cancellation
// never is; status errors are retried per IsRetryableHTTPStatus; anything
// else is treated as a transport failure and retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return IsRetryableHTTPStatus(se.Code)
	}
	var p permanent
	return !errors.As(err, &p)
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// Policy is a capped exponential backoff.
type Policy struct {
	Attempts uint
	Base     time.Duration
	Cap      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Base: 100 * time.Millisecond, Cap: 2 * time.Second}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts run out. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	if p.Attempts == 0 {
		p.Attempts = 1
	}
	return retry.Do(
		func() error { return fn(ctx) },
		retry.Context(ctx),
		retry.Attempts(p.Attempts),
		retry.Delay(p.Base),
		retry.MaxDelay(p.Cap),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsRetryable),
		retry.LastErrorOnly(true),
	)
}
