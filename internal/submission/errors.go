package submission

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrEndpointNotConfigured = errors.New("filing endpoint not configured")
	ErrModeMismatch          = errors.New("document test indicator does not match submission mode")
	ErrEFINRequired          = errors.New("EFIN is required")
	ErrUnknownStatus         = errors.New("endpoint reported an unknown status")
)

type EndpointNotConfiguredError struct {
	Mode string
}

func (e *EndpointNotConfiguredError) Error() string {
	return fmt.Sprintf("%s endpoint not configured", e.Mode)
}

func (e *EndpointNotConfiguredError) Unwrap() error { return ErrEndpointNotConfigured }

// RateLimitErr is returned before any request is sent when the EFIN has
// exhausted its local budget.
type RateLimitErr struct {
	EFIN       string
	RetryAfter time.Duration
}

func (e RateLimitErr) Error() string {
	return fmt.Sprintf("rate limited for EFIN %s, retry after %s", e.EFIN, e.RetryAfter)
}

// EndpointError is a non-2xx answer from the filing endpoint.
type EndpointError struct {
	StatusCode int
	Body       string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("endpoint returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Temporary reports whether the same request may succeed later.
func (e *EndpointError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// TransportError reports a failed exchange with the endpoint after retries.
// Err is the last underlying cause.
type TransportError struct {
	Op        string
	Attempts  int
	Exhausted bool
	Err       error
}

func (e *TransportError) Error() string {
	suffix := ""
	if e.Exhausted {
		suffix = ", retries exhausted"
	}
	return fmt.Sprintf("%s failed after %d attempt(s)%s: %v", e.Op, e.Attempts, suffix, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Permanent reports whether the failure came from the endpoint rejecting the
// request rather than from the network.
func (e *TransportError) Permanent() bool {
	var ee *EndpointError
	return errors.As(e.Err, &ee) && !ee.Temporary()
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }
