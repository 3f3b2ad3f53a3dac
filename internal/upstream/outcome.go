package upstream

import (
	"fmt"
	"net/http"
)

// Kind classifies a failed upstream attempt.
type Kind int

const (
	// KindInvalidCredential is a 400 or 403: the credential is permanently bad.
	KindInvalidCredential Kind = iota + 1
	// KindRateLimited is a 429.
	KindRateLimited
	// KindUnauthorized is a 401, treated as transient.
	KindUnauthorized
	// KindServerError is any 5xx.
	KindServerError
	// KindUpstreamError is any other non-2xx status.
	KindUpstreamError
	// KindTransport means the upstream could not be reached at all.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredential:
		return "invalid_credential"
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthorized:
		return "unauthorized"
	case KindServerError:
		return "server_error"
	case KindUpstreamError:
		return "upstream_error"
	case KindTransport:
		return "transport_failure"
	}
	return "unknown"
}

// Response is a successful upstream reply, passed through unmodified.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Error is a classified failed attempt. Status and Body are zero for
// KindTransport, where Err holds the cause.
type Error struct {
	Kind       Kind
	Status     int
	Body       string
	Credential string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTransport:
		return fmt.Sprintf("upstream unreachable: %v", e.Err)
	case KindInvalidCredential:
		return fmt.Sprintf("upstream rejected credential (status %d): %s", e.Status, e.Body)
	case KindRateLimited:
		return fmt.Sprintf("upstream rate limit exceeded: %s", e.Body)
	case KindUnauthorized:
		return fmt.Sprintf("upstream unauthorized: %s", e.Body)
	}
	return fmt.Sprintf("upstream error (status %d): %s", e.Status, e.Body)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify maps an upstream status to a failure kind. ok is true for 2xx.
func Classify(status int) (kind Kind, ok bool) {
	switch {
	case status >= 200 && status < 300:
		return 0, true
	case status == http.StatusBadRequest, status == http.StatusForbidden:
		return KindInvalidCredential, false
	case status == http.StatusTooManyRequests:
		return KindRateLimited, false
	case status == http.StatusUnauthorized:
		return KindUnauthorized, false
	case status >= 500:
		return KindServerError, false
	}
	return KindUpstreamError, false
}
