package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrCacheMiss is informational: no entry exists for the key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrUnknownSource is returned for a source key missing from the catalog.
	ErrUnknownSource = errors.New("unknown source")

	// ErrUnknownParam is returned for a request parameter a source does not accept.
	ErrUnknownParam = errors.New("unknown parameter")
)

// TransportKind classifies a failed HTTP exchange.
type TransportKind string

const (
	TransportTimeout           TransportKind = "timeout"
	TransportConnectionRefused TransportKind = "connection_refused"
	TransportTLS               TransportKind = "tls"
	TransportOther             TransportKind = "other"
)

// TransportError is a network-level failure. HTTP status codes are never
// transport errors.
type TransportError struct {
	Kind TransportKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NormalizationKind classifies a payload that could not be mapped to its
// canonical record.
type NormalizationKind string

const (
	// EmptySchema means the upstream returned field definitions but no data,
	// which usually points at an authorization problem.
	EmptySchema          NormalizationKind = "empty_schema"
	UnexpectedShape      NormalizationKind = "unexpected_shape"
	MissingRequiredField NormalizationKind = "missing_required_field"
)

// NormalizationError is returned by normalizers instead of a partially
// populated record.
type NormalizationError struct {
	Kind  NormalizationKind
	Field string // set for MissingRequiredField
	Err   error
}

func (e *NormalizationError) Error() string {
	var b strings.Builder
	b.WriteString("normalize: ")
	b.WriteString(string(e.Kind))
	if e.Field != "" {
		b.WriteString(" ")
		b.WriteString(e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// HTTPStatusError reports a non-2xx upstream response.
type HTTPStatusError struct {
	Status int
	Body   string // truncated
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

// RateLimitedError is returned by the cooldown limiter.
type RateLimitedError struct {
	UserID     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter.Round(time.Second))
}

// IsRetryable reports whether an attempt that failed with err may succeed
// when repeated.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind != TransportTLS
	}
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.Status >= http.StatusInternalServerError || se.Status == http.StatusTooManyRequests
	}
	var ne *NormalizationError
	if errors.As(err, &ne) {
		return ne.Kind == EmptySchema
	}
	return false
}

// FetchError is the reason carried by a Failure outcome. It keeps the last
// observed cause of each class so callers can present an actionable message.
type FetchError struct {
	SourceKey     string
	Attempts      int
	LastStatus    int
	Transport     *TransportError
	Normalization *NormalizationError
	Err           error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fetch %s failed", e.SourceKey)
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError builds a FetchError, extracting the typed causes from err.
func NewFetchError(sourceKey string, attempts int, err error) *FetchError {
	fe := &FetchError{SourceKey: sourceKey, Attempts: attempts, Err: err}
	var te *TransportError
	if errors.As(err, &te) {
		fe.Transport = te
	}
	var ne *NormalizationError
	if errors.As(err, &ne) {
		fe.Normalization = ne
	}
	var se *HTTPStatusError
	if errors.As(err, &se) {
		fe.LastStatus = se.Status
	}
	return fe
}
