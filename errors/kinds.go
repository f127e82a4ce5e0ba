package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind identifies the failure taxonomy used by the cache and sync layers.
type Kind int

const (
	// KindUnknown is used for errors that carry no explicit kind
	KindUnknown Kind = iota
	// KindNetwork is a transport failure (connection refused, reset, DNS)
	KindNetwork
	// KindTimeout is a request that ran past its caller-supplied timeout
	KindTimeout
	// KindRateLimit is a throttled request; honors the server's retry-after
	KindRateLimit
	// KindServer is a 5xx response from the remote API
	KindServer
	// KindAuth is an authentication or authorization rejection
	KindAuth
	// KindValidation is a payload the remote API (or a local schema) rejected
	KindValidation
	// KindCompression is a failed compression; recovered by storing raw bytes
	KindCompression
	// KindDecompression is a failed decompression; recovered as a cache miss
	KindDecompression
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindRateLimit:
		return "rate_limit"
	case KindServer:
		return "server"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindCompression:
		return "compression"
	case KindDecompression:
		return "decompression"
	default:
		return "unknown"
	}
}

// Retryable reports whether the sync engine may retry an operation that failed
// with this kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimit, KindServer:
		return true
	default:
		return false
	}
}

// Class maps the kind onto the three-class scheme.
func (k Kind) Class() ErrorClass {
	switch k {
	case KindAuth:
		return ErrorFatal
	case KindValidation:
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

// RemoteError is a failure reported by (or on the way to) the remote resource API.
type RemoteError struct {
	Kind       Kind
	Status     int           // HTTP-style status, 0 for transport failures
	Message    string        // server-provided message, if any
	RetryAfter time.Duration // server-provided delay for rate-limit errors
	Err        error         // underlying cause
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

// Unwrap returns the underlying error
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RemoteError{Kind: KindTimeout, Err: err}
	}
	return &RemoteError{Kind: KindNetwork, Err: err}
}

// NewTimeoutError reports a request that exceeded its deadline.
func NewTimeoutError(err error) error {
	if err == nil {
		err = context.DeadlineExceeded
	}
	return &RemoteError{Kind: KindTimeout, Err: err}
}

// NewRateLimitError reports a throttled request. retryAfter may be zero when the
// server did not provide one.
func NewRateLimitError(status int, message string, retryAfter time.Duration) error {
	return &RemoteError{
		Kind:       KindRateLimit,
		Status:     status,
		Message:    message,
		RetryAfter: retryAfter,
		Err:        ErrRateLimited,
	}
}

// NewServerError reports a 5xx response.
func NewServerError(status int, message string) error {
	return &RemoteError{Kind: KindServer, Status: status, Message: message}
}

// NewAuthError reports an authentication/authorization rejection.
func NewAuthError(status int, message string) error {
	return &RemoteError{Kind: KindAuth, Status: status, Message: message}
}

// NewValidationError reports a rejected payload.
func NewValidationError(status int, message string) error {
	return &RemoteError{Kind: KindValidation, Status: status, Message: message, Err: ErrInvalidData}
}

// KindOf extracts the Kind of err. Context deadline errors are KindTimeout even
// when they were not wrapped in a RemoteError.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrConnectionTimeout) {
		return KindTimeout
	}
	if errors.Is(err, ErrRateLimited) {
		return KindRateLimit
	}
	return KindUnknown
}

// IsRetryable reports whether the sync engine should retry after err.
// Unknown errors fall back to the transient classification.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if k := KindOf(err); k != KindUnknown {
		return k.Retryable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return Classify(err) == ErrorTransient
}

// RetryAfter returns the server-provided delay carried by a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var re *RemoteError
	if errors.As(err, &re) && re.Kind == KindRateLimit && re.RetryAfter > 0 {
		return re.RetryAfter, true
	}
	return 0, false
}
