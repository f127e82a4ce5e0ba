// Package errors provides standardized error handling patterns for offlinekit components.
//
// # Overview
//
// The errors package implements a three-class error classification system:
// Transient (temporary, retryable), Invalid (bad input, non-retryable), and Fatal
// (unrecoverable, surfaced immediately). On top of the classes it carries a Kind
// taxonomy for failures of the remote resource API, which is what the sync engine
// uses to decide between retrying, backing off, and failing an operation.
//
// # Error Classification
//
//   - Transient: network failures, timeouts, rate limits, 5xx responses
//   - Invalid: malformed payloads, schema violations, bad configuration
//   - Fatal: authentication rejections, corrupted persisted state
//
// The classification integrates with Go's standard error handling and supports
// errors.Is(), errors.As() and wrapping chains.
//
// # Wrapping Pattern
//
// All wrapping follows the format "component.method: action failed: cause":
//
//	if err := store.Put(ctx, key, data); err != nil {
//	    return errors.WrapTransient(err, "queue", "persist", "write queue snapshot")
//	}
//
// # Remote Error Kinds
//
//	Kind            Class      Retried by sync engine
//	network         transient  yes
//	timeout         transient  yes
//	rate_limit      transient  yes, after the server's Retry-After when present
//	server (5xx)    transient  yes
//	auth            fatal      no
//	validation      invalid    no
//	compression     transient  never leaves the cache (raw fallback)
//	decompression   transient  never leaves the cache (treated as a miss)
//
// Use the constructors (NewNetworkError, NewRateLimitError, ...) in transport
// adapters and KindOf / IsRetryable / RetryAfter in consumers:
//
//	if errors.IsRetryable(err) {
//	    delay := policy.Delay(attempts)
//	    if d, ok := errors.RetryAfter(err); ok {
//	        delay = d
//	    }
//	}
package errors
