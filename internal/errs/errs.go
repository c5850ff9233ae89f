// Package errs defines the failure taxonomy shared by the device trust and session lifecycle code.
// Side-channel failures are logged and swallowed at their own boundary; primary-path failures are
// returned to the immediate caller as *Error so it can decide between retrying and giving up.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is used for errors that were not classified.
	KindUnknown Kind = iota
	// KindStorageUnavailable means a device identity channel could not be read or written.
	KindStorageUnavailable
	// KindGeoLookupFailed means the geolocation lookup failed; geo fields are omitted.
	KindGeoLookupFailed
	// KindStoreWriteFailed means a session store write failed during bookkeeping.
	KindStoreWriteFailed
	// KindTokenRefreshFailed means the authentication token could not be renewed.
	KindTokenRefreshFailed
	// KindPolicyComputeFailed means the token policy could not be computed.
	KindPolicyComputeFailed
	// KindStoreReadFailed means a session store lookup failed.
	KindStoreReadFailed
)

func (k Kind) String() string {
	switch k {
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindGeoLookupFailed:
		return "geo_lookup_failed"
	case KindStoreWriteFailed:
		return "store_write_failed"
	case KindTokenRefreshFailed:
		return "token_refresh_failed"
	case KindPolicyComputeFailed:
		return "policy_compute_failed"
	case KindStoreReadFailed:
		return "store_read_failed"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation that failed (e.g. "registry.RegisterOrUpdate").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// E returns an *Error of the given kind wrapping err. Returns nil when err is nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failed operation may be retried later without user action.
// Token refresh failures are terminal for the execution context.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTokenRefreshFailed:
		return false
	default:
		return true
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether err is a classified, retry-safe failure.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
