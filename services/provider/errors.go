package provider

import (
	"time"

	"github.com/pkg/errors"
)

// Adapters fold every backend failure into this taxonomy; the orchestrator's
// recovery policy keys off it and never inspects provider-specific errors.
type errorKind int

const (
	kindAuthExpired errorKind = iota
	kindRateLimited
	kindNotFound
	kindTransient
	kindFatal
)

type adapterError struct {
	kind       errorKind
	retryAfter time.Duration
	err        error
}

func (e *adapterError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	switch e.kind {
	case kindAuthExpired:
		return "credential expired"
	case kindRateLimited:
		return "rate limited"
	case kindNotFound:
		return "not found"
	case kindTransient:
		return "transient provider error"
	default:
		return "fatal provider error"
	}
}

func (e *adapterError) Unwrap() error {
	return e.err
}

// AuthExpired marks an error recoverable via one token refresh and retry.
func AuthExpired(err error) error {
	return &adapterError{kind: kindAuthExpired, err: err}
}

// RateLimited marks an error carrying an optional provider retry-after hint.
func RateLimited(retryAfter time.Duration, err error) error {
	return &adapterError{kind: kindRateLimited, retryAfter: retryAfter, err: err}
}

// NotFound marks a single missing/gone record; callers skip it and continue.
func NotFound(err error) error {
	return &adapterError{kind: kindNotFound, err: err}
}

// Transient marks an error worth retrying with backoff.
func Transient(err error) error {
	return &adapterError{kind: kindTransient, err: err}
}

// Fatal marks an error that fails the account until re-enabled or retried on
// the failure schedule.
func Fatal(err error) error {
	return &adapterError{kind: kindFatal, err: err}
}

func kindOf(err error) (errorKind, *adapterError, bool) {
	var ae *adapterError
	if errors.As(err, &ae) {
		return ae.kind, ae, true
	}
	return 0, nil, false
}

func IsAuthExpired(err error) bool {
	k, _, ok := kindOf(err)
	return ok && k == kindAuthExpired
}

// IsRateLimited reports whether err is a rate limit, and the retry-after hint
// (zero when the provider gave none).
func IsRateLimited(err error) (time.Duration, bool) {
	k, ae, ok := kindOf(err)
	if !ok || k != kindRateLimited {
		return 0, false
	}
	return ae.retryAfter, true
}

func IsNotFound(err error) bool {
	k, _, ok := kindOf(err)
	return ok && k == kindNotFound
}

func IsTransient(err error) bool {
	k, _, ok := kindOf(err)
	return ok && k == kindTransient
}

func IsFatal(err error) bool {
	k, _, ok := kindOf(err)
	if !ok {
		// Unclassified errors are treated as fatal rather than silently retried.
		return true
	}
	return k == kindFatal
}
