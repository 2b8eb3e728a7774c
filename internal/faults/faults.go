// Package faults defines the error taxonomy shared by every component that
// talks to an external backend. Leaf components classify; middle components
// retry Transient within their budget and pass Permanent through unchanged.
package faults

import (
	"errors"
	"fmt"
)

// Kind partitions failures by how callers must react to them.
type Kind int

const (
	// KindUnknown is the zero value; errors outside the taxonomy map here.
	KindUnknown Kind = iota

	// KindTransient covers network errors, rate limits, 5xx responses and
	// open breakers. Safe to retry.
	KindTransient

	// KindPermanent covers auth failures and schema mismatches. Logged at
	// ERROR, the operation is abandoned, the process continues.
	KindPermanent

	// KindNotFound: the addressed row, cell or entity does not exist.
	KindNotFound

	// KindBreakerOpen: rejected locally without invoking the client.
	// Callers treat it as Transient; the distinct kind exists so that the
	// retry layer does not burn its budget hammering an open breaker.
	KindBreakerOpen

	// KindValidation: bad input from the user or the operator. Never retried.
	KindValidation

	// KindUnauthorized: the partner identity lookup missed or the cache says
	// not-authorized. The user is asked to re-authenticate.
	KindUnauthorized

	// KindFatal: the process cannot continue (lock conflict, bad config,
	// watchdog timeout). Exits non-zero.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindNotFound:
		return "not_found"
	case KindBreakerOpen:
		return "breaker_open"
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Fault is an error carrying a Kind. It wraps an optional cause.
type Fault struct {
	kind  Kind
	msg   string
	cause error
}

func (f *Fault) Error() string {
	if f.cause != nil {
		if f.msg != "" {
			return fmt.Sprintf("%s [%s]: %v", f.msg, f.kind, f.cause)
		}
		return fmt.Sprintf("[%s]: %v", f.kind, f.cause)
	}
	return fmt.Sprintf("%s [%s]", f.msg, f.kind)
}

func (f *Fault) Unwrap() error { return f.cause }

// Kind reports the fault's classification.
func (f *Fault) Kind() Kind { return f.kind }

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Fault{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil cause yields nil.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Fault{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// Transient is shorthand for New(KindTransient, ...).
func Transient(format string, args ...any) error { return New(KindTransient, format, args...) }

// Permanent is shorthand for New(KindPermanent, ...).
func Permanent(format string, args ...any) error { return New(KindPermanent, format, args...) }

// NotFound is shorthand for New(KindNotFound, ...).
func NotFound(format string, args ...any) error { return New(KindNotFound, format, args...) }

// Validation is shorthand for New(KindValidation, ...).
func Validation(format string, args ...any) error { return New(KindValidation, format, args...) }

// BreakerOpen builds the rejection returned while a breaker is open.
func BreakerOpen(endpoint string) error {
	return New(KindBreakerOpen, "breaker open for endpoint %q", endpoint)
}

// KindOf extracts the classification from anywhere in the chain.
// Unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.kind
	}
	return KindUnknown
}

// IsTransient reports whether the error is retryable. BreakerOpen counts:
// it is surfaced to callers as a transient failure.
func IsTransient(err error) bool {
	k := KindOf(err)
	return k == KindTransient || k == KindBreakerOpen
}

// IsPermanent reports whether the error is classified permanent.
func IsPermanent(err error) bool { return KindOf(err) == KindPermanent }

// IsNotFound reports whether the addressed entity was missing.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsBreakerOpen reports whether the call was rejected by an open breaker.
func IsBreakerOpen(err error) bool { return KindOf(err) == KindBreakerOpen }

// IsFatal reports whether the process must exit.
func IsFatal(err error) bool { return KindOf(err) == KindFatal }
