package harvest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FailureClass separates fetch errors worth retrying from those that are not.
type FailureClass int

// Failure classes for fetch attempts.
const (
	// Transient covers timeouts, 5xx responses and connection resets. The
	// same strategy may be retried in a later round.
	Transient FailureClass = iota
	// Permanent covers 404s and explicit blocks. The orchestrator still
	// falls back to the next strategy, but never retries this one.
	Permanent
)

// FetchError is a classified failure returned by a Strategy attempt.
type FetchError struct {
	Class FailureClass
	Err   error
}

func (e *FetchError) Error() string {
	switch e.Class {
	case Permanent:
		return fmt.Sprintf("permanent fetch failure: %v", e.Err)
	default:
		return fmt.Sprintf("transient fetch failure: %v", e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transientf builds a retryable FetchError.
func Transientf(format string, args ...any) *FetchError {
	return &FetchError{Class: Transient, Err: fmt.Errorf(format, args...)}
}

// Permanentf builds a non-retryable FetchError.
func Permanentf(format string, args ...any) *FetchError {
	return &FetchError{Class: Permanent, Err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err is a FetchError classified Permanent.
// Everything else, including unclassified errors, counts as transient.
func IsPermanent(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Class == Permanent
}

// ClassifyStatus converts a non-2xx HTTP status into a classified FetchError.
// It returns nil for 2xx.
func ClassifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound || status == http.StatusGone:
		return Permanentf("http status %d", status)
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		// Commonly a bot-detection rejection of this particular transport;
		// another strategy may still get through.
		return Permanentf("http status %d", status)
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return Transientf("http status %d", status)
	case status >= 500:
		return Transientf("http status %d", status)
	default:
		return Permanentf("http status %d", status)
	}
}

// ClassifyNetErr wraps a transport-level error, marking timeouts and
// connection failures transient.
func ClassifyNetErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Class: Transient, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Class: Transient, Err: err}
	}
	return &FetchError{Class: Transient, Err: err}
}

// ValidationError rejects downloaded bytes that are not an acceptable
// artifact. It is treated like a transient fetch failure for retry purposes,
// since it usually means an HTML error page was served instead of the
// document.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid artifact: " + e.Reason
}

// TrackingStoreError marks an I/O failure writing durable state. It is fatal
// for the item that triggered it, never for the whole run.
type TrackingStoreError struct {
	Err error
}

func (e *TrackingStoreError) Error() string {
	return fmt.Sprintf("tracking store: %v", e.Err)
}

func (e *TrackingStoreError) Unwrap() error {
	return e.Err
}
