package upstream

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for routing and metrics, per the hub's error
// taxonomy: callers branch on Kind, never on message text.
type Kind string

const (
	KindInvalidInput    Kind = "invalid-input"
	KindUnknownTarget   Kind = "unknown-target"
	KindTransport       Kind = "transport-error"
	KindHandshake       Kind = "handshake-error"
	KindUpstream        Kind = "upstream-error"
	KindTimeout         Kind = "timeout"
	KindUnauthorised    Kind = "unauthorised"
	KindFatal           Kind = "fatal"
)

// Error is the error type every connector and node operation returns.
type Error struct {
	Kind    Kind
	Op      string
	Target  string
	Err     error
}

func (e *Error) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Target, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error.
func NewError(op string, kind Kind, target string, err error) *Error {
	return &Error{Op: op, Kind: kind, Target: target, Err: err}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, defaulting
// to KindFatal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// Retryable reports whether an error of this Kind should be retried by the
// lifecycle controller's reconnect policy.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindTimeout, KindUpstream:
		return true
	default:
		return false
	}
}
