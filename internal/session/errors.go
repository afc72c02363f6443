package session

import "errors"

// ErrTooManySessions is returned by CreateSession when maxSessions would
// be exceeded.
var ErrTooManySessions = errors.New("session: too many concurrent sessions")

// ErrInvalidSessionID is returned when a caller-supplied session id
// exceeds MaxSessionIDLength.
var ErrInvalidSessionID = errors.New("session: invalid session id")
