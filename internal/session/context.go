package session

import "context"

type contextKey struct{}

// NewContext returns a context carrying s, so downstream handlers (the
// router's tool/resource/prompt handlers) can reach the originating
// session without threading it through every call signature.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the Session bound to ctx by the downstream transport,
// if any. A context with no bound session (e.g. a direct CLI call) is a
// valid state; callers treat "no session" as "no fan-out available".
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok
}
