// Package redact prevents upstream credentials and secret-shaped header
// values from reaching logs: single sensitive values, arbitrary config
// fields, and the header/argument maps a tool call may carry.
package redact

import (
	"encoding/json"
	"strings"
)

// Marker is the literal substituted for any redacted value.
const Marker = "[REDACTED]"

// Secret wraps a single sensitive string (an upstream credential, a bearer
// token) so it never accidentally reaches a log line, error message, or
// JSON dump. Value returns the real string; every other formatting path
// returns Marker.
type Secret struct {
	value string
}

// New wraps value as a Secret.
func New(value string) Secret { return Secret{value: value} }

// Value returns the wrapped string. Call this only at the point of use
// (setting an HTTP header, passing to a connector); never pass its result
// to a logger.
func (s Secret) Value() string { return s.value }

// IsEmpty reports whether the wrapped value is the empty string.
func (s Secret) IsEmpty() bool { return s.value == "" }

func (s Secret) String() string                   { return Marker }
func (s Secret) GoString() string                  { return "redact.Secret{" + Marker + "}" }
func (s Secret) MarshalText() ([]byte, error)      { return []byte(Marker), nil }
func (s Secret) MarshalJSON() ([]byte, error)      { return json.Marshal(Marker) }

// sensitiveKeySubstrings is checked case-insensitively against a map key;
// any match causes Fields to replace that entry's value with Marker. This
// is deliberately broad: a false positive just over-redacts a debug log, a
// false negative leaks a credential.
var sensitiveKeySubstrings = []string{
	"authorization", "token", "secret", "password", "apikey", "api_key", "api-key", "credential",
}

// Fields returns a shallow copy of m with any value whose key looks
// security-sensitive replaced by Marker, for logging a header or argument
// map without leaking its contents. Entries whose key matches nothing are
// copied unchanged.
func Fields(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if looksSensitive(k) {
			out[k] = Marker
			continue
		}
		out[k] = v
	}
	return out
}

func looksSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, substr := range sensitiveKeySubstrings {
		if strings.Contains(lower, substr) {
			return true
		}
	}
	return false
}

// MinMaskLen is the shortest token MaskToken will partially reveal. Shorter
// values are fully replaced by Marker since two leading and two trailing
// characters would reveal most or all of them anyway.
const MinMaskLen = 8

// MaskToken masks a long opaque bearer-shaped token to its leading and
// trailing two characters, e.g. "sk-abc123xyz789" -> "sk...89".
// Tokens shorter than MinMaskLen are replaced entirely by Marker.
func MaskToken(token string) string {
	runes := []rune(token)
	if len(runes) < MinMaskLen {
		return Marker
	}
	return string(runes[:2]) + "..." + string(runes[len(runes)-2:])
}
