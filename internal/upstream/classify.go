package upstream

import (
	"context"
	"errors"
	"net"
	"strings"
)

var errNotConnected = errors.New("not connected")

// classify maps a raw transport/library error onto a Kind so the rest of
// the hub can branch on behavior (retry, fail fast, surface to the caller)
// without string matching.
func classify(err error) Kind {
	if err == nil {
		return KindFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindTransport
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransport
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindTransport
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindTransport
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "unauthorised"):
		return KindUnauthorised
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "eof"):
		return KindTransport
	case strings.Contains(msg, "x509"), strings.Contains(msg, "certificate"), strings.Contains(msg, "tls"):
		return KindFatal
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return KindUpstream
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "malformed"):
		return KindInvalidInput
	default:
		return KindUpstream
	}
}
