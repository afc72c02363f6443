package upstream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"canceled", context.Canceled, KindTransport},
		{"unauthorized text", errors.New("request failed: 401 unauthorized"), KindUnauthorised},
		{"connection refused", errors.New("dial tcp: connection refused"), KindTransport},
		{"tls certificate", errors.New("x509: certificate signed by unknown authority"), KindFatal},
		{"server error", errors.New("unexpected status 503"), KindUpstream},
		{"default", errors.New("something odd happened"), KindUpstream},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(tc.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(NewError("op", KindTransport, "x", errors.New("boom"))))
	assert.True(t, Retryable(NewError("op", KindTimeout, "x", errors.New("boom"))))
	assert.True(t, Retryable(NewError("op", KindUpstream, "x", errors.New("boom"))))
	assert.False(t, Retryable(NewError("op", KindFatal, "x", errors.New("boom"))))
	assert.False(t, Retryable(NewError("op", KindInvalidInput, "x", errors.New("boom"))))
	assert.False(t, Retryable(errors.New("plain error, not ours")))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError("Connect", KindTransport, "srv1", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "srv1")
}
