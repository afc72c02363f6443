package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hatago/hatago-hub/internal/logging"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

func newTestManager(t *testing.T, ttl time.Duration, max int) *Manager {
	t.Helper()
	m := NewManager(ttl, max, logging.Discard())
	t.Cleanup(m.Close)
	return m
}

func TestCreateSession_EmptyIDGeneratesUUID(t *testing.T) {
	m := newTestManager(t, time.Minute, 0)

	s, err := m.CreateSession("")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
}

func TestCreateSession_ExplicitIDIsReusedIfLive(t *testing.T) {
	m := newTestManager(t, time.Minute, 0)

	s1, err := m.CreateSession("client-1")
	require.NoError(t, err)

	s2, err := m.CreateSession("client-1")
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestCreateSession_RejectsOversizedID(t *testing.T) {
	m := newTestManager(t, time.Minute, 0)

	_, err := m.CreateSession(strings.Repeat("x", MaxSessionIDLength+1))
	assert.ErrorIs(t, err, ErrInvalidSessionID)
}

func TestCreateSession_RejectsBeyondMaxSessions(t *testing.T) {
	m := newTestManager(t, time.Minute, 1)

	_, err := m.CreateSession("first")
	require.NoError(t, err)

	_, err = m.CreateSession("second")
	assert.ErrorIs(t, err, ErrTooManySessions)
}

func TestGet_ReturnsFalseForExpiredSession(t *testing.T) {
	m := newTestManager(t, time.Millisecond, 0)

	s, err := m.CreateSession("client-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, ok := m.Get(s.ID)
	assert.False(t, ok)
}

func TestSweep_DestroysExpiredSessionsOnly(t *testing.T) {
	m := newTestManager(t, time.Millisecond, 0)

	expiring, err := m.CreateSession("expiring")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	fresh, err := m.CreateSession("fresh")
	require.NoError(t, err)

	m.Sweep()

	_, ok := m.Get(expiring.ID)
	assert.False(t, ok)
	_, ok = m.Get(fresh.ID)
	assert.True(t, ok)
}

func TestDestroy_CancelsOutstandingStreamsAndClosesOutgoing(t *testing.T) {
	m := newTestManager(t, time.Minute, 0)
	s, err := m.CreateSession("client-1")
	require.NoError(t, err)

	cancelled := false
	_, cancel := context.WithCancel(context.Background())
	ok := s.BeginStream("stream-1", func() { cancelled = true; cancel() })
	require.True(t, ok)

	m.Destroy(s.ID)

	assert.True(t, cancelled, "destroy must cancel outstanding streams")
	_, open := <-s.Outgoing()
	assert.False(t, open, "outgoing channel is closed on destroy")
}

func TestNotify_DeliversToOutgoingChannel(t *testing.T) {
	m := newTestManager(t, time.Minute, 0)
	s, err := m.CreateSession("client-1")
	require.NoError(t, err)

	ok := s.Notify("stream-1", map[string]any{"progress": 1})
	require.True(t, ok)

	select {
	case n := <-s.Outgoing():
		assert.Equal(t, "stream-1", n.StreamID)
	default:
		t.Fatal("expected a buffered notification")
	}
}

func TestNotify_ReturnsFalseAfterDestroy(t *testing.T) {
	m := newTestManager(t, time.Minute, 0)
	s, err := m.CreateSession("client-1")
	require.NoError(t, err)

	m.Destroy(s.ID)

	ok := s.Notify("stream-1", "payload")
	assert.False(t, ok)
}

func TestTouch_RefreshesLastActivityAndReportsLiveness(t *testing.T) {
	m := newTestManager(t, 20*time.Millisecond, 0)
	s, err := m.CreateSession("client-1")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	assert.True(t, m.Touch(s.ID), "not yet expired")

	time.Sleep(30 * time.Millisecond)
	assert.False(t, m.Touch(s.ID), "expired after TTL elapses with no further touch")
}
