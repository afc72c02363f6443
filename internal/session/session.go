// Package session implements the Session Manager: per-downstream-session
// identity, TTL expiry, and the outgoing notification fan-out that lets a
// streaming tool call's progress notifications find their way back to the
// right client.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hatago/hatago-hub/internal/logging"
)

// MaxSessionIDLength bounds an operator-supplied session id (the
// `mcp-session-id` header), rejecting pathological values before they
// enter the session table.
const MaxSessionIDLength = 256

// DefaultMaxSessions caps concurrent sessions absent an explicit limit.
const DefaultMaxSessions = 10000

// DefaultSweepInterval is how often the background sweep loop looks for
// expired sessions.
const DefaultSweepInterval = 30 * time.Second

// Notification is one fan-out message destined for a session's SSE stream.
type Notification struct {
	StreamID string
	Payload  any
}

// Session is one downstream client's persistent identity across requests.
type Session struct {
	ID        string
	CreatedAt time.Time
	TTL       time.Duration

	mu           sync.Mutex
	lastActivity time.Time
	capabilities mcp.ClientCapabilities
	streams      map[string]context.CancelFunc
	out          chan Notification
	closed       bool
}

func newSession(id string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		TTL:          ttl,
		lastActivity: now,
		streams:      make(map[string]context.CancelFunc),
		out:          make(chan Notification, 64),
	}
}

// Touch refreshes the session's last-activity timestamp and reports
// whether it is still live (not expired, not destroyed).
func (s *Session) Touch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.lastActivity = time.Now()
	return true
}

// Expired reports whether TTL has elapsed since the last activity.
func (s *Session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	if s.TTL <= 0 {
		return false
	}
	return time.Since(s.lastActivity) > s.TTL
}

// SetCapabilities records the client capabilities observed during
// initialize.
func (s *Session) SetCapabilities(c mcp.ClientCapabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities = c
}

// Capabilities returns the recorded client capabilities.
func (s *Session) Capabilities() mcp.ClientCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// BeginStream records streamID as outstanding for this session and its
// cancel func, so a session destroy (TTL expiry or explicit disconnect)
// cancels every upstream request it is still waiting on. The returned bool
// is false if the session is already destroyed, in which case the caller
// should not proceed with the request.
func (s *Session) BeginStream(streamID string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.streams[streamID] = cancel
	return true
}

// EndStream removes streamID from the outstanding set once its request
// completes normally.
func (s *Session) EndStream(streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, streamID)
}

// Notify delivers a progress notification for streamID to this session's
// outgoing channel. It reports false, dropping the notification silently,
// if the session has been destroyed or the channel is full.
func (s *Session) Notify(streamID string, payload any) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	out := s.out
	s.mu.Unlock()

	select {
	case out <- Notification{StreamID: streamID, Payload: payload}:
		return true
	default:
		return false
	}
}

// Outgoing returns the channel the session's SSE handler should range over
// to deliver fan-out notifications to the client.
func (s *Session) Outgoing() <-chan Notification { return s.out }

// destroy cancels every outstanding stream and closes the outgoing
// channel. Safe to call more than once.
func (s *Session) destroy() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancels := s.streams
	s.streams = nil
	out := s.out
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	close(out)
}

// Manager owns the session table: insert-on-create, remove-on-destroy, and
// a background sweep that destroys sessions whose TTL has elapsed.
type Manager struct {
	defaultTTL  time.Duration
	maxSessions int
	log         *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager builds a Manager and starts its background sweep loop.
// Callers must call Close to stop the loop and avoid a goroutine leak.
func NewManager(defaultTTL time.Duration, maxSessions int, log *logging.Logger) *Manager {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Minute
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	m := &Manager{
		defaultTTL:  defaultTTL,
		maxSessions: maxSessions,
		log:         log,
		sessions:    make(map[string]*Session),
		stop:        make(chan struct{}),
	}
	m.wg.Add(1)
	go m.sweepLoop()
	return m
}

// CreateSession returns the existing session for id if one is live, or
// creates a new one. An empty id generates an opaque uuid. ErrTooManySessions
// is returned if maxSessions would be exceeded by a brand-new session.
func (m *Manager) CreateSession(id string) (*Session, error) {
	if id != "" {
		if s, ok := m.Get(id); ok {
			s.Touch()
			return s, nil
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > MaxSessionIDLength {
		return nil, ErrInvalidSessionID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		if !s.Expired() {
			return s, nil
		}
		delete(m.sessions, id)
		s.destroy()
	}
	if len(m.sessions) >= m.maxSessions {
		return nil, ErrTooManySessions
	}
	s := newSession(id, m.defaultTTL)
	m.sessions[id] = s
	return s, nil
}

// Get returns the live session for id, if any.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || s.Expired() {
		return nil, false
	}
	return s, true
}

// Touch refreshes id's last-activity timestamp, reporting whether it is
// still live.
func (m *Manager) Touch(id string) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	return s.Touch()
}

// Destroy removes id from the table and cancels its outstanding streams.
func (m *Manager) Destroy(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.destroy()
	}
}

// Sweep destroys every session whose TTL has elapsed. It is called
// periodically by the background loop and is also exported for tests.
func (m *Manager) Sweep() {
	m.mu.RLock()
	var expired []string
	for id, s := range m.sessions {
		if s.Expired() {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.Destroy(id)
		m.log.Debug("session expired", "session_id", id)
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(DefaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stop:
			return
		}
	}
}

// Close stops the background sweep loop and destroys every remaining
// session. Idempotent.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Destroy(id)
	}
}
