// Package node implements the Upstream Node and its Lifecycle Controller:
// the per-upstream state machine that governs when a connector is
// activated, how reconnects back off, and how state changes are reported.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hatago/hatago-hub/internal/logging"
	"github.com/hatago/hatago-hub/internal/upstream"
)

// State is one of the Lifecycle Controller's states.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateCrashed  State = "crashed"
)

// Event is published on a Node's channel whenever its State changes. It is
// a typed value, not a string-keyed emitter payload.
type Event struct {
	UpstreamID string
	State      State
	Err        error
	At         time.Time
}

// Node owns one upstream's Connector and its lifecycle.
type Node struct {
	spec upstream.Specification
	log  *logging.Logger

	newConnector func() (upstream.Connector, error)

	mu        sync.RWMutex
	state     State
	connector upstream.Connector
	attempt   int
	firstFail time.Time

	backoff BackoffPolicy
	events  chan Event

	activation singleflight.Group

	healthCancel context.CancelFunc
	lastErr      error
}

// New constructs a Node for spec. newConnector is injectable so tests can
// supply a fake Connector instead of dialing a real process/socket.
func New(spec upstream.Specification, log *logging.Logger, newConnector func() (upstream.Connector, error)) *Node {
	if newConnector == nil {
		newConnector = func() (upstream.Connector, error) {
			return upstream.New(spec, log)
		}
	}
	return &Node{
		spec:         spec,
		log:          log.WithUpstream(spec.ID),
		newConnector: newConnector,
		state:        StateStopped,
		backoff:      DefaultBackoffPolicy,
		events:       make(chan Event, 16),
	}
}

// ID returns the upstream id this node governs.
func (n *Node) ID() string { return n.spec.ID }

// Events returns the channel Event values are published on. The channel is
// never closed by Node; callers range over it for the node's lifetime.
func (n *Node) Events() <-chan Event { return n.events }

// State returns the current lifecycle state.
func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Connector returns the active connector, or nil if the node is not
// running.
func (n *Node) Connector() upstream.Connector {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.state != StateRunning {
		return nil
	}
	return n.connector
}

// Start activates the node if it is not already running, collapsing any
// concurrent callers into a single in-flight activation via
// singleflight, so at most one connector is ever constructed at a time.
func (n *Node) Start(ctx context.Context) error {
	if n.State() == StateRunning {
		return nil
	}
	_, err, _ := n.activation.Do(n.spec.ID, func() (any, error) {
		return nil, n.doStart(ctx)
	})
	return err
}

func (n *Node) doStart(ctx context.Context) error {
	if n.State() == StateRunning {
		return nil
	}
	n.setState(StateStarting, nil)

	c, err := n.newConnector()
	if err != nil {
		n.recordFailure(err)
		return err
	}
	if err := c.Connect(ctx); err != nil {
		n.recordFailure(err)
		return err
	}

	n.mu.Lock()
	n.connector = c
	n.attempt = 0
	n.firstFail = time.Time{}
	n.lastErr = nil
	n.mu.Unlock()

	n.setState(StateRunning, nil)
	n.startHealthCheck()
	return nil
}

func (n *Node) recordFailure(err error) {
	n.stopHealthCheck()

	n.mu.Lock()
	n.attempt++
	if n.firstFail.IsZero() {
		n.firstFail = time.Now()
	}
	n.lastErr = err
	attempt := n.attempt
	elapsed := time.Since(n.firstFail)
	n.mu.Unlock()

	if n.backoff.Abandoned(attempt, elapsed) {
		n.setState(StateCrashed, fmt.Errorf("reconnect abandoned after %d attempts: %w", attempt, err))
		return
	}
	n.setState(StateCrashed, err)
}

// ReportFailure records a connection-level failure observed on a relayed
// call: a child that exited mid-session, a socket that reset. The node
// leaves the running state, the dead connector is closed and dropped, and
// the crash event arms the hub's reconnect schedule, the same path a
// failed health probe takes. A report against a node that is not running
// is ignored, so concurrent failing calls collapse into one transition.
func (n *Node) ReportFailure(err error) {
	n.mu.Lock()
	if n.state != StateRunning {
		n.mu.Unlock()
		return
	}
	n.state = StateCrashed
	c := n.connector
	n.connector = nil
	n.mu.Unlock()

	if c != nil {
		_ = c.Close()
	}
	n.recordFailure(err)
}

// NextRetryDelay returns how long to wait before the next Start attempt,
// based on the current failure streak.
func (n *Node) NextRetryDelay() time.Duration {
	n.mu.RLock()
	attempt := n.attempt
	n.mu.RUnlock()
	return n.backoff.Delay(attempt)
}

// ShouldRetry reports whether the current failure streak has not yet been
// abandoned, per the backoff policy's attempt-ceiling and wall-clock
// ceiling. A node whose streak is abandoned stays crashed until an
// operator or the management collaborator intervenes.
func (n *Node) ShouldRetry() bool {
	n.mu.RLock()
	attempt := n.attempt
	elapsed := time.Since(n.firstFail)
	n.mu.RUnlock()
	return !n.backoff.Abandoned(attempt, elapsed)
}

// LastError returns the error recorded by the most recent failed
// connect/health-check attempt, or nil if the node has never failed.
func (n *Node) LastError() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastErr
}

// Attempts returns the number of reconnect attempts in the current failure
// streak (zero once the node is running or has never failed).
func (n *Node) Attempts() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.attempt
}

// Stop deactivates the node, closing its connector.
//
// A stop issued while a Start is in flight joins that Start's singleflight
// key instead of racing it: Do shares the in-flight call's result with any
// duplicate caller using the same key, so this blocks until doStart has
// set the connector (or failed) before Stop reads it. Without this, Stop
// could observe connector == nil mid-activation, report StateStopped, and
// then lose the race as doStart finishes and flips the node back to
// StateRunning with a connector the caller believed was stopped.
func (n *Node) Stop(ctx context.Context) error {
	n.activation.Do(n.spec.ID, func() (any, error) { return nil, nil })

	n.stopHealthCheck()

	n.mu.Lock()
	c := n.connector
	n.connector = nil
	n.mu.Unlock()

	if c == nil {
		n.setState(StateStopped, nil)
		return nil
	}

	n.setState(StateStopping, nil)
	err := c.Close()
	n.setState(StateStopped, nil)
	return err
}

// Restart stops and starts the node again.
func (n *Node) Restart(ctx context.Context) error {
	if err := n.Stop(ctx); err != nil {
		n.log.Warn("restart: stop failed", "error", err)
	}
	return n.Start(ctx)
}

func (n *Node) setState(s State, err error) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()

	ev := Event{UpstreamID: n.spec.ID, State: s, Err: err, At: time.Now()}
	select {
	case n.events <- ev:
	default:
		// Slow consumer: drop rather than block the lifecycle goroutine.
		n.log.Warn("dropped node event, events channel full", "state", s)
	}
}
