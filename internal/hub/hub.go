// Package hub wires the Upstream Node, Registry, and Router components
// into the running multiplexing fleet: it owns the node table, starts
// eager upstreams at boot, reacts to lifecycle events by discovering
// capabilities or scheduling a reconnect, and implements router.Hub so the
// Router can lazily activate and invoke the upstream a call resolves to.
package hub

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/hatago/hatago-hub/internal/idle"
	"github.com/hatago/hatago-hub/internal/logging"
	"github.com/hatago/hatago-hub/internal/metrics"
	"github.com/hatago/hatago-hub/internal/node"
	"github.com/hatago/hatago-hub/internal/registry"
	"github.com/hatago/hatago-hub/internal/router"
	"github.com/hatago/hatago-hub/internal/upstream"
)

// Config is the in-process shape the external configuration collaborator
// resolves down to before handing it to New: a configuration-ordered list
// of upstream specifications plus the naming and concurrency policy.
type Config struct {
	// Upstreams is in configuration order; aggregated list methods and
	// the legacy prefix fallback respect this order.
	Upstreams []upstream.Specification

	NamingStrategy  registry.CollisionStrategy
	NamingSeparator string

	RouterOptions router.Options

	// GlobalConcurrency and PerServerConcurrency bound in-flight calls
	// hub-wide and per upstream, respectively. Zero means unlimited.
	GlobalConcurrency    int
	PerServerConcurrency int

	// MetadataCachePath is the <config>.metadata.json sibling file. Empty
	// disables the metadata cache entirely.
	MetadataCachePath string

	// ShutdownGrace bounds how long Stop waits for connectors to close
	// before abandoning the remainder.
	ShutdownGrace time.Duration

	// NewConnector overrides how each upstream's Connector is built. Tests
	// supply a fake; production leaves this nil and gets upstream.New.
	NewConnector func(upstream.Specification) (upstream.Connector, error)

	// Metrics, when non-nil, receives node-state and reconnect observations.
	// Per-call tool-call metrics are recorded separately by an
	// internal/metrics.Hooks mcp-go hook attached to the MCPServer before
	// New runs, since only that hook sees the wall-clock duration.
	Metrics *metrics.Metrics

	// Registry, when non-nil, is used instead of building a fresh one. The
	// caller needs this to wire an mcp-go Hooks tool-call observer, which
	// must resolve upstream IDs from the same Registry the Hub populates,
	// and Hooks have to be attached to the MCPServer before New runs.
	Registry *registry.Registry
}

// NodeStatus is a read-only snapshot of one upstream's lifecycle, used by
// the /debug and /tools operator introspection surfaces.
type NodeStatus struct {
	ID         string
	State      node.State
	Activation upstream.ActivationPolicy
	Attempts   int
	RefCount   int
	LastError  string
}

// Hub is the running aggregation fleet: one node.Node and one idle.Manager
// per configured upstream, a shared Registry, an optional metadata Cache,
// and the Router that bridges mcp-go's downstream MCPServer to all of it.
type Hub struct {
	log *logging.Logger
	cfg Config

	order []string
	specs map[string]upstream.Specification
	nodes map[string]*node.Node
	idles map[string]*idle.Manager

	registry *registry.Registry
	cache    *registry.Cache
	router   *router.Router

	globalLimiter node.Limiter
	perServer     map[string]node.Limiter

	retryMu     sync.Mutex
	retryTimers map[string]*time.Timer

	watchWG sync.WaitGroup
	closed  chan struct{}
}

// New builds a Hub for cfg. The returned Hub is not yet running: call
// Start to activate eager upstreams and begin serving.
func New(cfg Config, mcpServer *mcpserver.MCPServer, log *logging.Logger) *Hub {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}

	reg := cfg.Registry
	if reg == nil {
		reg = registry.New(cfg.NamingStrategy, cfg.NamingSeparator)
	}
	cache := registry.Load(cfg.MetadataCachePath, log)

	h := &Hub{
		log:           log,
		cfg:           cfg,
		specs:         make(map[string]upstream.Specification, len(cfg.Upstreams)),
		nodes:         make(map[string]*node.Node, len(cfg.Upstreams)),
		idles:         make(map[string]*idle.Manager, len(cfg.Upstreams)),
		registry:      reg,
		cache:         cache,
		globalLimiter: node.NewLimiter(cfg.GlobalConcurrency),
		perServer:     make(map[string]node.Limiter, len(cfg.Upstreams)),
		retryTimers:   make(map[string]*time.Timer),
		closed:        make(chan struct{}),
	}

	for _, spec := range cfg.Upstreams {
		h.order = append(h.order, spec.ID)
		h.specs[spec.ID] = spec

		var newConnector func() (upstream.Connector, error)
		if cfg.NewConnector != nil {
			spec := spec
			newConnector = func() (upstream.Connector, error) { return cfg.NewConnector(spec) }
		}
		n := node.New(spec, log, newConnector)
		h.nodes[spec.ID] = n
		h.idles[spec.ID] = idle.New(idle.Policy{
			IdleTimeout: spec.IdleTimeout,
			MinLinger:   spec.MinLinger,
			Reset:       idle.ResetPolicy(spec.IdleReset),
		}, n, log)
		h.perServer[spec.ID] = node.NewLimiter(cfg.PerServerConcurrency)
	}

	h.router = router.New(mcpServer, reg, cache, h, cfg.RouterOptions, log)
	return h
}

// Router returns the Router instance wired to this Hub, for the downstream
// transport and introspection surfaces to query.
func (h *Hub) Router() *router.Router { return h.router }

// Registry returns the shared Registry, for introspection surfaces that
// need raw entries rather than the Router's aggregation.
func (h *Hub) Registry() *registry.Registry { return h.registry }

// Start activates every `eager` upstream concurrently and begins each
// node's lifecycle-event watch loop. It returns once all eager activation
// attempts have completed (failures are logged, not fatal: a crashed
// eager node simply begins its reconnect schedule like any other).
func (h *Hub) Start(ctx context.Context) error {
	for _, id := range h.order {
		h.watchWG.Add(1)
		go h.watchNode(id)

		if entry, ok := h.cache.Get(id); ok {
			h.registerFromCache(id, entry)
		}
	}

	var g errgroup.Group
	for _, id := range h.order {
		spec := h.specs[id]
		if spec.Activation != upstream.ActivationEager {
			continue
		}
		id := id
		g.Go(func() error {
			n := h.nodes[id]
			if err := n.Start(ctx); err != nil {
				h.log.Warn("eager upstream failed to start", "upstream", id, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Stop closes every connector concurrently, draining up to
// Config.ShutdownGrace, then flushes the metadata cache. Resource
// acquisition in this hub is always scoped so release runs on every exit
// path; Stop is that release for the upstream fleet as a whole.
func (h *Hub) Stop(ctx context.Context) error {
	close(h.closed)

	h.retryMu.Lock()
	for _, t := range h.retryTimers {
		t.Stop()
	}
	h.retryTimers = map[string]*time.Timer{}
	h.retryMu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, h.cfg.ShutdownGrace)
	defer cancel()

	var g errgroup.Group
	for _, id := range h.order {
		n := h.nodes[id]
		g.Go(func() error {
			if err := n.Stop(shutdownCtx); err != nil {
				h.log.Warn("error stopping upstream", "upstream", id, "error", err)
			}
			return nil
		})
	}
	err := g.Wait()

	h.watchWG.Wait()

	if flushErr := h.cache.Flush(); flushErr != nil {
		h.log.Warn("metadata cache: final flush failed", "error", flushErr)
	}
	return err
}

// watchNode ranges over one node's Event channel for the Hub's lifetime,
// triggering discovery on a successful (re)activation and scheduling a
// reconnect on crash. Reconnect is never invoked synchronously from the
// failure handler, only scheduled on the event loop, which bounds
// recursion when a reconnect itself fails.
func (h *Hub) watchNode(id string) {
	defer h.watchWG.Done()
	n := h.nodes[id]
	for {
		select {
		case ev, ok := <-n.Events():
			if !ok {
				return
			}
			if h.cfg.Metrics != nil {
				h.cfg.Metrics.SetNodeState(id, ev.State)
			}
			switch ev.State {
			case node.StateRunning:
				h.idles[id].NotifyStarted()
				h.discover(id)
			case node.StateCrashed:
				h.scheduleReconnect(id)
			}
		case <-h.closed:
			return
		}
	}
}

// discover queries a freshly-running upstream for its tools, resources,
// and prompts, registers them, updates the metadata cache, and
// resynchronizes the router's mounted handler set.
func (h *Hub) discover(id string) {
	n := h.nodes[id]
	conn := n.Connector()
	if conn == nil {
		return
	}
	spec := h.specs[id]

	ctx, cancel := context.WithTimeout(context.Background(), discoverTimeout)
	defer cancel()

	var capabilities []string

	tools, err := conn.ListTools(ctx)
	if err != nil {
		h.log.Debug("discover: list tools failed", "upstream", id, "error", err)
		tools = nil
	} else {
		capabilities = append(capabilities, "tools")
	}
	tools = filterTools(tools, spec.IncludeGlobs, spec.ExcludeGlobs)

	resources, err := conn.ListResources(ctx)
	if err != nil {
		h.log.Debug("discover: list resources failed", "upstream", id, "error", err)
		resources = nil
	} else {
		capabilities = append(capabilities, "resources")
	}

	prompts, err := conn.ListPrompts(ctx)
	if err != nil {
		h.log.Debug("discover: list prompts failed", "upstream", id, "error", err)
		prompts = nil
	} else {
		capabilities = append(capabilities, "prompts")
	}

	if errs := h.registry.RegisterServerTools(id, spec.EffectivePrefix(), spec.ToolAliases, tools); len(errs) > 0 {
		h.log.Warn("tool registration had collisions", "upstream", id, "errors", errs)
	}
	if skipped := h.registry.RegisterServerResources(id, resources); len(skipped) > 0 {
		h.log.Debug("resources skipped, already owned by another upstream", "upstream", id, "uris", skipped)
	}
	if errs := h.registry.RegisterServerPrompts(id, spec.EffectivePrefix(), spec.ToolAliases, prompts); len(errs) > 0 {
		h.log.Warn("prompt registration had collisions", "upstream", id, "errors", errs)
	}

	h.cache.Update(id, tools, resources, prompts, capabilities)
	h.router.SyncUpstream(id)
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.RegisteredTools.WithLabelValues(id).Set(float64(len(tools)))
	}
}

// registerFromCache pre-populates the registry (and, transitively via the
// caller, the router's mounted handler set) from the persisted metadata
// cache for an upstream that has not connected yet this run, so that
// tools/list and routing both see its last-known capabilities before it
// ever wakes up.
func (h *Hub) registerFromCache(id string, entry registry.Entry) {
	spec := h.specs[id]
	tools := filterTools(entry.Tools, spec.IncludeGlobs, spec.ExcludeGlobs)
	h.registry.RegisterServerTools(id, spec.EffectivePrefix(), spec.ToolAliases, tools)
	h.registry.RegisterServerResources(id, entry.Resources)
	h.registry.RegisterServerPrompts(id, spec.EffectivePrefix(), spec.ToolAliases, entry.Prompts)
	h.router.SyncUpstream(id)
}

// scheduleReconnect arms a one-shot timer at the node's next backoff
// delay. manual upstreams are never
// auto-restarted; a streak that has exceeded the backoff policy's ceiling
// is abandoned and left crashed for an operator to investigate.
func (h *Hub) scheduleReconnect(id string) {
	spec := h.specs[id]
	if spec.Activation == upstream.ActivationManual {
		return
	}
	n := h.nodes[id]
	if !n.ShouldRetry() {
		h.log.Error("reconnect abandoned, giving up on upstream", "upstream", id, "error", n.LastError())
		return
	}

	delay := n.NextRetryDelay()
	timer := time.AfterFunc(delay, func() {
		if h.cfg.Metrics != nil {
			h.cfg.Metrics.ReconnectAttemptsTotal.WithLabelValues(id).Inc()
		}
		connectCtx, cancel := context.WithTimeout(context.Background(), connectTimeout(spec))
		defer cancel()
		if err := n.Start(connectCtx); err != nil {
			h.log.Debug("scheduled reconnect failed", "upstream", id, "error", err)
		}
	})

	h.retryMu.Lock()
	if old, ok := h.retryTimers[id]; ok {
		old.Stop()
	}
	h.retryTimers[id] = timer
	h.retryMu.Unlock()
}

// Ensure implements router.Hub: it activates upstreamID on demand (lazy
// activation) or reports why it cannot. A `manual` upstream that is not
// already running is never started here (only the management
// collaborator may start it), so a targeted call against it fails fast
// with transport-error rather than silently activating it.
func (h *Hub) Ensure(ctx context.Context, upstreamID string) error {
	n, ok := h.nodes[upstreamID]
	if !ok {
		return upstream.NewError("Ensure", upstream.KindUnknownTarget, upstreamID, fmt.Errorf("no such upstream: %s", upstreamID))
	}

	switch n.State() {
	case node.StateRunning:
		return nil
	case node.StateCrashed, node.StateStopping:
		return upstream.NewError("Ensure", upstream.KindTransport, upstreamID, errNotRunning(n.State()))
	case node.StateStarting:
		return n.Start(ctx)
	default: // StateStopped
		spec := h.specs[upstreamID]
		if spec.Activation == upstream.ActivationManual {
			return upstream.NewError("Ensure", upstream.KindTransport, upstreamID, errManualNotRunning)
		}
		return n.Start(ctx)
	}
}

// Connector implements router.Hub.
func (h *Hub) Connector(upstreamID string) upstream.Connector {
	n, ok := h.nodes[upstreamID]
	if !ok {
		return nil
	}
	return n.Connector()
}

// State implements router.Hub. It returns the empty string for an unknown
// upstream id, which DispatchPrefixed relies on to detect an unrecognized
// prefix.
func (h *Hub) State(upstreamID string) node.State {
	n, ok := h.nodes[upstreamID]
	if !ok {
		return ""
	}
	return n.State()
}

// TrackCallStart implements router.Hub: it blocks on the global and
// per-upstream concurrency limiters before bumping the idle manager's
// in-flight reference count.
func (h *Hub) TrackCallStart(upstreamID string) {
	h.globalLimiter.Acquire()
	h.perServer[upstreamID].Acquire()
	if m, ok := h.idles[upstreamID]; ok {
		m.TrackStart()
	}
}

// TrackCallEnd implements router.Hub, the mirror of TrackCallStart.
func (h *Hub) TrackCallEnd(upstreamID string) {
	if m, ok := h.idles[upstreamID]; ok {
		m.TrackEnd()
	}
	h.perServer[upstreamID].Release()
	h.globalLimiter.Release()
}

// ReportFailure implements router.Hub: a call-time connection failure is
// recorded on the node, transitioning it to crashed; the node's crash
// event then arms the reconnect schedule through watchNode, exactly as a
// failed health probe would.
func (h *Hub) ReportFailure(upstreamID string, err error) {
	if n, ok := h.nodes[upstreamID]; ok {
		n.ReportFailure(err)
	}
}

// UpstreamIDs implements router.Hub.
func (h *Hub) UpstreamIDs() []string {
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// Snapshot returns a point-in-time status of every configured upstream, in
// configuration order, for the /debug and /tools introspection endpoints.
func (h *Hub) Snapshot() []NodeStatus {
	out := make([]NodeStatus, 0, len(h.order))
	for _, id := range h.order {
		n := h.nodes[id]
		lastErr := ""
		if err := n.LastError(); err != nil {
			lastErr = err.Error()
		}
		out = append(out, NodeStatus{
			ID:         id,
			State:      n.State(),
			Activation: h.specs[id].Activation,
			Attempts:   n.Attempts(),
			RefCount:   h.idles[id].RefCount(),
			LastError:  lastErr,
		})
	}
	return out
}

const discoverTimeout = 30 * time.Second

func connectTimeout(spec upstream.Specification) time.Duration {
	if spec.ConnectTimeout > 0 {
		return spec.ConnectTimeout
	}
	return 30 * time.Second
}

func filterTools(tools []mcp.Tool, include, exclude []string) []mcp.Tool {
	if len(include) == 0 && len(exclude) == 0 {
		return tools
	}
	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if len(include) > 0 && !matchesAny(include, t.Name) {
			continue
		}
		if matchesAny(exclude, t.Name) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func matchesAny(globs []string, name string) bool {
	for _, g := range globs {
		if ok, _ := path.Match(g, name); ok {
			return true
		}
	}
	return false
}

var errManualNotRunning = errors.New("upstream has manual activation and is not running")

func errNotRunning(s node.State) error {
	return fmt.Errorf("upstream is %s", s)
}
