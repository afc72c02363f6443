// Package router implements the thin request router: given a downstream
// call it resolves the target upstream from the registry, ensures that
// upstream is active, relays the call, and keeps mcp-go's own handler set
// synchronized with the registry as upstreams come and go.
//
// Rather than re-implementing JSON-RPC parsing by hand, the router mounts
// one github.com/mark3labs/mcp-go/server.ServerTool/ServerResource/
// ServerPrompt per registry entry, closing over the resolved name, and
// lets mcp-go's MCPServer own downstream framing and dispatch.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/codes"

	"github.com/hatago/hatago-hub/internal/logging"
	"github.com/hatago/hatago-hub/internal/node"
	"github.com/hatago/hatago-hub/internal/registry"
	"github.com/hatago/hatago-hub/internal/session"
	"github.com/hatago/hatago-hub/internal/telemetry"
	"github.com/hatago/hatago-hub/internal/upstream"
)

// DefaultToolCallTimeout is the deadline applied to an outbound upstream
// request when the caller does not override it.
const DefaultToolCallTimeout = 20 * time.Second

// Separator joins an upstream id to a method name for the
// "<upstreamId>__<method>" passthrough addressing scheme.
const Separator = "__"

// Hub is the narrow surface the Router needs from the rest of the hub:
// lazy activation, connector access, and idle refcounting. internal/hub
// implements it by composing node.Node, idle.Manager, and discovery.
type Hub interface {
	// Ensure starts upstreamID if it is not already running (lazy
	// activation). It returns once the node is running; registering its
	// tools/resources/prompts is not part of Ensure (internal/hub does
	// that asynchronously when the node reports running). Idempotent;
	// concurrent callers collapse onto one
	// activation per the node package's singleflight contract.
	Ensure(ctx context.Context, upstreamID string) error
	// Connector returns the live connector for upstreamID, or nil if it
	// is not currently running.
	Connector(upstreamID string) upstream.Connector
	// State reports upstreamID's current lifecycle state.
	State(upstreamID string) node.State
	// TrackCallStart/TrackCallEnd bracket one in-flight call for the
	// idle manager's reference count.
	TrackCallStart(upstreamID string)
	TrackCallEnd(upstreamID string)
	// ReportFailure tells the hub a relayed call observed a
	// connection-level failure on upstreamID, so its node leaves the
	// running state and the reconnect schedule is armed.
	ReportFailure(upstreamID string, err error)
	// UpstreamIDs returns every configured upstream id in configuration
	// order, the order aggregated lists preserve.
	UpstreamIDs() []string
}

// Options configures Router behavior.
type Options struct {
	// ToolCallTimeout bounds every outbound upstream request.
	ToolCallTimeout time.Duration
	// LegacyFirstUpstreamFallback, when true, routes an unprefixed,
	// unrecognized method to the first configured upstream instead of
	// failing with unknown-target. Defaults to false; kept only for
	// clients that still depend on the old behaviour.
	LegacyFirstUpstreamFallback bool

	// Tracer wraps every targeted call in a span. Defaults to
	// telemetry.NewNoop() when nil, so tracing is opt-in.
	Tracer telemetry.Tracer
}

// Router wires the registry to mcp-go's MCPServer and implements
// targeted and aggregated dispatch.
type Router struct {
	mcpServer *mcpserver.MCPServer
	registry  *registry.Registry
	cache     *registry.Cache
	hub       Hub
	opts      Options
	log       *logging.Logger

	mounted map[string]mountedSet // upstreamID -> currently-mounted names/uris, for diffing

	tracer telemetry.Tracer
}

type mountedSet struct {
	tools     map[string]struct{}
	resources map[string]struct{}
	prompts   map[string]struct{}
}

func newMountedSet() mountedSet {
	return mountedSet{
		tools:     make(map[string]struct{}),
		resources: make(map[string]struct{}),
		prompts:   make(map[string]struct{}),
	}
}

// New builds a Router. mcpServer is the downstream-facing MCP server
// instance the hub's transport listeners serve.
func New(mcpServer *mcpserver.MCPServer, reg *registry.Registry, cache *registry.Cache, hub Hub, opts Options, log *logging.Logger) *Router {
	if opts.ToolCallTimeout <= 0 {
		opts.ToolCallTimeout = DefaultToolCallTimeout
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoop()
	}
	return &Router{
		mcpServer: mcpServer,
		registry:  reg,
		cache:     cache,
		hub:       hub,
		opts:      opts,
		log:       log,
		mounted:   make(map[string]mountedSet),
		tracer:    tracer,
	}
}

// SyncUpstream reconciles mcp-go's handler set for upstreamID against the
// registry's current entries for it, adding newly-registered names and
// removing ones no longer present: the atomic-replace-per-upstream
// contract applied to the downstream-facing handler set.
func (rt *Router) SyncUpstream(upstreamID string) {
	prev, ok := rt.mounted[upstreamID]
	if !ok {
		prev = newMountedSet()
	}
	next := newMountedSet()

	var toolsToAdd []mcpserver.ServerTool
	for _, e := range rt.registry.ToolsFor(upstreamID) {
		next.tools[e.Tool.Name] = struct{}{}
		if _, already := prev.tools[e.Tool.Name]; already {
			continue
		}
		toolsToAdd = append(toolsToAdd, mcpserver.ServerTool{
			Tool:    e.Tool,
			Handler: rt.toolHandler(e.Tool.Name),
		})
	}
	var toolsToRemove []string
	for name := range prev.tools {
		if _, still := next.tools[name]; !still {
			toolsToRemove = append(toolsToRemove, name)
		}
	}

	var promptsToAdd []mcpserver.ServerPrompt
	for _, e := range rt.registry.PromptsFor(upstreamID) {
		next.prompts[e.Prompt.Name] = struct{}{}
		if _, already := prev.prompts[e.Prompt.Name]; already {
			continue
		}
		promptsToAdd = append(promptsToAdd, mcpserver.ServerPrompt{
			Prompt:  e.Prompt,
			Handler: rt.promptHandler(e.Prompt.Name),
		})
	}
	var promptsToRemove []string
	for name := range prev.prompts {
		if _, still := next.prompts[name]; !still {
			promptsToRemove = append(promptsToRemove, name)
		}
	}

	var resourcesToAdd []mcpserver.ServerResource
	for _, e := range rt.registry.ResourcesFor(upstreamID) {
		next.resources[e.Resource.URI] = struct{}{}
		if _, already := prev.resources[e.Resource.URI]; already {
			continue
		}
		resourcesToAdd = append(resourcesToAdd, mcpserver.ServerResource{
			Resource: e.Resource,
			Handler:  rt.resourceHandler(e.Resource.URI),
		})
	}
	var resourcesToRemove []string
	for uri := range prev.resources {
		if _, still := next.resources[uri]; !still {
			resourcesToRemove = append(resourcesToRemove, uri)
		}
	}

	if len(toolsToAdd) > 0 {
		rt.mcpServer.AddTools(toolsToAdd...)
	}
	if len(toolsToRemove) > 0 {
		rt.mcpServer.DeleteTools(toolsToRemove...)
	}
	if len(promptsToAdd) > 0 {
		rt.mcpServer.AddPrompts(promptsToAdd...)
	}
	if len(promptsToRemove) > 0 {
		rt.mcpServer.DeletePrompts(promptsToRemove...)
	}
	if len(resourcesToAdd) > 0 {
		rt.mcpServer.AddResources(resourcesToAdd...)
	}
	for _, uri := range resourcesToRemove {
		// The mcp-go server API has no batch resource removal, so each
		// is removed individually.
		rt.mcpServer.RemoveResource(uri)
	}

	rt.mounted[upstreamID] = next
}

// UnmountUpstream removes every currently-mounted handler for upstreamID,
// used when an upstream is deregistered entirely.
func (rt *Router) UnmountUpstream(upstreamID string) {
	prev, ok := rt.mounted[upstreamID]
	if !ok {
		return
	}
	if len(prev.tools) > 0 {
		names := make([]string, 0, len(prev.tools))
		for n := range prev.tools {
			names = append(names, n)
		}
		rt.mcpServer.DeleteTools(names...)
	}
	if len(prev.prompts) > 0 {
		names := make([]string, 0, len(prev.prompts))
		for n := range prev.prompts {
			names = append(names, n)
		}
		rt.mcpServer.DeletePrompts(names...)
	}
	for uri := range prev.resources {
		rt.mcpServer.RemoveResource(uri)
	}
	delete(rt.mounted, upstreamID)
}

func (rt *Router) toolHandler(exposedName string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		token, _ := requestProgressToken(req)
		return rt.callTool(ctx, exposedName, req.Params.Arguments, token)
	}
}

func (rt *Router) promptHandler(exposedName string) func(context.Context, mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return rt.GetPrompt(ctx, exposedName, req.Params.Arguments)
	}
}

func (rt *Router) resourceHandler(uri string) func(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return func(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		res, err := rt.ReadResource(ctx, uri)
		if err != nil {
			return nil, err
		}
		return res.Contents, nil
	}
}

// CallTool resolves exposedName, activates its upstream if needed, and
// relays the call. args may be nil.
func (rt *Router) CallTool(ctx context.Context, exposedName string, args any) (*mcp.CallToolResult, error) {
	return rt.callTool(ctx, exposedName, args, "")
}

// callTool is CallTool's implementation, additionally threading a progress
// token through to invoke's session fan-out wiring when the downstream
// request carried one.
func (rt *Router) callTool(ctx context.Context, exposedName string, args any, progressToken string) (*mcp.CallToolResult, error) {
	if err := validateCallTool(exposedName); err != nil {
		return nil, err
	}

	entry, ok := rt.registry.ResolveTool(exposedName)
	if !ok {
		// Not a registered public name: fall through to the
		// "<upstreamId>__<method>" passthrough addressing (and, when
		// enabled, the first-upstream legacy fallback).
		return rt.DispatchPrefixed(ctx, exposedName, args)
	}

	argMap, _ := args.(map[string]any)

	result, err := invoke(rt, ctx, "tools/call", entry.UpstreamID, progressToken, func(ctx context.Context, c upstream.Connector) (*mcp.CallToolResult, error) {
		return c.CallTool(ctx, entry.OriginalName, argMap)
	})
	if err == nil && rt.cache != nil {
		rt.cache.RecordCall(entry.UpstreamID, entry.OriginalName)
	}
	return result, err
}

// ReadResource resolves uri and relays a resources/read call.
func (rt *Router) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	if err := validateReadResource(uri); err != nil {
		return nil, err
	}

	entry, ok := rt.registry.ResolveResource(uri)
	if !ok {
		return nil, upstream.NewError("resources/read", upstream.KindUnknownTarget, uri, errUnknownTarget(uri))
	}

	return invoke(rt, ctx, "resources/read", entry.UpstreamID, "", func(ctx context.Context, c upstream.Connector) (*mcp.ReadResourceResult, error) {
		return c.ReadResource(ctx, uri)
	})
}

// GetPrompt resolves exposedName and relays a prompts/get call.
func (rt *Router) GetPrompt(ctx context.Context, exposedName string, args map[string]string) (*mcp.GetPromptResult, error) {
	if err := validateGetPrompt(exposedName, args); err != nil {
		return nil, err
	}

	entry, ok := rt.registry.ResolvePrompt(exposedName)
	if !ok {
		return nil, upstream.NewError("prompts/get", upstream.KindUnknownTarget, exposedName, errUnknownTarget(exposedName))
	}

	return invoke(rt, ctx, "prompts/get", entry.UpstreamID, "", func(ctx context.Context, c upstream.Connector) (*mcp.GetPromptResult, error) {
		return c.GetPrompt(ctx, entry.OriginalName, args)
	})
}

// invoke is the shared ensure-running/track/timeout/call sequence every
// targeted method goes through. When ctx carries a session (bound by the
// downstream transport) and progressToken is non-empty, upstream progress
// notifications matching that token are relayed to the session's fan-out
// channel for the duration of the call. The whole
// sequence is wrapped in one span, named after method and attributed with
// the resolved upstream, so a trace backend shows exactly which upstream
// served each downstream call.
func invoke[T any](rt *Router, ctx context.Context, method, upstreamID, progressToken string, call func(context.Context, upstream.Connector) (T, error)) (T, error) {
	var zero T

	ctx, span := rt.tracer.Start(ctx, method)
	defer span.End()
	span.SetAttribute("upstream", upstreamID)

	if err := rt.hub.Ensure(ctx, upstreamID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}

	rt.hub.TrackCallStart(upstreamID)
	defer rt.hub.TrackCallEnd(upstreamID)

	conn := rt.hub.Connector(upstreamID)
	if conn == nil {
		err := upstream.NewError("invoke", upstream.KindTransport, upstreamID, errNotRunning(upstreamID))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}

	timeout := rt.opts.ToolCallTimeout
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if sess, ok := session.FromContext(ctx); ok && progressToken != "" {
		if sess.BeginStream(progressToken, cancel) {
			defer sess.EndStream(progressToken)
			go forwardProgress(cctx, sess, conn, progressToken)
		}
	}

	result, err := call(cctx, conn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		// A local cancellation or deadline is not evidence the peer is
		// gone; only a connection-class failure observed while our own
		// context was still live crashes the node.
		if cctx.Err() == nil {
			switch upstream.KindOf(err) {
			case upstream.KindTransport, upstream.KindHandshake, upstream.KindUnauthorised:
				rt.hub.ReportFailure(upstreamID, err)
			}
		}
	}
	return result, err
}

// DispatchPrefixed implements the "<upstreamId>__<method>" legacy
// passthrough addressing for unknown methods: if method carries a known
// upstream's prefix, the prefix is stripped and the tail is invoked on
// that upstream directly, bypassing public-name resolution (the tail is
// the upstream's own name for the tool, not a registry-exposed one).
// Otherwise, when LegacyFirstUpstreamFallback is set, an unprefixed
// unknown method is sent verbatim to the first configured upstream.
// CallTool falls through to this path whenever a name misses the
// registry, so prefixed addressing works on the tools/call surface too.
func (rt *Router) DispatchPrefixed(ctx context.Context, method string, args any) (*mcp.CallToolResult, error) {
	argMap, _ := args.(map[string]any)

	if upstreamID, tail, ok := strings.Cut(method, Separator); ok && tail != "" {
		if rt.hub.State(upstreamID) != "" {
			return invoke(rt, ctx, "tools/call", upstreamID, "", func(ctx context.Context, c upstream.Connector) (*mcp.CallToolResult, error) {
				return c.CallTool(ctx, tail, argMap)
			})
		}
	}

	if rt.opts.LegacyFirstUpstreamFallback {
		if ids := rt.hub.UpstreamIDs(); len(ids) > 0 {
			return invoke(rt, ctx, "tools/call", ids[0], "", func(ctx context.Context, c upstream.Connector) (*mcp.CallToolResult, error) {
				return c.CallTool(ctx, method, argMap)
			})
		}
	}

	return nil, upstream.NewError("dispatch", upstream.KindUnknownTarget, method, errUnknownTarget(method))
}

// ListTools aggregates tools across every configured upstream in
// configuration order. The registry holds each upstream's entries under
// their public (post-naming-policy) names whether they came from a live
// discovery or from the metadata cache pre-populated at hub start, so a
// stopped upstream with cached metadata still contributes, without being
// woken, under the same names routing resolves.
func (rt *Router) ListTools(ctx context.Context) []mcp.Tool {
	var out []mcp.Tool
	for _, id := range rt.hub.UpstreamIDs() {
		for _, e := range rt.registry.ToolsFor(id) {
			out = append(out, e.Tool)
		}
	}
	return out
}

// ListResources mirrors ListTools for resources.
func (rt *Router) ListResources(ctx context.Context) []mcp.Resource {
	var out []mcp.Resource
	for _, id := range rt.hub.UpstreamIDs() {
		for _, e := range rt.registry.ResourcesFor(id) {
			out = append(out, e.Resource)
		}
	}
	return out
}

// ListPrompts mirrors ListTools for prompts.
func (rt *Router) ListPrompts(ctx context.Context) []mcp.Prompt {
	var out []mcp.Prompt
	for _, id := range rt.hub.UpstreamIDs() {
		for _, e := range rt.registry.PromptsFor(id) {
			out = append(out, e.Prompt)
		}
	}
	return out
}

type unknownTargetError string

func (e unknownTargetError) Error() string { return fmt.Sprintf("unknown target: %q", string(e)) }

func errUnknownTarget(name string) error { return unknownTargetError(name) }

type notRunningError string

func (e notRunningError) Error() string { return fmt.Sprintf("upstream %q is not running", string(e)) }

func errNotRunning(id string) error { return notRunningError(id) }
