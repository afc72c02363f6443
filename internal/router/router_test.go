package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hatago/hatago-hub/internal/logging"
	"github.com/hatago/hatago-hub/internal/node"
	"github.com/hatago/hatago-hub/internal/registry"
	"github.com/hatago/hatago-hub/internal/session"
	"github.com/hatago/hatago-hub/internal/upstream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errPeerClosed = errors.New("peer closed")

// fakeConnector is a scripted in-memory Connector standing in for a real
// upstream, shared by every router-level test.
type fakeConnector struct {
	mu            sync.Mutex
	calls         int32
	callErr       error
	lastTool      string
	lastURI       string
	lastPrompt    string
	notifications chan mcp.JSONRPCNotification
	progressAfter time.Duration
}

func (f *fakeConnector) Connect(ctx context.Context) error { return nil }
func (f *fakeConnector) Close() error                      { return nil }
func (f *fakeConnector) Ping(ctx context.Context) error    { return nil }
func (f *fakeConnector) ListTools(ctx context.Context) ([]mcp.Tool, error) { return nil, nil }
func (f *fakeConnector) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.lastTool = name
	callErr := f.callErr
	f.mu.Unlock()
	if callErr != nil {
		return nil, callErr
	}
	if f.progressAfter > 0 && f.notifications != nil {
		var n mcp.JSONRPCNotification
		_ = json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":"tok-1","progress":1}}`), &n)
		select {
		case f.notifications <- n:
		case <-ctx.Done():
		}
		time.Sleep(f.progressAfter)
	}
	return &mcp.CallToolResult{}, nil
}
func (f *fakeConnector) ListResources(ctx context.Context) ([]mcp.Resource, error) { return nil, nil }
func (f *fakeConnector) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	f.mu.Lock()
	f.lastURI = uri
	f.mu.Unlock()
	return &mcp.ReadResourceResult{}, nil
}
func (f *fakeConnector) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) { return nil, nil }
func (f *fakeConnector) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	f.mu.Lock()
	f.lastPrompt = name
	f.mu.Unlock()
	return &mcp.GetPromptResult{}, nil
}
func (f *fakeConnector) Notifications() <-chan mcp.JSONRPCNotification { return f.notifications }

// fakeHub is a minimal, in-memory implementation of the router.Hub
// interface: every configured upstream is already "running" against its
// fakeConnector, with no lazy activation semantics of its own; those are
// exercised at the hub package level instead.
type fakeHub struct {
	mu    sync.Mutex
	conns map[string]upstream.Connector
	order []string

	ensureErr error
	ensured   []string
	failures  []string
	starts    int32
	ends      int32
}

func newFakeHub() *fakeHub {
	return &fakeHub{conns: make(map[string]upstream.Connector)}
}

func (h *fakeHub) add(id string, c upstream.Connector) {
	h.conns[id] = c
	h.order = append(h.order, id)
}

func (h *fakeHub) Ensure(ctx context.Context, upstreamID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensured = append(h.ensured, upstreamID)
	return h.ensureErr
}
func (h *fakeHub) Connector(upstreamID string) upstream.Connector { return h.conns[upstreamID] }
func (h *fakeHub) State(upstreamID string) node.State {
	if _, ok := h.conns[upstreamID]; ok {
		return node.StateRunning
	}
	return ""
}
func (h *fakeHub) TrackCallStart(upstreamID string) { atomic.AddInt32(&h.starts, 1) }
func (h *fakeHub) TrackCallEnd(upstreamID string)   { atomic.AddInt32(&h.ends, 1) }
func (h *fakeHub) ReportFailure(upstreamID string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, upstreamID)
}
func (h *fakeHub) UpstreamIDs() []string            { return h.order }

func newTestMCPServer() *mcpserver.MCPServer {
	return mcpserver.NewMCPServer("hatago-test", "0.0.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithPromptCapabilities(true),
	)
}

func newTestRegistry(t *testing.T, upstreamID string, tool mcp.Tool) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.StrategyNamespace, "_")
	reg.RegisterServerTools(upstreamID, upstreamID, nil, []mcp.Tool{tool})
	return reg
}

func TestRouter_CallTool_Targeted(t *testing.T) {
	fc := &fakeConnector{}
	h := newFakeHub()
	h.add("srv1", fc)
	reg := newTestRegistry(t, "srv1", mcp.Tool{Name: "echo"})

	rt := New(newTestMCPServer(), reg, nil, h, Options{}, logging.Discard())

	result, err := rt.CallTool(context.Background(), "srv1_echo", map[string]any{"x": 1})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fc.calls))
	assert.Contains(t, h.ensured, "srv1")
}

func TestRouter_CallTool_UnknownName(t *testing.T) {
	h := newFakeHub()
	reg := newTestRegistry(t, "srv1", mcp.Tool{Name: "echo"})
	rt := New(newTestMCPServer(), reg, nil, h, Options{}, logging.Discard())

	_, err := rt.CallTool(context.Background(), "does_not_exist", nil)
	require.Error(t, err)
	assert.Equal(t, upstream.KindUnknownTarget, upstream.KindOf(err))
}

func TestRouter_CallTool_UnregisteredPrefixedNameFallsThroughToDispatch(t *testing.T) {
	fc := &fakeConnector{}
	h := newFakeHub()
	h.add("srv1", fc)
	reg := registry.New(registry.StrategyNamespace, "_")
	rt := New(newTestMCPServer(), reg, nil, h, Options{}, logging.Discard())

	_, err := rt.CallTool(context.Background(), "srv1__undeclared", nil)
	require.NoError(t, err)
	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Equal(t, "undeclared", fc.lastTool)
}

func TestRouter_CallTool_EmptyNameRejectedBeforeTouchingHub(t *testing.T) {
	h := newFakeHub()
	reg := registry.New(registry.StrategyNamespace, "_")
	rt := New(newTestMCPServer(), reg, nil, h, Options{}, logging.Discard())

	_, err := rt.CallTool(context.Background(), "", nil)
	require.Error(t, err)
	assert.Equal(t, upstream.KindInvalidInput, upstream.KindOf(err))
	assert.Empty(t, h.ensured, "invalid input must not reach Ensure")
}

func TestRouter_DispatchPrefixed_RoutesToKnownUpstream(t *testing.T) {
	fc := &fakeConnector{}
	h := newFakeHub()
	h.add("srv1", fc)
	reg := newTestRegistry(t, "srv1", mcp.Tool{Name: "echo"})
	rt := New(newTestMCPServer(), reg, nil, h, Options{}, logging.Discard())

	_, err := rt.DispatchPrefixed(context.Background(), "srv1__echo", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fc.calls))
	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Equal(t, "echo", fc.lastTool, "the upstream must see its own name, not the prefixed one")
}

func TestRouter_DispatchPrefixed_LegacyFallbackRoutesToFirstUpstream(t *testing.T) {
	fc1, fc2 := &fakeConnector{}, &fakeConnector{}
	h := newFakeHub()
	h.add("srv1", fc1)
	h.add("srv2", fc2)
	reg := registry.New(registry.StrategyNamespace, "_")
	rt := New(newTestMCPServer(), reg, nil, h, Options{LegacyFirstUpstreamFallback: true}, logging.Discard())

	_, err := rt.DispatchPrefixed(context.Background(), "unprefixed", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fc1.calls))
	assert.EqualValues(t, 0, atomic.LoadInt32(&fc2.calls))
	fc1.mu.Lock()
	defer fc1.mu.Unlock()
	assert.Equal(t, "unprefixed", fc1.lastTool)
}

func TestRouter_DispatchPrefixed_UnknownWithoutLegacyFallbackFails(t *testing.T) {
	h := newFakeHub()
	reg := registry.New(registry.StrategyNamespace, "_")
	rt := New(newTestMCPServer(), reg, nil, h, Options{}, logging.Discard())

	_, err := rt.DispatchPrefixed(context.Background(), "unprefixed", nil)
	require.Error(t, err)
	assert.Equal(t, upstream.KindUnknownTarget, upstream.KindOf(err))
}

func TestRouter_ReadResource_RelaysByURI(t *testing.T) {
	fc := &fakeConnector{}
	h := newFakeHub()
	h.add("srv1", fc)
	reg := registry.New(registry.StrategyNamespace, "_")
	reg.RegisterServerResources("srv1", []mcp.Resource{{URI: "file://shared.txt"}})
	rt := New(newTestMCPServer(), reg, nil, h, Options{}, logging.Discard())

	result, err := rt.ReadResource(context.Background(), "file://shared.txt")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Contains(t, h.ensured, "srv1")
	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Equal(t, "file://shared.txt", fc.lastURI, "resource URIs are never rewritten")
}

func TestRouter_ReadResource_UnknownURI(t *testing.T) {
	h := newFakeHub()
	reg := registry.New(registry.StrategyNamespace, "_")
	rt := New(newTestMCPServer(), reg, nil, h, Options{}, logging.Discard())

	_, err := rt.ReadResource(context.Background(), "file://nope.txt")
	require.Error(t, err)
	assert.Equal(t, upstream.KindUnknownTarget, upstream.KindOf(err))
	assert.Empty(t, h.ensured)
}

func TestRouter_ReadResource_FirstRegistrantOwnsSharedURI(t *testing.T) {
	fc1, fc2 := &fakeConnector{}, &fakeConnector{}
	h := newFakeHub()
	h.add("srv1", fc1)
	h.add("srv2", fc2)
	reg := registry.New(registry.StrategyNamespace, "_")
	reg.RegisterServerResources("srv1", []mcp.Resource{{URI: "file://shared.txt"}})
	skipped := reg.RegisterServerResources("srv2", []mcp.Resource{{URI: "file://shared.txt"}})
	require.Equal(t, []string{"file://shared.txt"}, skipped)

	rt := New(newTestMCPServer(), reg, nil, h, Options{}, logging.Discard())

	_, err := rt.ReadResource(context.Background(), "file://shared.txt")
	require.NoError(t, err)
	fc1.mu.Lock()
	assert.Equal(t, "file://shared.txt", fc1.lastURI)
	fc1.mu.Unlock()
	fc2.mu.Lock()
	assert.Empty(t, fc2.lastURI)
	fc2.mu.Unlock()
}

func TestRouter_GetPrompt_RewritesPublicNameToOriginal(t *testing.T) {
	fc := &fakeConnector{}
	h := newFakeHub()
	h.add("srv1", fc)
	reg := registry.New(registry.StrategyNamespace, "_")
	reg.RegisterServerPrompts("srv1", "srv1", nil, []mcp.Prompt{{Name: "greet"}})
	rt := New(newTestMCPServer(), reg, nil, h, Options{}, logging.Discard())

	result, err := rt.GetPrompt(context.Background(), "srv1_greet", map[string]string{"who": "world"})
	require.NoError(t, err)
	require.NotNil(t, result)
	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Equal(t, "greet", fc.lastPrompt)
}

func TestRouter_GetPrompt_EmptyNameRejectedBeforeTouchingHub(t *testing.T) {
	h := newFakeHub()
	reg := registry.New(registry.StrategyNamespace, "_")
	rt := New(newTestMCPServer(), reg, nil, h, Options{}, logging.Discard())

	_, err := rt.GetPrompt(context.Background(), "", nil)
	require.Error(t, err)
	assert.Equal(t, upstream.KindInvalidInput, upstream.KindOf(err))
	assert.Empty(t, h.ensured)
}

func TestRouter_CallTool_TransportFailureIsReportedToHub(t *testing.T) {
	fc := &fakeConnector{callErr: upstream.NewError("CallTool", upstream.KindTransport, "srv1", errPeerClosed)}
	h := newFakeHub()
	h.add("srv1", fc)
	reg := newTestRegistry(t, "srv1", mcp.Tool{Name: "echo"})
	rt := New(newTestMCPServer(), reg, nil, h, Options{}, logging.Discard())

	_, err := rt.CallTool(context.Background(), "srv1_echo", nil)
	require.Error(t, err)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []string{"srv1"}, h.failures, "a transport-class call failure must reach the hub")
}

func TestRouter_CallTool_UpstreamErrorIsNotReportedToHub(t *testing.T) {
	fc := &fakeConnector{callErr: upstream.NewError("CallTool", upstream.KindUpstream, "srv1", errPeerClosed)}
	h := newFakeHub()
	h.add("srv1", fc)
	reg := newTestRegistry(t, "srv1", mcp.Tool{Name: "echo"})
	rt := New(newTestMCPServer(), reg, nil, h, Options{}, logging.Discard())

	_, err := rt.CallTool(context.Background(), "srv1_echo", nil)
	require.Error(t, err)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.failures, "a relayed JSON-RPC error must leave the node running")
}

func TestRouter_ListTools_AggregatesInConfigurationOrder(t *testing.T) {
	fc1, fc2 := &fakeConnector{}, &fakeConnector{}
	h := newFakeHub()
	h.add("srv1", fc1)
	h.add("srv2", fc2)

	reg := registry.New(registry.StrategyNamespace, "_")
	reg.RegisterServerTools("srv1", "srv1", nil, []mcp.Tool{{Name: "a"}})
	reg.RegisterServerTools("srv2", "srv2", nil, []mcp.Tool{{Name: "b"}})

	rt := New(newTestMCPServer(), reg, nil, h, Options{}, logging.Discard())

	tools := rt.ListTools(context.Background())
	require.Len(t, tools, 2)
	assert.Equal(t, "srv1_a", tools[0].Name)
	assert.Equal(t, "srv2_b", tools[1].Name)
}

func TestRouter_CallTool_ForwardsProgressToSession(t *testing.T) {
	fc := &fakeConnector{
		notifications: make(chan mcp.JSONRPCNotification, 4),
		progressAfter: 20 * time.Millisecond,
	}
	h := newFakeHub()
	h.add("srv1", fc)
	reg := newTestRegistry(t, "srv1", mcp.Tool{Name: "echo"})
	rt := New(newTestMCPServer(), reg, nil, h, Options{}, logging.Discard())

	mgr := session.NewManager(time.Minute, 0, logging.Discard())
	defer mgr.Close()
	sess, err := mgr.CreateSession("")
	require.NoError(t, err)

	ctx := session.NewContext(context.Background(), sess)

	result, err := rt.callTool(ctx, "srv1_echo", map[string]any{}, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, result)

	select {
	case n := <-sess.Outgoing():
		assert.Equal(t, "tok-1", n.StreamID)
	case <-time.After(time.Second):
		t.Fatal("expected a forwarded progress notification on the session's outgoing channel")
	}
}

// requestProgressToken and notificationProgress are exercised against raw
// wire-format JSON rather than constructed mcp-go struct literals: the MCP
// spec fixes the "_meta.progressToken" and "notifications/progress" shapes
// on the wire, which is what these helpers actually depend on.
func TestRequestProgressToken(t *testing.T) {
	var req mcp.CallToolRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"method": "tools/call",
		"params": {"name": "echo", "arguments": {}, "_meta": {"progressToken": "abc"}}
	}`), &req))

	token, ok := requestProgressToken(req)
	require.True(t, ok)
	assert.Equal(t, "abc", token)
}

func TestRequestProgressToken_Absent(t *testing.T) {
	var req mcp.CallToolRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"method": "tools/call",
		"params": {"name": "echo", "arguments": {}}
	}`), &req))

	_, ok := requestProgressToken(req)
	assert.False(t, ok)
}

func TestNotificationProgress(t *testing.T) {
	var n mcp.JSONRPCNotification
	require.NoError(t, json.Unmarshal([]byte(`{
		"jsonrpc": "2.0",
		"method": "notifications/progress",
		"params": {"progressToken": "abc", "progress": 1, "total": 2, "message": "working"}
	}`), &n))

	token, payload, ok := notificationProgress(n)
	require.True(t, ok)
	assert.Equal(t, "abc", token)
	assert.NotNil(t, payload)
}

func TestNotificationProgress_WrongMethod(t *testing.T) {
	var n mcp.JSONRPCNotification
	require.NoError(t, json.Unmarshal([]byte(`{
		"jsonrpc": "2.0",
		"method": "notifications/message",
		"params": {}
	}`), &n))

	_, _, ok := notificationProgress(n)
	assert.False(t, ok)
}
