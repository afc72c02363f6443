package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hatago/hatago-hub/internal/registry"
)

// upstreamResolver maps a tool's exposed (possibly namespaced) name back to
// the upstream that registered it, the same lookup the router uses to
// dispatch a call.
type upstreamResolver interface {
	ResolveTool(publicName string) (registry.ToolEntry, bool)
}

// Hooks builds the mcp-go Hooks value the downstream MCPServer is
// constructed with: it observes ToolCallsTotal and ToolCallDuration around
// every tools/call dispatch, and keeps ActiveSessions in sync with mcp-go's
// own client session registry. The before/after tool-call pair is
// correlated by the request id mcp-go hands both callbacks, since the
// context passed to AddAfterCallTool is not guaranteed to carry values set
// during AddBeforeCallTool.
func (m *Metrics) Hooks(resolve upstreamResolver) *mcpserver.Hooks {
	hooks := &mcpserver.Hooks{}

	var mu sync.Mutex
	started := make(map[any]time.Time)

	hooks.AddBeforeCallTool(func(_ context.Context, id any, _ *mcp.CallToolRequest) {
		mu.Lock()
		started[id] = time.Now()
		mu.Unlock()
	})

	hooks.AddAfterCallTool(func(_ context.Context, id any, message *mcp.CallToolRequest, result *mcp.CallToolResult) {
		mu.Lock()
		start, ok := started[id]
		delete(started, id)
		mu.Unlock()

		seconds := 0.0
		if ok {
			seconds = time.Since(start).Seconds()
		}

		entry, known := resolve.ResolveTool(message.Params.Name)
		upstreamID := "unknown"
		if known {
			upstreamID = entry.UpstreamID
		}
		status := "ok"
		if result != nil && result.IsError {
			status = "error"
		}
		m.ObserveToolCall(upstreamID, message.Params.Name, status, seconds)
	})

	hooks.AddOnRegisterSession(func(_ context.Context, _ mcpserver.ClientSession) {
		m.ActiveSessions.Inc()
	})
	hooks.AddOnUnregisterSession(func(_ context.Context, _ mcpserver.ClientSession) {
		m.ActiveSessions.Dec()
	})

	return hooks
}
