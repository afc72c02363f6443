package upstream

import (
	"context"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hatago/hatago-hub/internal/logging"
)

// ClientInfo is sent as part of every initialize handshake.
var ClientInfo = mcp.Implementation{Name: "hatago-hub", Version: "0.1.0"}

// ProtocolVersion is the MCP protocol version hatago-hub negotiates.
const ProtocolVersion = "2024-11-05"

// baseConnector wraps an mcp-go client.MCPClient with the
// connect/lock/dispatch bookkeeping common to all three transports. Each
// transport-specific file is responsible only for constructing the
// underlying client and performing Connect.
type baseConnector struct {
	id  string
	log *logging.Logger

	mu     sync.RWMutex
	client client.MCPClient

	notifications chan mcp.JSONRPCNotification
}

func (b *baseConnector) setClient(c client.MCPClient) {
	b.mu.Lock()
	b.client = c
	if b.notifications == nil {
		b.notifications = make(chan mcp.JSONRPCNotification, 64)
	}
	notifications := b.notifications
	b.mu.Unlock()

	c.OnNotification(func(n mcp.JSONRPCNotification) {
		select {
		case notifications <- n:
		default:
			b.log.Warn("dropped upstream notification, fan-out channel full", "method", n.Method)
		}
	})
}

// Notifications implements Connector.
func (b *baseConnector) Notifications() <-chan mcp.JSONRPCNotification {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.notifications == nil {
		b.notifications = make(chan mcp.JSONRPCNotification, 64)
	}
	return b.notifications
}

func (b *baseConnector) current() (client.MCPClient, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.client == nil {
		return nil, NewError("upstream", KindTransport, b.id, errNotConnected)
	}
	return b.client, nil
}

func (b *baseConnector) Close() error {
	b.mu.Lock()
	c := b.client
	b.client = nil
	b.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

func (b *baseConnector) Ping(ctx context.Context) error {
	c, err := b.current()
	if err != nil {
		return err
	}
	if err := c.Ping(ctx); err != nil {
		return NewError("Ping", classify(err), b.id, err)
	}
	return nil
}

func (b *baseConnector) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	c, err := b.current()
	if err != nil {
		return nil, err
	}
	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, NewError("ListTools", classify(err), b.id, err)
	}
	return res.Tools, nil
}

func (b *baseConnector) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	c, err := b.current()
	if err != nil {
		return nil, err
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, NewError("CallTool", classify(err), b.id, err)
	}
	return res, nil
}

func (b *baseConnector) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	c, err := b.current()
	if err != nil {
		return nil, err
	}
	res, err := c.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, NewError("ListResources", classify(err), b.id, err)
	}
	return res.Resources, nil
}

func (b *baseConnector) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	c, err := b.current()
	if err != nil {
		return nil, err
	}
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	res, err := c.ReadResource(ctx, req)
	if err != nil {
		return nil, NewError("ReadResource", classify(err), b.id, err)
	}
	return res, nil
}

func (b *baseConnector) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	c, err := b.current()
	if err != nil {
		return nil, err
	}
	res, err := c.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, NewError("ListPrompts", classify(err), b.id, err)
	}
	return res.Prompts, nil
}

func (b *baseConnector) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	c, err := b.current()
	if err != nil {
		return nil, err
	}
	req := mcp.GetPromptRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.GetPrompt(ctx, req)
	if err != nil {
		return nil, NewError("GetPrompt", classify(err), b.id, err)
	}
	return res, nil
}

func initializeRequest() mcp.InitializeRequest {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = ProtocolVersion
	req.Params.ClientInfo = ClientInfo
	req.Params.Capabilities = mcp.ClientCapabilities{}
	return req
}
