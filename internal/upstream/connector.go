package upstream

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hatago/hatago-hub/internal/logging"
)

// Connector is the uniform surface the rest of the hub uses to talk to one
// upstream MCP server, independent of its transport. It mirrors the verb
// set of mcp-go's client.MCPClient plus a single Connect step that performs
// the MCP initialize handshake.
type Connector interface {
	// Connect performs transport setup (spawn/dial) and the MCP
	// initialize handshake. It must be safe to call again after Close.
	Connect(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error

	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	ListResources(ctx context.Context) ([]mcp.Resource, error)
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
	ListPrompts(ctx context.Context) ([]mcp.Prompt, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error)

	// Notifications returns the channel every notification this upstream
	// sends (progress updates among them) is published on, for the
	// session fan-out path. The channel is never closed
	// by the connector; it stops receiving once the connector is closed.
	Notifications() <-chan mcp.JSONRPCNotification
}

// New builds the Connector appropriate for spec.Transport.
func New(spec Specification, log *logging.Logger) (Connector, error) {
	switch spec.Transport {
	case TransportStdio:
		return newStdioConnector(spec, log), nil
	case TransportStreamableHTTP:
		return newHTTPConnector(spec, log), nil
	case TransportSSE:
		return newSSEConnector(spec, log), nil
	default:
		return nil, NewError("upstream.New", KindInvalidInput, spec.ID, errUnknownTransport(spec.Transport))
	}
}

type unknownTransportError string

func (e unknownTransportError) Error() string { return "unknown transport: " + string(e) }

func errUnknownTransport(k TransportKind) error { return unknownTransportError(string(k)) }
