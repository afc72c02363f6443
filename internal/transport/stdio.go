package transport

import (
	"context"
	"os"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

// ServeStdio runs the hub's MCP server over stdin/stdout until ctx is
// cancelled, for CLI-embedded use. Framing (newline-delimited or
// Content-Length) is negotiated by mcp-go's StdioServer from whatever the
// peer sends first.
func ServeStdio(ctx context.Context, mcpSrv *mcpserver.MCPServer) error {
	srv := mcpserver.NewStdioServer(mcpSrv)
	return srv.Listen(ctx, os.Stdin, os.Stdout)
}
