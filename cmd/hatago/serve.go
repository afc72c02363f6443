package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hatago/hatago-hub/internal/config"
	"github.com/hatago/hatago-hub/internal/hub"
	"github.com/hatago/hatago-hub/internal/logging"
	"github.com/hatago/hatago-hub/internal/metrics"
	"github.com/hatago/hatago-hub/internal/registry"
	"github.com/hatago/hatago-hub/internal/session"
	"github.com/hatago/hatago-hub/internal/telemetry"
	"github.com/hatago/hatago-hub/internal/transport"
	"github.com/hatago/hatago-hub/internal/upstream"
)

const serverName = "hatago-hub"

var (
	serveConfigPath string
	serveStdio      bool
	serveJSONLogs   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hub and serve the aggregated MCP surface",
	Long: `Loads the configuration document, connects every configured upstream
(eagerly activating the ones marked so), and serves the aggregated tool,
resource, and prompt surface to downstream MCP clients.

By default it listens over streamable-HTTP/SSE on http.host:http.port. Pass
--stdio to instead speak MCP over stdin/stdout, for embedding hatago-hub as
a single upstream inside another MCP client.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "hatago.yaml", "path to the configuration document")
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "serve over stdin/stdout instead of HTTP")
	serveCmd.Flags().BoolVar(&serveJSONLogs, "json-logs", false, "emit logs as JSON instead of text")
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := logging.New(logging.Options{Level: slog.LevelInfo, JSON: serveJSONLogs})

	cfg, err := config.Load(serveConfigPath, log)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	log = logging.New(logging.Options{Level: parseLevel(cfg.LogLevel), JSON: serveJSONLogs})

	hcfg := config.ToHubConfig(cfg, serveConfigPath)

	// DefaultRegisterer so transport's /metrics handler (promhttp.Handler,
	// backed by prometheus.DefaultGatherer) serves these series.
	met := metrics.New(prometheus.DefaultRegisterer)
	hcfg.Metrics = met
	hcfg.NewConnector = func(spec upstream.Specification) (upstream.Connector, error) {
		return upstream.New(spec, log)
	}

	// The tool-call metrics hook resolves upstream IDs from the Registry,
	// so it must be built and attached before the MCPServer is
	// constructed. The same Registry is then handed to hub.New via
	// hcfg.Registry instead of letting it build its own.
	toolRegistry := registry.New(hcfg.NamingStrategy, hcfg.NamingSeparator)
	hcfg.Registry = toolRegistry

	tracer, err := newTracer(cfg)
	if err != nil {
		return fmt.Errorf("starting tracer: %w", err)
	}
	hcfg.RouterOptions.Tracer = tracer

	// The downstream session is bound into the request context by the
	// transport's session middleware, so the initialize hook can record
	// the client's declared capabilities on it for later inspection.
	hooks := met.Hooks(toolRegistry)
	hooks.AddAfterInitialize(func(ctx context.Context, _ any, message *mcp.InitializeRequest, _ *mcp.InitializeResult) {
		if sess, ok := session.FromContext(ctx); ok {
			sess.SetCapabilities(message.Params.Capabilities)
		}
	})

	mcpSrv := mcpserver.NewMCPServer(
		serverName,
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithHooks(hooks),
	)

	h := hub.New(hcfg, mcpSrv, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("starting hub: %w", err)
	}

	runErr := runTransport(ctx, cfg, mcpSrv, h, log)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), hcfg.ShutdownGrace)
	defer cancel()
	if err := h.Stop(shutdownCtx); err != nil {
		log.Warn("error during hub shutdown", "error", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.Warn("error shutting down tracer", "error", err)
	}

	if runErr != nil {
		return runErr
	}
	if ctx.Err() != nil {
		return &interruptedError{cause: ctx.Err()}
	}
	return nil
}

func runTransport(ctx context.Context, cfg config.Config, mcpSrv *mcpserver.MCPServer, h *hub.Hub, log *logging.Logger) error {
	if serveStdio {
		log.Info("serving MCP over stdio")
		return transport.ServeStdio(ctx, mcpSrv)
	}

	sessions := session.NewManager(time.Duration(cfg.Session.TTLSeconds)*time.Second, 0, log)
	defer sessions.Close()

	srv := &transport.Server{
		Host:      cfg.HTTP.Host,
		Port:      cfg.HTTP.Port,
		MCPServer: mcpSrv,
		Hub:       h,
		Sessions:  sessions,
		Name:      serverName,
		Version:   version,
		Log:       log,
	}
	return srv.ListenAndServe(ctx, 5*time.Second)
}

// newTracer builds the stdout span exporter when tracing is enabled, or a
// no-op tracer otherwise. Both satisfy telemetry.Tracer, so callers never
// branch on whether tracing is actually active.
func newTracer(cfg config.Config) (telemetry.Tracer, error) {
	if !cfg.Tracing.Enabled {
		return telemetry.NewNoop(), nil
	}
	return telemetry.NewStdout(os.Stdout)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
