// Package transport wires the hub's downstream MCP server onto its wire
// protocols: streamable-HTTP/SSE over a listener (optionally
// systemd-socket-activated) and stdio for CLI-embedded use. It also
// serves the operator introspection and health/metrics surfaces alongside
// the MCP endpoint.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hatago/hatago-hub/internal/hub"
	"github.com/hatago/hatago-hub/internal/logging"
	"github.com/hatago/hatago-hub/internal/session"
)

// SessionIDHeader carries the downstream session identifier, both on
// POST /mcp (request) and the response that creates a new session.
const SessionIDHeader = "mcp-session-id"

// Server is the downstream-facing HTTP listener: mcp-go's own
// StreamableHTTPServer handles POST /mcp framing and dispatch, and this
// package hand-rolls the session-aware GET /mcp SSE stream and the
// operator surfaces around it.
type Server struct {
	Host string
	Port int

	MCPServer *mcpserver.MCPServer
	Hub       *hub.Hub
	Sessions  *session.Manager
	Name      string
	Version   string
	Log       *logging.Logger

	httpServers []*http.Server
}

// ListenAndServe starts the configured listeners (systemd-activated
// sockets if present, otherwise a single net.Listener on Host:Port) and
// blocks until ctx is cancelled, then shuts every server down within the
// given grace period.
func (s *Server) ListenAndServe(ctx context.Context, shutdownGrace time.Duration) error {
	handler := s.mux()

	listeners, err := systemdListeners()
	if err != nil {
		s.Log.Warn("failed to inspect systemd listeners, falling back to TCP", "error", err)
	}

	errCh := make(chan error, 1)
	if len(listeners) > 0 {
		s.Log.Info("using systemd socket activation", "listeners", len(listeners))
		for i, l := range listeners {
			srv := &http.Server{Handler: handler}
			s.httpServers = append(s.httpServers, srv)
			go func(srv *http.Server, l net.Listener, index int) {
				if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.Log.Error("listener error", "index", index, "error", err)
					selectSend(errCh, err)
				}
			}(srv, l, i)
		}
	} else {
		addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
		srv := &http.Server{Addr: addr, Handler: handler}
		s.httpServers = append(s.httpServers, srv)
		s.Log.Info("starting HTTP listener", "addr", addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Log.Error("http server error", "error", err)
				selectSend(errCh, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.shutdown(shutdownGrace)
		return err
	}

	s.shutdown(shutdownGrace)
	return nil
}

func selectSend(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}

func (s *Server) shutdown(grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	for _, srv := range s.httpServers {
		if err := srv.Shutdown(ctx); err != nil {
			s.Log.Warn("error shutting down HTTP server", "error", err)
		}
	}
}

func systemdListeners() ([]net.Listener, error) {
	named, err := activation.ListenersWithNames()
	if err != nil {
		return nil, err
	}
	var out []net.Listener
	for _, ls := range named {
		out = append(out, ls...)
	}
	return out, nil
}

func (s *Server) mux() http.Handler {
	mux := http.NewServeMux()

	streamable := mcpserver.NewStreamableHTTPServer(s.MCPServer)
	mux.Handle("/mcp", s.sessionMiddleware(streamable))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/tools", s.handleTools)
	mux.HandleFunc("/debug", s.handleDebug)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// sessionMiddleware dispatches by method: POST is handed to mcp-go's
// StreamableHTTPServer unmodified (it owns JSON-RPC framing and the
// mcp-session-id response header on initialize); GET is a hand-rolled SSE
// stream bound to our own session.Manager. Both branches first
// resolve or create the session named by the mcp-session-id header.
func (s *Server) sessionMiddleware(post http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			s.handleEventStream(w, r)
			return
		}

		sess, err := s.Sessions.CreateSession(r.Header.Get(SessionIDHeader))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set(SessionIDHeader, sess.ID)
		ctx := session.NewContext(r.Context(), sess)
		post.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(SessionIDHeader)
	if id == "" {
		http.Error(w, "mcp-session-id header required", http.StatusBadRequest)
		return
	}
	sess, ok := s.Sessions.Get(id)
	if !ok {
		http.Error(w, "session expired or unknown", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(SessionIDHeader, sess.ID)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sess.Outgoing():
			if !ok {
				return
			}
			payload, err := json.Marshal(n.Payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

type healthResponse struct {
	OK        bool   `json:"ok"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		OK:        true,
		Name:      s.Name,
		Version:   s.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleTools lists every upstream's currently-registered tool names. A
// lazy, never-activated upstream still lists its cached metadata, since
// the registry is pre-populated from the metadata cache at start.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools := s.Hub.Registry().ListAllTools()
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"name":        t.Tool.Name,
			"description": t.Tool.Description,
			"upstream":    t.UpstreamID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

// handleDebug surfaces per-upstream lifecycle state for operators.
func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	snap := s.Hub.Snapshot()
	out := make([]map[string]any, 0, len(snap))
	for _, n := range snap {
		out = append(out, map[string]any{
			"id":         n.ID,
			"state":      string(n.State),
			"activation": n.Activation,
			"attempts":   n.Attempts,
			"refCount":   n.RefCount,
			"lastError":  n.LastError,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"upstreams": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
