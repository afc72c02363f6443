package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hatago/hatago-hub/internal/session"
	"github.com/hatago/hatago-hub/internal/upstream"
)

// progressNotificationMethod is the MCP notification method carrying
// incremental progress for a long-running request.
const progressNotificationMethod = "notifications/progress"

// requestProgressToken extracts "params._meta.progressToken" from req using
// its JSON encoding rather than a specific mcp-go struct field, since the
// wire-format field names are fixed by the MCP specification while the Go
// struct shape mcp-go chooses for them is not something this package should
// have to guess at.
func requestProgressToken(req mcp.CallToolRequest) (string, bool) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", false
	}
	var generic struct {
		Params struct {
			Meta struct {
				ProgressToken any `json:"progressToken"`
			} `json:"_meta"`
		} `json:"params"`
	}
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", false
	}
	if generic.Params.Meta.ProgressToken == nil {
		return "", false
	}
	return fmt.Sprint(generic.Params.Meta.ProgressToken), true
}

// notificationProgress extracts the progress token and a forwardable
// payload from an upstream notification, reporting ok=false for anything
// that is not a notifications/progress message.
func notificationProgress(n mcp.JSONRPCNotification) (token string, payload any, ok bool) {
	if n.Method != progressNotificationMethod {
		return "", nil, false
	}
	data, err := json.Marshal(n)
	if err != nil {
		return "", nil, false
	}
	var generic struct {
		Params struct {
			ProgressToken any     `json:"progressToken"`
			Progress      float64 `json:"progress"`
			Total         float64 `json:"total"`
			Message       string  `json:"message"`
		} `json:"params"`
	}
	if err := json.Unmarshal(data, &generic); err != nil || generic.Params.ProgressToken == nil {
		return "", nil, false
	}
	return fmt.Sprint(generic.Params.ProgressToken), generic.Params, true
}

// forwardProgress relays conn's progress notifications for streamID to
// sess until ctx is done: a call that carries a progress token gets its
// progress notifications delivered through the session's fan-out path
// before the final response.
func forwardProgress(ctx context.Context, sess *session.Session, conn upstream.Connector, streamID string) {
	ch := conn.Notifications()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			token, payload, ok := notificationProgress(n)
			if !ok || token != streamID {
				continue
			}
			sess.Notify(streamID, payload)
		}
	}
}
