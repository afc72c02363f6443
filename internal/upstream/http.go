package upstream

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"

	"github.com/hatago/hatago-hub/internal/logging"
)

// DefaultRemoteConnectTimeout bounds the dial+initialize handshake for a
// streamable-HTTP or SSE upstream when Specification.ConnectTimeout is unset.
const DefaultRemoteConnectTimeout = 30 * time.Second

type httpConnector struct {
	baseConnector
	spec Specification
}

func newHTTPConnector(spec Specification, log *logging.Logger) *httpConnector {
	return &httpConnector{
		baseConnector: baseConnector{id: spec.ID, log: log.WithUpstream(spec.ID)},
		spec:          spec,
	}
}

func (h *httpConnector) headers() map[string]string {
	headers := make(map[string]string, len(h.spec.Headers)+1)
	for k, v := range h.spec.Headers {
		headers[k] = v
	}
	switch h.spec.Credential.Kind {
	case CredentialBearer:
		headers["Authorization"] = "Bearer " + h.spec.Credential.Value.Value()
	case CredentialBasic:
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(h.spec.Credential.Value.Value()))
	}
	return headers
}

func (h *httpConnector) Connect(ctx context.Context) error {
	timeout := h.spec.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultRemoteConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := client.NewStreamableHttpClient(h.spec.URL, transport.WithHTTPHeaders(h.headers()))
	if err != nil {
		return NewError("Connect", KindTransport, h.id, err)
	}

	if _, err := c.Initialize(ctx, initializeRequest()); err != nil {
		_ = c.Close()
		return NewError("Connect", classifyAuth(err), h.id, err)
	}

	h.setClient(c)
	h.log.Info("streamable-http upstream connected", "url", h.spec.URL)
	return nil
}

// classifyAuth refines classify for the remote transports, where a 401
// during initialize is the common "needs a credential" signal.
func classifyAuth(err error) Kind {
	if err == nil {
		return KindFatal
	}
	k := classify(err)
	if k == KindUpstream {
		// mcp-go surfaces HTTP auth failures as plain errors whose text
		// mentions the status; classify already maps "401"/"unauthorized"
		// to KindUnauthorised, so falling through to KindHandshake here
		// covers everything else that happens during the initialize call.
		return KindHandshake
	}
	return k
}
