package upstream

import (
	"context"
	"encoding/base64"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"

	"github.com/hatago/hatago-hub/internal/logging"
)

type sseConnector struct {
	baseConnector
	spec Specification
}

func newSSEConnector(spec Specification, log *logging.Logger) *sseConnector {
	return &sseConnector{
		baseConnector: baseConnector{id: spec.ID, log: log.WithUpstream(spec.ID)},
		spec:          spec,
	}
}

func (s *sseConnector) headers() map[string]string {
	headers := make(map[string]string, len(s.spec.Headers)+1)
	for k, v := range s.spec.Headers {
		headers[k] = v
	}
	switch s.spec.Credential.Kind {
	case CredentialBearer:
		headers["Authorization"] = "Bearer " + s.spec.Credential.Value.Value()
	case CredentialBasic:
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(s.spec.Credential.Value.Value()))
	}
	return headers
}

func (s *sseConnector) Connect(ctx context.Context) error {
	timeout := s.spec.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultRemoteConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := client.NewSSEMCPClient(s.spec.URL, transport.WithHeaders(s.headers()))
	if err != nil {
		return NewError("Connect", KindTransport, s.id, err)
	}

	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return NewError("Connect", KindTransport, s.id, err)
	}

	if _, err := c.Initialize(ctx, initializeRequest()); err != nil {
		_ = c.Close()
		return NewError("Connect", classifyAuth(err), s.id, err)
	}

	s.setClient(c)
	s.log.Info("sse upstream connected", "url", s.spec.URL)
	return nil
}
