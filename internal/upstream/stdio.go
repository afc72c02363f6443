package upstream

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"

	"github.com/hatago/hatago-hub/internal/logging"
)

// DefaultStdioConnectTimeout bounds the spawn+initialize handshake for a
// stdio upstream when Specification.ConnectTimeout is unset.
const DefaultStdioConnectTimeout = 10 * time.Second

type stdioConnector struct {
	baseConnector
	spec Specification
}

func newStdioConnector(spec Specification, log *logging.Logger) *stdioConnector {
	return &stdioConnector{
		baseConnector: baseConnector{id: spec.ID, log: log.WithUpstream(spec.ID)},
		spec:          spec,
	}
}

func (s *stdioConnector) Connect(ctx context.Context) error {
	timeout := s.spec.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultStdioConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	env := make([]string, 0, len(s.spec.Env))
	for k, v := range s.spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	c, err := s.spawn(env)
	if err != nil {
		return NewError("Connect", KindTransport, s.id, err)
	}

	if _, err := c.Initialize(ctx, initializeRequest()); err != nil {
		_ = c.Close()
		return NewError("Connect", KindHandshake, s.id, err)
	}

	s.setClient(c)
	s.log.Info("stdio upstream connected", "command", s.spec.Command)
	return nil
}

// spawn builds the stdio client. mcp-go's default spawner has no notion of
// a working directory, so when one is configured the child is constructed
// through a command func that sets exec.Cmd.Dir before the transport takes
// over its pipes.
func (s *stdioConnector) spawn(env []string) (client.MCPClient, error) {
	if s.spec.WorkDir == "" {
		return client.NewStdioMCPClient(s.spec.Command, env, s.spec.Args...)
	}
	dir := s.spec.WorkDir
	return client.NewStdioMCPClientWithOptions(s.spec.Command, env, s.spec.Args,
		transport.WithCommandFunc(func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
			cmd := exec.CommandContext(ctx, command, args...)
			cmd.Env = append(os.Environ(), env...)
			cmd.Dir = dir
			return cmd, nil
		}),
	)
}
