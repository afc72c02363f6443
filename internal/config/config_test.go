package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hatago/hatago-hub/internal/logging"
	"github.com/hatago/hatago-hub/internal/upstream"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.yaml")

	cfg, err := Load(path, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverlaysFileOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
version: "1"
http:
  port: 9999
servers:
  - id: local1
    type: local
    command: /usr/bin/true
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path, logging.Discard())
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.HTTP.Port)
	assert.Equal(t, "localhost", cfg.HTTP.Host, "fields absent from the file keep their default")
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "local1", cfg.Servers[0].ID)
}

func TestLoad_ResolvesBearerTokenFile(t *testing.T) {
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token.txt")
	require.NoError(t, os.WriteFile(tokenPath, []byte("sk-abc123xyz789\n"), 0o600))

	path := filepath.Join(dir, "config.yaml")
	doc := `
servers:
  - id: remote1
    type: remote
    url: https://example.invalid/mcp
    bearerTokenFile: ` + tokenPath + `
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path, logging.Discard())
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "sk-abc123xyz789", cfg.Servers[0].BearerToken)
}

func TestValidate_RejectsLocalServerWithoutCommand(t *testing.T) {
	cfg := Default()
	cfg.Servers = []ServerConfig{{ID: "s1", Type: ServerTypeLocal}}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command is required")
}

func TestValidate_RejectsRemoteServerWithoutURL(t *testing.T) {
	cfg := Default()
	cfg.Servers = []ServerConfig{{ID: "s1", Type: ServerTypeRemote}}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url is required")
}

func TestValidate_RejectsUnsupportedURLScheme(t *testing.T) {
	cfg := Default()
	cfg.Servers = []ServerConfig{{ID: "s1", Type: ServerTypeRemote, URL: "ws://example.invalid/mcp"}}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestValidate_ProductionEnvironmentRejectsPlainHTTP(t *testing.T) {
	cfg := Default()
	cfg.Environment = "production"
	cfg.Servers = []ServerConfig{{ID: "s1", Type: ServerTypeRemote, URL: "http://example.invalid/mcp"}}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https is required")
}

func TestValidate_ProductionEnvironmentAllowsHTTPS(t *testing.T) {
	cfg := Default()
	cfg.Environment = "production"
	cfg.Servers = []ServerConfig{{ID: "s1", Type: ServerTypeRemote, URL: "https://example.invalid/mcp"}}

	assert.NoError(t, Validate(cfg))
}

func TestValidate_DevelopmentEnvironmentAllowsPlainHTTP(t *testing.T) {
	cfg := Default()
	cfg.Servers = []ServerConfig{{ID: "s1", Type: ServerTypeRemote, URL: "http://example.invalid/mcp"}}

	assert.NoError(t, Validate(cfg))
}

func TestValidate_RejectsDuplicateServerIDs(t *testing.T) {
	cfg := Default()
	cfg.Servers = []ServerConfig{
		{ID: "s1", Type: ServerTypeLocal, Command: "a"},
		{ID: "s1", Type: ServerTypeLocal, Command: "b"},
	}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate server id")
}

func TestValidate_RejectsHealthTimeoutExceedingInterval(t *testing.T) {
	cfg := Default()
	cfg.Servers = []ServerConfig{{
		ID: "s1", Type: ServerTypeLocal, Command: "a",
		Health: HealthConfig{IntervalMs: 100, TimeoutMs: 200},
	}}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds health.intervalMs")
}

func TestToHubConfig_MapsServerFields(t *testing.T) {
	cfg := Default()
	cfg.Servers = []ServerConfig{{
		ID:         "local1",
		Type:       ServerTypeLocal,
		Command:    "/usr/bin/true",
		Args:       []string{"--flag"},
		WorkDir:    "/tmp",
		Activation: "eager",
	}}
	cfg.Routing.LegacyFirstUpstreamFallback = true

	hcfg := ToHubConfig(cfg, filepath.Join(t.TempDir(), "config.yaml"))
	require.Len(t, hcfg.Upstreams, 1)
	spec := hcfg.Upstreams[0]
	assert.Equal(t, "local1", spec.ID)
	assert.Equal(t, upstream.TransportStdio, spec.Transport)
	assert.Equal(t, "/usr/bin/true", spec.Command)
	assert.Equal(t, "/tmp", spec.WorkDir)
	assert.Equal(t, upstream.ActivationEager, spec.Activation)
	assert.Contains(t, hcfg.MetadataCachePath, "config.yaml.metadata.json")
	assert.True(t, hcfg.RouterOptions.LegacyFirstUpstreamFallback)
}

func TestToHubConfig_GlobalTimeoutsFillUnsetServerFields(t *testing.T) {
	cfg := Default()
	cfg.Timeouts.SpawnMs = 7000
	cfg.Timeouts.HealthcheckMs = 3000
	cfg.Servers = []ServerConfig{
		{ID: "s1", Type: ServerTypeLocal, Command: "a", Health: HealthConfig{IntervalMs: 60000}},
		{ID: "s2", Type: ServerTypeLocal, Command: "b", ConnectTimeoutMs: 1000, Health: HealthConfig{IntervalMs: 60000, TimeoutMs: 500}},
	}

	hcfg := ToHubConfig(cfg, "")
	require.Len(t, hcfg.Upstreams, 2)
	assert.Equal(t, 7*time.Second, hcfg.Upstreams[0].ConnectTimeout)
	assert.Equal(t, 3*time.Second, hcfg.Upstreams[0].Health.Timeout)
	assert.Equal(t, time.Second, hcfg.Upstreams[1].ConnectTimeout, "an explicit per-server value wins over the global default")
	assert.Equal(t, 500*time.Millisecond, hcfg.Upstreams[1].Health.Timeout)
}

func TestToHubConfig_InheritedHealthTimeoutClampedToInterval(t *testing.T) {
	cfg := Default()
	cfg.Timeouts.HealthcheckMs = 5000
	cfg.Servers = []ServerConfig{
		{ID: "s1", Type: ServerTypeLocal, Command: "a", Health: HealthConfig{IntervalMs: 1000}},
	}

	hcfg := ToHubConfig(cfg, "")
	require.Len(t, hcfg.Upstreams, 1)
	assert.Equal(t, time.Second, hcfg.Upstreams[0].Health.Timeout)
}

func TestToHubConfig_UserLevelAliasesOverridePerServer(t *testing.T) {
	cfg := Default()
	cfg.ToolNaming.Aliases = map[string]string{
		"s1/echo": "shout",
		"ping":    "probe",
	}
	cfg.Servers = []ServerConfig{
		{ID: "s1", Type: ServerTypeLocal, Command: "a", ToolAliases: map[string]string{"echo": "say", "keep": "kept"}},
		{ID: "s2", Type: ServerTypeLocal, Command: "b"},
	}

	hcfg := ToHubConfig(cfg, "")
	require.Len(t, hcfg.Upstreams, 2)
	assert.Equal(t, "shout", hcfg.Upstreams[0].ToolAliases["echo"], "a scoped user alias overrides the server's own entry")
	assert.Equal(t, "kept", hcfg.Upstreams[0].ToolAliases["keep"])
	assert.Equal(t, "probe", hcfg.Upstreams[0].ToolAliases["ping"], "a bare user alias applies to every server")
	assert.Equal(t, "probe", hcfg.Upstreams[1].ToolAliases["ping"])
	assert.NotContains(t, hcfg.Upstreams[1].ToolAliases, "echo", "a scoped alias never leaks to another server")
}

func TestToHubConfig_RemoteServerCarriesBearerCredential(t *testing.T) {
	cfg := Default()
	cfg.Servers = []ServerConfig{{
		ID:          "remote1",
		Type:        ServerTypeRemote,
		URL:         "https://example.invalid/mcp",
		BearerToken: "sk-abc123xyz789",
	}}

	hcfg := ToHubConfig(cfg, "")
	require.Len(t, hcfg.Upstreams, 1)
	spec := hcfg.Upstreams[0]
	assert.Equal(t, upstream.TransportStreamableHTTP, spec.Transport)
	assert.Equal(t, upstream.CredentialBearer, spec.Credential.Kind)
	assert.Equal(t, "sk-abc123xyz789", spec.Credential.Value.Value())
	assert.Empty(t, hcfg.MetadataCachePath)
}
