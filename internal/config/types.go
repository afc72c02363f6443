// Package config loads and validates hatago-hub's on-disk configuration
// document and translates it into the in-process shapes internal/hub and
// internal/upstream expect: a plain YAML-tagged struct tree
// (gopkg.in/yaml.v3), a loader that starts from defaults and overlays the
// file, and secret-file resolution for credentials kept out of the config
// file itself.
package config

// Config is the top-level document at the path passed to Load.
type Config struct {
	Version  string `yaml:"version"`
	LogLevel string `yaml:"logLevel"`

	// Environment is the process-level deployment hint remote-upstream
	// URL validation keys off: "production" requires https for every
	// remote server's url; any other value (including the "development"
	// default and an empty string) allows plain http.
	Environment string `yaml:"environment" validate:"omitempty,oneof=development production"`

	HTTP        HTTPConfig        `yaml:"http"`
	Session     SessionConfig     `yaml:"session"`
	Timeouts    TimeoutsConfig    `yaml:"timeouts"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	ToolNaming  ToolNamingConfig  `yaml:"toolNaming"`
	Routing     RoutingConfig     `yaml:"routing"`
	Tracing     TracingConfig     `yaml:"tracing"`

	Servers []ServerConfig `yaml:"servers" validate:"dive"`
}

// RoutingConfig toggles router behaviours the hub supports both ways.
type RoutingConfig struct {
	// LegacyFirstUpstreamFallback routes an unprefixed, unrecognized tool
	// name to the first configured upstream instead of failing with
	// unknown-target. Off by default; kept as a switch for clients that
	// still depend on the old behaviour.
	LegacyFirstUpstreamFallback bool `yaml:"legacyFirstUpstreamFallback"`
}

// TracingConfig controls the internal/telemetry span exporter wrapped
// around every targeted router call.
type TracingConfig struct {
	// Enabled turns on the stdout newline-delimited-JSON span exporter.
	// False (the default) wires a no-op tracer, since most deployments
	// have no collector to send spans to.
	Enabled bool `yaml:"enabled"`
}

// HTTPConfig configures the downstream HTTP listener (internal/transport).
type HTTPConfig struct {
	Port int    `yaml:"port" validate:"min=0,max=65535"`
	Host string `yaml:"host"`
}

// SessionConfig configures the Session Manager.
type SessionConfig struct {
	TTLSeconds int    `yaml:"ttlSeconds" validate:"min=0"`
	Persist    bool   `yaml:"persist"`
	Store      string `yaml:"store" validate:"omitempty,oneof=memory file"`
}

// TimeoutsConfig bounds the three classes of blocking operation the hub
// performs against an upstream.
type TimeoutsConfig struct {
	SpawnMs        int `yaml:"spawnMs" validate:"min=0"`
	HealthcheckMs  int `yaml:"healthcheckMs" validate:"min=0"`
	ToolCallMs     int `yaml:"toolCallMs" validate:"min=0"`
}

// ConcurrencyConfig bounds in-flight upstream calls.
type ConcurrencyConfig struct {
	Global    int `yaml:"global" validate:"min=0"`
	PerServer int `yaml:"perServer" validate:"min=0"`
}

// ToolNamingConfig selects the collision-handling policy applied across all
// upstreams' tool and prompt names (internal/registry.CollisionStrategy).
type ToolNamingConfig struct {
	Strategy  string            `yaml:"strategy" validate:"omitempty,oneof=namespace alias error"`
	Separator string            `yaml:"separator"`
	// Format is reserved for a future templated naming scheme; today the
	// only supported shape is "{prefix}{separator}{name}" (Strategy
	// namespace/alias), so any non-empty value other than that literal is
	// rejected at validation time rather than silently ignored.
	Format  string            `yaml:"format"`
	Aliases map[string]string `yaml:"aliases"`
}

// ServerType selects which of ServerConfig's transport-specific field
// groups apply.
type ServerType string

const (
	ServerTypeLocal  ServerType = "local"
	ServerTypeRemote ServerType = "remote"
	ServerTypeNPX    ServerType = "npx"
)

// ServerConfig is one entry in servers[], the on-disk form of one
// upstream.Specification.
type ServerConfig struct {
	ID   string     `yaml:"id" validate:"required"`
	Type ServerType `yaml:"type" validate:"required,oneof=local remote npx"`

	// Local/NPX fields.
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	WorkDir string            `yaml:"workDir"`

	// Remote fields.
	URL             string            `yaml:"url"`
	Transport       string            `yaml:"transport" validate:"omitempty,oneof=streamable-http sse"`
	Headers         map[string]string `yaml:"headers"`
	BearerToken     string            `yaml:"bearerToken"`
	BearerTokenFile string            `yaml:"bearerTokenFile"`
	BasicUser       string            `yaml:"basicUser"`
	BasicPassword   string            `yaml:"basicPassword"`
	BasicPasswordFile string          `yaml:"basicPasswordFile"`

	// Naming overrides.
	ToolPrefix   string            `yaml:"toolPrefix"`
	ToolAliases  map[string]string `yaml:"toolAliases"`
	IncludeGlobs []string          `yaml:"includeGlobs"`
	ExcludeGlobs []string          `yaml:"excludeGlobs"`

	// Activation and lifecycle policy.
	Activation string `yaml:"activation" validate:"omitempty,oneof=eager lazy manual"`

	IdleTimeoutMs int    `yaml:"idleTimeoutMs" validate:"min=0"`
	MinLingerMs   int    `yaml:"minLingerMs" validate:"min=0"`
	IdleReset     string `yaml:"idleReset" validate:"omitempty,oneof=onCallStart onCallEnd"`

	ConnectTimeoutMs int `yaml:"connectTimeoutMs" validate:"min=0"`

	Health HealthConfig `yaml:"health"`
}

// HealthConfig configures periodic liveness probing of a running upstream.
type HealthConfig struct {
	IntervalMs int    `yaml:"intervalMs" validate:"min=0"`
	TimeoutMs  int    `yaml:"timeoutMs" validate:"min=0"`
	Method     string `yaml:"method" validate:"omitempty,oneof=ping list-tools"`
}
