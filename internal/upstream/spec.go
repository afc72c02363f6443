// Package upstream defines the uniform connector surface hatago-hub uses to
// talk to every upstream MCP server, regardless of transport.
package upstream

import (
	"fmt"
	"time"

	"github.com/hatago/hatago-hub/internal/redact"
)

// ActivationPolicy controls when the hub starts an upstream.
type ActivationPolicy string

const (
	// ActivationEager starts the upstream at hub start-up.
	ActivationEager ActivationPolicy = "eager"
	// ActivationLazy starts the upstream on first route to it and arms
	// the idle manager.
	ActivationLazy ActivationPolicy = "lazy"
	// ActivationManual never starts the upstream automatically; an
	// operator or the management collaborator drives it.
	ActivationManual ActivationPolicy = "manual"
)

// HealthCheckMethod selects the probe issued on the health-check interval.
type HealthCheckMethod string

const (
	HealthCheckPing      HealthCheckMethod = "ping"
	HealthCheckListTools HealthCheckMethod = "list-tools"
)

// HealthCheck configures periodic liveness probing of a running upstream.
type HealthCheck struct {
	// Interval between probes. Zero disables health checking.
	Interval time.Duration
	// Timeout bounds a single probe.
	Timeout time.Duration
	Method  HealthCheckMethod
}

// Validate rejects a Timeout that exceeds Interval at ingestion time: a
// probe that can outlive its own interval is a configuration error, not
// something to discover at runtime.
func (h HealthCheck) Validate() error {
	if h.Interval > 0 && h.Timeout > h.Interval {
		return fmt.Errorf("health check timeout (%s) exceeds interval (%s)", h.Timeout, h.Interval)
	}
	return nil
}

// IdleResetPolicy selects when a node's idle clock is zeroed relative to a
// call; see internal/idle.ResetPolicy, which mirrors these values.
type IdleResetPolicy string

const (
	IdleResetOnCallStart IdleResetPolicy = "onCallStart"
	IdleResetOnCallEnd   IdleResetPolicy = "onCallEnd"
)

// TransportKind identifies which wire protocol a Specification uses.
type TransportKind string

const (
	TransportStdio           TransportKind = "stdio"
	TransportStreamableHTTP  TransportKind = "streamable-http"
	TransportSSE             TransportKind = "sse"
)

// CredentialKind identifies how Credential.Value should be applied.
type CredentialKind string

const (
	CredentialNone   CredentialKind = ""
	CredentialBearer CredentialKind = "bearer"
	CredentialBasic  CredentialKind = "basic"
)

// Credential carries the authorization material for HTTP/SSE upstreams.
// There is no token-refresh flow here; a Credential is applied verbatim as
// a header on every request. Value is a redact.Secret so a Specification
// never prints its credential in a log line or debug dump.
type Credential struct {
	Kind  CredentialKind
	Value redact.Secret
}

// Specification is the static description of one upstream MCP server, as
// read from configuration.
type Specification struct {
	// ID uniquely identifies this upstream within the hub and is used as
	// the default naming prefix.
	ID string

	Transport TransportKind

	// Stdio fields.
	Command string
	Args    []string
	Env     map[string]string
	WorkDir string

	// HTTP/SSE fields.
	URL        string
	Headers    map[string]string
	Credential Credential

	// ToolPrefix overrides the default {ID}{separator} prefix applied to
	// this upstream's tool/prompt names.
	ToolPrefix string

	// ToolAliases maps an original tool/prompt name to an exact exposed
	// name, overriding the naming strategy for that one entry.
	ToolAliases map[string]string

	// IncludeGlobs, if non-empty, restricts discovery to original names
	// matching at least one glob (path.Match syntax). ExcludeGlobs drops
	// any name matching one of its globs; exclude is applied after
	// include.
	IncludeGlobs []string
	ExcludeGlobs []string

	// Activation selects when the hub starts this upstream.
	Activation ActivationPolicy

	// ConnectTimeout bounds a single connect/initialize attempt.
	ConnectTimeout time.Duration

	// IdleTimeout is how long this upstream may sit unused before the
	// Idle Manager deactivates it. Zero means never deactivate.
	IdleTimeout time.Duration

	// MinLinger is the minimum time a freshly activated upstream is kept
	// running even if it immediately goes idle, to absorb bursty
	// activity without repeated spawn/stop churn.
	MinLinger time.Duration

	// IdleReset selects onCallStart/onCallEnd activity-reset semantics.
	IdleReset IdleResetPolicy

	// Health configures periodic liveness probing while running.
	Health HealthCheck
}

// EffectivePrefix returns the namespace prefix the registry should use for
// this upstream's tools/prompts under the namespace/alias-fallback naming
// strategies: ToolPrefix if set, otherwise the upstream id itself.
func (s Specification) EffectivePrefix() string {
	if s.ToolPrefix != "" {
		return s.ToolPrefix
	}
	return s.ID
}
