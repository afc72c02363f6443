package config

import (
	"strings"
	"time"

	"github.com/hatago/hatago-hub/internal/hub"
	"github.com/hatago/hatago-hub/internal/redact"
	"github.com/hatago/hatago-hub/internal/registry"
	"github.com/hatago/hatago-hub/internal/router"
	"github.com/hatago/hatago-hub/internal/upstream"
)

// ToHubConfig translates the on-disk document into the in-process
// hub.Config the core expects.
// configPath is the file cfg was loaded from (or the path it would have
// been loaded from); the metadata cache sibling file is derived from it.
func ToHubConfig(cfg Config, configPath string) hub.Config {
	specs := make([]upstream.Specification, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		specs = append(specs, toSpecification(s, cfg))
	}

	strategy := registry.CollisionStrategy(cfg.ToolNaming.Strategy)
	if strategy == "" {
		strategy = registry.StrategyNamespace
	}

	return hub.Config{
		Upstreams:            specs,
		NamingStrategy:       strategy,
		NamingSeparator:      cfg.ToolNaming.Separator,
		GlobalConcurrency:    cfg.Concurrency.Global,
		PerServerConcurrency: cfg.Concurrency.PerServer,
		MetadataCachePath:    metadataCachePath(configPath),
		ShutdownGrace:        5 * time.Second,
		RouterOptions: router.Options{
			ToolCallTimeout:             millis(cfg.Timeouts.ToolCallMs),
			LegacyFirstUpstreamFallback: cfg.Routing.LegacyFirstUpstreamFallback,
		},
	}
}

func metadataCachePath(configPath string) string {
	if configPath == "" {
		return ""
	}
	return configPath + ".metadata.json"
}

func toSpecification(s ServerConfig, cfg Config) upstream.Specification {
	spec := upstream.Specification{
		ID:             s.ID,
		ToolPrefix:     s.ToolPrefix,
		ToolAliases:    mergeAliases(s.ID, s.ToolAliases, cfg.ToolNaming.Aliases),
		IncludeGlobs:   s.IncludeGlobs,
		ExcludeGlobs:   s.ExcludeGlobs,
		Activation:     upstream.ActivationPolicy(orDefault(s.Activation, string(upstream.ActivationLazy))),
		ConnectTimeout: millisDefault(s.ConnectTimeoutMs, cfg.Timeouts.SpawnMs),
		IdleTimeout:    millis(s.IdleTimeoutMs),
		MinLinger:      millis(s.MinLingerMs),
		IdleReset:      upstream.IdleResetPolicy(orDefault(s.IdleReset, string(upstream.IdleResetOnCallEnd))),
		Health: upstream.HealthCheck{
			Interval: millis(s.Health.IntervalMs),
			Timeout:  millisDefault(s.Health.TimeoutMs, cfg.Timeouts.HealthcheckMs),
			Method:   upstream.HealthCheckMethod(orDefault(s.Health.Method, string(upstream.HealthCheckPing))),
		},
	}

	// A healthcheck timeout inherited from the global default must not
	// outlive a shorter per-server probe interval; an explicit per-server
	// timeout doing so is rejected at validation instead.
	if spec.Health.Interval > 0 && s.Health.TimeoutMs == 0 && spec.Health.Timeout > spec.Health.Interval {
		spec.Health.Timeout = spec.Health.Interval
	}

	switch s.Type {
	case ServerTypeLocal, ServerTypeNPX:
		spec.Transport = upstream.TransportStdio
		spec.Command = s.Command
		spec.Args = s.Args
		spec.Env = s.Env
		spec.WorkDir = s.WorkDir
	case ServerTypeRemote:
		spec.Transport = remoteTransport(s.Transport)
		spec.URL = s.URL
		spec.Headers = s.Headers
		spec.Credential = toCredential(s)
	}

	return spec
}

func remoteTransport(t string) upstream.TransportKind {
	if t == "sse" {
		return upstream.TransportSSE
	}
	return upstream.TransportStreamableHTTP
}

func toCredential(s ServerConfig) upstream.Credential {
	switch {
	case s.BearerToken != "":
		return upstream.Credential{Kind: upstream.CredentialBearer, Value: redact.New(s.BearerToken)}
	case s.BasicUser != "":
		return upstream.Credential{Kind: upstream.CredentialBasic, Value: redact.New(s.BasicUser + ":" + s.BasicPassword)}
	default:
		return upstream.Credential{}
	}
}

// mergeAliases overlays the user-level toolNaming.aliases table onto one
// server's own alias map. A user-level key may be scoped as
// "<serverId>/<originalName>" to target one upstream, or be a bare
// original name applied to every upstream advertising it; the scoped and
// bare forms both override the server's own entry for that name.
func mergeAliases(serverID string, serverAliases, userAliases map[string]string) map[string]string {
	if len(userAliases) == 0 {
		return serverAliases
	}
	out := make(map[string]string, len(serverAliases)+len(userAliases))
	for k, v := range serverAliases {
		out[k] = v
	}
	for k, v := range userAliases {
		if id, name, scoped := strings.Cut(k, "/"); scoped {
			if id == serverID {
				out[name] = v
			}
			continue
		}
		out[k] = v
	}
	return out
}

// millisDefault converts ms to a duration, falling back to defaultMs when
// ms is unset.
func millisDefault(ms, defaultMs int) time.Duration {
	if ms > 0 {
		return millis(ms)
	}
	return millis(defaultMs)
}

func millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
