package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg's struct tags (required fields, oneof enumerations,
// numeric ranges) and the cross-field rules a tag can't express: a
// server's required fields vary by Type, and ids must be unique. The
// mechanical per-field checks are driven off struct tags with
// github.com/go-playground/validator; hand-written code covers only the
// genuinely cross-field rules.
func Validate(cfg Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]struct{}, len(cfg.Servers))
	for _, s := range cfg.Servers {
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("invalid configuration: duplicate server id %q", s.ID)
		}
		seen[s.ID] = struct{}{}

		if err := validateServerType(s, cfg.Environment == "production"); err != nil {
			return fmt.Errorf("server %q: %w", s.ID, err)
		}
	}

	if cfg.ToolNaming.Format != "" && cfg.ToolNaming.Format != "{prefix}{separator}{name}" {
		return fmt.Errorf("invalid configuration: toolNaming.format %q is not supported", cfg.ToolNaming.Format)
	}

	for _, s := range cfg.Servers {
		if s.Health.TimeoutMs > 0 && s.Health.IntervalMs > 0 && s.Health.TimeoutMs > s.Health.IntervalMs {
			return fmt.Errorf("server %q: health.timeoutMs (%d) exceeds health.intervalMs (%d)", s.ID, s.Health.TimeoutMs, s.Health.IntervalMs)
		}
	}

	return nil
}

func validateServerType(s ServerConfig, production bool) error {
	switch s.Type {
	case ServerTypeLocal, ServerTypeNPX:
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("command is required for a %s server", s.Type)
		}
	case ServerTypeRemote:
		if strings.TrimSpace(s.URL) == "" {
			return fmt.Errorf("url is required for a remote server")
		}
		if err := validateRemoteURL(s.URL, production); err != nil {
			return err
		}
		if s.BasicUser != "" && s.BasicPassword == "" && s.BasicPasswordFile == "" {
			return fmt.Errorf("basicUser set without basicPassword or basicPasswordFile")
		}
	default:
		return fmt.Errorf("unknown server type %q", s.Type)
	}
	return nil
}

// validateRemoteURL rejects anything but an absolute http/https URL at
// config load, before an upstream is ever constructed. When production is
// true (environment: production), http is additionally rejected: the
// streamable-HTTP/SSE transports require https once the process-level
// production hint is set.
func validateRemoteURL(raw string, production bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url %q is not a valid URL: %w", raw, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("url %q must be an absolute http(s) URL", raw)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if production {
			return fmt.Errorf("url %q uses http, but https is required when environment is production", raw)
		}
	default:
		return fmt.Errorf("url %q uses unsupported scheme %q, only http and https are allowed", raw, u.Scheme)
	}
	return nil
}
