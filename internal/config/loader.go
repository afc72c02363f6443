package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hatago/hatago-hub/internal/logging"
)

// Load reads the YAML document at path and overlays it onto Default(). A
// missing file is not an error, it just means "run with defaults".
func Load(path string, log *logging.Logger) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info("no config file found, using defaults", "path", path)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	log.Info("loaded configuration", "path", path)

	if err := resolveSecretFiles(&cfg); err != nil {
		return Config{}, fmt.Errorf("resolving secret files for %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// resolveSecretFiles reads *File-suffixed credential fields, keeping
// secrets out of the config document itself.
func resolveSecretFiles(cfg *Config) error {
	for i := range cfg.Servers {
		s := &cfg.Servers[i]

		if s.BearerTokenFile != "" && s.BearerToken == "" {
			v, err := readSecretFile(s.BearerTokenFile)
			if err != nil {
				return fmt.Errorf("server %q: reading bearer token file: %w", s.ID, err)
			}
			s.BearerToken = v
		}
		if s.BasicPasswordFile != "" && s.BasicPassword == "" {
			v, err := readSecretFile(s.BasicPasswordFile)
			if err != nil {
				return fmt.Errorf("server %q: reading basic password file: %w", s.ID, err)
			}
			s.BasicPassword = v
		}
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
