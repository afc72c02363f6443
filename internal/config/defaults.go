package config

// Default returns the configuration hatago-hub runs with when no config
// file is present.
func Default() Config {
	return Config{
		Version:     "1",
		LogLevel:    "info",
		Environment: "development",
		HTTP: HTTPConfig{
			Port: 8090,
			Host: "localhost",
		},
		Session: SessionConfig{
			TTLSeconds: 1800,
			Store:      "memory",
		},
		Timeouts: TimeoutsConfig{
			SpawnMs:       10_000,
			HealthcheckMs: 5_000,
			ToolCallMs:    20_000,
		},
		ToolNaming: ToolNamingConfig{
			Strategy:  "namespace",
			Separator: "_",
		},
	}
}
