package config

// DefaultExcludes are paths never preloaded by default.
var DefaultExcludes = []string{
	"/auth/**",
	"/logout",
	"/api/**",
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     3000,
			Endpoint: "/api/page-content",
		},
		Router: RouterConfig{
			BaseURL:        "http://localhost:3000",
			CacheSize:      50,
			MaxRetries:     3,
			RetryBackoffMS: 1000,
			TimeoutMS:      10000,
			ErrorDismissMS: 10000,
		},
		Preload: PreloadConfig{
			Enabled:         true,
			HoverDelayMS:    100,
			VisibleDelayMS:  500,
			MaxConcurrent:   2,
			Capacity:        20,
			EvictIntervalMS: 60000,
			Exclude:         DefaultExcludes,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			DataDir: ".panel",
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogConsole,
		},
	}
}
