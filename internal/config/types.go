package config

// LogFormat selects the zap encoder.
type LogFormat string

const (
	LogJSON    LogFormat = "json"
	LogConsole LogFormat = "console"
)

// Config is the top-level panel configuration, corresponding to panel.yml.
type Config struct {
	Server    ServerConfig    `yaml:"server" koanf:"server"`
	Router    RouterConfig    `yaml:"router" koanf:"router"`
	Preload   PreloadConfig   `yaml:"preload" koanf:"preload"`
	Persist   PersistConfig   `yaml:"persist" koanf:"persist"`
	Telemetry TelemetryConfig `yaml:"telemetry" koanf:"telemetry"`
	Log       LogConfig       `yaml:"log" koanf:"log"`
}

// ServerConfig holds settings for `panel serve`.
type ServerConfig struct {
	Port     int    `yaml:"port" koanf:"port"`
	Endpoint string `yaml:"endpoint" koanf:"endpoint"`
	PagesDir string `yaml:"pages_dir" koanf:"pages_dir"`
	AllowAll bool   `yaml:"allow_all_origins" koanf:"allow_all_origins"`
}

// RouterConfig holds navigation settings. Durations are in milliseconds.
type RouterConfig struct {
	BaseURL        string `yaml:"base_url" koanf:"base_url"`
	CacheSize      int    `yaml:"cache_size" koanf:"cache_size"`
	MaxRetries     int    `yaml:"max_retries" koanf:"max_retries"`
	RetryBackoffMS int    `yaml:"retry_backoff_ms" koanf:"retry_backoff_ms"`
	TimeoutMS      int    `yaml:"timeout_ms" koanf:"timeout_ms"`
	ErrorDismissMS int    `yaml:"error_dismiss_ms" koanf:"error_dismiss_ms"`
}

// PreloadConfig holds speculative preloading settings.
type PreloadConfig struct {
	Enabled         bool     `yaml:"enabled" koanf:"enabled"`
	HoverDelayMS    int      `yaml:"hover_delay_ms" koanf:"hover_delay_ms"`
	VisibleDelayMS  int      `yaml:"visible_delay_ms" koanf:"visible_delay_ms"`
	MaxConcurrent   int      `yaml:"max_concurrent" koanf:"max_concurrent"`
	Capacity        int      `yaml:"capacity" koanf:"capacity"`
	EvictIntervalMS int      `yaml:"evict_interval_ms" koanf:"evict_interval_ms"`
	Exclude         []string `yaml:"exclude" koanf:"exclude"`
}

// PersistConfig maps region kinds (sidebar, topbar, footer, custom) to the
// capabilities restored for them. Kinds left out keep the built-in table.
type PersistConfig struct {
	Capabilities map[string][]string `yaml:"capabilities" koanf:"capabilities"`
}

// TelemetryConfig controls navigation and preload event recording.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled" koanf:"enabled"`
	DataDir string `yaml:"data_dir" koanf:"data_dir"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string    `yaml:"level" koanf:"level"`
	Format LogFormat `yaml:"format" koanf:"format"`
}
