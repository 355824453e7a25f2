package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/g-flame/airlink-panel/internal/persist"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "PANEL_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (PANEL_*). The first underscore after the
// prefix separates the section from the key: PANEL_ROUTER_MAX_RETRIES sets
// router.max_retries.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	// Lists replace the defaults instead of merging into them.
	if k.Exists("preload.exclude") {
		cfg.Preload.Exclude = nil
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

func envKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return key, value
	}
	key = section + "." + rest
	if key == "preload.exclude" {
		return key, splitAndTrim(value)
	}
	return key, value
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var validKinds = map[string]bool{
	string(persist.KindSidebar): true,
	string(persist.KindTopbar):  true,
	string(persist.KindFooter):  true,
	string(persist.KindCustom):  true,
}

var validLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.Endpoint, "/") {
		return fmt.Errorf("server.endpoint must start with /")
	}

	if c.Router.BaseURL != "" {
		u, err := url.Parse(c.Router.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid router.base_url %q", c.Router.BaseURL)
		}
	}
	if c.Router.CacheSize < 0 {
		return fmt.Errorf("router.cache_size must be non-negative")
	}
	if c.Router.RetryBackoffMS < 0 || c.Router.TimeoutMS < 0 || c.Router.ErrorDismissMS < 0 {
		return fmt.Errorf("router durations must be non-negative")
	}

	if c.Preload.MaxConcurrent < 0 || c.Preload.Capacity < 0 {
		return fmt.Errorf("preload.max_concurrent and preload.capacity must be non-negative")
	}
	if c.Preload.HoverDelayMS < 0 || c.Preload.VisibleDelayMS < 0 || c.Preload.EvictIntervalMS < 0 {
		return fmt.Errorf("preload durations must be non-negative")
	}
	for _, p := range c.Preload.Exclude {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid preload.exclude pattern %q", p)
		}
	}

	for kind, names := range c.Persist.Capabilities {
		if !validKinds[kind] {
			return fmt.Errorf("invalid persist.capabilities kind %q: must be one of sidebar, topbar, footer, custom", kind)
		}
		if _, err := persist.Capabilities(names...); err != nil {
			return err
		}
	}

	if c.Telemetry.Enabled && c.Telemetry.DataDir == "" {
		return fmt.Errorf("telemetry.data_dir is required when telemetry is enabled")
	}

	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log.level %q: must be one of debug, info, warn, error", c.Log.Level)
	}
	if c.Log.Format != LogJSON && c.Log.Format != LogConsole {
		return fmt.Errorf("invalid log.format %q: must be json or console", c.Log.Format)
	}

	return nil
}

// splitAndTrim splits a comma-separated string and trims whitespace.
func splitAndTrim(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
