package config

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard, saves the result to
// path and returns it.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to the airlink panel! Let's configure this install.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Listen port.
	portPrompt := promptui.Prompt{
		Label:    "Port to serve the panel on",
		Default:  strconv.Itoa(cfg.Server.Port),
		Validate: validatePort,
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	cfg.Server.Port, _ = strconv.Atoi(portStr)
	cfg.Router.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)

	// 2. Public URL.
	basePrompt := promptui.Prompt{
		Label:    "Panel URL used by browse sessions",
		Default:  cfg.Router.BaseURL,
		Validate: validateURL,
	}
	if cfg.Router.BaseURL, err = basePrompt.Run(); err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}

	// 3. Preloading.
	preloadPrompt := promptui.Select{
		Label: "Speculative preloading",
		Items: []string{
			"enabled  - hover and visible links are fetched ahead of clicks",
			"disabled - fetch pages only on navigation",
		},
	}
	idx, _, err := preloadPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("preload selection: %w", err)
	}
	cfg.Preload.Enabled = idx == 0

	// 4. Extra exclude patterns.
	if cfg.Preload.Enabled {
		excludePrompt := promptui.Prompt{
			Label:   "Extra paths never preloaded (comma-separated globs, blank for defaults)",
			Default: "",
		}
		excludeStr, err := excludePrompt.Run()
		if err != nil {
			return nil, fmt.Errorf("exclude patterns: %w", err)
		}
		cfg.Preload.Exclude = append(cfg.Preload.Exclude, splitAndTrim(excludeStr)...)
	}

	// 5. Telemetry.
	telemetryPrompt := promptui.Select{
		Label: "Record navigation telemetry",
		Items: []string{"yes", "no"},
	}
	idx, _, err = telemetryPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("telemetry selection: %w", err)
	}
	cfg.Telemetry.Enabled = idx == 0

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}

func validatePort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("enter an absolute URL such as http://localhost:3000")
	}
	return nil
}
