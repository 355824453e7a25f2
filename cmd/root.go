package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/g-flame/airlink-panel/internal/config"
	"github.com/g-flame/airlink-panel/internal/logging"
)

var (
	cfgFile string
	verbose bool

	// Set by PersistentPreRunE for commands that need them.
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "panel",
	Short: "Airlink game server panel with client-side navigation",
	Long: `Airlink serves the game server control panel and its page fragment
endpoint, and drives navigation sessions against a running panel: link
interception, fragment caching, speculative preloading and preservation
of sidebar, topbar and form state across page swaps.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// init writes the config and version needs none.
		if cmd.Annotations["config"] == "none" {
			return nil
		}
		loaded, err := loadConfig()
		if err != nil {
			return err
		}
		l, err := logging.New(loaded.Log, verbose)
		if err != nil {
			return err
		}
		cfg, logger = loaded, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "panel.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	c, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `panel init` to create a config file", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return c, nil
}
