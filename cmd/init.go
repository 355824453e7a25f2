package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/g-flame/airlink-panel/internal/config"
)

var (
	initInteractive bool
	initForce       bool
)

var initCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write a panel configuration file",
	Long:        `Writes panel.yml with default settings, or runs an interactive wizard with --interactive.`,
	Annotations: map[string]string{"config": "none"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgFile); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", cfgFile)
		}
		if initInteractive {
			_, err := config.RunWizard(cfgFile)
			return err
		}
		if err := config.DefaultConfig().Save(cfgFile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to %s\n", cfgFile)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "run the configuration wizard")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}
