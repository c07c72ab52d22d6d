package cmd

import (
	"fmt"

	"github.com/Nathene/vulnmatch/cmd/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and persist the vulnmatch configuration",
}

var configSaveCmd = &cobra.Command{
	Use:   "save [path]",
	Short: "Write the effective configuration to a file",
	Long: `save writes the configuration vulnmatch is running with, after
environment overrides, to path. Without a path it rewrites the config file
that was loaded.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.SaveConfig(path); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		if path != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Saved: %s\n", path)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSaveCmd)
}
