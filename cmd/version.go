package cmd

import (
	"fmt"

	"github.com/Nathene/vulnmatch/cmd/config"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of vulnmatch",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.Use().Version)
	},
}
