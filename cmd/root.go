package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/Nathene/vulnmatch/cmd/config"
	"github.com/Nathene/vulnmatch/pkg/database"
	"github.com/Nathene/vulnmatch/pkg/feed"
	"github.com/Nathene/vulnmatch/pkg/ingest"
	"github.com/Nathene/vulnmatch/pkg/logging"
	"github.com/Nathene/vulnmatch/pkg/matcher"
	"github.com/Nathene/vulnmatch/pkg/naming"
	"github.com/Nathene/vulnmatch/pkg/scanner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vulnmatch",
	Short: "Match host software inventories against NVD CVE feeds",
	Long: `vulnmatch matches the software installed on your hosts against
the NVD CVE feeds and keeps a history of vulnerable packages and version changes.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			config.SetConfigFile(cfgFile)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vulnmatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides log.level from the config")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

func newLogger() *zap.Logger {
	level := config.Use().Log.Level
	if logLevel != "" {
		level = logLevel
	}
	return logging.New(level)
}

func newPipeline(cfg *config.Config) *ingest.Pipeline {
	names := naming.New(cfg.Matching.Aliases, cfg.Matching.NoiseTokens)
	return ingest.New(matcher.New(names), cfg.Matching.Workers)
}

func feedPaths(cfg *config.Config) []string {
	return feed.Paths(cfg.Feeds.Dir, cfg.Feeds.Names)
}

// loadScanner builds a scanner over the configured feeds. store may be nil for
// commands that never persist.
func loadScanner(ctx context.Context, store database.Database, logger *zap.Logger) (*scanner.Scanner, error) {
	cfg := config.Use()
	s := scanner.New(store, feed.NewCorpus(nil), newPipeline(cfg), logger)

	snapshot, err := s.Refresh(ctx, feedPaths(cfg))
	if err != nil {
		return nil, err
	}
	if len(snapshot.Records) == 0 {
		logger.Warn("no CVE records loaded, run `vulnmatch update` to download the feeds",
			zap.String("dir", cfg.Feeds.Dir))
	}
	return s, nil
}
