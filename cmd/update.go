package cmd

import (
	"fmt"

	"github.com/Nathene/vulnmatch/cmd/config"
	"github.com/Nathene/vulnmatch/pkg/feed"
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Download the configured NVD CVE feed partitions",
	Long: `update downloads nvdcve-2.0-<name>.json.gz for every configured feed name
and stores the uncompressed feed in the feed directory.`,
	RunE: update,
}

func update(cmd *cobra.Command, args []string) error {
	cfg := config.Use()
	logger := newLogger()
	defer logger.Sync()

	fetcher := feed.NewFetcher(cfg.Feeds.BaseURL, cfg.Feeds.Dir, cfg.Feeds.FetchTimeout, logger)
	paths, err := fetcher.FetchAll(cmd.Context(), cfg.Feeds.Names)
	for _, path := range paths {
		fmt.Fprintln(cmd.OutOrStdout(), "Updated:", path)
	}
	return err
}
