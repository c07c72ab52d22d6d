package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Nathene/vulnmatch/cmd/config"
	"github.com/Nathene/vulnmatch/internal/api"
	"github.com/Nathene/vulnmatch/pkg/database"
	"github.com/Nathene/vulnmatch/pkg/feed"
	"github.com/Nathene/vulnmatch/pkg/scanner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// reloadDelay coalesces the burst of file events a feed download produces.
const reloadDelay = time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API for inventory submission and reports",
	Long: `serve accepts inventories on POST /inventory and serves the stored
vulnerabilities, package updates and devices. The CVE feeds are reloaded
whenever a feed file changes and re-downloaded every feeds.refreshinterval.`,
	Args: cobra.NoArgs,
	RunE: serve,
}

func serve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Use()
	logger := newLogger()
	defer logger.Sync()

	store, err := database.Use()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := os.MkdirAll(cfg.Feeds.Dir, 0o755); err != nil {
		return fmt.Errorf("could not create feed directory: %w", err)
	}

	s, err := loadScanner(ctx, store, logger)
	if err != nil {
		return err
	}

	reload := debounce(reloadDelay, func() {
		if _, err := s.Refresh(ctx, feedPaths(config.Use())); err != nil {
			logger.Warn("CVE corpus reload failed", zap.Error(err))
		}
	})
	if err := feed.Watch(ctx, cfg.Feeds.Dir, logger, func(string) { reload() }); err != nil {
		return fmt.Errorf("watch feed directory: %w", err)
	}
	config.WatchConfig(func(*config.Config) {
		logger.Info("configuration reloaded")
		reload()
	})

	if cfg.Feeds.RefreshInterval > 0 {
		go refreshFeeds(ctx, cfg, s, logger)
	}

	app := api.NewFiberApp(store, s, api.Options{AllowOrigins: cfg.Server.AllowOrigins, AccessLog: true})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(cfg.Server.Addr)
	}()
	logger.Info("vulnmatch API listening", zap.String("addr", cfg.Server.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	}
}

// refreshFeeds re-downloads the feeds periodically. The directory watcher picks
// up the new files and swaps the snapshot.
func refreshFeeds(ctx context.Context, cfg *config.Config, s *scanner.Scanner, logger *zap.Logger) {
	fetcher := feed.NewFetcher(cfg.Feeds.BaseURL, cfg.Feeds.Dir, cfg.Feeds.FetchTimeout, logger)

	ticker := time.NewTicker(cfg.Feeds.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fetcher.FetchAll(ctx, cfg.Feeds.Names); err != nil {
				logger.Warn("CVE feed refresh failed", zap.Error(err),
					zap.Time("serving_snapshot_from", s.Stats().LoadedAt))
			}
		}
	}
}

// debounce returns a function that runs fn once calls have stopped for d.
func debounce(d time.Duration, fn func()) func() {
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	return func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(d, fn)
	}
}
