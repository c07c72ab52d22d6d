package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Nathene/vulnmatch/cmd/common"
	"github.com/Nathene/vulnmatch/pkg/database"
	"github.com/Nathene/vulnmatch/pkg/inventory"
	"github.com/Nathene/vulnmatch/pkg/scanner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var scanJSON bool

// InventoryScan submits inventory files found under a set of paths
type InventoryScan struct {
	// Paths are inventory files or directories to search for *.json inventories
	Paths []string
	// FileCount tracks the number of inventory files found
	FileCount int
	// FailedCount tracks the inventories that could not be ingested
	FailedCount int
	// CountMutex protects the counters
	CountMutex sync.Mutex

	scanner *scanner.Scanner
	logger  *zap.Logger
}

var scanCmd = &cobra.Command{
	Use:   "scan <inventory.json|dir>...",
	Short: "Ingest host inventories and store their vulnerable packages",
	Long: `scan reads inventory documents of the form
{"hostname": "...", "ip": "...", "packages": [{"name": "...", "version": "..."}]}
matches them against the local CVE feeds and replaces each host's stored
vulnerable packages. Directories are searched recursively for *.json files.`,
	Args: cobra.MinimumNArgs(1),
	RunE: scan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print the summaries as JSON")
}

// scan is the entry point for the scan command
func scan(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Sync()

	store, err := database.Use()
	if err != nil {
		return err
	}
	defer store.Close()

	s, err := loadScanner(cmd.Context(), store, logger)
	if err != nil {
		return err
	}

	run := &InventoryScan{Paths: args, scanner: s, logger: logger}
	files, err := run.WalkPaths()
	if err != nil {
		return err
	}

	summaries := run.Submit(cmd, files)
	if err := printSummaries(cmd.OutOrStdout(), summaries, scanJSON); err != nil {
		return err
	}

	if run.FailedCount > 0 {
		return fmt.Errorf("%d of %d inventories could not be ingested", run.FailedCount, run.FileCount)
	}
	return nil
}

// WalkPaths expands directories into the inventory files they contain
func (r *InventoryScan) WalkPaths() ([]string, error) {
	var files []string
	for _, root := range r.Paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				r.logger.Warn("skipping path", zap.String("path", path), zap.Error(err))
				return nil
			}
			// Skip hidden directories
			if d.IsDir() && path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), ".json") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	r.FileCount = len(files)
	return files, nil
}

// Submit ingests every file, a few at a time. Failures are logged and counted.
func (r *InventoryScan) Submit(cmd *cobra.Command, files []string) []common.Summary {
	results := make([]*common.Summary, len(files))

	var g errgroup.Group
	g.SetLimit(4)
	for i, path := range files {
		g.Go(func() error {
			summary, err := r.submitFile(cmd, path)
			if err != nil {
				r.logger.Error("inventory not ingested", zap.String("file", path), zap.Error(err))
				r.CountMutex.Lock()
				r.FailedCount++
				r.CountMutex.Unlock()
				return nil
			}
			results[i] = &summary
			return nil
		})
	}
	g.Wait()

	summaries := make([]common.Summary, 0, len(results))
	for _, s := range results {
		if s != nil {
			summaries = append(summaries, *s)
		}
	}
	return summaries
}

func (r *InventoryScan) submitFile(cmd *cobra.Command, path string) (common.Summary, error) {
	inv, err := inventory.ParseFile(path)
	if err != nil {
		return common.Summary{}, err
	}
	return r.scanner.Submit(cmd.Context(), inv)
}

func printSummaries(w io.Writer, summaries []common.Summary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	for _, s := range summaries {
		fmt.Fprintf(w, "\nHost: %s\n", s.Hostname)
		fmt.Fprintf(w, "Critical: %d\n", s.Critical)
		fmt.Fprintf(w, "High: %d\n", s.High)
		fmt.Fprintf(w, "Medium: %d\n", s.Medium)
		fmt.Fprintf(w, "Low: %d\n", s.Low)
		fmt.Fprintf(w, "Total: %d\n", s.Total)
	}
	return nil
}
