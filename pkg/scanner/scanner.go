// Package scanner is the ingestion boundary: it reads a host's prior state, runs the
// pipeline against the current feed snapshot and persists the result.
package scanner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Nathene/vulnmatch/cmd/common"
	"github.com/Nathene/vulnmatch/pkg/database"
	"github.com/Nathene/vulnmatch/pkg/feed"
	"github.com/Nathene/vulnmatch/pkg/ingest"
	"github.com/Nathene/vulnmatch/pkg/inventory"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Scanner serializes submissions per host. Submissions for different hosts run
// concurrently.
type Scanner struct {
	store    database.Database
	corpus   *feed.Corpus
	loader   *feed.Loader
	pipeline *ingest.Pipeline
	logger   *zap.Logger

	// hostLocks holds a *sync.Mutex per hostname
	hostLocks sync.Map

	submissions atomic.Int64
}

// Stats describes the scanner state for health reporting.
type Stats struct {
	Records     int       `json:"records"`
	Feeds       []string  `json:"feeds"`
	LoadedAt    time.Time `json:"loaded_at"`
	Submissions int64     `json:"submissions"`
}

func New(store database.Database, corpus *feed.Corpus, pipeline *ingest.Pipeline, logger *zap.Logger) *Scanner {
	if corpus == nil {
		corpus = feed.NewCorpus(nil)
	}
	if pipeline == nil {
		pipeline = ingest.New(nil, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		store:    store,
		corpus:   corpus,
		loader:   feed.NewLoader(logger),
		pipeline: pipeline,
		logger:   logger,
	}
}

func (s *Scanner) lockHost(hostname string) func() {
	m, _ := s.hostLocks.LoadOrStore(hostname, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Submit ingests one inventory and replaces the host's stored vulnerable packages.
func (s *Scanner) Submit(ctx context.Context, inv *inventory.Inventory) (common.Summary, error) {
	if err := inv.Validate(); err != nil {
		return common.Summary{}, err
	}

	runID := uuid.NewString()
	logger := s.logger.With(zap.String("run_id", runID), zap.String("host", inv.Hostname))
	snapshot := s.corpus.Load()
	start := time.Now()

	unlock := s.lockHost(inv.Hostname)
	defer unlock()

	assetID, err := s.store.UpsertAsset(ctx, inv.Hostname, inv.IP, start)
	if err != nil {
		return common.Summary{}, err
	}
	prior, err := s.store.PackageVersions(ctx, assetID)
	if err != nil {
		return common.Summary{}, fmt.Errorf("read package versions of %s: %w", inv.Hostname, err)
	}

	result := s.pipeline.Ingest(inv.Hostname, prior, inv.Packages, snapshot.Records)

	if err := s.store.SaveIngestion(ctx, assetID, result); err != nil {
		return common.Summary{}, fmt.Errorf("save ingestion of %s: %w", inv.Hostname, err)
	}
	s.submissions.Add(1)

	summary := summarize(runID, &result)
	logger.Info("inventory ingested",
		zap.Int("packages", len(inv.Packages)),
		zap.Int("records", len(snapshot.Records)),
		zap.Int("critical", summary.Critical),
		zap.Int("high", summary.High),
		zap.Int("medium", summary.Medium),
		zap.Int("low", summary.Low),
		zap.Int("total", summary.Total),
		zap.Duration("took", time.Since(start)),
	)
	return summary, nil
}

func summarize(runID string, result *ingest.Result) common.Summary {
	counts := result.Counts()
	return common.Summary{
		RunID:    runID,
		Hostname: result.Host,
		Critical: counts[feed.SeverityCritical],
		High:     counts[feed.SeverityHigh],
		Medium:   counts[feed.SeverityMedium],
		Low:      counts[feed.SeverityLow],
		Total:    len(result.Vulnerable),
	}
}

// Check matches a single package against the current snapshot without persisting anything.
func (s *Scanner) Check(pkg inventory.Package) []ingest.VulnerablePackage {
	result := s.pipeline.Ingest("", nil, []inventory.Package{pkg}, s.corpus.Load().Records)
	return result.Vulnerable
}

// Refresh loads the feeds at paths and swaps them in as the current snapshot.
// Submissions already running keep the snapshot they started with.
func (s *Scanner) Refresh(ctx context.Context, paths []string) (*feed.Snapshot, error) {
	snapshot, err := s.loader.LoadAll(ctx, paths)
	if err != nil {
		return nil, err
	}
	s.corpus.Swap(snapshot)
	s.logger.Info("CVE corpus loaded",
		zap.Int("records", len(snapshot.Records)),
		zap.Strings("feeds", snapshot.Sources))
	return snapshot, nil
}

func (s *Scanner) Stats() Stats {
	snapshot := s.corpus.Load()
	return Stats{
		Records:     len(snapshot.Records),
		Feeds:       snapshot.Sources,
		LoadedAt:    snapshot.LoadedAt,
		Submissions: s.submissions.Load(),
	}
}
