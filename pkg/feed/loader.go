package feed

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/Nathene/vulnmatch/pkg/versions"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// FileTemplate names a feed partition on disk, e.g. nvdcve-2.0-recent.json.
	FileTemplate = "nvdcve-2.0-%s.json"

	Recent   = "recent"
	Modified = "modified"
)

// cpeProductOffset is the index of the product token in a colon split CPE 2.3 string.
const cpeProductOffset = 4

// document is the top level of an NVD CVE 2.0 feed.
type document struct {
	Vulnerabilities *[]json.RawMessage `json:"vulnerabilities"`
}

type item struct {
	CVE *cveEntry `json:"cve"`
	// Configurations at item level predate the 2.0 schema.
	Configurations json.RawMessage `json:"configurations"`
}

type cveEntry struct {
	ID           string `json:"id"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	Metrics struct {
		CvssMetricV31 []cvssMetric `json:"cvssMetricV31"`
	} `json:"metrics"`
	Configurations json.RawMessage `json:"configurations"`
}

type cvssMetric struct {
	CvssData struct {
		BaseSeverity string `json:"baseSeverity"`
	} `json:"cvssData"`
}

type configuration struct {
	Nodes []node `json:"nodes"`
}

type node struct {
	CpeMatch       []cpeMatch `json:"cpeMatch"`
	LegacyCpeMatch []cpeMatch `json:"cpe_match"`
}

type cpeMatch struct {
	Vulnerable            bool   `json:"vulnerable"`
	Criteria              string `json:"criteria"`
	Cpe23URI              string `json:"cpe23Uri"`
	Version               string `json:"version"`
	VersionStartIncluding string `json:"versionStartIncluding"`
	VersionEndIncluding   string `json:"versionEndIncluding"`
}

// Loader parses feed documents. It holds no state besides its logger.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a Loader that reports skipped feeds and records to logger.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

// Load parses one feed document. It fails with *FeedFormatError when the document
// lacks the vulnerability list. Malformed entries are logged and skipped.
func (l *Loader) Load(r io.Reader, source string) ([]CVERecord, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &FeedFormatError{Source: source, Err: err}
	}
	if doc.Vulnerabilities == nil {
		return nil, &FeedFormatError{Source: source, Err: errors.New("missing vulnerabilities list")}
	}

	items := *doc.Vulnerabilities
	records := make([]CVERecord, 0, len(items))
	for i, raw := range items {
		record, err := parseRecord(raw)
		if err != nil {
			l.logger.Warn("skipping malformed CVE record",
				zap.Error(&RecordParseError{Source: source, Index: i, Err: err}))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// LoadFile loads a feed from disk, decompressing files ending in .gz.
func (l *Loader) LoadFile(path string) ([]CVERecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, &FeedFormatError{Source: path, Err: err}
		}
		defer zr.Close()
		r = zr
	}
	return l.Load(r, filepath.Base(path))
}

// LoadAll loads every path concurrently and concatenates the records in path order.
// A feed that fails to load is logged and contributes nothing. No deduplication
// happens across feeds.
func (l *Loader) LoadAll(ctx context.Context, paths []string) (*Snapshot, error) {
	results := make([][]CVERecord, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			records, err := l.LoadFile(path)
			if err != nil {
				l.logger.Warn("skipping CVE feed", zap.String("feed", path), zap.Error(err))
				return nil
			}
			l.logger.Info("loaded CVE feed", zap.String("feed", path), zap.Int("records", len(records)))
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snapshot := &Snapshot{LoadedAt: time.Now()}
	for i, records := range results {
		if records == nil {
			continue
		}
		snapshot.Sources = append(snapshot.Sources, paths[i])
		snapshot.Records = append(snapshot.Records, records...)
	}
	return snapshot, nil
}

// Paths resolves feed partition names to files in dir, preferring the plain JSON
// file over its gzipped form. Missing partitions resolve to the plain name so the
// loader reports them.
func Paths(dir string, names []string) []string {
	paths := make([]string, 0, len(names))
	for _, name := range names {
		plain := filepath.Join(dir, fmt.Sprintf(FileTemplate, name))
		if _, err := os.Stat(plain); err != nil {
			if _, gzErr := os.Stat(plain + ".gz"); gzErr == nil {
				plain += ".gz"
			}
		}
		paths = append(paths, plain)
	}
	return paths
}

func parseRecord(raw json.RawMessage) (CVERecord, error) {
	var it item
	if err := json.Unmarshal(raw, &it); err != nil {
		return CVERecord{}, err
	}
	if it.CVE == nil {
		return CVERecord{}, errors.New("missing cve")
	}
	if it.CVE.ID == "" {
		return CVERecord{}, errors.New("missing cve.id")
	}

	record := CVERecord{
		ID:       it.CVE.ID,
		Severity: baseSeverity(it.CVE),
	}
	for _, d := range it.CVE.Descriptions {
		record.Descriptions = append(record.Descriptions, d.Value)
	}

	rawConfigs := it.CVE.Configurations
	if isEmpty(rawConfigs) {
		rawConfigs = it.Configurations
	}
	configs, err := decodeConfigurations(rawConfigs)
	if err != nil {
		return CVERecord{}, fmt.Errorf("configurations: %w", err)
	}
	for _, config := range configs {
		for _, n := range config.Nodes {
			var cn ConfigNode
			for _, m := range append(n.CpeMatch, n.LegacyCpeMatch...) {
				cn.Matches = append(cn.Matches, newCpeMatch(m))
			}
			record.Configurations = append(record.Configurations, cn)
		}
	}
	return record, nil
}

// decodeConfigurations accepts both the list form and the single object form.
func decodeConfigurations(raw json.RawMessage) ([]configuration, error) {
	if isEmpty(raw) {
		return nil, nil
	}
	var list []configuration
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single configuration
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []configuration{single}, nil
}

func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func newCpeMatch(m cpeMatch) CpeMatch {
	criteria := m.Criteria
	if criteria == "" {
		criteria = m.Cpe23URI
	}

	var product string
	if parts := strings.Split(criteria, ":"); len(parts) > cpeProductOffset {
		product = parts[cpeProductOffset]
	}

	return CpeMatch{
		Vulnerable:   m.Vulnerable,
		Product:      product,
		VersionStart: normalizeOptional(m.VersionStartIncluding),
		VersionEnd:   normalizeOptional(m.VersionEndIncluding),
		VersionExact: normalizeOptional(m.Version),
	}
}

func normalizeOptional(raw string) *semver.Version {
	if raw == "" {
		return nil
	}
	return versions.Normalize(raw)
}

// baseSeverity reads the first CVSS v3.1 base severity. Records scored only with
// older CVSS versions are UNKNOWN.
func baseSeverity(cve *cveEntry) Severity {
	if len(cve.Metrics.CvssMetricV31) == 0 {
		return SeverityUnknown
	}
	return ParseSeverity(cve.Metrics.CvssMetricV31[0].CvssData.BaseSeverity)
}
