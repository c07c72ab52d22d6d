// Package ingest turns one inventory submission into the write-set the store persists:
// the host's replacement set of vulnerable packages and a change record per package.
package ingest

import (
	"runtime"

	"github.com/Nathene/vulnmatch/pkg/feed"
	"github.com/Nathene/vulnmatch/pkg/inventory"
	"github.com/Nathene/vulnmatch/pkg/matcher"
	"github.com/sourcegraph/conc/iter"
)

// ChangeStatus classifies a package version change.
type ChangeStatus string

const (
	StatusUpdated ChangeStatus = "updated"
	// StatusRollback is recorded whenever the new version equals the previous one,
	// which includes packages seen for the first time.
	StatusRollback ChangeStatus = "rollback"
)

// VulnerablePackage pairs a submitted package with one verdict against it.
type VulnerablePackage struct {
	inventory.Package
	matcher.Verdict
}

// PackageChange is the version movement of one package relative to the prior state.
type PackageChange struct {
	Software   string       `json:"software"`
	OldVersion string       `json:"old_version"`
	NewVersion string       `json:"new_version"`
	Status     ChangeStatus `json:"status"`
}

// Result is the complete write-set of one submission.
type Result struct {
	Host string
	// Vulnerable replaces every vulnerable package previously stored for Host.
	Vulnerable []VulnerablePackage
	Changes    []PackageChange
}

// Pipeline cross-matches packages against a corpus. It has no side effects.
type Pipeline struct {
	matcher *matcher.Matcher
	workers int
	// chunk is the number of records one unit of work matches a package against.
	chunk int
}

const defaultChunk = 512

// New creates a Pipeline fanning matching out over at most workers goroutines.
// workers <= 0 selects GOMAXPROCS.
func New(m *matcher.Matcher, workers int) *Pipeline {
	if m == nil {
		m = matcher.New(nil)
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pipeline{matcher: m, workers: workers, chunk: defaultChunk}
}

// Ingest matches every package against every record and classifies each package
// against prior, the host's previously stored name to version map.
func (p *Pipeline) Ingest(host string, prior map[string]string, packages []inventory.Package, corpus []feed.CVERecord) Result {
	verdicts := p.matchAll(packages, corpus)

	result := Result{Host: host}

	type key struct{ name, cveID string }
	seen := make(map[key]struct{})
	for i, pkg := range packages {
		for _, v := range verdicts[i] {
			k := key{pkg.Name, v.CVEID}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			result.Vulnerable = append(result.Vulnerable, VulnerablePackage{Package: pkg, Verdict: v})
		}
	}

	changed := make(map[string]struct{}, len(packages))
	for _, pkg := range packages {
		if _, ok := changed[pkg.Name]; ok {
			continue
		}
		changed[pkg.Name] = struct{}{}
		result.Changes = append(result.Changes, Classify(pkg, prior))
	}
	return result
}

// span is one package matched against one contiguous slice of the corpus.
type span struct {
	pkg        int
	start, end int
}

// matchAll fans the package x record product out in record chunks, so a single
// package against a large corpus still uses every worker. Verdicts for each
// package come back in corpus order.
func (p *Pipeline) matchAll(packages []inventory.Package, corpus []feed.CVERecord) [][]matcher.Verdict {
	var spans []span
	for i := range packages {
		for start := 0; start < len(corpus); start += p.chunk {
			spans = append(spans, span{pkg: i, start: start, end: min(start+p.chunk, len(corpus))})
		}
	}

	mapper := iter.Mapper[span, []matcher.Verdict]{MaxGoroutines: p.workers}
	found := mapper.Map(spans, func(s *span) []matcher.Verdict {
		return p.matcher.MatchAll(packages[s.pkg], corpus[s.start:s.end])
	})

	verdicts := make([][]matcher.Verdict, len(packages))
	for i, s := range spans {
		verdicts[s.pkg] = append(verdicts[s.pkg], found[i]...)
	}
	return verdicts
}

// Classify computes the change of pkg against prior. A package missing from prior
// is treated as moving from its own version, and so is a rollback.
func Classify(pkg inventory.Package, prior map[string]string) PackageChange {
	old, ok := prior[pkg.Name]
	if !ok {
		old = pkg.Version
	}

	status := StatusUpdated
	if old == pkg.Version {
		status = StatusRollback
	}
	return PackageChange{
		Software:   pkg.Name,
		OldVersion: old,
		NewVersion: pkg.Version,
		Status:     status,
	}
}

// Counts tallies the vulnerable entries per severity.
func (r *Result) Counts() map[feed.Severity]int {
	counts := make(map[feed.Severity]int, len(feed.Severities))
	for _, sev := range feed.Severities {
		counts[sev] = 0
	}
	for _, v := range r.Vulnerable {
		counts[v.Severity]++
	}
	return counts
}
