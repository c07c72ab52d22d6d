// Package matcher decides whether an installed package is affected by a CVE record.
package matcher

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/Nathene/vulnmatch/pkg/feed"
	"github.com/Nathene/vulnmatch/pkg/inventory"
	"github.com/Nathene/vulnmatch/pkg/naming"
	"github.com/Nathene/vulnmatch/pkg/versions"
)

// Qualifiers in a description that mark an open ended affected range.
var openEndedQualifiers = []string{"and earlier", "before"}

// Verdict is a positive match of one package against one record.
type Verdict struct {
	CVEID       string        `json:"cve_id"`
	Severity    feed.Severity `json:"severity"`
	Description string        `json:"description"`
}

// Matcher is stateless apart from its name normalizer and may be shared by any
// number of goroutines.
type Matcher struct {
	names *naming.Normalizer
}

// New creates a Matcher. A nil normalizer selects naming.Default.
func New(names *naming.Normalizer) *Matcher {
	if names == nil {
		names = naming.Default()
	}
	return &Matcher{names: names}
}

// candidate is a package prepared once for matching against many records.
type candidate struct {
	slug       string
	rawVersion string
	version    *semver.Version
}

func (m *Matcher) prepare(pkg inventory.Package) candidate {
	return candidate{
		slug:       m.names.Normalize(pkg.Name),
		rawVersion: strings.TrimSpace(pkg.Version),
		version:    versions.Normalize(pkg.Version),
	}
}

// Match returns the verdict for pkg against rec, or nil when rec does not affect pkg
// or when its severity is unknown.
func (m *Matcher) Match(pkg inventory.Package, rec *feed.CVERecord) *Verdict {
	return m.match(m.prepare(pkg), rec)
}

// MatchAll matches pkg against every record and returns the verdicts in corpus order.
func (m *Matcher) MatchAll(pkg inventory.Package, records []feed.CVERecord) []Verdict {
	c := m.prepare(pkg)
	if c.slug == "" {
		return nil
	}

	var verdicts []Verdict
	for i := range records {
		if v := m.match(c, &records[i]); v != nil {
			verdicts = append(verdicts, *v)
		}
	}
	return verdicts
}

func (m *Matcher) match(c candidate, rec *feed.CVERecord) *Verdict {
	if rec == nil || c.slug == "" {
		return nil
	}

	summary := rec.Summary()
	if !m.matchConfigurations(c, rec) && !matchDescription(c, summary) {
		return nil
	}

	// Matches without a known severity carry no signal.
	severity := feed.ParseSeverity(string(rec.Severity))
	if severity == feed.SeverityUnknown {
		return nil
	}

	return &Verdict{
		CVEID:       rec.ID,
		Severity:    severity,
		Description: summary,
	}
}

func (m *Matcher) matchConfigurations(c candidate, rec *feed.CVERecord) bool {
	for _, node := range rec.Configurations {
		for _, clause := range node.Matches {
			if !clause.Vulnerable {
				continue
			}
			if !naming.Related(c.slug, m.names.Normalize(clause.Product)) {
				continue
			}
			if inRange(c.version, clause) {
				return true
			}
		}
	}
	return false
}

// inRange evaluates the version bounds of a clause. The exact version and the range
// are independent conditions. A clause without any bound never matches on its own.
func inRange(v *semver.Version, clause feed.CpeMatch) bool {
	if versions.Eq(v, clause.VersionExact) {
		return true
	}
	switch {
	case clause.VersionStart != nil && clause.VersionEnd != nil:
		return versions.Between(v, clause.VersionStart, clause.VersionEnd)
	case clause.VersionStart != nil:
		return versions.Gte(v, clause.VersionStart)
	case clause.VersionEnd != nil:
		return versions.Lte(v, clause.VersionEnd)
	default:
		return false
	}
}

// matchDescription is a coarse heuristic for records without usable configurations.
func matchDescription(c candidate, summary string) bool {
	if summary == "" || !strings.Contains(summary, c.slug) {
		return false
	}
	if c.rawVersion != "" && strings.Contains(summary, c.rawVersion) {
		return true
	}
	for _, q := range openEndedQualifiers {
		if strings.Contains(summary, q) {
			return true
		}
	}
	return false
}
