// Package feed loads NVD CVE 2.0 feed documents into immutable in-memory snapshots.
package feed

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Severity is the upstream CVSS base severity of a record.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityUnknown  Severity = "UNKNOWN"
)

// Severities lists the reportable severities, most severe first.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// ParseSeverity maps an upstream severity string onto the enum. Anything that is
// not one of the four reportable severities is UNKNOWN.
func ParseSeverity(s string) Severity {
	switch sev := Severity(strings.ToUpper(strings.TrimSpace(s))); sev {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return sev
	default:
		return SeverityUnknown
	}
}

// CpeMatch is one affected-range clause of a configuration node.
type CpeMatch struct {
	Vulnerable bool
	// Product is the raw product token of the clause's CPE 2.3 identifier.
	Product string
	// Bounds are nil when absent upstream or when they could not be normalized.
	VersionStart *semver.Version
	VersionEnd   *semver.Version
	VersionExact *semver.Version
}

// ConfigNode is an ordered group of clauses.
type ConfigNode struct {
	Matches []CpeMatch
}

// CVERecord is a single vulnerability entry. Records are never modified after loading.
type CVERecord struct {
	ID             string
	Descriptions   []string
	Configurations []ConfigNode
	Severity       Severity
}

// Summary is the lower-cased concatenation of all descriptions.
func (r *CVERecord) Summary() string {
	return strings.ToLower(strings.Join(r.Descriptions, " "))
}
