// Package versions coerces loosely formatted version strings into semantic versions
// and compares them without ever failing on malformed input.
package versions

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// coercePattern finds the first run of up to three dot separated numeric components.
// Prerelease and build metadata that follow are ignored.
var coercePattern = regexp.MustCompile(`(?:^|[^\d])(\d{1,16})(?:\.(\d{1,16}))?(?:\.(\d{1,16}))?(?:$|[^\d])`)

// Normalize returns the closest major.minor.patch form of raw, or nil when raw
// holds no numeric version at all.
//
// Examples:
//   - "v1.2.3"        -> 1.2.3
//   - "2.1"           -> 2.1.0
//   - "1.4.0-rc1+abc" -> 1.4.0
//   - "release 7"     -> 7.0.0
//   - "latest"        -> nil
func Normalize(raw string) *semver.Version {
	m := coercePattern.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}

	major, minor, patch := m[1], m[2], m[3]
	if minor == "" {
		minor = "0"
	}
	if patch == "" {
		patch = "0"
	}

	v, err := semver.StrictNewVersion(fmt.Sprintf("%s.%s.%s", trimZeros(major), trimZeros(minor), trimZeros(patch)))
	if err != nil {
		return nil
	}
	return v
}

// trimZeros drops leading zeros so "05" coerces to 5 instead of being rejected.
func trimZeros(s string) string {
	for len(s) > 1 && s[0] == '0' {
		s = s[1:]
	}
	return s
}

// Eq reports a == b. A nil operand makes the comparison false.
func Eq(a, b *semver.Version) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Equal(b)
}

// Gte reports a >= b. A nil operand makes the comparison false.
func Gte(a, b *semver.Version) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Compare(b) >= 0
}

// Lte reports a <= b. A nil operand makes the comparison false.
func Lte(a, b *semver.Version) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Compare(b) <= 0
}

// Between reports start <= v <= end.
func Between(v, start, end *semver.Version) bool {
	return Gte(v, start) && Lte(v, end)
}
