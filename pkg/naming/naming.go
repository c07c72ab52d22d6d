// Package naming canonicalizes software and vendor names into matching slugs so that
// locally reported package names can be compared with product tokens from CPE identifiers.
package naming

import (
	"regexp"
	"strings"
)

// DefaultNoiseTokens are vendor tokens that carry no product identity.
var DefaultNoiseTokens = []string{"microsoft", "google", "mozilla", "oracle", "inc", "corp"}

// DefaultAliases maps display names that never line up with upstream product tokens.
var DefaultAliases = map[string]string{
	"Admin in English with Switch": "admin-in-english-with-switch",
	"Wordpress":                    "wordpress",
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]`)

// Normalizer turns names into slugs. It is immutable once built and safe for
// concurrent use.
type Normalizer struct {
	aliases map[string]string
	noise   *regexp.Regexp
}

// New builds a Normalizer from an alias table and a noise token denylist.
// Alias keys are matched case-insensitively.
func New(aliases map[string]string, noiseTokens []string) *Normalizer {
	n := &Normalizer{aliases: make(map[string]string, len(aliases))}
	for name, slug := range aliases {
		n.aliases[strings.ToLower(strings.TrimSpace(name))] = slug
	}

	quoted := make([]string, 0, len(noiseTokens))
	for _, token := range noiseTokens {
		token = nonAlphanumeric.ReplaceAllString(strings.ToLower(token), "")
		if token == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(token))
	}
	if len(quoted) > 0 {
		n.noise = regexp.MustCompile(strings.Join(quoted, "|"))
	}
	return n
}

// Default returns a Normalizer using DefaultAliases and DefaultNoiseTokens.
func Default() *Normalizer {
	return New(DefaultAliases, DefaultNoiseTokens)
}

// Normalize returns the matching slug for name. Noise tokens are removed wherever
// they occur, including inside longer words, so the result is lossy by nature.
func (n *Normalizer) Normalize(name string) string {
	if alias, ok := n.aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		name = alias
	}

	slug := nonAlphanumeric.ReplaceAllString(strings.ToLower(name), "")
	if n.noise != nil {
		slug = n.noise.ReplaceAllString(slug, "")
	}
	return slug
}

// Related reports whether either slug contains the other. Empty slugs are never related.
func Related(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
