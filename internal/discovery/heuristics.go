package discovery

import (
	_ "embed"
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed heuristics.yaml
var heuristicsYAML []byte

type heuristics struct {
	StripSuffixes []string `yaml:"strip_suffixes"`
	TLDs          []string `yaml:"tlds"`
}

var (
	defaultHeuristics = mustLoadHeuristics()
	suffixPatterns    = compileSuffixPatterns(defaultHeuristics.StripSuffixes)
	nonAlnum          = regexp.MustCompile(`[^a-z0-9 ]+`)
)

func mustLoadHeuristics() heuristics {
	var h heuristics
	if err := yaml.Unmarshal(heuristicsYAML, &h); err != nil {
		// The file is embedded; a parse failure is a build defect.
		zap.L().Error("discovery: parse embedded heuristics", zap.Error(err))
	}
	return h
}

func compileSuffixPatterns(suffixes []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(suffixes))
	for _, s := range suffixes {
		patterns = append(patterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(s)+`\b`))
	}
	return patterns
}

// foldASCII lowercases s and strips diacritics so that names like
// "Société Générale" compose plain-ASCII domain candidates.
func foldASCII(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// stripCorporateSuffixes removes common legal/corporate suffix words and all
// punctuation, collapsing whitespace.
func stripCorporateSuffixes(name string) string {
	n := foldASCII(name)
	for _, p := range suffixPatterns {
		n = p.ReplaceAllString(n, " ")
	}
	n = nonAlnum.ReplaceAllString(n, " ")
	return strings.Join(strings.Fields(n), " ")
}

// composeCandidateHosts guesses plausible official domains for a company
// name: the compact and dash-joined name across the configured TLD list.
// Order is deterministic: compact before dashed, TLDs in file order.
func composeCandidateHosts(name string, max int) []string {
	base := stripCorporateSuffixes(name)
	parts := strings.Fields(base)
	if len(parts) == 0 {
		return nil
	}

	compact := strings.Join(parts, "")
	dashed := strings.Join(parts, "-")

	var hosts []string
	seen := make(map[string]bool)
	add := func(h string) {
		if !seen[h] && (max <= 0 || len(hosts) < max) {
			seen[h] = true
			hosts = append(hosts, h)
		}
	}

	for _, tld := range defaultHeuristics.TLDs {
		add(compact + "." + tld)
		if len(parts) > 1 {
			add(dashed + "." + tld)
		}
	}
	return hosts
}
