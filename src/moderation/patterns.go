package moderation

import (
	"fmt"
	"regexp"
	"strings"
)

// substitutions maps each letter to the character class commonly used to
// obfuscate it. The pattern builder inserts optional separators between
// letters so "h-a.t_e" style spacing does not slip past the filter.
var substitutions = map[rune]string{
	'a': "aA@4àáâä",
	'b': "bB8ß",
	'c': "cC¢(",
	'e': "eE3èéêë",
	'g': "gG9",
	'i': "iI1!|ìíî",
	'l': "lL1|",
	'o': "oO0òóôö",
	's': "sS5$z",
	't': "tT7+",
	'u': "uUùúûü",
	'y': "yY",
}

const separatorClass = `[\s\.\-_\*'"]{0,2}`

// DefaultBannedTerms is the stock high-severity list. Deployments extend it
// via the banned_terms setting; every term is compiled once at startup.
var DefaultBannedTerms = []string{
	"kill yourself",
	"kys",
	"heil hitler",
	"white power",
	"school shooting",
	"gas the",
	"lynch",
}

// injectionPatterns detect prompt-injection phrasing: instruction override
// attempts, fake system markers and encoded payloads.
var injectionPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"instruction_override", regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?)`)},
	{"system_marker", regexp.MustCompile(`(?i)(\[system\]|<\|?system\|?>|^system\s*:|\bsystem\s+message\s*:)`)},
	{"role_hijack", regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|in)\b.{0,40}\b(mode|jailbreak|dan)\b`)},
	{"encoded_payload", regexp.MustCompile(`[A-Za-z0-9+/]{48,}={0,2}`)},
}

// Match is a pattern layer hit.
type Match struct {
	Rule       string
	Kind       string // banned_term or injection
	Confidence float64
}

// PatternFilter is the first moderation layer. It is pure local computation,
// so a hit here blocks before any paid provider call happens.
type PatternFilter struct {
	banned []*regexp.Regexp
	rules  []string
}

// NewPatternFilter compiles the banned-term list into obfuscation-tolerant
// expressions. Compilation happens once; Evaluate only runs the compiled set.
func NewPatternFilter(terms []string) (*PatternFilter, error) {
	pf := &PatternFilter{}
	for _, term := range terms {
		re, err := compileTerm(term)
		if err != nil {
			return nil, fmt.Errorf("moderation: compile banned term %q: %w", term, err)
		}
		pf.banned = append(pf.banned, re)
		pf.rules = append(pf.rules, term)
	}
	return pf, nil
}

// compileTerm builds the obfuscation-tolerant expression for one term.
// Word boundaries keep short terms from matching inside ordinary words
// ("kys" must not fire on "skyscraper").
func compileTerm(term string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`(?i)\b`)
	first := true
	for _, r := range strings.ToLower(term) {
		if r == ' ' {
			b.WriteString(`[\s\.\-_\*]{0,3}`)
			first = true
			continue
		}
		if !first {
			b.WriteString(separatorClass)
		}
		if class, ok := substitutions[r]; ok {
			b.WriteString("[" + regexp.QuoteMeta(class) + "]")
		} else {
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
		first = false
	}
	b.WriteString(`\b`)
	return regexp.Compile(b.String())
}

// Evaluate runs every compiled rule against the prompt and returns the
// strongest match, or nil when the prompt is clean.
func (pf *PatternFilter) Evaluate(prompt string) *Match {
	for i, re := range pf.banned {
		if re.MatchString(prompt) {
			return &Match{Rule: pf.rules[i], Kind: "banned_term", Confidence: 1.0}
		}
	}
	for _, p := range injectionPatterns {
		if p.re.MatchString(prompt) {
			conf := 0.9
			if p.name == "encoded_payload" {
				// Long alphanumeric runs also occur in harmless prompts.
				conf = 0.6
			}
			return &Match{Rule: p.name, Kind: "injection", Confidence: conf}
		}
	}
	return nil
}
