package secrets

import (
	"regexp"
	"sort"
	"strings"
)

// SecretMatch is one detected credential-shaped substring.
type SecretMatch struct {
	Type string
	Start int
	End int
	Original string
	Masked string
}

type secretPattern struct {
	name string
	re *regexp.Regexp
	group int // capture group to mask; 0 means whole match
}

// Sanitizer detects and masks credentials in strings leaving the trust
// boundary. Patterns are grounded on
// nanofolks' SecretSanitizer.PATTERNS table.
type Sanitizer struct {
	patterns []secretPattern
	maskChar byte
	visibleChars int
}

// NewSanitizer builds a Sanitizer with the standard pattern table.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		maskChar: '*',
		visibleChars: 4,
		patterns: []secretPattern{
			{"openrouter", regexp.MustCompile(`sk-or-[a-zA-Z0-9]{48,64}`), 0},
			{"anthropic", regexp.MustCompile(`sk-ant-[a-zA-Z0-9]{48,64}`), 0},
			{"openai", regexp.MustCompile(`sk-[a-zA-Z0-9]{48,64}`), 0},
			{"groq", regexp.MustCompile(`gsk_[a-zA-Z0-9]{52,64}`), 0},
			{"deepseek", regexp.MustCompile(`dsk-[a-zA-Z0-9]{32,64}`), 0},
			{"generic_api_key", regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|key)["']?\s*[:=]\s*["']?([a-zA-Z0-9_-]{32,64})["']?`), 1},
			{"bearer_token", regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-.]{20,}`), 0},
			{"password_assignment", regexp.MustCompile(`(?i)(?:password|passwd|pwd)["']?\s*[:=]\s*["']?([^"'\s]{8,})["']?`), 1},
			{"private_key", regexp.MustCompile(`(?i)-----BEGIN (?:RSA |DSA |EC |OPENSSH )?PRIVATE KEY-----`), 0},
			{"jwt_token", regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`), 0},
			{"github_token", regexp.MustCompile(`gh[pousr]_[a-zA-Z0-9]{36,}`), 0},
			{"db_connection", regexp.MustCompile(`(?i)(mongodb|postgres|mysql)://[^:]+:([^@]+)@`), 2},
		},
	}
}

// DetectSecrets scans text and returns non-overlapping matches, longest
// match winning any overlap (mirrors nanofolks' sort-then-filter algorithm).
func (s *Sanitizer) DetectSecrets(text string) []SecretMatch {
	var matches []SecretMatch
	for _, p := range s.patterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			if p.group > 0 && len(loc) > p.group*2+1 && loc[p.group*2] >= 0 {
				start, end = loc[p.group*2], loc[p.group*2+1]
			}
			original := text[start:end]
			matches = append(matches, SecretMatch{
				Type: p.name,
				Start: start,
				End: end,
				Original: original,
				Masked: s.mask(original),
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return (matches[i].End - matches[i].Start) > (matches[j].End - matches[j].Start)
	})

	var filtered []SecretMatch
	lastEnd := -1
	for _, m := range matches {
		if m.Start >= lastEnd {
			filtered = append(filtered, m)
			lastEnd = m.End
		}
	}
	return filtered
}

func (s *Sanitizer) mask(secret string) string {
	if len(secret) <= s.visibleChars*2 {
		return strings.Repeat(string(s.maskChar), len(secret))
	}
	prefix := secret[:s.visibleChars]
	suffix := secret[len(secret)-s.visibleChars:]
	middle := len(secret) - s.visibleChars*2
	return prefix + strings.Repeat(string(s.maskChar), middle) + suffix
}

// Sanitize replaces every detected secret in text with its masked form.
func (s *Sanitizer) Sanitize(text string) string {
	if text == "" {
		return text
	}
	matches := s.DetectSecrets(text)
	if len(matches) == 0 {
		return text
	}
	result := text
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		result = result[:m.Start] + m.Masked + result[m.End:]
	}
	return result
}

// HasSecrets reports whether text contains anything the sanitizer detects.
func (s *Sanitizer) HasSecrets(text string) bool {
	return len(s.DetectSecrets(text)) > 0
}
