package secrets

import "testing"

func TestSanitizerDetectsKnownProviderKeyShapes(t *testing.T) {
	s := NewSanitizer()
	text := "here is my key sk-ant-" + repeat("a", 48)
	matches := s.DetectSecrets(text)
	if len(matches) != 1 {
		t.Fatalf("expected exactly one match, got %d: %+v", len(matches), matches)
	}
	if matches[0].Type != "anthropic" {
		t.Fatalf("expected anthropic match, got %q", matches[0].Type)
	}
}

func TestSanitizerMasksDetectedSecrets(t *testing.T) {
	s := NewSanitizer()
	secret := "sk-ant-" + repeat("b", 48)
	text := "my token is " + secret + " please don't share it"
	out := s.Sanitize(text)
	if out == text {
		t.Fatalf("expected the secret to be masked")
	}
	if containsSubstring(out, secret) {
		t.Fatalf("expected raw secret to be absent from sanitized output")
	}
}

func TestSanitizerNonOverlappingLongestMatchWins(t *testing.T) {
	s := NewSanitizer()
	// A generic_api_key assignment also happens to contain text that could
	// be mistaken for a shorter match; DetectSecrets must not double-count
	// the same span.
	text := `api_key: "abcdefghij0123456789ABCDEFGHIJ0123"`
	matches := s.DetectSecrets(text)
	if len(matches) != 1 {
		t.Fatalf("expected one non-overlapping match, got %d: %+v", len(matches), matches)
	}
}

func TestSanitizerHasSecretsFalseOnPlainText(t *testing.T) {
	s := NewSanitizer()
	if s.HasSecrets("just a normal sentence about the weather") {
		t.Fatalf("expected no secrets detected in plain text")
	}
}

func repeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

func containsSubstring(haystack, needle string) bool {
	if len(needle) == 0 {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
