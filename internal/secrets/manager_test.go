package secrets

import (
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	v, err := NewLocalVault(filepath.Join(dir, "vault.key"), filepath.Join(dir, "vault.store"))
	if err != nil {
		t.Fatalf("NewLocalVault: %v", err)
	}
	return NewManager(NewKeyVault(v), NewSanitizer())
}

func TestManagerToSymbolicReplacesDetectedSecret(t *testing.T) {
	m := newTestManager(t)
	secret := "sk-ant-" + repeat("c", 48)
	text := "use this key: " + secret

	symbolic, err := m.ToSymbolic(text, "room-1")
	if err != nil {
		t.Fatalf("ToSymbolic: %v", err)
	}
	if containsSubstring(symbolic, secret) {
		t.Fatalf("expected raw secret to be replaced, got %q", symbolic)
	}
	if !IsSymbolicRefAnywhere(symbolic) {
		t.Fatalf("expected a symbolic ref in output, got %q", symbolic)
	}
}

func TestManagerToSymbolicIsStableForRepeatedSecret(t *testing.T) {
	m := newTestManager(t)
	secret := "sk-ant-" + repeat("d", 48)

	first, err := m.ToSymbolic("key one: "+secret, "room-1")
	if err != nil {
		t.Fatalf("ToSymbolic (first): %v", err)
	}
	second, err := m.ToSymbolic("key two: "+secret, "room-1")
	if err != nil {
		t.Fatalf("ToSymbolic (second): %v", err)
	}

	ref1 := extractRef(first)
	ref2 := extractRef(second)
	if ref1 == "" || ref1 != ref2 {
		t.Fatalf("expected the same secret to mint the same ref both times, got %q vs %q", ref1, ref2)
	}
}

func TestManagerFromSymbolicRoundTrips(t *testing.T) {
	m := newTestManager(t)
	secret := "sk-ant-" + repeat("e", 48)

	symbolic, err := m.ToSymbolic("key: "+secret, "room-1")
	if err != nil {
		t.Fatalf("ToSymbolic: %v", err)
	}
	ref := extractRef(symbolic)
	if ref == "" {
		t.Fatalf("expected a symbolic ref in %q", symbolic)
	}

	resolved, err := m.FromSymbolic(ref)
	if err != nil {
		t.Fatalf("FromSymbolic: %v", err)
	}
	if resolved != secret {
		t.Fatalf("expected resolved secret to match original, got %q", resolved)
	}
}

func TestManagerToSymbolicNoOpOnPlainText(t *testing.T) {
	m := newTestManager(t)
	text := "just a normal message with no secrets in it"
	out, err := m.ToSymbolic(text, "room-1")
	if err != nil {
		t.Fatalf("ToSymbolic: %v", err)
	}
	if out != text {
		t.Fatalf("expected plain text to pass through unchanged, got %q", out)
	}
}

// IsSymbolicRefAnywhere reports whether text contains a {{name}} substring
// anywhere, unlike IsSymbolicRef which requires the whole string to be one.
func IsSymbolicRefAnywhere(text string) bool {
	return extractRef(text) != ""
}

func extractRef(text string) string {
	start := -1
	for i := 0; i+1 < len(text); i++ {
		if text[i] == '{' && text[i+1] == '{' {
			start = i
			break
		}
	}
	if start == -1 {
		return ""
	}
	end := -1
	for i := start + 2; i+1 < len(text); i++ {
		if text[i] == '}' && text[i+1] == '}' {
			end = i + 2
			break
		}
	}
	if end == -1 {
		return ""
	}
	return text[start:end]
}
