package secrets

import (
	"path/filepath"
	"testing"
)

func TestIsSymbolicRefShape(t *testing.T) {
	cases := map[string]bool{
		"{{openai_key}}": true,
		"{{ openai_key }}": false, // no whitespace inside braces
		"openai_key": false,
		"{{openai_key": false,
		"{{1bad}}": false,
	}
	for input, want := range cases {
		if got := IsSymbolicRef(input); got != want {
			t.Errorf("IsSymbolicRef(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestKeyNameExtraction(t *testing.T) {
	if got := KeyName("{{anthropic_key}}"); got != "anthropic_key" {
		t.Fatalf("expected anthropic_key, got %q", got)
	}
	if got := KeyName("not-a-ref"); got != "" {
		t.Fatalf("expected empty string for non-ref, got %q", got)
	}
}

func newTestVault(t *testing.T) *LocalVault {
	t.Helper()
	dir := t.TempDir()
	v, err := NewLocalVault(filepath.Join(dir, "vault.key"), filepath.Join(dir, "vault.store"))
	if err != nil {
		t.Fatalf("NewLocalVault: %v", err)
	}
	return v
}

func TestLocalVaultEncryptDecryptRoundTrip(t *testing.T) {
	v := newTestVault(t)
	if err := v.Set("openai_key", "sk-super-secret-value"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := v.Get("openai_key")
	if !ok {
		t.Fatalf("expected key to be found")
	}
	if got != "sk-super-secret-value" {
		t.Fatalf("expected round-tripped plaintext, got %q", got)
	}
}

func TestLocalVaultPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "vault.key")
	storePath := filepath.Join(dir, "vault.store")

	v1, err := NewLocalVault(keyPath, storePath)
	if err != nil {
		t.Fatalf("NewLocalVault: %v", err)
	}
	if err := v1.Set("anthropic_key", "sk-ant-abc123"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v2, err := NewLocalVault(keyPath, storePath)
	if err != nil {
		t.Fatalf("NewLocalVault (reopen): %v", err)
	}
	got, ok := v2.Get("anthropic_key")
	if !ok || got != "sk-ant-abc123" {
		t.Fatalf("expected secret to survive reopen, got %q ok=%v", got, ok)
	}
}

func TestLocalVaultHasAndList(t *testing.T) {
	v := newTestVault(t)
	if v.Has("missing") {
		t.Fatalf("expected missing key to be absent")
	}
	v.Set("groq_key", "gsk_abc")
	if !v.Has("groq_key") {
		t.Fatalf("expected groq_key to be present after Set")
	}
	list := v.List()
	if len(list) != 1 || list[0] != "groq_key" {
		t.Fatalf("expected List to return [groq_key], got %v", list)
	}
}

func TestKeyVaultGetForExecutionResolvesProviderName(t *testing.T) {
	v := newTestVault(t)
	kv := NewKeyVault(v)
	if err := kv.AddKey("openai_key", "sk-plain"); err != nil {
		t.Fatalf("AddKey: %v", err)
	}

	got, err := kv.GetForExecution("openai")
	if err != nil {
		t.Fatalf("GetForExecution(openai): %v", err)
	}
	if got != "sk-plain" {
		t.Fatalf("expected sk-plain, got %q", got)
	}

	got, err = kv.GetForExecution("{{openai_key}}")
	if err != nil {
		t.Fatalf("GetForExecution(symbolic): %v", err)
	}
	if got != "sk-plain" {
		t.Fatalf("expected sk-plain via symbolic ref, got %q", got)
	}
}

func TestKeyVaultGetForExecutionMissingKeyErrors(t *testing.T) {
	v := newTestVault(t)
	kv := NewKeyVault(v)
	if _, err := kv.GetForExecution("nonexistent"); err == nil {
		t.Fatalf("expected an error for an unresolved key reference")
	}
}

func TestKeyVaultResolveIfSymbolicPassesThroughPlainValues(t *testing.T) {
	v := newTestVault(t)
	kv := NewKeyVault(v)
	got, err := kv.ResolveIfSymbolic("plain-value")
	if err != nil {
		t.Fatalf("ResolveIfSymbolic: %v", err)
	}
	if got != "plain-value" {
		t.Fatalf("expected pass-through of a non-symbolic value, got %q", got)
	}
}
