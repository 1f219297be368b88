package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// Manager performs the two-way conversion that keeps secrets out of model
// context: user-entered secrets become symbolic refs before an LLM ever
// sees them, and refs are turned back into concrete secrets only inside a
// tool's single execution scope.
type Manager struct {
	vault *KeyVault
	sanitizer *Sanitizer

	mu sync.Mutex
	knownBySecret map[string]string // secret(hash) -> ref name, shared by every session
}

// NewManager builds a SecretManager bound to a KeyVault and Sanitizer.
func NewManager(vault *KeyVault, sanitizer *Sanitizer) *Manager {
	return &Manager{
		vault: vault,
		sanitizer: sanitizer,
		knownBySecret: make(map[string]string),
	}
}

// ToSymbolic scans text for credential-shaped substrings, stores each one in
// the KeyVault under a freshly minted symbolic name (stable for the same
// secret within this process), and replaces the substring with that
// reference. sessionKey is not used: the same secret gets the same reference
// in every session.
func (m *Manager) ToSymbolic(text, sessionKey string) (string, error) {
	if text == "" {
		return text, nil
	}
	matches := m.sanitizer.DetectSecrets(text)
	if len(matches) == 0 {
		return text, nil
	}

	result := text
	for i := len(matches) - 1; i >= 0; i-- {
		match := matches[i]
		ref, err := m.refFor(match.Original, match.Type)
		if err != nil {
			return "", err
		}
		result = result[:match.Start] + ref + result[match.End:]
	}
	return result, nil
}

// refFor returns the symbolic ref for a raw secret, minting and storing a
// new one on first sight. Known provider-shaped secrets (sk-ant-..., etc.)
// get the canonical provider key name; anything else gets a short
// content-derived name so repeats of the same literal collapse to one ref.
func (m *Manager) refFor(secret, kind string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	digest := sha256.Sum256([]byte(secret))
	hashKey := hex.EncodeToString(digest[:8])
	if ref, ok := m.knownBySecret[hashKey]; ok {
		return ref, nil
	}

	keyName, ok := ProviderKeyMap[kind]
	if !ok {
		keyName = fmt.Sprintf("%s_key_%s", sanitizeKind(kind), hashKey[:8])
	} else if m.vault.HasKey(keyName) {
		// Provider slot already taken by a different secret: mint a
		// disambiguated name rather than overwrite it.
		keyName = fmt.Sprintf("%s_key_%s", kind, hashKey[:8])
	}

	if err := m.vault.AddKey(keyName, secret); err != nil {
		return "", fmt.Errorf("secrets: store new symbolic key %s: %w", keyName, err)
	}
	ref := "{{" + keyName + "}}"
	m.knownBySecret[hashKey] = ref
	return ref, nil
}

func sanitizeKind(kind string) string {
	out := make([]byte, 0, len(kind))
	for _, c := range kind {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' {
			out = append(out, byte(c))
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

// FromSymbolic resolves a single symbolic reference back to its concrete
// value; used only inside a tool's execute() scope, never for provider-bound
// message text.
func (m *Manager) FromSymbolic(ref string) (string, error) {
	return m.vault.GetForExecution(ref)
}

// SanitizeForTransit applies the Sanitizer as a defense-in-depth pass after
// ToSymbolic, catching anything the conversion missed.
func (m *Manager) SanitizeForTransit(text string) string {
	return m.sanitizer.Sanitize(text)
}
