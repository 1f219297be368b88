// Package secrets implements the gateway's secret pipeline: symbolic
// references, a KeyVault backed by an encrypted local file store (there is
// no OS keyring backend), two-way conversion between user secrets and
// symbolic refs, and a symbolic-only audit log.
package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// symbolicRefPattern matches the full string "{{snake_case_name}}" — exactly
// one enclosing pair of double braces, no whitespace inside.
var symbolicRefPattern = regexp.MustCompile(`^\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}$`)

// KeyringMarker is the special value reserved for an API key field that is
// to be loaded from a secret store at boot. No code in this module reads or
// replaces it: config.Load keeps it as an ordinary string.
const KeyringMarker = "__KEYRING__"

// IsSymbolicRef reports whether value has the shape {{name}}.
func IsSymbolicRef(value string) bool {
	if value == "" {
		return false
	}
	return symbolicRefPattern.MatchString(strings.TrimSpace(value))
}

// KeyName extracts the bare name from a symbolic reference, or "" if value
// is not one.
func KeyName(value string) string {
	m := symbolicRefPattern.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return ""
	}
	return m[1]
}

// ProviderKeyMap gives the canonical key name for each known provider label,
// grounded on nanofolks' PROVIDER_KEY_MAP.
var ProviderKeyMap = map[string]string{
	"openrouter": "openrouter_key",
	"anthropic": "anthropic_key",
	"openai": "openai_key",
	"deepseek": "deepseek_key",
	"groq": "groq_key",
	"brave": "brave_key",
	"zhipu": "zhipu_key",
	"dashscope": "dashscope_key",
	"gemini": "gemini_key",
	"moonshot": "moonshot_key",
	"minimax": "minimax_key",
	"aihubmix": "aihubmix_key",
}

// Backend is the concrete secret store a KeyVault resolves against.
// LocalVault below is the only implementation; there is no OS keyring
// backend.
type Backend interface {
	Get(keyName string) (string, bool)
	Set(keyName, value string) error
	Has(keyName string) bool
	List() []string
}

// LocalVault is a chacha20poly1305-encrypted on-disk Backend, grounded on
// neoz-picoclaw's pkg/secrets.SecretStore.
type LocalVault struct {
	mu sync.RWMutex
	key [32]byte
	path string
	values map[string]string // keyName -> "enc:<hex>"
}

const encPrefix = "enc:"

// NewLocalVault loads (or creates) an encryption key at keyPath and the
// associated encrypted value store at storePath.
func NewLocalVault(keyPath, storePath string) (*LocalVault, error) {
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("secrets: create vault directory: %w", err)
	}

	v := &LocalVault{path: storePath, values: make(map[string]string)}

	data, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		decoded, derr := hex.DecodeString(strings.TrimSpace(string(data)))
		if derr != nil || len(decoded) != 32 {
			return nil, errors.New("secrets: invalid vault key file (expected 64 hex characters)")
		}
		copy(v.key[:], decoded)
	case os.IsNotExist(err):
		if _, rerr := rand.Read(v.key[:]); rerr != nil {
			return nil, fmt.Errorf("secrets: generate vault key: %w", rerr)
		}
		if werr := os.WriteFile(keyPath, []byte(hex.EncodeToString(v.key[:])), 0o600); werr != nil {
			return nil, fmt.Errorf("secrets: write vault key: %w", werr)
		}
	default:
		return nil, fmt.Errorf("secrets: read vault key: %w", err)
	}

	v.loadStore()
	return v, nil
}

func (v *LocalVault) loadStore() {
	raw, err := os.ReadFile(v.path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			v.values[parts[0]] = parts[1]
		}
	}
}

func (v *LocalVault) persist() error {
	var b strings.Builder
	for k, val := range v.values {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(val)
		b.WriteByte('\n')
	}
	tmp, err := os.CreateTemp(filepath.Dir(v.path), "vault-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	tmp.Close()
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, v.path)
}

func (v *LocalVault) encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(v.key[:])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ciphertext := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + hex.EncodeToString(ciphertext), nil
}

func (v *LocalVault) decrypt(stored string) (string, error) {
	if !strings.HasPrefix(stored, encPrefix) {
		return stored, nil
	}
	raw, err := hex.DecodeString(stored[len(encPrefix):])
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(v.key[:])
	if err != nil {
		return "", err
	}
	nonceSize := aead.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("secrets: ciphertext too short")
	}
	plain, err := aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (v *LocalVault) Get(keyName string) (string, bool) {
	v.mu.RLock()
	stored, ok := v.values[keyName]
	v.mu.RUnlock()
	if !ok {
		return "", false
	}
	plain, err := v.decrypt(stored)
	if err != nil {
		return "", false
	}
	return plain, true
}

func (v *LocalVault) Set(keyName, value string) error {
	enc, err := v.encrypt(value)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.values[keyName] = enc
	err = v.persist()
	v.mu.Unlock()
	return err
}

func (v *LocalVault) Has(keyName string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.values[keyName]
	return ok
}

func (v *LocalVault) List() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.values))
	for k := range v.values {
		out = append(out, k)
	}
	return out
}

// KeyVault maps symbolic references to concrete secrets, resolving only at
// execution time. It is a process-wide singleton
// passed to the AgentLoop by reference, never pulled from a global inside
// algorithms.
type KeyVault struct {
	backend Backend
}

// NewKeyVault wraps a Backend (typically a LocalVault) as a KeyVault.
func NewKeyVault(backend Backend) *KeyVault {
	return &KeyVault{backend: backend}
}

// IsSymbolicRef delegates to the package-level check.
func (kv *KeyVault) IsSymbolicRef(value string) bool { return IsSymbolicRef(value) }

// GetForExecution resolves a symbolic reference (or a bare provider name) to
// its concrete secret. The returned string must be used immediately and
// discarded; KeyVault never caches it beyond this call.
func (kv *KeyVault) GetForExecution(keyRef string) (string, error) {
	keyRef = strings.TrimSpace(keyRef)
	if keyRef == "" {
		return "", errors.New("secrets: empty key reference")
	}

	keyName := KeyName(keyRef)
	if keyName == "" {
		if mapped, ok := ProviderKeyMap[keyRef]; ok {
			keyName = mapped
		} else {
			keyName = keyRef + "_key"
		}
	}

	if v, ok := kv.backend.Get(keyName); ok {
		return v, nil
	}
	if v, ok := kv.backend.Get(keyRef); ok {
		return v, nil
	}
	return "", fmt.Errorf("secrets: key not found for reference %q", keyRef)
}

// ResolveIfSymbolic resolves value only if it looks like a symbolic ref,
// otherwise returns it unchanged — convenience for tool argument handling.
func (kv *KeyVault) ResolveIfSymbolic(value string) (string, error) {
	if kv.IsSymbolicRef(value) {
		return kv.GetForExecution(value)
	}
	return value, nil
}

// AddKey stores a concrete secret under keyName.
func (kv *KeyVault) AddKey(keyName, apiKey string) error {
	return kv.backend.Set(keyName, apiKey)
}

// HasKey reports whether a secret is stored for the given reference or name.
func (kv *KeyVault) HasKey(keyRef string) bool {
	keyName := KeyName(keyRef)
	if keyName == "" {
		keyName = ProviderKeyMap[keyRef]
		if keyName == "" {
			keyName = keyRef
		}
	}
	return kv.backend.Has(keyName) || kv.backend.Has(keyRef)
}

// PublicView returns the symbolic refs for every provider key currently
// stored — safe to show an LLM or a config dump.
func (kv *KeyVault) PublicView() map[string]string {
	view := make(map[string]string)
	for provider, keyName := range ProviderKeyMap {
		if kv.backend.Has(keyName) || kv.backend.Has(provider) {
			view[keyName] = "{{" + keyName + "}}"
		}
	}
	return view
}

// Resolver adapts KeyVault to providers.KeyResolver without making this
// package depend on the providers package.
func (kv *KeyVault) Resolver() func(string) (string, error) {
	return kv.GetForExecution
}
