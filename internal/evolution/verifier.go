package evolution

import (
	"crypto/ed25519"
	"sync"
)

// Keyring is a Verifier backed by registered Ed25519 public keys, one per
// provider. A provider with no key never verifies.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewKeyring creates an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]ed25519.PublicKey)}
}

// SetKey installs or replaces a provider's public key.
func (k *Keyring) SetKey(provider string, key ed25519.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[provider] = key
}

// RemoveKey drops a provider's public key.
func (k *Keyring) RemoveKey(provider string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, provider)
}

// Verify checks the signature over payload against the provider's key.
func (k *Keyring) Verify(provider string, payload, signature []byte) bool {
	k.mu.RLock()
	key, ok := k.keys[provider]
	k.mu.RUnlock()
	if !ok || len(key) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(key, payload, signature)
}

var _ Verifier = (*Keyring)(nil)
