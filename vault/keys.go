package vault

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for passphrase-derived keys.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	minSaltLen   = 16
)

// KeyFromHex parses a 64 character hex string into a Key.
func KeyFromHex(s string) (Key, error) {
	var k Key
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return k, fmt.Errorf("[vault.KeyFromHex] decode: %w", err)
	}
	if len(raw) != KeySize {
		return k, fmt.Errorf("[vault.KeyFromHex] key must be %d bytes, got %d", KeySize, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// DeriveKey stretches a passphrase into a Key with argon2id.
func DeriveKey(passphrase string, salt []byte) (Key, error) {
	var k Key
	if passphrase == "" {
		return k, fmt.Errorf("[vault.DeriveKey] passphrase is required")
	}
	if len(salt) < minSaltLen {
		return k, fmt.Errorf("[vault.DeriveKey] salt must be at least %d bytes", minSaltLen)
	}
	copy(k[:], argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, KeySize))
	return k, nil
}

// GenerateKey returns a random Key.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return k, fmt.Errorf("[vault.GenerateKey] rand.Read: %w", err)
	}
	return k, nil
}

// Hex encodes the key; only for handing a generated key to the operator once.
func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}

// Sealer binds a Vault to one key so stores can seal values without holding the key.
type Sealer struct {
	vault *Vault
	key   Key
}

// NewSealer creates a Sealer for key.
func NewSealer(v *Vault, key Key) *Sealer {
	return &Sealer{vault: v, key: key}
}

// Seal returns the serialised envelope for plaintext.
func (s *Sealer) Seal(plaintext string) (string, error) {
	return s.vault.SealString(plaintext, s.key)
}

// Unseal returns the plaintext of a serialised envelope.
func (s *Sealer) Unseal(envelope string) (string, error) {
	return s.vault.Unseal(envelope, s.key)
}
