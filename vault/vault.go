package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	KeySize = 32 // AES-256
	IVSize  = 16 // 128-bit IV
	TagSize = 16 // 128-bit GCM tag

	fieldSeparator = ":"
)

// Key is a 256-bit AES key supplied by the caller. The vault never stores or logs it.
type Key [KeySize]byte

// Envelope is the output of authenticated encryption. All three fields must be
// intact, and the key must match, for Unseal to succeed.
type Envelope struct {
	IV         []byte
	AuthTag    []byte
	CipherText []byte
}

// String serialises the envelope as "iv:authTag:cipherText", each field lower-case hex.
func (e Envelope) String() string {
	return hex.EncodeToString(e.IV) + fieldSeparator +
		hex.EncodeToString(e.AuthTag) + fieldSeparator +
		hex.EncodeToString(e.CipherText)
}

// ParseEnvelope splits a serialised envelope. A field count other than three is
// ErrMalformedEnvelope; bad field content is reported as ErrAuthenticationFailure
// so that a corrupted field is indistinguishable from a wrong key.
func ParseEnvelope(s string) (Envelope, error) {
	parts := strings.Split(s, fieldSeparator)
	if len(parts) != 3 {
		return Envelope{}, fmt.Errorf("[vault.ParseEnvelope] expected 3 fields, got %d: %w", len(parts), errors.ErrMalformedEnvelope)
	}

	iv, ivErr := hex.DecodeString(parts[0])
	tag, tagErr := hex.DecodeString(parts[1])
	ct, ctErr := hex.DecodeString(parts[2])
	if ivErr != nil || tagErr != nil || ctErr != nil || len(iv) != IVSize || len(tag) != TagSize {
		return Envelope{}, fmt.Errorf("[vault.ParseEnvelope] %w", errors.ErrAuthenticationFailure)
	}
	return Envelope{IV: iv, AuthTag: tag, CipherText: ct}, nil
}

// Vault seals and unseals long-lived secrets with AES-256-GCM.
type Vault struct {
	logger zerolog.Logger
	random io.Reader
}

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets the logger used for operation outcomes.
func WithLogger(l zerolog.Logger) Option {
	return func(v *Vault) {
		v.logger = l
	}
}

// WithRandom overrides the IV source (tests only).
func WithRandom(r io.Reader) Option {
	return func(v *Vault) {
		v.random = r
	}
}

// New creates a Vault.
func New(options ...Option) *Vault {
	v := &Vault{
		logger: log.Logger,
		random: rand.Reader,
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

// Seal encrypts plaintext under key with a fresh random IV.
func (v *Vault) Seal(plaintext string, key Key) (Envelope, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "[Vault.Seal] cipher setup")
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(v.random, iv); err != nil {
		return Envelope{}, errors.Wrapf(err, "[Vault.Seal] rand iv")
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	split := len(sealed) - TagSize
	env := Envelope{
		IV:         iv,
		AuthTag:    sealed[split:],
		CipherText: sealed[:split],
	}

	v.logger.Debug().Int("plaintext_len", len(plaintext)).Int("ciphertext_len", len(env.CipherText)).Msg("vault: sealed")
	return env, nil
}

// SealString is Seal followed by Envelope.String.
func (v *Vault) SealString(plaintext string, key Key) (string, error) {
	env, err := v.Seal(plaintext, key)
	if err != nil {
		return "", err
	}
	return env.String(), nil
}

// Unseal parses and decrypts a serialised envelope.
func (v *Vault) Unseal(envelope string, key Key) (string, error) {
	env, err := ParseEnvelope(envelope)
	if err != nil {
		v.logger.Warn().Int("envelope_len", len(envelope)).Err(err).Msg("vault: unseal rejected")
		return "", err
	}
	return v.Open(env, key)
}

// Open decrypts an already parsed envelope.
func (v *Vault) Open(env Envelope, key Key) (string, error) {
	if len(env.IV) != IVSize || len(env.AuthTag) != TagSize {
		return "", fmt.Errorf("[Vault.Open] %w", errors.ErrAuthenticationFailure)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", errors.Wrapf(err, "[Vault.Open] cipher setup")
	}

	sealed := make([]byte, 0, len(env.CipherText)+TagSize)
	sealed = append(sealed, env.CipherText...)
	sealed = append(sealed, env.AuthTag...)

	plaintext, err := gcm.Open(nil, env.IV, sealed, nil)
	if err != nil {
		v.logger.Warn().Int("ciphertext_len", len(env.CipherText)).Msg("vault: authentication failed")
		return "", fmt.Errorf("[Vault.Open] %w", errors.ErrAuthenticationFailure)
	}

	v.logger.Debug().Int("ciphertext_len", len(env.CipherText)).Msg("vault: unsealed")
	return string(plaintext), nil
}

func newGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, IVSize)
}
