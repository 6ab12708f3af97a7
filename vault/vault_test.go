package vault_test

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	apperrors "github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/jrsteele09/go-auth-lifecycle/vault"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) vault.Key {
	t.Helper()
	k, err := vault.GenerateKey()
	require.NoError(t, err)
	return k
}

func TestVault_RoundTrip(t *testing.T) {
	v := vault.New()
	plaintexts := []string{
		"",
		"secret-value",
		"sk-ant-REDACTED",
		strings.Repeat("x", 4096),
		"ユニコード 🔐",
	}

	for i := 0; i < 5; i++ {
		key := newKey(t)
		for _, p := range plaintexts {
			sealed, err := v.SealString(p, key)
			require.NoError(t, err)
			require.Len(t, strings.Split(sealed, ":"), 3)

			got, err := v.Unseal(sealed, key)
			require.NoError(t, err)
			require.Equal(t, p, got)
		}
	}
}

func TestVault_FreshIVPerSeal(t *testing.T) {
	v := vault.New()
	key := newKey(t)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		env, err := v.Seal("same plaintext", key)
		require.NoError(t, err)
		require.Len(t, env.IV, vault.IVSize)
		require.Len(t, env.AuthTag, vault.TagSize)
		iv := hex.EncodeToString(env.IV)
		require.False(t, seen[iv], "iv reused")
		seen[iv] = true
	}
}

func flipBit(b []byte, bit int) []byte {
	out := append([]byte(nil), b...)
	out[bit/8] ^= 1 << (bit % 8)
	return out
}

func TestVault_TamperDetection(t *testing.T) {
	v := vault.New()
	key := newKey(t)
	env, err := v.Seal("secret-value", key)
	require.NoError(t, err)

	t.Run("every ciphertext bit", func(t *testing.T) {
		for bit := 0; bit < len(env.CipherText)*8; bit++ {
			tampered := vault.Envelope{IV: env.IV, AuthTag: env.AuthTag, CipherText: flipBit(env.CipherText, bit)}
			_, err := v.Unseal(tampered.String(), key)
			require.ErrorIs(t, err, apperrors.ErrAuthenticationFailure, "bit %d", bit)
		}
	})

	t.Run("every auth tag bit", func(t *testing.T) {
		for bit := 0; bit < len(env.AuthTag)*8; bit++ {
			tampered := vault.Envelope{IV: env.IV, AuthTag: flipBit(env.AuthTag, bit), CipherText: env.CipherText}
			_, err := v.Unseal(tampered.String(), key)
			require.ErrorIs(t, err, apperrors.ErrAuthenticationFailure, "bit %d", bit)
		}
	})

	t.Run("corrupted iv only", func(t *testing.T) {
		tampered := vault.Envelope{IV: flipBit(env.IV, 3), AuthTag: env.AuthTag, CipherText: env.CipherText}
		_, err := v.Unseal(tampered.String(), key)
		require.ErrorIs(t, err, apperrors.ErrAuthenticationFailure)
		require.False(t, errors.Is(err, apperrors.ErrMalformedEnvelope))
	})

	t.Run("non-hex iv field", func(t *testing.T) {
		parts := strings.Split(env.String(), ":")
		parts[0] = "zz" + parts[0][2:]
		_, err := v.Unseal(strings.Join(parts, ":"), key)
		require.ErrorIs(t, err, apperrors.ErrAuthenticationFailure)
	})
}

func TestVault_WrongKey(t *testing.T) {
	v := vault.New()
	sealed, err := v.SealString("secret-value", newKey(t))
	require.NoError(t, err)

	_, err = v.Unseal(sealed, newKey(t))
	require.ErrorIs(t, err, apperrors.ErrAuthenticationFailure)
}

func TestVault_MalformedEnvelope(t *testing.T) {
	v := vault.New()
	key := newKey(t)

	for _, s := range []string{"", "abcd", "aa:bb", "aa:bb:cc:dd"} {
		_, err := v.Unseal(s, key)
		require.ErrorIs(t, err, apperrors.ErrMalformedEnvelope, "input %q", s)
		require.False(t, errors.Is(err, apperrors.ErrAuthenticationFailure))
	}
}

func TestKeys(t *testing.T) {
	t.Run("hex round trip", func(t *testing.T) {
		k := newKey(t)
		parsed, err := vault.KeyFromHex(k.Hex())
		require.NoError(t, err)
		require.Equal(t, k, parsed)
	})

	t.Run("hex wrong length", func(t *testing.T) {
		_, err := vault.KeyFromHex("abcd")
		require.Error(t, err)
	})

	t.Run("derive is deterministic", func(t *testing.T) {
		salt := []byte("0123456789abcdef")
		a, err := vault.DeriveKey("correct horse", salt)
		require.NoError(t, err)
		b, err := vault.DeriveKey("correct horse", salt)
		require.NoError(t, err)
		require.Equal(t, a, b)

		c, err := vault.DeriveKey("battery staple", salt)
		require.NoError(t, err)
		require.NotEqual(t, a, c)
	})

	t.Run("derive rejects short salt", func(t *testing.T) {
		_, err := vault.DeriveKey("pw", []byte("short"))
		require.Error(t, err)
	})

	t.Run("sealer", func(t *testing.T) {
		s := vault.NewSealer(vault.New(), newKey(t))
		sealed, err := s.Seal("value")
		require.NoError(t, err)
		got, err := s.Unseal(sealed)
		require.NoError(t, err)
		require.Equal(t, "value", got)
	})
}
