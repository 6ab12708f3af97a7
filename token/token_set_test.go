package token_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-lifecycle/token"
	"github.com/stretchr/testify/require"
)

func TestTokenSet_FreshAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ts := &token.TokenSet{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(10 * time.Minute)}

	require.True(t, ts.FreshAt(now, 5*time.Minute))
	require.False(t, ts.FreshAt(now.Add(5*time.Minute), 5*time.Minute))
	require.False(t, ts.FreshAt(now.Add(11*time.Minute), 0))

	var missing *token.TokenSet
	require.False(t, missing.FreshAt(now, 0))
	require.Nil(t, missing.Clone())
}

func TestTokenSet_OAuth2(t *testing.T) {
	exp := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tok := (&token.TokenSet{AccessToken: "a", RefreshToken: "r", ExpiresAt: exp}).OAuth2()
	require.Equal(t, "a", tok.AccessToken)
	require.Equal(t, "r", tok.RefreshToken)
	require.Equal(t, "Bearer", tok.TokenType)
	require.Equal(t, exp, tok.Expiry)
}

func TestExpiresAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("explicit lifetime wins", func(t *testing.T) {
		require.Equal(t, now.Add(time.Hour), token.ExpiresAt("opaque", time.Hour, now, 24*time.Hour))
	})

	t.Run("jwt exp claim", func(t *testing.T) {
		exp := now.Add(42 * time.Minute)
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "principal-1",
			"exp": exp.Unix(),
		}).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		require.True(t, exp.Equal(token.ExpiresAt(signed, 0, now, 24*time.Hour)))
	})

	t.Run("opaque token falls back to default", func(t *testing.T) {
		require.Equal(t, now.Add(24*time.Hour), token.ExpiresAt("opaque", 0, now, 24*time.Hour))
	})
}
