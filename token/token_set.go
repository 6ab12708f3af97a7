package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// TokenSet is the bearer credential of one authenticated client instance.
// Only the refresh coordinator mutates it; everyone else gets a copy.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Clone returns a copy that is safe to hand to another goroutine.
func (ts *TokenSet) Clone() *TokenSet {
	if ts == nil {
		return nil
	}
	cp := *ts
	return &cp
}

// FreshAt reports whether the access token is still usable at now with skew to spare.
func (ts *TokenSet) FreshAt(now time.Time, skew time.Duration) bool {
	return ts != nil && now.Before(ts.ExpiresAt.Add(-skew))
}

// OAuth2 converts the set to an oauth2.Token so it can back an http.Client.
func (ts *TokenSet) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  ts.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: ts.RefreshToken,
		Expiry:       ts.ExpiresAt,
	}
}

// ExpiresAt works out when an access token expires. An explicit lifetime from the
// identity backend wins; otherwise the JWT exp claim is used when the token is a JWT;
// otherwise fallback is applied from now.
func ExpiresAt(accessToken string, expiresIn time.Duration, now time.Time, fallback time.Duration) time.Time {
	if expiresIn > 0 {
		return now.Add(expiresIn)
	}
	if exp, ok := jwtExpiry(accessToken); ok {
		return exp
	}
	return now.Add(fallback)
}

// jwtExpiry reads the exp claim without verifying the signature; the token is only
// inspected for scheduling, never trusted for authorization.
func jwtExpiry(accessToken string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
