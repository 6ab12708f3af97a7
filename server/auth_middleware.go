package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/jrsteele09/go-auth-lifecycle/principals"
	"github.com/rs/zerolog"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyPrincipal stores the authenticated principal
	ContextKeyPrincipal ContextKey = "principal"
)

// Authenticator resolves a bearer access token to the principal it was issued to.
// *identity.HTTPTransport implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*principals.Principal, error)
}

// PrincipalStore records principals the identity backend has vouched for.
type PrincipalStore interface {
	Upsert(ctx context.Context, p *principals.Principal) error
}

// PrincipalFromContext returns the principal RequireAuth attached to ctx.
func PrincipalFromContext(ctx context.Context) (*principals.Principal, bool) {
	p, ok := ctx.Value(ContextKeyPrincipal).(*principals.Principal)
	return p, ok && p != nil
}

// RequireAuth is middleware that validates a Bearer access token with the identity
// backend. The principal it belongs to is injected into the request context.
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeUnauthorized(w, "Invalid Authorization header format")
				return
			}

			accessToken := strings.TrimSpace(parts[1])
			if accessToken == "" {
				writeUnauthorized(w, "Empty token")
				return
			}

			p, err := s.authenticator.Authenticate(r.Context(), accessToken)
			if err != nil {
				if errors.Is(err, errors.ErrTransientTransport) {
					zerolog.Ctx(r.Context()).Warn().Err(err).Msg("identity backend unavailable")
					writeJSONError(w, "identity_unavailable", "identity backend unavailable", http.StatusBadGateway)
					return
				}
				zerolog.Ctx(r.Context()).Info().Err(err).Msg("bearer token rejected")
				writeUnauthorized(w, "Invalid token")
				return
			}

			logger := zerolog.Ctx(r.Context()).With().Str("principal_id", p.ID).Logger()
			ctx := context.WithValue(logger.WithContext(r.Context()), ContextKeyPrincipal, p)
			next(w, r.WithContext(ctx))
		}
	}
}

// RequireSelfOrAdmin is middleware that only lets a principal act on its own
// {principal} path segment. Admins may act on anyone.
// Should be chained after RequireAuth to ensure the principal is present
func (s *Server) RequireSelfOrAdmin() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeUnauthorized(w, "Not authenticated")
				return
			}
			if p.ID != r.PathValue("principal") && !isAdmin(p) {
				writeJSONError(w, "forbidden", "Not permitted for this principal", http.StatusForbidden)
				return
			}
			next(w, r)
		}
	}
}

// RequireAdmin is middleware that validates the admin or super-admin role.
// Should be chained after RequireAuth to ensure the principal is present
func (s *Server) RequireAdmin() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeUnauthorized(w, "Not authenticated")
				return
			}
			if !isAdmin(p) {
				writeJSONError(w, "forbidden", "Admin access required", http.StatusForbidden)
				return
			}
			next(w, r)
		}
	}
}

func isAdmin(p *principals.Principal) bool {
	return p.Role == principals.RoleAdmin || p.Role == principals.RoleSuperAdmin
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="lifecycle"`)
	writeJSONError(w, "unauthorized", description, http.StatusUnauthorized)
}
