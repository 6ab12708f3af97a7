package principals

import (
	"context"
	"strings"
)

// RoleType is the role the identity backend assigned to a principal
type RoleType string

const (
	RoleSuperAdmin RoleType = "super_admin"
	RoleAdmin      RoleType = "admin"
	RoleUser       RoleType = "user"
	RoleGuest      RoleType = "guest"
)

// Principal is a human or service identity. The identity backend owns these
// records; this layer only reads them.
type Principal struct {
	ID          string   `json:"id"`              // Unique identifier for the principal
	DisplayName string   `json:"name,omitempty"`  // Human readable name
	Email       string   `json:"email,omitempty"` // Login email (human principals only)
	Role        RoleType `json:"role,omitempty"`  // Role assigned by the identity backend
}

// Repo is the read side of the principal store.
// Get returns errors.ErrPrincipalNotFound when no record exists for id.
type Repo interface {
	Get(ctx context.Context, id string) (*Principal, error)
}

// ParseRole maps the role strings the identity backend is known to send onto a
// RoleType. Unknown values map to RoleGuest.
func ParseRole(s string) RoleType {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(norm)
	switch norm {
	case "superadmin":
		return RoleSuperAdmin
	case "admin", "administrator":
		return RoleAdmin
	case "user":
		return RoleUser
	default:
		return RoleGuest
	}
}
