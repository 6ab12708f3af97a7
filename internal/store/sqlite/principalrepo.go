package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/jrsteele09/go-auth-lifecycle/principals"
)

var _ principals.Repo = (*PrincipalRepo)(nil)

// PrincipalRepo caches principals reported by the identity backend.
type PrincipalRepo struct {
	db *DB
}

func NewPrincipalRepo(db *DB) *PrincipalRepo {
	return &PrincipalRepo{db: db}
}

// Get returns errors.ErrPrincipalNotFound when no row exists for id.
func (r *PrincipalRepo) Get(ctx context.Context, id string) (*principals.Principal, error) {
	var p principals.Principal
	var role string
	err := r.db.Reader.QueryRowContext(ctx,
		`SELECT id, display_name, email, role FROM principals WHERE id = ?`, id,
	).Scan(&p.ID, &p.DisplayName, &p.Email, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get principal %s: %w", id, err)
	}
	p.Role = principals.RoleType(role)
	return &p, nil
}

// Upsert records p as reported by the identity backend.
func (r *PrincipalRepo) Upsert(ctx context.Context, p *principals.Principal) error {
	if p == nil || p.ID == "" {
		return errors.New("[PrincipalRepo.Upsert] principal id is required")
	}
	role := p.Role
	if role == "" {
		role = principals.RoleGuest
	}
	_, err := r.db.Writer.ExecContext(ctx, `
		INSERT INTO principals (id, display_name, email, role, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			email        = excluded.email,
			role         = excluded.role,
			updated_at   = excluded.updated_at`,
		p.ID, p.DisplayName, p.Email, string(role), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert principal %s: %w", p.ID, err)
	}
	return nil
}

// Delete removes the principal and, by cascade, its session.
func (r *PrincipalRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Writer.ExecContext(ctx, `DELETE FROM principals WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete principal %s: %w", id, err)
	}
	return nil
}
