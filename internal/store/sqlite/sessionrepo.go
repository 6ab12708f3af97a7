package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/jrsteele09/go-auth-lifecycle/sessions"
)

var _ sessions.Repo = (*SessionRepo)(nil)

// SessionRepo keeps one row per principal; the primary key enforces the
// single-session invariant at the storage level.
type SessionRepo struct {
	db *DB
}

func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

const sessionColumns = `principal_id, session_id, created_at, last_activity_at, client_address, client_agent`

func (r *SessionRepo) Get(ctx context.Context, principalID string) (*sessions.Session, error) {
	row := r.db.Reader.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE principal_id = ?`, principalID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", principalID, err)
	}
	return s, nil
}

// Swap replaces the principal's session inside one transaction and returns the
// row it replaced.
func (r *SessionRepo) Swap(ctx context.Context, session *sessions.Session) (*sessions.Session, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	previous, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE principal_id = ?`, session.PrincipalID))
	if errors.Is(err, sql.ErrNoRows) {
		previous, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read previous session %s: %w", session.PrincipalID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(principal_id) DO UPDATE SET
			session_id       = excluded.session_id,
			created_at       = excluded.created_at,
			last_activity_at = excluded.last_activity_at,
			client_address   = excluded.client_address,
			client_agent     = excluded.client_agent`,
		session.PrincipalID, session.ID,
		formatTime(session.CreatedAt), formatTime(session.LastActivityAt),
		session.ClientAddress, session.ClientAgent,
	)
	if err != nil {
		return nil, fmt.Errorf("store session %s: %w", session.PrincipalID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return previous, nil
}

func (r *SessionRepo) Delete(ctx context.Context, principalID string) error {
	if _, err := r.db.Writer.ExecContext(ctx, `DELETE FROM sessions WHERE principal_id = ?`, principalID); err != nil {
		return fmt.Errorf("delete session %s: %w", principalID, err)
	}
	return nil
}

func (r *SessionRepo) Touch(ctx context.Context, principalID string, at time.Time) error {
	_, err := r.db.Writer.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = ? WHERE principal_id = ?`, formatTime(at), principalID)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", principalID, err)
	}
	return nil
}

func scanSession(row scanner) (*sessions.Session, error) {
	var (
		s                     sessions.Session
		createdAt, lastActive string
	)
	if err := row.Scan(&s.PrincipalID, &s.ID, &createdAt, &lastActive, &s.ClientAddress, &s.ClientAgent); err != nil {
		return nil, err
	}
	var err error
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if s.LastActivityAt, err = parseTime(lastActive); err != nil {
		return nil, fmt.Errorf("parse last_activity_at: %w", err)
	}
	return &s, nil
}
