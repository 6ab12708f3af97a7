package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jrsteele09/go-auth-lifecycle/credentials"
	"github.com/jrsteele09/go-auth-lifecycle/internal/errors"
)

var _ credentials.Repo = (*CredentialRepo)(nil)

// CredentialRepo is the durable credential mirror. Sealed values are stored as
// vault envelopes and never decrypted here.
type CredentialRepo struct {
	db *DB
}

func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

const credentialColumns = `external_id, name, hint, sealed_value, status, linked_workspace_id, last_used_at, last_synced_at`

func (r *CredentialRepo) Get(ctx context.Context, externalID string) (*credentials.Record, error) {
	rec, err := scanRecord(r.db.Reader.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credential_records WHERE external_id = ?`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", externalID, err)
	}
	return rec, nil
}

// Put inserts or replaces rec, reporting whether the row is new.
func (r *CredentialRepo) Put(ctx context.Context, rec *credentials.Record) (bool, error) {
	return r.write(ctx, rec, nil)
}

// Upsert reads the stored row and writes merge's result inside one transaction.
// The writer pool has a single connection, so upserts are serialised.
func (r *CredentialRepo) Upsert(ctx context.Context, rec *credentials.Record, merge credentials.MergeFunc) (bool, error) {
	if merge == nil {
		return false, errors.New("[CredentialRepo.Upsert] merge is required")
	}
	return r.write(ctx, rec, merge)
}

func (r *CredentialRepo) write(ctx context.Context, rec *credentials.Record, merge credentials.MergeFunc) (bool, error) {
	if rec == nil || rec.ExternalID == "" {
		return false, errors.New("[CredentialRepo.write] external id is required")
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credential_records WHERE external_id = ?`, rec.ExternalID))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("read credential %s: %w", rec.ExternalID, err)
	}

	if merge != nil {
		rec = merge(existing, rec)
	}

	status := rec.Status
	if status == "" {
		status = credentials.StatusActive
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO credential_records (`+credentialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			name                = excluded.name,
			hint                = excluded.hint,
			sealed_value        = excluded.sealed_value,
			status              = excluded.status,
			linked_workspace_id = excluded.linked_workspace_id,
			last_used_at        = excluded.last_used_at,
			last_synced_at      = excluded.last_synced_at`,
		rec.ExternalID, rec.Name, rec.Hint, rec.SealedValue, string(status), rec.LinkedWorkspaceID,
		formatTimePtr(rec.LastUsedAt), formatTimePtr(rec.LastSyncedAt),
	)
	if err != nil {
		return false, fmt.Errorf("store credential %s: %w", rec.ExternalID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return existing == nil, nil
}

// List returns every record ordered by external id.
func (r *CredentialRepo) List(ctx context.Context) ([]*credentials.Record, error) {
	rows, err := r.db.Reader.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credential_records ORDER BY external_id`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []*credentials.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return out, nil
}

func scanRecord(row scanner) (*credentials.Record, error) {
	var (
		rec              credentials.Record
		status           string
		lastUsed, synced sql.NullString
	)
	if err := row.Scan(&rec.ExternalID, &rec.Name, &rec.Hint, &rec.SealedValue, &status,
		&rec.LinkedWorkspaceID, &lastUsed, &synced); err != nil {
		return nil, err
	}
	rec.Status = credentials.Status(status)

	var err error
	if rec.LastUsedAt, err = parseNullTime(lastUsed); err != nil {
		return nil, fmt.Errorf("parse last_used_at: %w", err)
	}
	if rec.LastSyncedAt, err = parseNullTime(synced); err != nil {
		return nil, fmt.Errorf("parse last_synced_at: %w", err)
	}
	return &rec, nil
}
