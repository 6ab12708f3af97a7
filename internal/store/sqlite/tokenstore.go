package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/jrsteele09/go-auth-lifecycle/token"
)

// Sealer encrypts token sets at rest. *vault.Sealer implements it.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Unseal(envelope string) (string, error)
}

var _ token.Store = (*TokenStore)(nil)

// TokenStore persists each instance's TokenSet as a sealed JSON document.
type TokenStore struct {
	db     *DB
	sealer Sealer
}

func NewTokenStore(db *DB, sealer Sealer) (*TokenStore, error) {
	if sealer == nil {
		return nil, errors.New("[NewTokenStore] sealer is required")
	}
	return &TokenStore{db: db, sealer: sealer}, nil
}

func (s *TokenStore) Load(ctx context.Context, instanceID string) (*token.TokenSet, error) {
	var sealed string
	err := s.db.Reader.QueryRowContext(ctx,
		`SELECT sealed_value FROM token_sets WHERE instance_id = ?`, instanceID,
	).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load token set %s: %w", instanceID, err)
	}

	plain, err := s.sealer.Unseal(sealed)
	if err != nil {
		return nil, fmt.Errorf("unseal token set %s: %w", instanceID, err)
	}
	var ts token.TokenSet
	if err := json.Unmarshal([]byte(plain), &ts); err != nil {
		return nil, fmt.Errorf("decode token set %s: %w", instanceID, err)
	}
	return &ts, nil
}

func (s *TokenStore) Save(ctx context.Context, instanceID string, ts *token.TokenSet) error {
	if ts == nil {
		return errors.New("[TokenStore.Save] token set is required")
	}
	plain, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("encode token set %s: %w", instanceID, err)
	}
	sealed, err := s.sealer.Seal(string(plain))
	if err != nil {
		return fmt.Errorf("seal token set %s: %w", instanceID, err)
	}

	_, err = s.db.Writer.ExecContext(ctx, `
		INSERT INTO token_sets (instance_id, sealed_value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			sealed_value = excluded.sealed_value,
			expires_at   = excluded.expires_at,
			updated_at   = excluded.updated_at`,
		instanceID, sealed, formatTime(ts.ExpiresAt), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save token set %s: %w", instanceID, err)
	}
	return nil
}

func (s *TokenStore) Clear(ctx context.Context, instanceID string) error {
	if _, err := s.db.Writer.ExecContext(ctx, `DELETE FROM token_sets WHERE instance_id = ?`, instanceID); err != nil {
		return fmt.Errorf("clear token set %s: %w", instanceID, err)
	}
	return nil
}
