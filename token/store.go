package token

import "context"

// Store persists the TokenSet of each client instance.
type Store interface {
	// Load returns the stored set, or (nil, nil) when the instance has none
	Load(ctx context.Context, instanceID string) (*TokenSet, error)
	Save(ctx context.Context, instanceID string, ts *TokenSet) error
	// Clear is idempotent
	Clear(ctx context.Context, instanceID string) error
}
