package tokenfakerepo

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-lifecycle/token"
)

var _ token.Store = (*FakeTokenStore)(nil)

type FakeTokenStore struct {
	tokens map[string]*token.TokenSet // instance ID -> token set
	lock   sync.RWMutex

	// SaveErr, when set, is returned by Save
	SaveErr error
	saves   int
}

func NewFakeTokenStore() *FakeTokenStore {
	return &FakeTokenStore{
		tokens: make(map[string]*token.TokenSet),
	}
}

func (ts *FakeTokenStore) Load(_ context.Context, instanceID string) (*token.TokenSet, error) {
	ts.lock.RLock()
	defer ts.lock.RUnlock()

	return ts.tokens[instanceID].Clone(), nil
}

func (ts *FakeTokenStore) Save(_ context.Context, instanceID string, set *token.TokenSet) error {
	ts.lock.Lock()
	defer ts.lock.Unlock()

	if ts.SaveErr != nil {
		return ts.SaveErr
	}
	ts.saves++
	ts.tokens[instanceID] = set.Clone()
	return nil
}

func (ts *FakeTokenStore) Clear(_ context.Context, instanceID string) error {
	ts.lock.Lock()
	defer ts.lock.Unlock()

	delete(ts.tokens, instanceID)
	return nil
}

// Saves returns how many successful Save calls were made.
func (ts *FakeTokenStore) Saves() int {
	ts.lock.RLock()
	defer ts.lock.RUnlock()

	return ts.saves
}
