package fakeprincipalrepo

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/jrsteele09/go-auth-lifecycle/principals"
)

var _ principals.Repo = (*FakePrincipalRepo)(nil)

type FakePrincipalRepo struct {
	principals map[string]*principals.Principal
	lock       sync.RWMutex
}

func NewFakePrincipalRepo() *FakePrincipalRepo {
	return &FakePrincipalRepo{
		principals: make(map[string]*principals.Principal),
	}
}

// Upsert seeds a principal; the identity backend owns creation in production.
func (pr *FakePrincipalRepo) Upsert(p *principals.Principal) {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	cp := *p
	pr.principals[p.ID] = &cp
}

// Delete simulates the principal being removed upstream.
func (pr *FakePrincipalRepo) Delete(id string) {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	delete(pr.principals, id)
}

func (pr *FakePrincipalRepo) Get(_ context.Context, id string) (*principals.Principal, error) {
	pr.lock.RLock()
	defer pr.lock.RUnlock()

	p, ok := pr.principals[id]
	if !ok {
		return nil, errors.ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}
