package fakesessionrepo

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-lifecycle/sessions"
)

var _ sessions.Repo = (*FakeSessionRepo)(nil)

type FakeSessionRepo struct {
	sessions map[string]*sessions.Session // principal ID -> session
	lock     sync.RWMutex

	// Fail, when set, is returned by every operation (simulates an unreachable store)
	Fail error
}

func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{
		sessions: make(map[string]*sessions.Session),
	}
}

func (sr *FakeSessionRepo) Get(_ context.Context, principalID string) (*sessions.Session, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()

	if sr.Fail != nil {
		return nil, sr.Fail
	}
	s, ok := sr.sessions[principalID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (sr *FakeSessionRepo) Swap(_ context.Context, session *sessions.Session) (*sessions.Session, error) {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	if sr.Fail != nil {
		return nil, sr.Fail
	}
	previous := sr.sessions[session.PrincipalID]
	cp := *session
	sr.sessions[session.PrincipalID] = &cp
	return previous, nil
}

func (sr *FakeSessionRepo) Delete(_ context.Context, principalID string) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	if sr.Fail != nil {
		return sr.Fail
	}
	delete(sr.sessions, principalID)
	return nil
}

func (sr *FakeSessionRepo) Touch(_ context.Context, principalID string, at time.Time) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	if sr.Fail != nil {
		return sr.Fail
	}
	if s, ok := sr.sessions[principalID]; ok {
		s.LastActivityAt = at
	}
	return nil
}
