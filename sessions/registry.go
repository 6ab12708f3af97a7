package sessions

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/jrsteele09/go-auth-lifecycle/internal/metrics"
	"github.com/jrsteele09/go-auth-lifecycle/principals"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const sessionIDLength = 32 // bytes of entropy per session id

// Policy decides what a login does when the principal already has a live session.
type Policy string

const (
	PolicyReplace Policy = "replace" // new login displaces the old session
	PolicyReject  Policy = "reject"  // new login fails with ErrActiveSessionExists unless forced
)

// ForceResult is returned by ForceCreateSession.
type ForceResult struct {
	SessionID string
	Previous  *Session // nil when the principal had no session
}

// Registry enforces at most one valid session per principal.
type Registry struct {
	principals  principals.Repo
	repo        Repo
	locks       *keyedMutex
	idleTimeout time.Duration
	nowTime     func() time.Time
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.nowTime = nowFunc
	}
}

// WithIdleTimeout makes sessions idle for longer than d validate as false.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.idleTimeout = d
	}
}

func WithLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates a session Registry backed by repo.
func NewRegistry(principalRepo principals.Repo, repo Repo, options ...RegistryOption) (*Registry, error) {
	if principalRepo == nil {
		return nil, errors.New("[NewRegistry] principals repo is required")
	}
	if repo == nil {
		return nil, errors.New("[NewRegistry] sessions repo is required")
	}

	r := &Registry{
		principals: principalRepo,
		repo:       repo,
		locks:      newKeyedMutex(),
		nowTime:    time.Now,
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// CreateSession replaces any stored session for the principal and returns the new session id.
func (r *Registry) CreateSession(ctx context.Context, principalID, clientAddress, clientAgent string) (string, error) {
	res, err := r.create(ctx, principalID, clientAddress, clientAgent, "create")
	if err != nil {
		return "", err
	}
	return res.SessionID, nil
}

// ForceCreateSession is CreateSession, but also returns the displaced session so the
// caller can notify its holder.
func (r *Registry) ForceCreateSession(ctx context.Context, principalID, clientAddress, clientAgent string) (ForceResult, error) {
	return r.create(ctx, principalID, clientAddress, clientAgent, "force")
}

// CreateExclusiveSession creates a session only when the principal has no live session,
// otherwise it fails with ErrActiveSessionExists.
func (r *Registry) CreateExclusiveSession(ctx context.Context, principalID, clientAddress, clientAgent string) (string, error) {
	unlock := r.locks.Lock(principalID)
	defer unlock()

	if err := r.ensurePrincipal(ctx, principalID); err != nil {
		return "", err
	}
	existing, err := r.repo.Get(ctx, principalID)
	if err != nil {
		return "", errors.Mark(errors.ErrStorage, fmt.Errorf("[Registry.CreateExclusiveSession] get: %w", err))
	}
	if existing != nil && !existing.IdleExpired(r.nowTime(), r.idleTimeout) {
		return "", fmt.Errorf("[Registry.CreateExclusiveSession] %w", errors.ErrActiveSessionExists)
	}

	res, err := r.store(ctx, principalID, clientAddress, clientAgent)
	if err != nil {
		return "", err
	}
	r.metrics.SessionCreated("exclusive")
	return res.SessionID, nil
}

// Login creates a session according to policy. force overrides PolicyReject, the
// "already logged in elsewhere" confirmation.
func (r *Registry) Login(ctx context.Context, policy Policy, force bool, principalID, clientAddress, clientAgent string) (ForceResult, error) {
	if policy == PolicyReject && !force {
		id, err := r.CreateExclusiveSession(ctx, principalID, clientAddress, clientAgent)
		if err != nil {
			return ForceResult{}, err
		}
		return ForceResult{SessionID: id}, nil
	}
	return r.ForceCreateSession(ctx, principalID, clientAddress, clientAgent)
}

func (r *Registry) create(ctx context.Context, principalID, clientAddress, clientAgent, mode string) (ForceResult, error) {
	unlock := r.locks.Lock(principalID)
	defer unlock()

	if err := r.ensurePrincipal(ctx, principalID); err != nil {
		return ForceResult{}, err
	}
	res, err := r.store(ctx, principalID, clientAddress, clientAgent)
	if err != nil {
		return ForceResult{}, err
	}
	r.metrics.SessionCreated(mode)
	return res, nil
}

// store must be called with the principal's lock held.
func (r *Registry) store(ctx context.Context, principalID, clientAddress, clientAgent string) (ForceResult, error) {
	id, err := newSessionID()
	if err != nil {
		return ForceResult{}, err
	}

	now := r.nowTime().UTC()
	previous, err := r.repo.Swap(ctx, &Session{
		ID:             id,
		PrincipalID:    principalID,
		CreatedAt:      now,
		LastActivityAt: now,
		ClientAddress:  clientAddress,
		ClientAgent:    clientAgent,
	})
	if err != nil {
		return ForceResult{}, errors.Mark(errors.ErrStorage, fmt.Errorf("[Registry.store] swap: %w", err))
	}

	if previous != nil {
		r.metrics.SessionDisplaced()
		r.logger.Info().
			Str("principal_id", principalID).
			Str("previous_client_address", previous.ClientAddress).
			Msg("session displaced by new login")
	}
	return ForceResult{SessionID: id, Previous: previous}, nil
}

// ValidateSession reports whether sessionID is the principal's current session.
// No stored session is (false, nil); an unreachable store is an ErrStorage error.
func (r *Registry) ValidateSession(ctx context.Context, principalID, sessionID string) (bool, error) {
	if err := r.ensurePrincipal(ctx, principalID); err != nil {
		r.metrics.SessionValidated("error")
		return false, err
	}
	s, err := r.repo.Get(ctx, principalID)
	if err != nil {
		r.metrics.SessionValidated("error")
		return false, errors.Mark(errors.ErrStorage, fmt.Errorf("[Registry.ValidateSession] get: %w", err))
	}
	if s == nil || sessionID == "" || s.IdleExpired(r.nowTime(), r.idleTimeout) {
		r.metrics.SessionValidated("invalid")
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(s.ID), []byte(sessionID)) != 1 {
		r.metrics.SessionValidated("invalid")
		return false, nil
	}
	r.metrics.SessionValidated("valid")
	return true, nil
}

// HasActiveSession reports whether the principal has a live session.
func (r *Registry) HasActiveSession(ctx context.Context, principalID string) (bool, error) {
	s, err := r.Session(ctx, principalID)
	if err != nil {
		return false, err
	}
	return s != nil, nil
}

// Session returns the principal's live session, or nil when there is none.
func (r *Registry) Session(ctx context.Context, principalID string) (*Session, error) {
	if err := r.ensurePrincipal(ctx, principalID); err != nil {
		return nil, err
	}
	s, err := r.repo.Get(ctx, principalID)
	if err != nil {
		return nil, errors.Mark(errors.ErrStorage, fmt.Errorf("[Registry.Session] get: %w", err))
	}
	if s == nil || s.IdleExpired(r.nowTime(), r.idleTimeout) {
		return nil, nil
	}
	return s, nil
}

// ClearSession removes the principal's session. Clearing twice is not an error.
func (r *Registry) ClearSession(ctx context.Context, principalID string) error {
	unlock := r.locks.Lock(principalID)
	defer unlock()

	if err := r.ensurePrincipal(ctx, principalID); err != nil {
		return err
	}
	if err := r.repo.Delete(ctx, principalID); err != nil {
		return errors.Mark(errors.ErrStorage, fmt.Errorf("[Registry.ClearSession] delete: %w", err))
	}
	r.logger.Debug().Str("principal_id", principalID).Msg("session cleared")
	return nil
}

// UpdateActivity bumps the session's last activity time.
func (r *Registry) UpdateActivity(ctx context.Context, principalID string) error {
	if err := r.ensurePrincipal(ctx, principalID); err != nil {
		return err
	}
	if err := r.repo.Touch(ctx, principalID, r.nowTime().UTC()); err != nil {
		return errors.Mark(errors.ErrStorage, fmt.Errorf("[Registry.UpdateActivity] touch: %w", err))
	}
	return nil
}

func (r *Registry) ensurePrincipal(ctx context.Context, principalID string) error {
	if _, err := r.principals.Get(ctx, principalID); err != nil {
		if errors.Is(err, errors.ErrPrincipalNotFound) {
			return err
		}
		return errors.Mark(errors.ErrStorage, fmt.Errorf("[Registry] principal lookup: %w", err))
	}
	return nil
}

func newSessionID() (string, error) {
	b := make([]byte, sessionIDLength)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrapf(err, "[newSessionID] rand.Read")
	}
	return hex.EncodeToString(b), nil
}

// keyedMutex serializes work per key and drops idle entries.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
