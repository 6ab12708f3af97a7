package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/jrsteele09/go-auth-lifecycle/internal/metrics"
	"github.com/jrsteele09/go-auth-lifecycle/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Policy holds the timing knobs of a Coordinator.
type Policy struct {
	SkewWindow    time.Duration // refresh this long before the access token expires
	MinInterval   time.Duration // minimum gap between the starts of two refresh attempts
	MaxRetries    int           // retries after the first attempt; each attempt tries every endpoint
	BackoffBase   time.Duration // delay before the first retry, doubled each time
	BackoffCap    time.Duration // upper bound on a single retry delay
	DefaultExpiry time.Duration // lifetime assumed when the backend gives none
}

// DefaultPolicy returns the recommended timing.
func DefaultPolicy() Policy {
	return Policy{
		SkewWindow:    5 * time.Minute,
		MinInterval:   10 * time.Second,
		MaxRetries:    3,
		BackoffBase:   500 * time.Millisecond,
		BackoffCap:    10 * time.Second,
		DefaultExpiry: 24 * time.Hour,
	}
}

// Coordinator owns the TokenSet of one client instance and renews it. Concurrent
// callers that need a refresh share a single in-flight call.
type Coordinator struct {
	instanceID string
	store      token.Store
	transport  Transport
	endpoints  []string
	policy     Policy
	nowTime    func() time.Time
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	flight singleflight.Group
	events *broadcaster

	mu          sync.Mutex // guards the fields below
	current     *token.TokenSet
	loaded      bool
	state       State
	lastAttempt time.Time
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.nowTime = nowFunc
	}
}

func WithPolicy(p Policy) CoordinatorOption {
	return func(c *Coordinator) {
		c.policy = p
	}
}

func WithLogger(l zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator creates a Coordinator for instanceID. endpoints is the ordered list of
// refresh endpoints: the primary first, then fallbacks.
func NewCoordinator(instanceID string, store token.Store, transport Transport, endpoints []string, options ...CoordinatorOption) (*Coordinator, error) {
	if instanceID == "" {
		return nil, errors.New("[NewCoordinator] instanceID is required")
	}
	if store == nil {
		return nil, errors.New("[NewCoordinator] token store is required")
	}
	if transport == nil {
		return nil, errors.New("[NewCoordinator] transport is required")
	}
	if len(endpoints) == 0 {
		return nil, errors.New("[NewCoordinator] at least one refresh endpoint is required")
	}

	c := &Coordinator{
		instanceID: instanceID,
		store:      store,
		transport:  transport,
		endpoints:  append([]string(nil), endpoints...),
		policy:     DefaultPolicy(),
		nowTime:    time.Now,
		logger:     log.Logger,
		events:     newBroadcaster(),
		state:      StateSignedOut,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel of state changes and a function that ends the subscription.
// Delivery is at least once for the latest state; a slow reader may miss intermediate ones.
func (c *Coordinator) Subscribe(buffer int) (<-chan SessionState, func()) {
	return c.events.subscribe(buffer)
}

// Current returns a snapshot of the stored TokenSet without refreshing it, or nil.
func (c *Coordinator) Current(ctx context.Context) (*token.TokenSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(ctx); err != nil {
		return nil, err
	}
	return c.current.Clone(), nil
}

// SetTokens installs the TokenSet from a fresh login. It is persisted first.
func (c *Coordinator) SetTokens(ctx context.Context, ts *token.TokenSet) error {
	if ts == nil || ts.AccessToken == "" {
		return errors.New("[Coordinator.SetTokens] access token is required")
	}
	if err := c.store.Save(ctx, c.instanceID, ts); err != nil {
		return errors.Mark(errors.ErrStorage, fmt.Errorf("[Coordinator.SetTokens] save: %w", err))
	}

	c.mu.Lock()
	c.current = ts.Clone()
	c.loaded = true
	c.state = StateFresh
	c.mu.Unlock()

	c.publish(StateFresh, ts.ExpiresAt)
	return nil
}

// Clear forgets the TokenSet locally and in the store (sign out).
func (c *Coordinator) Clear(ctx context.Context) error {
	if err := c.store.Clear(ctx, c.instanceID); err != nil {
		return errors.Mark(errors.ErrStorage, fmt.Errorf("[Coordinator.Clear] clear: %w", err))
	}

	c.mu.Lock()
	c.current = nil
	c.loaded = true
	c.state = StateSignedOut
	c.mu.Unlock()

	c.publish(StateSignedOut, time.Time{})
	return nil
}

// EnsureFresh returns a TokenSet that is valid beyond the skew window, refreshing it
// when needed. It fails with ErrNotAuthenticated when there is nothing to refresh and
// with ErrTerminalAuth once the backend has rejected the refresh token.
func (c *Coordinator) EnsureFresh(ctx context.Context) (*token.TokenSet, error) {
	c.mu.Lock()
	if err := c.loadLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	current, state := c.current.Clone(), c.state
	c.mu.Unlock()

	if current == nil {
		if state == StateExpiredUnrecoverable {
			return nil, fmt.Errorf("[Coordinator.EnsureFresh] %w", errors.ErrTerminalAuth)
		}
		return nil, fmt.Errorf("[Coordinator.EnsureFresh] %w", errors.ErrNotAuthenticated)
	}
	if current.FreshAt(c.nowTime(), c.policy.SkewWindow) {
		return current, nil
	}

	// The owner runs detached from any single caller so one caller giving up does
	// not fail the others; each caller still waits on its own context.
	ch := c.flight.DoChan(c.instanceID, func() (interface{}, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*token.TokenSet).Clone(), nil
	}
}

// Token implements oauth2.TokenSource.
func (c *Coordinator) Token() (*oauth2.Token, error) {
	ts, err := c.EnsureFresh(context.Background())
	if err != nil {
		return nil, err
	}
	return ts.OAuth2(), nil
}

var _ oauth2.TokenSource = (*Coordinator)(nil)

// refresh runs once per flight.
func (c *Coordinator) refresh(ctx context.Context) (*token.TokenSet, error) {
	now := c.nowTime()

	c.mu.Lock()
	current := c.current.Clone()
	switch {
	case current == nil:
		c.mu.Unlock()
		return nil, fmt.Errorf("[Coordinator.refresh] %w", errors.ErrNotAuthenticated)
	case current.FreshAt(now, c.policy.SkewWindow):
		// Another flight finished between the caller's check and this one starting
		c.mu.Unlock()
		return current, nil
	case !c.lastAttempt.IsZero() && now.Sub(c.lastAttempt) < c.policy.MinInterval:
		c.mu.Unlock()
		c.metrics.Refresh("throttled")
		c.logger.Debug().Str("instance_id", c.instanceID).Msg("refresh throttled; returning cached token")
		return current, nil
	}
	c.lastAttempt = now
	c.state = StateRefreshing
	c.mu.Unlock()
	c.publish(StateRefreshing, time.Time{})

	start := time.Now()
	grant, err := c.callWithRetry(ctx, current.RefreshToken)
	c.metrics.ObserveRefresh(time.Since(start).Seconds())

	if err != nil {
		return c.fail(ctx, current, err)
	}

	next := &token.TokenSet{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    token.ExpiresAt(grant.AccessToken, grant.ExpiresIn, c.nowTime(), c.policy.DefaultExpiry),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}

	if err := c.store.Save(ctx, c.instanceID, next); err != nil {
		c.metrics.Refresh("storage")
		c.setState(current, StateFresh)
		c.logger.Err(err).Str("instance_id", c.instanceID).Msg("refreshed token could not be persisted")
		return nil, errors.Mark(errors.ErrStorage, fmt.Errorf("[Coordinator.refresh] save: %w", err))
	}

	c.mu.Lock()
	c.current = next.Clone()
	c.state = StateFresh
	c.mu.Unlock()

	c.metrics.Refresh("success")
	c.publish(StateFresh, next.ExpiresAt)
	c.logger.Debug().Str("instance_id", c.instanceID).Time("expires_at", next.ExpiresAt).Msg("token refreshed")
	return next, nil
}

// fail settles the state after a refresh that did not produce a grant.
func (c *Coordinator) fail(ctx context.Context, current *token.TokenSet, err error) (*token.TokenSet, error) {
	if errors.Is(err, errors.ErrTerminalAuth) {
		c.metrics.Refresh("terminal")
		if clearErr := c.store.Clear(ctx, c.instanceID); clearErr != nil {
			c.logger.Err(clearErr).Str("instance_id", c.instanceID).Msg("failed to clear rejected tokens from store")
		}
		c.setState(nil, StateExpiredUnrecoverable)
		c.logger.Warn().Str("instance_id", c.instanceID).Msg("refresh token rejected; re-authentication required")
		return nil, fmt.Errorf("[Coordinator.refresh] %w", err)
	}

	c.metrics.Refresh("transient")
	c.logger.Err(err).Str("instance_id", c.instanceID).Int("max_retries", c.policy.MaxRetries).Msg("refresh retries exhausted")

	// The access token may still be inside the skew window and usable.
	if c.nowTime().Before(current.ExpiresAt) {
		c.setState(current, StateRefreshDegraded)
		return current, nil
	}
	c.setState(current, StateExpiredUnrecoverable)
	if !errors.Is(err, errors.ErrTransientTransport) {
		err = errors.Mark(errors.ErrTransientTransport, err)
	}
	return nil, fmt.Errorf("[Coordinator.refresh] %w", err)
}

// callWithRetry walks the endpoint list on each attempt; only a full pass without
// success counts as a failed attempt.
func (c *Coordinator) callWithRetry(ctx context.Context, refreshToken string) (Grant, error) {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.policy.BackoffBase,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.policy.BackoffCap,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	maxRetries := c.policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	attempt := 0
	return backoff.RetryNotifyWithData(func() (Grant, error) {
		attempt++
		var lastErr error
		for _, endpoint := range c.endpoints {
			grant, err := c.transport.Refresh(ctx, endpoint, refreshToken)
			if err == nil {
				if grant.AccessToken == "" {
					lastErr = errors.Mark(errors.ErrTransientTransport, fmt.Errorf("%s: empty access token", endpoint))
					continue
				}
				return grant, nil
			}
			if errors.Is(err, errors.ErrTerminalAuth) {
				return Grant{}, backoff.Permanent(err)
			}
			c.metrics.RefreshEndpointFailed(endpoint)
			c.logger.Debug().Err(err).Str("endpoint", endpoint).Int("attempt", attempt).Msg("refresh endpoint failed")
			lastErr = err
		}
		return Grant{}, lastErr
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx), func(err error, next time.Duration) {
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", next).Msg("refresh attempt failed")
	})
}

func (c *Coordinator) setState(current *token.TokenSet, s State) {
	c.mu.Lock()
	c.current = current.Clone()
	c.state = s
	c.mu.Unlock()

	var exp time.Time
	if (s == StateFresh || s == StateRefreshDegraded) && current != nil {
		exp = current.ExpiresAt
	}
	c.publish(s, exp)
}

// loadLocked reads the persisted TokenSet on first use. c.mu must be held.
func (c *Coordinator) loadLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	ts, err := c.store.Load(ctx, c.instanceID)
	if err != nil {
		return errors.Mark(errors.ErrStorage, fmt.Errorf("[Coordinator] load: %w", err))
	}
	c.current = ts
	c.loaded = true
	if ts != nil {
		c.state = StateFresh
	}
	return nil
}

func (c *Coordinator) publish(s State, expiresAt time.Time) {
	c.events.publish(SessionState{
		InstanceID: c.instanceID,
		State:      s,
		ExpiresAt:  expiresAt,
		At:         c.nowTime(),
	})
}
