package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/jrsteele09/go-auth-lifecycle/principals"
	"github.com/jrsteele09/go-auth-lifecycle/token"
	"github.com/jrsteele09/go-auth-lifecycle/token/refresh"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Status is a display-safe summary of the client's authentication.
type Status struct {
	State     refresh.State `json:"state"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

// Client is the authenticated client instance: it logs in, keeps its tokens fresh
// through a Coordinator and logs out.
type Client struct {
	transport     *HTTPTransport
	coordinator   *refresh.Coordinator
	defaultExpiry time.Duration
	nowTime       func() time.Time
	logger        zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ClientOption {
	return func(c *Client) {
		c.nowTime = nowFunc
	}
}

func WithDefaultExpiry(d time.Duration) ClientOption {
	return func(c *Client) {
		c.defaultExpiry = d
	}
}

func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a Client.
func NewClient(transport *HTTPTransport, coordinator *refresh.Coordinator, options ...ClientOption) (*Client, error) {
	if transport == nil {
		return nil, errors.New("[NewClient] transport is required")
	}
	if coordinator == nil {
		return nil, errors.New("[NewClient] coordinator is required")
	}
	c := &Client{
		transport:     transport,
		coordinator:   coordinator,
		defaultExpiry: refresh.DefaultPolicy().DefaultExpiry,
		nowTime:       time.Now,
		logger:        log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Login authenticates and hands the new TokenSet to the coordinator, which persists it.
func (c *Client) Login(ctx context.Context, email, password string) (*principals.Principal, error) {
	email = strings.TrimSpace(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, fmt.Errorf("[Client.Login] %w", err)
	}

	res, err := c.transport.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	ts := &token.TokenSet{
		AccessToken:  res.Grant.AccessToken,
		RefreshToken: res.Grant.RefreshToken,
		ExpiresAt:    token.ExpiresAt(res.Grant.AccessToken, res.Grant.ExpiresIn, c.nowTime(), c.defaultExpiry),
	}
	if err := c.coordinator.SetTokens(ctx, ts); err != nil {
		return nil, fmt.Errorf("[Client.Login] %w", err)
	}

	if res.Principal != nil {
		c.logger.Info().Str("principal_id", res.Principal.ID).Str("role", string(res.Principal.Role)).Msg("logged in")
	}
	return res.Principal, nil
}

// HTTPClient returns an http.Client that attaches a fresh bearer token to every request.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{
		Timeout: defaultTimeout,
		Transport: &oauth2.Transport{
			Source: c.coordinator,
			Base:   c.transport.httpClient.Transport,
		},
	}
}

// Check asks the backend who the current token belongs to.
func (c *Client) Check(ctx context.Context) (*principals.Principal, error) {
	if _, err := c.coordinator.EnsureFresh(ctx); err != nil {
		return nil, fmt.Errorf("[Client.Check] %w", err)
	}
	return c.transport.Check(ctx, c.HTTPClient())
}

// Logout revokes the refresh token remotely on a best-effort basis and always
// clears local tokens.
func (c *Client) Logout(ctx context.Context) error {
	current, err := c.coordinator.Current(ctx)
	if err != nil {
		c.logger.Err(err).Msg("could not read tokens for remote logout")
	}
	if current != nil && current.RefreshToken != "" {
		if err := c.transport.Logout(ctx, current.RefreshToken); err != nil {
			c.logger.Warn().Err(err).Msg("remote logout failed; clearing local tokens anyway")
		}
	}
	if err := c.coordinator.Clear(ctx); err != nil {
		return fmt.Errorf("[Client.Logout] %w", err)
	}
	c.logger.Info().Msg("logged out")
	return nil
}

// Status reports the current state without refreshing.
func (c *Client) Status(ctx context.Context) (Status, error) {
	current, err := c.coordinator.Current(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("[Client.Status] %w", err)
	}
	s := Status{State: c.coordinator.State()}
	if current != nil {
		exp := current.ExpiresAt
		s.ExpiresAt = &exp
	}
	return s, nil
}

// Coordinator exposes the underlying refresh coordinator.
func (c *Client) Coordinator() *refresh.Coordinator {
	return c.coordinator
}

// validateCredentials rejects input the backend would refuse anyway.
func validateCredentials(email, password string) error {
	if email == "" {
		return errors.New("email is required")
	}
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return errors.New("invalid email format")
	}
	if password == "" {
		return errors.New("password is required")
	}
	return nil
}
