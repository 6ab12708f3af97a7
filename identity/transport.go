// Package identity talks to the identity backend: login, token refresh, session
// check and logout.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/jrsteele09/go-auth-lifecycle/principals"
	"github.com/jrsteele09/go-auth-lifecycle/token/refresh"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	LoginPath   = "/auth/login"
	RefreshPath = "/auth/refresh-token"
	CheckPath   = "/auth/check"
	LogoutPath  = "/auth/logout"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// envelope is the backend's response wrapper: {"success": true, "data": {...}}.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

type tokenPayload struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresIn    int64      `json:"expiresIn,omitempty"` // seconds
	User         *userModel `json:"user,omitempty"`
}

type userModel struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (u *userModel) principal() *principals.Principal {
	return &principals.Principal{
		ID:          u.ID,
		DisplayName: u.Name,
		Email:       u.Email,
		Role:        principals.ParseRole(u.Role),
	}
}

// LoginResult is what a successful login returns.
type LoginResult struct {
	Grant     refresh.Grant
	Principal *principals.Principal // nil when the backend did not include the user
}

// HTTPTransport is the JSON-over-HTTP client for the identity backend.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// TransportOption configures an HTTPTransport.
type TransportOption func(*HTTPTransport)

func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *HTTPTransport) {
		t.httpClient = c
	}
}

func WithLogger(l zerolog.Logger) TransportOption {
	return func(t *HTTPTransport) {
		t.logger = l
	}
}

var _ refresh.Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a transport for the backend rooted at baseURL.
func NewHTTPTransport(baseURL string, options ...TransportOption) (*HTTPTransport, error) {
	if baseURL == "" {
		return nil, errors.New("[NewHTTPTransport] baseURL is required")
	}
	t := &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(t)
	}
	return t, nil
}

// RefreshEndpoints returns the primary refresh URL followed by fallbacks. A fallback
// given as a bare base URL gets the refresh path appended.
func (t *HTTPTransport) RefreshEndpoints(fallbacks ...string) []string {
	endpoints := []string{t.baseURL + RefreshPath}
	for _, fb := range fallbacks {
		fb = strings.TrimRight(strings.TrimSpace(fb), "/")
		if fb == "" {
			continue
		}
		if !strings.HasSuffix(fb, RefreshPath) {
			fb += RefreshPath
		}
		endpoints = append(endpoints, fb)
	}
	return endpoints
}

// Login exchanges credentials for a token grant.
func (t *HTTPTransport) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var payload tokenPayload
	body := map[string]string{"email": email, "password": password}
	if err := t.do(ctx, t.httpClient, http.MethodPost, t.baseURL+LoginPath, body, &payload); err != nil {
		return LoginResult{}, fmt.Errorf("[HTTPTransport.Login] %w", err)
	}
	if payload.AccessToken == "" {
		return LoginResult{}, errors.Mark(errors.ErrTransientTransport, fmt.Errorf("[HTTPTransport.Login] response has no access token"))
	}

	res := LoginResult{Grant: payload.grant()}
	if payload.User != nil {
		res.Principal = payload.User.principal()
	}
	return res, nil
}

// Refresh implements refresh.Transport.
func (t *HTTPTransport) Refresh(ctx context.Context, endpoint, refreshToken string) (refresh.Grant, error) {
	var payload tokenPayload
	body := map[string]string{"refreshToken": refreshToken}
	if err := t.do(ctx, t.httpClient, http.MethodPost, endpoint, body, &payload); err != nil {
		return refresh.Grant{}, fmt.Errorf("[HTTPTransport.Refresh] %w", err)
	}
	return payload.grant(), nil
}

// Check returns the principal the bearer token belongs to. client must attach the
// bearer token, typically an oauth2.Transport over a refresh.Coordinator.
func (t *HTTPTransport) Check(ctx context.Context, client *http.Client) (*principals.Principal, error) {
	var data struct {
		userModel
		User *userModel `json:"user,omitempty"`
	}
	if err := t.do(ctx, client, http.MethodGet, t.baseURL+CheckPath, nil, &data); err != nil {
		return nil, fmt.Errorf("[HTTPTransport.Check] %w", err)
	}
	if data.User != nil {
		return data.User.principal(), nil
	}
	return data.userModel.principal(), nil
}

// Authenticate resolves a caller-supplied access token to its principal by asking
// the backend. A token the backend refuses is ErrTerminalAuth.
func (t *HTTPTransport) Authenticate(ctx context.Context, accessToken string) (*principals.Principal, error) {
	if accessToken == "" {
		return nil, errors.Mark(errors.ErrTerminalAuth, errors.New("[HTTPTransport.Authenticate] access token is required"))
	}
	client := &http.Client{
		Timeout: t.httpClient.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   t.httpClient.Transport,
		},
	}
	p, err := t.Check(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("[HTTPTransport.Authenticate] %w", err)
	}
	if p.ID == "" {
		return nil, errors.Mark(errors.ErrTerminalAuth, errors.New("[HTTPTransport.Authenticate] backend named no principal"))
	}
	return p, nil
}

// Logout revokes the refresh token on the backend.
func (t *HTTPTransport) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refreshToken": refreshToken}
	if err := t.do(ctx, t.httpClient, http.MethodPost, t.baseURL+LogoutPath, body, nil); err != nil {
		return fmt.Errorf("[HTTPTransport.Logout] %w", err)
	}
	return nil
}

func (p tokenPayload) grant() refresh.Grant {
	return refresh.Grant{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresIn:    time.Duration(p.ExpiresIn) * time.Second,
	}
}

// do sends a JSON request and decodes the envelope's data into target. A 401, or a
// 400 carrying invalid_grant, is ErrTerminalAuth; any other failure is ErrTransientTransport.
func (t *HTTPTransport) do(ctx context.Context, client *http.Client, method, url string, body, target interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "marshal request")
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return errors.Wrapf(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		// oauth2.Transport surfaces token source failures here; keep their kind
		if errors.Is(err, errors.ErrTerminalAuth) || errors.Is(err, errors.ErrNotAuthenticated) {
			return err
		}
		return errors.Mark(errors.ErrTransientTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var env envelope
		_ = json.Unmarshal(raw, &env)
		statusErr := fmt.Errorf("%s %s: status %d %s", method, url, resp.StatusCode, firstNonEmpty(env.Error, env.Message))

		t.logger.Debug().Str("url", url).Int("status", resp.StatusCode).Msg("identity backend rejected request")
		if resp.StatusCode == http.StatusUnauthorized ||
			(resp.StatusCode == http.StatusBadRequest && strings.Contains(env.Error, "invalid_grant")) {
			return errors.Mark(errors.ErrTerminalAuth, statusErr)
		}
		return errors.Mark(errors.ErrTransientTransport, statusErr)
	}

	if target == nil {
		return nil
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errors.Mark(errors.ErrTransientTransport, errors.Wrapf(err, "decode response"))
	}
	if !env.Success {
		return errors.Mark(errors.ErrTransientTransport, fmt.Errorf("%s %s: unsuccessful response %s", method, url, firstNonEmpty(env.Error, env.Message)))
	}
	if len(env.Data) == 0 {
		return errors.Mark(errors.ErrTransientTransport, fmt.Errorf("%s %s: empty data", method, url))
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return errors.Mark(errors.ErrTransientTransport, errors.Wrapf(err, "decode data"))
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
