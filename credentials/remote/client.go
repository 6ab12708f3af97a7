// Package remote lists credential descriptors from the issuer's admin API.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jrsteele09/go-auth-lifecycle/credentials"
	"github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	listPath       = "/organizations/api_keys"
	apiVersion     = "2023-06-01"
	defaultLimit   = 100
	defaultTimeout = 30 * time.Second
	maxPages       = 50
	maxErrorBody   = 4 << 10
)

type keyModel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	PartialKeyHint string `json:"partial_key_hint"`
	Status         string `json:"status"`
	WorkspaceID    string `json:"workspace_id"`
}

type listResponse struct {
	Data    []keyModel `json:"data"`
	HasMore bool       `json:"has_more"`
	LastID  string     `json:"last_id"`
}

// Client implements credentials.Lister over HTTP.
type Client struct {
	baseURL    string
	adminKey   string
	status     string
	httpClient *http.Client
	maxRetries uint64
	retryBase  time.Duration
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithStatus restricts the listing to one status; empty lists every status.
func WithStatus(s credentials.Status) Option {
	return func(cl *Client) {
		cl.status = string(s)
	}
}

// WithRetry sets how often a failed page request is retried and the first delay.
func WithRetry(maxRetries uint64, base time.Duration) Option {
	return func(cl *Client) {
		cl.maxRetries = maxRetries
		cl.retryBase = base
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

var _ credentials.Lister = (*Client)(nil)

// New creates a Client for the admin API at baseURL, authenticated with adminKey.
func New(baseURL, adminKey string, options ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[remote.New] baseURL is required")
	}
	if adminKey == "" {
		return nil, errors.New("[remote.New] admin key is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminKey:   adminKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxRetries: 3,
		retryBase:  500 * time.Millisecond,
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// List returns every descriptor, following pagination.
func (c *Client) List(ctx context.Context) ([]credentials.Descriptor, error) {
	var (
		out     []credentials.Descriptor
		afterID string
	)
	for page := 0; page < maxPages; page++ {
		resp, err := c.listPage(ctx, afterID)
		if err != nil {
			return nil, fmt.Errorf("[remote.Client.List] page %d: %w", page, err)
		}
		for _, k := range resp.Data {
			out = append(out, credentials.Descriptor{
				ExternalID:  k.ID,
				Name:        k.Name,
				Hint:        k.PartialKeyHint,
				Status:      credentials.Status(k.Status),
				WorkspaceID: k.WorkspaceID,
			})
		}
		if !resp.HasMore || len(resp.Data) == 0 {
			c.logger.Debug().Int("descriptors", len(out)).Msg("credential listing fetched")
			return out, nil
		}
		afterID = resp.LastID
		if afterID == "" {
			afterID = resp.Data[len(resp.Data)-1].ID
		}
	}
	return nil, fmt.Errorf("[remote.Client.List] more than %d pages", maxPages)
}

func (c *Client) listPage(ctx context.Context, afterID string) (listResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(defaultLimit))
	if c.status != "" {
		q.Set("status", c.status)
	}
	if afterID != "" {
		q.Set("after_id", afterID)
	}
	endpoint := c.baseURL + listPath + "?" + q.Encode()

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.retryBase),
		backoff.WithRandomizationFactor(0),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(10*time.Second),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.RetryNotifyWithData(func() (listResponse, error) {
		return c.fetch(ctx, endpoint)
	}, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx), func(err error, next time.Duration) {
		c.logger.Warn().Err(err).Dur("retry_in", next).Msg("credential listing request failed")
	})
}

// fetch returns a permanent error for client errors other than 429.
func (c *Client) fetch(ctx context.Context, endpoint string) (listResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return listResponse{}, backoff.Permanent(errors.Wrapf(err, "new request"))
	}
	req.Header.Set("x-api-key", c.adminKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return listResponse{}, errors.Mark(errors.ErrTransientTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return listResponse{}, errors.Mark(errors.ErrTransientTransport, statusErr)
		}
		return listResponse{}, backoff.Permanent(statusErr)
	}

	var out listResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return listResponse{}, backoff.Permanent(errors.Wrapf(err, "decode listing"))
	}
	return out, nil
}
