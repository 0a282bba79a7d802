package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/hohichh/marketplace-orders/internal/domain"
)

const defaultRequestTimeout = 5 * time.Second

// ErrUnavailable indicates the users service could not serve the request.
var ErrUnavailable = errors.New("users: service unavailable")

// HTTPDoer abstracts the HTTP client for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches user profiles from the users service over HTTP.
type Client struct {
	baseURL string
	doer    HTTPDoer
	timeout time.Duration
}

// ClientOption customises Client construction.
type ClientOption func(*Client)

// WithHTTPDoer overrides the underlying HTTP client.
func WithHTTPDoer(doer HTTPDoer) ClientOption {
	return func(c *Client) {
		if doer != nil {
			c.doer = doer
		}
	}
}

// WithRequestTimeout caps the per-request timeout.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient constructs a users service client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("users: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("users: invalid base url: %w", err)
	}

	client := &Client{
		baseURL: baseURL,
		doer:    &http.Client{},
		timeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// GetUser fetches the profile for userID. The caller's bearer token is
// forwarded when present so the users service sees the same principal.
// A missing user yields (nil, nil).
func (c *Client) GetUser(ctx context.Context, userID, bearerToken string) (*domain.UserProfile, error) {
	if c == nil || c.doer == nil {
		return nil, errors.New("users: client not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("users: user id is required")
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	endpoint := fmt.Sprintf("%s/v1/users/%s", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("users: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := strings.TrimSpace(bearerToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var payload struct {
		ID          string `json:"id"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	profile := &domain.UserProfile{
		ID:          strings.TrimSpace(payload.ID),
		Email:       strings.TrimSpace(payload.Email),
		DisplayName: strings.TrimSpace(payload.DisplayName),
	}
	if profile.ID == "" {
		profile.ID = userID
	}
	return profile, nil
}
