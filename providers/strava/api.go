package strava

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kinnect/stravalink/providers"
)

// Compile-time check that Client implements the providers.APIClient interface.
var _ providers.APIClient = (*Client)(nil)

// DefaultBaseURL is the Strava v3 API base URL.
const DefaultBaseURL = "https://www.strava.com/api/v3"

// Client is a thin authenticated caller for the Strava v3 API. It attaches a
// bearer authorization header and maps a 401 to providers.ErrUnauthorized; it
// never retries or refreshes.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	requestTimeout time.Duration
}

// ClientConfig holds Strava API client configuration.
type ClientConfig struct {
	// BaseURL optionally overrides the API base URL (used in tests).
	BaseURL string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// RequestTimeout is the timeout for API calls (default: 10s).
	RequestTimeout time.Duration
}

// NewClient creates a new Strava API client.
func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = &ClientConfig{}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = 10 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: requestTimeout,
		}
	}

	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		requestTimeout: requestTimeout,
	}
}

// Call performs a single authenticated request against the Strava API and
// returns the raw response body.
func (c *Client) Call(ctx context.Context, method, path, accessToken string, query url.Values, body io.Reader) ([]byte, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("strava api %s %s: %w", method, path, providers.ErrUpstreamTimeout)
		}
		return nil, fmt.Errorf("strava api %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("strava api %s %s: %w", method, path, providers.ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("strava api %s %s failed with status %d", method, path, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

// Athlete fetches the authenticated athlete's profile.
func (c *Client) Athlete(ctx context.Context, accessToken string) ([]byte, error) {
	return c.Call(ctx, http.MethodGet, "/athlete", accessToken, nil, nil)
}

// Activities fetches the authenticated athlete's activities with pagination
// passed through to the API. Non-positive values are omitted.
func (c *Client) Activities(ctx context.Context, accessToken string, perPage, page int) ([]byte, error) {
	query := url.Values{}
	if perPage > 0 {
		query.Set("per_page", strconv.Itoa(perPage))
	}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	return c.Call(ctx, http.MethodGet, "/athlete/activities", accessToken, query, nil)
}
