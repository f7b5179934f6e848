package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/kinnect/stravalink/providers"
)

// Compile-time check that Provider implements the providers.Provider interface.
var _ providers.Provider = (*Provider)(nil)

// providerName is the name returned by Provider.Name().
const providerName = "strava"

// Endpoint is Strava's OAuth 2.0 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://www.strava.com/oauth/authorize",
	TokenURL: "https://www.strava.com/oauth/token",
}

// DefaultScope is the permission set requested when none is configured.
// Strava expects a single comma-separated scope parameter.
const DefaultScope = "read,activity:read_all"

// Provider implements the providers.Provider interface for Strava OAuth.
type Provider struct {
	*oauth2.Config
	httpClient     *http.Client
	requestTimeout time.Duration
}

// Config holds Strava OAuth configuration.
type Config struct {
	// ClientID is the Strava application client ID.
	ClientID string

	// ClientSecret is the Strava application client secret.
	ClientSecret string

	// RedirectURL is the OAuth callback URL.
	RedirectURL string

	// Scope is an optional custom scope (defaults to DefaultScope).
	Scope string

	// Endpoint optionally overrides the OAuth endpoint (used in tests).
	Endpoint oauth2.Endpoint

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// RequestTimeout is the timeout for token endpoint calls (default: 10s).
	RequestTimeout time.Duration
}

// NewProvider creates a new Strava OAuth provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	scope := cfg.Scope
	if scope == "" {
		scope = DefaultScope
	}

	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = Endpoint
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

	return &Provider{
		Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{scope},
			Endpoint:     endpoint,
		},
		httpClient:     httpClient,
		requestTimeout: requestTimeout,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// AuthorizationURL generates the Strava authorization URL embedding the CSRF
// state nonce.
func (p *Provider) AuthorizationURL(state string) string {
	return p.AuthCodeURL(state,
		oauth2.SetAuthURLParam("approval_prompt", "auto"),
	)
}

// ensureContextTimeout ensures the context has a deadline, adding one if needed.
// Returns a new context with timeout and a cancel function that should be deferred.
func (p *Provider) ensureContextTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.requestTimeout)
}

// ExchangeCode exchanges an authorization code for a token pair.
func (p *Provider) ExchangeCode(ctx context.Context, code string) (*providers.TokenGrant, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.Exchange(ctx, code)
	if err != nil {
		return nil, classifyTokenError("exchange authorization code", err)
	}

	grant := grantFromToken(token)
	grant.AthleteID = athleteIDFromToken(token)
	return grant, nil
}

// Refresh exchanges a refresh token for a new token pair. Strava rotates the
// refresh token; the returned grant always carries the one to persist.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*providers.TokenGrant, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	ts := p.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := ts.Token()
	if err != nil {
		return nil, classifyTokenError("refresh access token", err)
	}

	grant := grantFromToken(token)
	if grant.RefreshToken == "" {
		// Defensive: oauth2 carries the old refresh token forward when the
		// provider omits one, but never persist an empty value.
		grant.RefreshToken = refreshToken
	}
	return grant, nil
}

// classifyTokenError maps a token endpoint failure to the provider sentinel
// errors. Only the HTTP status survives; upstream response bodies are dropped
// so they cannot leak to clients.
func classifyTokenError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, providers.ErrUpstreamTimeout)
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return fmt.Errorf("%s: provider returned status %d: %w",
			op, retrieveErr.Response.StatusCode, providers.ErrExchangeFailed)
	}

	return fmt.Errorf("%s: %w", op, providers.ErrExchangeFailed)
}

// grantFromToken maps an oauth2.Token onto a TokenGrant, converting the
// provider's epoch-second expiry to milliseconds.
func grantFromToken(token *oauth2.Token) *providers.TokenGrant {
	grant := &providers.TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}

	// Strava reports both expires_at (epoch seconds) and expires_in; prefer
	// the absolute value, fall back to the oauth2-computed expiry.
	if secs, ok := numberField(token, "expires_at"); ok {
		grant.ExpiresAt = secs * 1000
	} else if !token.Expiry.IsZero() {
		grant.ExpiresAt = token.Expiry.UnixMilli()
	}

	if scope, ok := token.Extra("scope").(string); ok {
		grant.Scope = scope
	}

	return grant
}

// athleteIDFromToken extracts the athlete identity Strava attaches to the
// code exchange response.
func athleteIDFromToken(token *oauth2.Token) string {
	athlete, ok := token.Extra("athlete").(map[string]interface{})
	if !ok {
		return ""
	}

	switch id := athlete["id"].(type) {
	case float64:
		return fmt.Sprintf("%.0f", id)
	case json.Number:
		return id.String()
	case string:
		return id
	default:
		return ""
	}
}

// numberField reads a numeric extra field from a token response.
func numberField(token *oauth2.Token, field string) (int64, bool) {
	switch v := token.Extra(field).(type) {
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
