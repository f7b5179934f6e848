// Package providers defines the interface to the upstream fitness provider's
// OAuth token endpoint and its authenticated data API.
package providers

import (
	"context"
	"errors"
	"io"
	"net/url"
)

// ErrExchangeFailed indicates the provider's token endpoint rejected an
// exchange or refresh, or the request could not be completed. The upstream
// error body is never attached; callers log what they have and return a
// generic message.
var ErrExchangeFailed = errors.New("token exchange failed")

// ErrUpstreamTimeout indicates an outbound provider call exceeded its
// deadline. Distinct from ErrExchangeFailed so callers can treat timeouts as
// transient.
var ErrUpstreamTimeout = errors.New("upstream request timed out")

// ErrUnauthorized indicates the upstream data API rejected the access token
// with a 401. Callers use this to decide between forcing a reconnect and a
// transient-failure retry.
var ErrUnauthorized = errors.New("upstream rejected access token")

// TokenGrant is a token pair returned by the provider's token endpoint, with
// the expiry already mapped to milliseconds since epoch.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string

	// ExpiresAt is the absolute access token expiry in milliseconds since
	// epoch.
	ExpiresAt int64

	// Scope is the granted permission set, opaque to this library.
	Scope string

	// AthleteID is the provider-side identity. Populated on code exchange;
	// empty on refresh.
	AthleteID string
}

// Provider exchanges authorization codes and refresh tokens for token pairs.
type Provider interface {
	// Name returns the provider name (e.g., "strava")
	Name() string

	// AuthorizationURL generates the URL to redirect users for authorization,
	// embedding the given CSRF state nonce.
	AuthorizationURL(state string) string

	// ExchangeCode exchanges an authorization code for a token pair.
	ExchangeCode(ctx context.Context, code string) (*TokenGrant, error)

	// Refresh exchanges a refresh token for a new token pair. The provider
	// may rotate the refresh token on every call; callers must always
	// persist the returned one.
	Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error)
}

// APIClient is a thin authenticated caller for the provider's data API. It
// does not retry or refresh; composing a token resolver before each call is
// the caller's responsibility.
type APIClient interface {
	// Call performs a single authenticated request and returns the raw
	// response body. A 401 maps to ErrUnauthorized.
	Call(ctx context.Context, method, path, accessToken string, query url.Values, body io.Reader) ([]byte, error)
}
