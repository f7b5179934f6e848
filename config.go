package stravalink

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kinnect/stravalink/security"
)

// Config holds the credential core configuration.
// All recognized options are enumerated here and validated at startup;
// nothing is discovered lazily at call time.
type Config struct {
	// Strava OAuth credentials and settings
	StravaAuth StravaAuthConfig

	// FrontendOrigin is where callback results are redirected
	// (e.g., "http://localhost:3000").
	FrontendOrigin string

	// EncryptionKey is the AES-256 key (32 bytes) for token encryption at
	// rest. Required: there is no fallback key, since a generated one would
	// silently orphan every previously stored token after a restart.
	EncryptionKey []byte

	// StateTTL is how long an authorization state nonce stays consumable.
	// Default: 10 minutes.
	StateTTL time.Duration

	// ExpiryBuffer is the safety margin for proactive token refresh.
	// Default: 5 minutes.
	ExpiryBuffer time.Duration

	// RequestTimeout bounds outbound exchange/refresh calls.
	// Default: 10 seconds.
	RequestTimeout time.Duration

	// Rate limiting configuration for the HTTP surface
	RateLimit RateLimitConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// HTTPClient is a custom HTTP client for outbound requests.
	// If not provided, a default client with RequestTimeout is used.
	HTTPClient *http.Client

	// EnableAuditLogging enables security audit logging
	// (auth events, refreshes, violations; sensitive data hashed).
	EnableAuditLogging bool
}

// StravaAuthConfig holds Strava OAuth application settings
type StravaAuthConfig struct {
	// ClientID is the Strava application client ID (required).
	ClientID string

	// ClientSecret is the Strava application client secret (required).
	ClientSecret string

	// RedirectURL is where Strava redirects after authorization (required).
	RedirectURL string

	// Scope is the fixed permission set requested on every authorization.
	// Empty uses the provider default.
	Scope string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int
}

// Validate checks the configuration and applies defaults.
// It fails fast on missing credentials or a missing/short encryption key.
func (c *Config) Validate() error {
	if c.StravaAuth.ClientID == "" {
		return fmt.Errorf("strava client ID is required")
	}
	if c.StravaAuth.ClientSecret == "" {
		return fmt.Errorf("strava client secret is required")
	}
	if c.StravaAuth.RedirectURL == "" {
		return fmt.Errorf("strava redirect URL is required")
	}
	if c.FrontendOrigin == "" {
		return fmt.Errorf("frontend origin is required")
	}
	if len(c.EncryptionKey) != 32 {
		return fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(c.EncryptionKey))
	}

	if c.StateTTL <= 0 {
		c.StateTTL = 10 * time.Minute
	}
	if c.ExpiryBuffer <= 0 {
		c.ExpiryBuffer = security.DefaultExpiryBuffer
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return nil
}
