package stravalink

// AuthorizationResponse is returned when an authorization flow is started
type AuthorizationResponse struct {
	// AuthURL is the Strava authorization URL to redirect the user to
	AuthURL string `json:"authUrl"`

	// State is the one-time CSRF nonce embedded in AuthURL
	State string `json:"state"`
}

// StatusResponse reports the connection state for a username
type StatusResponse struct {
	// Connected indicates whether a Strava connection exists
	Connected bool `json:"connected"`

	// ProviderAthleteID is the opaque Strava athlete identity
	ProviderAthleteID string `json:"providerAthleteId"`

	// ExpiresAt is the access token expiry in milliseconds since epoch
	ExpiresAt int64 `json:"expiresAt"`

	// IsExpired applies the same expiry buffer used by token resolution
	IsExpired bool `json:"isExpired"`

	// Scope is the granted permission set
	Scope string `json:"scope"`
}

// RefreshRequest is the body of a forced refresh request
type RefreshRequest struct {
	Username string `json:"username"`
}

// MessageResponse carries a human-readable success message
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}
