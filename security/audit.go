package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	Username  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"username_hash", hashForLogging(event.Username),
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogConnectionLinked logs a successful authorization callback
func (a *Auditor) LogConnectionLinked(username, athleteID, scope string) {
	a.LogEvent(Event{
		Type:     "connection_linked",
		Username: username,
		Details: map[string]any{
			"athlete_id": athleteID,
			"scope":      scope,
		},
	})
}

// LogTokenRefreshed logs a successful token refresh
func (a *Auditor) LogTokenRefreshed(username string, rotated bool) {
	a.LogEvent(Event{
		Type:     "token_refreshed",
		Username: username,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogRefreshFailed logs a refresh failure that purged the connection
func (a *Auditor) LogRefreshFailed(username, reason string) {
	a.LogEvent(Event{
		Type:     "refresh_failed",
		Username: username,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogStateRejected logs a callback rejected before token exchange.
// The reason is kept internal; callers return a generic message upstream.
func (a *Auditor) LogStateRejected(reason string) {
	a.LogEvent(Event{
		Type: "state_rejected",
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogConnectionRemoved logs an explicit disconnect
func (a *Auditor) LogConnectionRemoved(username string) {
	a.LogEvent(Event{
		Type:     "connection_removed",
		Username: username,
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(Event{
		Type: "rate_limit_exceeded",
		Details: map[string]any{
			"ip_address": ipAddress,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
