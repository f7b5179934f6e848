package security

import "time"

const (
	// DefaultExpiryBuffer is the safety margin subtracted from a token's
	// expiry time when deciding whether to refresh. Refreshing this far
	// ahead of the real expiry avoids the race where a token passes the
	// local check but is rejected by the provider moments later.
	DefaultExpiryBuffer = 5 * time.Minute
)

// IsTokenExpired reports whether an access token expiring at expiresAtMillis
// (milliseconds since epoch) should be treated as expired at time now, with
// the default expiry buffer applied.
func IsTokenExpired(expiresAtMillis int64, now time.Time) bool {
	return IsTokenExpiredWithBuffer(expiresAtMillis, now, DefaultExpiryBuffer)
}

// IsTokenExpiredWithBuffer reports whether a token should be treated as
// expired at time now with a custom buffer. A zero expiry is always expired.
func IsTokenExpiredWithBuffer(expiresAtMillis int64, now time.Time, buffer time.Duration) bool {
	if expiresAtMillis == 0 {
		return true
	}

	// Expired once now >= expiresAt - buffer.
	return !now.Before(time.UnixMilli(expiresAtMillis).Add(-buffer))
}
