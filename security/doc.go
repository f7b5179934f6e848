// Package security provides security features for the Strava credential core:
// token encryption at rest, expiry-buffer checks, rate limiting, and audit
// logging with PII protection.
package security
