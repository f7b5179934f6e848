// Package storage defines interfaces for persisting Strava connections and
// in-flight authorization state. It allows substituting a persistent backend
// without touching the resolver logic.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/kinnect/stravalink/security"
)

// ErrConnectionNotFound is returned when a username has no stored connection.
var ErrConnectionNotFound = errors.New("connection not found")

// ErrStateNotFound is returned when an authorization state nonce is unknown,
// expired, or already consumed. The three cases are deliberately
// indistinguishable to callers.
var ErrStateNotFound = errors.New("authorization state not found")

// Connection is the per-user record of a linked Strava account. Token
// material is held only as encrypted blobs.
type Connection struct {
	// ProviderAthleteID is the opaque Strava athlete identity.
	ProviderAthleteID string

	// AccessToken and RefreshToken are AEAD-encrypted; plaintext tokens are
	// never stored.
	AccessToken  *security.EncryptedBlob
	RefreshToken *security.EncryptedBlob

	// ExpiresAt is when the access token stops being valid, in milliseconds
	// since epoch.
	ExpiresAt int64

	// Scope is the granted permission set as reported by Strava.
	Scope string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConnectionStore defines keyed storage for connections. Implementations must
// support safe concurrent reads and last-writer-wins updates per username.
// All methods accept context.Context for tracing and cancellation.
type ConnectionStore interface {
	// Get retrieves the connection for a username, or ErrConnectionNotFound.
	Get(ctx context.Context, username string) (*Connection, error)

	// Put stores the connection for a username, replacing any existing record.
	Put(ctx context.Context, username string, conn *Connection) error

	// Delete removes the connection for a username, or returns
	// ErrConnectionNotFound if none exists.
	Delete(ctx context.Context, username string) error
}

// StateRegistry issues and consumes the one-time CSRF state nonces binding an
// authorization redirect to the request that initiated it.
// All methods accept context.Context for tracing and cancellation.
type StateRegistry interface {
	// Issue generates a cryptographically random nonce, records it against
	// the username, and returns it.
	Issue(ctx context.Context, username string) (string, error)

	// Consume atomically looks up and removes a nonce, returning the
	// username that issued it. A nonce can be consumed at most once;
	// expired, unknown, and replayed nonces all return ErrStateNotFound.
	Consume(ctx context.Context, nonce string) (string, error)
}
