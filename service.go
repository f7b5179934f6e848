// Package stravalink implements the Strava third-party-credential lifecycle:
// CSRF-bound authorization flows, code exchange, encrypted token storage, and
// transparent refresh ahead of upstream API calls.
package stravalink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/kinnect/stravalink/instrumentation"
	"github.com/kinnect/stravalink/providers"
	"github.com/kinnect/stravalink/security"
	"github.com/kinnect/stravalink/storage"
)

// Service orchestrates the cipher, stores, and provider into the credential
// lifecycle: it issues authorization flows, completes callbacks, and resolves
// currently-valid access tokens, refreshing lazily behind a per-username
// single-flight guard.
type Service struct {
	cfg         *Config
	provider    providers.Provider
	connections storage.ConnectionStore
	states      storage.StateRegistry
	encryptor   *security.Encryptor
	auditor     *security.Auditor
	logger      *slog.Logger

	// refreshGroup deduplicates concurrent refreshes per username: at most
	// one refresh network call is in flight per user, and concurrent
	// resolvers share its result.
	refreshGroup singleflight.Group

	tracer  trace.Tracer
	metrics *instrumentation.Metrics

	// now is the time source; replaceable for deterministic tests.
	now func() time.Time
}

// NewService creates the credential lifecycle service. The config is
// validated; a missing encryption key or client credential is an error here,
// not at call time.
func NewService(cfg *Config, provider providers.Provider, connections storage.ConnectionStore, states storage.StateRegistry) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if connections == nil {
		return nil, fmt.Errorf("connection store is required")
	}
	if states == nil {
		return nil, fmt.Errorf("state registry is required")
	}

	encryptor, err := security.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}

	return &Service{
		cfg:         cfg,
		provider:    provider,
		connections: connections,
		states:      states,
		encryptor:   encryptor,
		auditor:     security.NewAuditor(cfg.Logger, cfg.EnableAuditLogging),
		logger:      cfg.Logger,
		now:         time.Now,
	}, nil
}

// SetInstrumentation sets OpenTelemetry instrumentation for the service
func (s *Service) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	s.tracer = inst.Tracer("service")
	s.metrics = inst.Metrics()
}

// SetClock replaces the service's time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// BeginAuthorization issues a CSRF state nonce for the username and returns
// the Strava authorization URL embedding it.
func (s *Service) BeginAuthorization(ctx context.Context, username string) (*AuthorizationResponse, error) {
	if username == "" {
		return nil, ErrInvalidRequest("username is required")
	}

	state, err := s.states.Issue(ctx, username)
	if err != nil {
		s.logger.Error("Failed to issue authorization state", "error", err)
		return nil, ErrUpstreamUnavailable("could not start authorization")
	}

	if s.metrics != nil {
		s.metrics.FlowsStarted.Add(ctx, 1)
	}

	return &AuthorizationResponse{
		AuthURL: s.provider.AuthorizationURL(state),
		State:   state,
	}, nil
}

// CompleteAuthorization consumes the callback's state nonce, exchanges the
// authorization code for a token pair, and persists the encrypted connection.
// It returns the username the flow was issued for.
//
// The state is verified before any token exchange; unknown, expired, and
// replayed states fail with one generic message so callers cannot probe which
// check rejected them.
func (s *Service) CompleteAuthorization(ctx context.Context, code, state string) (string, error) {
	if s.metrics != nil {
		s.metrics.CallbacksProcessed.Add(ctx, 1)
	}

	if code == "" || state == "" {
		s.auditor.LogStateRejected("missing code or state")
		s.recordStateRejected(ctx)
		return "", ErrInvalidRequest("authorization request could not be verified")
	}

	username, err := s.states.Consume(ctx, state)
	if err != nil {
		s.auditor.LogStateRejected("state unknown, expired, or already used")
		s.recordStateRejected(ctx)
		return "", ErrInvalidRequest("authorization request could not be verified")
	}

	grant, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		s.logger.Error("Authorization code exchange failed",
			"provider", s.provider.Name(),
			"error", err)
		return "", ErrUpstreamUnavailable("could not complete Strava authorization")
	}

	now := s.now()
	conn, err := s.encryptGrant(grant, &storage.Connection{
		ProviderAthleteID: grant.AthleteID,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		s.logger.Error("Failed to encrypt token pair", "error", err)
		return "", ErrUpstreamUnavailable("could not complete Strava authorization")
	}

	if err := s.connections.Put(ctx, username, conn); err != nil {
		s.logger.Error("Failed to store connection", "error", err)
		return "", ErrUpstreamUnavailable("could not complete Strava authorization")
	}

	s.auditor.LogConnectionLinked(username, grant.AthleteID, grant.Scope)
	if s.metrics != nil {
		s.metrics.CodesExchanged.Add(ctx, 1)
	}

	return username, nil
}

// ResolveAccessToken returns a currently-valid plaintext access token for the
// username. The common path decrypts and returns the cached token with no
// network call; a token inside the expiry buffer is refreshed synchronously,
// re-encrypted, and persisted first. A refresh failure purges the connection
// and fails with reconnect_required.
func (s *Service) ResolveAccessToken(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", ErrInvalidRequest("username is required")
	}

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "service.resolve_access_token",
			trace.WithAttributes(attribute.String("provider", s.provider.Name())))
		defer span.End()
	}

	token, err := s.resolveAccessToken(ctx, username)
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, CodeOf(err))
	}
	return token, err
}

func (s *Service) resolveAccessToken(ctx context.Context, username string) (string, error) {
	conn, err := s.connections.Get(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrConnectionNotFound) {
			return "", ErrNotFound("no Strava connection for this user")
		}
		s.logger.Error("Failed to load connection", "error", err)
		return "", ErrUpstreamUnavailable("could not load Strava connection")
	}

	accessToken, err := s.encryptor.Decrypt(conn.AccessToken)
	if err == nil {
		_, err = s.encryptor.Decrypt(conn.RefreshToken)
	}
	if err != nil {
		// Fail closed: an undecryptable record is unrecoverable. Purge it so
		// the user can re-authorize instead of being stuck.
		s.logger.Error("Failed to decrypt stored tokens, purging connection",
			"error", err)
		_ = s.connections.Delete(ctx, username)
		s.auditor.LogRefreshFailed(username, "stored tokens could not be decrypted")
		return "", ErrReconnectRequired("Strava connection is corrupted, please reconnect")
	}

	if !security.IsTokenExpiredWithBuffer(conn.ExpiresAt, s.now(), s.cfg.ExpiryBuffer) {
		return accessToken, nil
	}

	// Refresh path. The single-flight group guarantees one refresh call per
	// username; concurrent resolvers wait for and share its result.
	result, err, _ := s.refreshGroup.Do(username, func() (any, error) {
		return s.refreshConnection(ctx, username)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// refreshConnection exchanges the stored refresh token for a new pair and
// rewrites the connection in place. Runs inside the single-flight group.
func (s *Service) refreshConnection(ctx context.Context, username string) (string, error) {
	// Re-read inside the group: a concurrent resolver may have refreshed
	// already while this call waited.
	conn, err := s.connections.Get(ctx, username)
	if err != nil {
		return "", ErrNotFound("no Strava connection for this user")
	}
	if !security.IsTokenExpiredWithBuffer(conn.ExpiresAt, s.now(), s.cfg.ExpiryBuffer) {
		return s.encryptor.Decrypt(conn.AccessToken)
	}

	refreshToken, err := s.encryptor.Decrypt(conn.RefreshToken)
	if err != nil {
		_ = s.connections.Delete(ctx, username)
		return "", ErrReconnectRequired("Strava connection is corrupted, please reconnect")
	}

	grant, err := s.provider.Refresh(ctx, refreshToken)
	if err != nil {
		s.logger.Error("Token refresh failed, purging connection",
			"provider", s.provider.Name(),
			"error", err)
		_ = s.connections.Delete(ctx, username)
		s.auditor.LogRefreshFailed(username, "provider refused refresh")
		if s.metrics != nil {
			s.metrics.RefreshFailures.Add(ctx, 1)
		}
		return "", ErrReconnectRequired("Strava authorization expired, please reconnect")
	}

	updated, err := s.encryptGrant(grant, conn)
	if err != nil {
		s.logger.Error("Failed to encrypt refreshed token pair", "error", err)
		return "", ErrUpstreamUnavailable("could not store refreshed tokens")
	}
	updated.UpdatedAt = s.now()

	if err := s.connections.Put(ctx, username, updated); err != nil {
		s.logger.Error("Failed to store refreshed connection", "error", err)
		return "", ErrUpstreamUnavailable("could not store refreshed tokens")
	}

	s.auditor.LogTokenRefreshed(username, grant.RefreshToken != refreshToken)
	if s.metrics != nil {
		s.metrics.TokensRefreshed.Add(ctx, 1)
	}

	return grant.AccessToken, nil
}

func (s *Service) recordStateRejected(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.StatesRejected.Add(ctx, 1)
	}
}

// encryptGrant writes a grant's token pair, expiry, and scope onto conn,
// encrypting both tokens. Fields not carried by the grant are preserved.
func (s *Service) encryptGrant(grant *providers.TokenGrant, conn *storage.Connection) (*storage.Connection, error) {
	accessBlob, err := s.encryptor.Encrypt(grant.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	if accessBlob == nil {
		return nil, fmt.Errorf("provider returned empty access token")
	}

	refreshBlob, err := s.encryptor.Encrypt(grant.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt refresh token: %w", err)
	}
	if refreshBlob == nil {
		return nil, fmt.Errorf("provider returned empty refresh token")
	}

	updated := *conn
	updated.AccessToken = accessBlob
	updated.RefreshToken = refreshBlob
	updated.ExpiresAt = grant.ExpiresAt
	if grant.Scope != "" {
		updated.Scope = grant.Scope
	}
	return &updated, nil
}

// Disconnect deletes the username's connection.
func (s *Service) Disconnect(ctx context.Context, username string) error {
	if username == "" {
		return ErrInvalidRequest("username is required")
	}

	if err := s.connections.Delete(ctx, username); err != nil {
		if errors.Is(err, storage.ErrConnectionNotFound) {
			return ErrNotFound("no Strava connection for this user")
		}
		s.logger.Error("Failed to delete connection", "error", err)
		return ErrUpstreamUnavailable("could not remove Strava connection")
	}

	s.auditor.LogConnectionRemoved(username)
	return nil
}

// Status reports the connection state for a username. IsExpired applies the
// same expiry buffer used by token resolution.
func (s *Service) Status(ctx context.Context, username string) (*StatusResponse, error) {
	if username == "" {
		return nil, ErrInvalidRequest("username is required")
	}

	conn, err := s.connections.Get(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrConnectionNotFound) {
			return &StatusResponse{Connected: false}, nil
		}
		s.logger.Error("Failed to load connection", "error", err)
		return nil, ErrUpstreamUnavailable("could not load Strava connection")
	}

	return &StatusResponse{
		Connected:         true,
		ProviderAthleteID: conn.ProviderAthleteID,
		ExpiresAt:         conn.ExpiresAt,
		IsExpired:         security.IsTokenExpiredWithBuffer(conn.ExpiresAt, s.now(), s.cfg.ExpiryBuffer),
		Scope:             conn.Scope,
	}, nil
}
