package strava

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/kinnect/stravalink/providers"
)

// newTokenServer returns an httptest server that responds to token requests
// with the given status and JSON body, recording the last form values seen.
func newTokenServer(t *testing.T, status int, body map[string]any, lastForm *url.Values) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if lastForm != nil {
			*lastForm = r.PostForm
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if body != nil {
			_ = json.NewEncoder(w).Encode(body)
		}
	}))
}

func newTestProvider(t *testing.T, tokenURL string) *Provider {
	t.Helper()
	p, err := NewProvider(&Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:4000/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "http://example.invalid/authorize",
			TokenURL: tokenURL,
		},
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	return p
}

func TestNewProvider_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name:    "valid",
			cfg:     &Config{ClientID: "id", ClientSecret: "secret"},
			wantErr: false,
		},
		{
			name:    "missing client ID",
			cfg:     &Config{ClientSecret: "secret"},
			wantErr: true,
		},
		{
			name:    "missing client secret",
			cfg:     &Config{ClientID: "id"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProvider_AuthorizationURL(t *testing.T) {
	p, err := NewProvider(&Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:4000/callback",
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	authURL := p.AuthorizationURL("state-nonce")

	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth URL: %v", err)
	}
	if got := u.Host; got != "www.strava.com" {
		t.Errorf("auth URL host = %q, want www.strava.com", got)
	}

	q := u.Query()
	if got := q.Get("state"); got != "state-nonce" {
		t.Errorf("state = %q, want state-nonce", got)
	}
	if got := q.Get("client_id"); got != "client-id" {
		t.Errorf("client_id = %q, want client-id", got)
	}
	if got := q.Get("scope"); got != DefaultScope {
		t.Errorf("scope = %q, want %q", got, DefaultScope)
	}
	if got := q.Get("approval_prompt"); got != "auto" {
		t.Errorf("approval_prompt = %q, want auto", got)
	}
	if got := q.Get("redirect_uri"); got != "http://localhost:4000/callback" {
		t.Errorf("redirect_uri = %q, want callback URL", got)
	}
}

func TestProvider_ExchangeCode(t *testing.T) {
	expiresAt := time.Now().Add(6 * time.Hour).Unix()
	var form url.Values
	server := newTokenServer(t, http.StatusOK, map[string]any{
		"access_token":  "access-123",
		"refresh_token": "refresh-456",
		"token_type":    "Bearer",
		"expires_at":    expiresAt,
		"expires_in":    21600,
		"scope":         "read,activity:read_all",
		"athlete":       map[string]any{"id": 12345, "username": "runner"},
	}, &form)
	defer server.Close()

	p := newTestProvider(t, server.URL)

	grant, err := p.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if grant.AccessToken != "access-123" {
		t.Errorf("AccessToken = %q, want access-123", grant.AccessToken)
	}
	if grant.RefreshToken != "refresh-456" {
		t.Errorf("RefreshToken = %q, want refresh-456", grant.RefreshToken)
	}
	if want := expiresAt * 1000; grant.ExpiresAt != want {
		t.Errorf("ExpiresAt = %d, want %d (milliseconds)", grant.ExpiresAt, want)
	}
	if grant.Scope != "read,activity:read_all" {
		t.Errorf("Scope = %q, want read,activity:read_all", grant.Scope)
	}
	if grant.AthleteID != "12345" {
		t.Errorf("AthleteID = %q, want 12345", grant.AthleteID)
	}

	if got := form.Get("code"); got != "auth-code" {
		t.Errorf("token request code = %q, want auth-code", got)
	}
	if got := form.Get("grant_type"); got != "authorization_code" {
		t.Errorf("grant_type = %q, want authorization_code", got)
	}
}

func TestProvider_ExchangeCode_Rejected(t *testing.T) {
	server := newTokenServer(t, http.StatusBadRequest, map[string]any{
		"error":   "invalid_grant",
		"message": "secret internal detail from strava",
	}, nil)
	defer server.Close()

	p := newTestProvider(t, server.URL)

	_, err := p.ExchangeCode(context.Background(), "bad-code")
	if !errors.Is(err, providers.ErrExchangeFailed) {
		t.Fatalf("ExchangeCode() error = %v, want ErrExchangeFailed", err)
	}

	// Only the status survives; the upstream body must not leak.
	if strings.Contains(err.Error(), "secret internal detail") {
		t.Errorf("error %q leaks the upstream response body", err)
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error %q does not carry the upstream status", err)
	}
}

func TestProvider_ExchangeCode_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	p, err := NewProvider(&Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "http://example.invalid/authorize",
			TokenURL: server.URL,
		},
		RequestTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	_, err = p.ExchangeCode(context.Background(), "code")
	if !errors.Is(err, providers.ErrUpstreamTimeout) {
		t.Errorf("ExchangeCode() error = %v, want ErrUpstreamTimeout", err)
	}
}

func TestProvider_Refresh(t *testing.T) {
	expiresAt := time.Now().Add(6 * time.Hour).Unix()
	var form url.Values
	server := newTokenServer(t, http.StatusOK, map[string]any{
		"access_token":  "new-access",
		"refresh_token": "rotated-refresh",
		"token_type":    "Bearer",
		"expires_at":    expiresAt,
		"scope":         "read",
	}, &form)
	defer server.Close()

	p := newTestProvider(t, server.URL)

	grant, err := p.Refresh(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if grant.AccessToken != "new-access" {
		t.Errorf("AccessToken = %q, want new-access", grant.AccessToken)
	}
	if grant.RefreshToken != "rotated-refresh" {
		t.Errorf("RefreshToken = %q, want rotated-refresh", grant.RefreshToken)
	}
	if want := expiresAt * 1000; grant.ExpiresAt != want {
		t.Errorf("ExpiresAt = %d, want %d", grant.ExpiresAt, want)
	}

	if got := form.Get("grant_type"); got != "refresh_token" {
		t.Errorf("grant_type = %q, want refresh_token", got)
	}
	if got := form.Get("refresh_token"); got != "old-refresh" {
		t.Errorf("refresh_token = %q, want old-refresh", got)
	}
}

func TestProvider_Refresh_KeepsOldTokenWhenOmitted(t *testing.T) {
	server := newTokenServer(t, http.StatusOK, map[string]any{
		"access_token": "new-access",
		"token_type":   "Bearer",
		"expires_in":   21600,
	}, nil)
	defer server.Close()

	p := newTestProvider(t, server.URL)

	grant, err := p.Refresh(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if grant.RefreshToken != "old-refresh" {
		t.Errorf("RefreshToken = %q, want old-refresh carried forward", grant.RefreshToken)
	}
}

func TestProvider_Refresh_Rejected(t *testing.T) {
	server := newTokenServer(t, http.StatusUnauthorized, map[string]any{
		"error": "invalid_grant",
	}, nil)
	defer server.Close()

	p := newTestProvider(t, server.URL)

	_, err := p.Refresh(context.Background(), "revoked-refresh")
	if !errors.Is(err, providers.ErrExchangeFailed) {
		t.Errorf("Refresh() error = %v, want ErrExchangeFailed", err)
	}
}

func TestGrantFromToken_ExpiryFallback(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	token := &oauth2.Token{
		AccessToken: "a",
		Expiry:      expiry,
	}

	grant := grantFromToken(token)
	if grant.ExpiresAt != expiry.UnixMilli() {
		t.Errorf("ExpiresAt = %d, want %d from token expiry", grant.ExpiresAt, expiry.UnixMilli())
	}
}

func TestAthleteIDFromToken(t *testing.T) {
	tests := []struct {
		name  string
		extra map[string]interface{}
		want  string
	}{
		{
			name:  "float64 id",
			extra: map[string]interface{}{"athlete": map[string]interface{}{"id": float64(98765)}},
			want:  "98765",
		},
		{
			name:  "string id",
			extra: map[string]interface{}{"athlete": map[string]interface{}{"id": "98765"}},
			want:  "98765",
		},
		{
			name:  "json number id",
			extra: map[string]interface{}{"athlete": map[string]interface{}{"id": json.Number("98765")}},
			want:  "98765",
		},
		{
			name:  "no athlete",
			extra: map[string]interface{}{},
			want:  "",
		},
		{
			name:  "athlete without id",
			extra: map[string]interface{}{"athlete": map[string]interface{}{"username": "runner"}},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := (&oauth2.Token{AccessToken: "a"}).WithExtra(tt.extra)
			if got := athleteIDFromToken(token); got != tt.want {
				t.Errorf("athleteIDFromToken() = %q, want %q", got, tt.want)
			}
		})
	}
}
