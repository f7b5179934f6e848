// Package mock provides mock implementations of the providers interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/kinnect/stravalink/providers"
)

// Compile-time interface checks
var (
	_ providers.Provider  = (*MockProvider)(nil)
	_ providers.APIClient = (*MockAPIClient)(nil)
)

// MockProvider is a mock implementation of the Provider interface for testing
type MockProvider struct {
	// NameFunc is called when Name() is invoked
	NameFunc func() string

	// AuthorizationURLFunc is called when AuthorizationURL() is invoked
	AuthorizationURLFunc func(state string) string

	// ExchangeCodeFunc is called when ExchangeCode() is invoked
	ExchangeCodeFunc func(ctx context.Context, code string) (*providers.TokenGrant, error)

	// RefreshFunc is called when Refresh() is invoked
	RefreshFunc func(ctx context.Context, refreshToken string) (*providers.TokenGrant, error)

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.RWMutex
}

// NewMockProvider creates a new mock provider with default implementations
func NewMockProvider() *MockProvider {
	return &MockProvider{
		CallCounts: make(map[string]int),
		NameFunc: func() string {
			return "mock"
		},
		AuthorizationURLFunc: func(state string) string {
			return "https://mock.example.com/authorize?state=" + url.QueryEscape(state)
		},
		ExchangeCodeFunc: func(ctx context.Context, code string) (*providers.TokenGrant, error) {
			return &providers.TokenGrant{
				AccessToken:  "mock-access-token",
				RefreshToken: "mock-refresh-token",
				ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
				Scope:        "read,activity:read_all",
				AthleteID:    "12345",
			}, nil
		},
		RefreshFunc: func(ctx context.Context, refreshToken string) (*providers.TokenGrant, error) {
			return &providers.TokenGrant{
				AccessToken:  "new-mock-access-token",
				RefreshToken: "new-mock-refresh-token",
				ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
				Scope:        "read,activity:read_all",
			}, nil
		},
	}
}

// Name implements the Provider interface
func (m *MockProvider) Name() string {
	m.recordCall("Name")
	return m.NameFunc()
}

// AuthorizationURL implements the Provider interface
func (m *MockProvider) AuthorizationURL(state string) string {
	m.recordCall("AuthorizationURL")
	return m.AuthorizationURLFunc(state)
}

// ExchangeCode implements the Provider interface
func (m *MockProvider) ExchangeCode(ctx context.Context, code string) (*providers.TokenGrant, error) {
	m.recordCall("ExchangeCode")
	return m.ExchangeCodeFunc(ctx, code)
}

// Refresh implements the Provider interface
func (m *MockProvider) Refresh(ctx context.Context, refreshToken string) (*providers.TokenGrant, error) {
	m.recordCall("Refresh")
	return m.RefreshFunc(ctx, refreshToken)
}

// CallCount returns how many times the named method was called
func (m *MockProvider) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

func (m *MockProvider) recordCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
}

// MockAPIClient is a mock implementation of the APIClient interface for testing
type MockAPIClient struct {
	// CallFunc is called when Call() is invoked
	CallFunc func(ctx context.Context, method, path, accessToken string, query url.Values, body io.Reader) ([]byte, error)

	// Calls records the (method, path, accessToken) of every invocation
	Calls []MockAPICall

	mu sync.Mutex
}

// MockAPICall records one APIClient invocation
type MockAPICall struct {
	Method      string
	Path        string
	AccessToken string
	Query       url.Values
}

// NewMockAPIClient creates a new mock API client returning an empty JSON object
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{
		CallFunc: func(ctx context.Context, method, path, accessToken string, query url.Values, body io.Reader) ([]byte, error) {
			return []byte(fmt.Sprintf(`{"path":%q}`, path)), nil
		},
	}
}

// Call implements the APIClient interface
func (m *MockAPIClient) Call(ctx context.Context, method, path, accessToken string, query url.Values, body io.Reader) ([]byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockAPICall{Method: method, Path: path, AccessToken: accessToken, Query: query})
	m.mu.Unlock()
	return m.CallFunc(ctx, method, path, accessToken, query, body)
}
