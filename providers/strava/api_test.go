package strava

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/kinnect/stravalink/providers"
)

func TestClient_Call(t *testing.T) {
	var gotAuth, gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":12345}`))
	}))
	defer server.Close()

	c := NewClient(&ClientConfig{BaseURL: server.URL})

	query := url.Values{}
	query.Set("per_page", "30")
	data, err := c.Call(context.Background(), http.MethodGet, "/athlete", "token-abc", query, nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	if string(data) != `{"id":12345}` {
		t.Errorf("Call() body = %q, want upstream body verbatim", data)
	}
	if gotAuth != "Bearer token-abc" {
		t.Errorf("Authorization = %q, want Bearer token-abc", gotAuth)
	}
	if gotPath != "/athlete" {
		t.Errorf("path = %q, want /athlete", gotPath)
	}
	if gotQuery != "per_page=30" {
		t.Errorf("query = %q, want per_page=30", gotQuery)
	}
}

func TestClient_Call_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient(&ClientConfig{BaseURL: server.URL})

	_, err := c.Call(context.Background(), http.MethodGet, "/athlete", "stale-token", nil, nil)
	if !errors.Is(err, providers.ErrUnauthorized) {
		t.Errorf("Call() error = %v, want ErrUnauthorized", err)
	}
}

func TestClient_Call_UpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(&ClientConfig{BaseURL: server.URL})

	_, err := c.Call(context.Background(), http.MethodGet, "/athlete", "token", nil, nil)
	if err == nil {
		t.Fatal("Call() succeeded on 500, want error")
	}
	if errors.Is(err, providers.ErrUnauthorized) {
		t.Errorf("Call() error = %v, want non-unauthorized failure", err)
	}
}

func TestClient_Activities(t *testing.T) {
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := NewClient(&ClientConfig{BaseURL: server.URL})

	if _, err := c.Activities(context.Background(), "token", 30, 2); err != nil {
		t.Fatalf("Activities() error = %v", err)
	}
	if got := gotQuery.Get("per_page"); got != "30" {
		t.Errorf("per_page = %q, want 30", got)
	}
	if got := gotQuery.Get("page"); got != "2" {
		t.Errorf("page = %q, want 2", got)
	}

	// Non-positive pagination values are omitted.
	if _, err := c.Activities(context.Background(), "token", 0, 0); err != nil {
		t.Fatalf("Activities() error = %v", err)
	}
	if len(gotQuery) != 0 {
		t.Errorf("query = %v, want empty", gotQuery)
	}
}

func TestClient_Call_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := NewClient(&ClientConfig{
		BaseURL:        server.URL,
		RequestTimeout: 20 * time.Millisecond,
		HTTPClient:     &http.Client{},
	})

	_, err := c.Call(context.Background(), http.MethodGet, "/athlete", "token", nil, nil)
	if err == nil {
		t.Fatal("Call() succeeded, want timeout error")
	}
}
