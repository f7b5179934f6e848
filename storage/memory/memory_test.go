package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kinnect/stravalink/internal/testutil"
	"github.com/kinnect/stravalink/security"
	"github.com/kinnect/stravalink/storage"
)

func testConnection() *storage.Connection {
	now := time.Now()
	return &storage.Connection{
		ProviderAthleteID: "12345",
		AccessToken:       &security.EncryptedBlob{Version: security.BlobVersion, Ciphertext: "aa", Nonce: "bb", AuthTag: "cc"},
		RefreshToken:      &security.EncryptedBlob{Version: security.BlobVersion, Ciphertext: "dd", Nonce: "ee", AuthTag: "ff"},
		ExpiresAt:         now.Add(6 * time.Hour).UnixMilli(),
		Scope:             "read,activity:read_all",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestStore_ConnectionCRUD(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	// Get before Put
	_, err := store.Get(ctx, "alice")
	if !errors.Is(err, storage.ErrConnectionNotFound) {
		t.Errorf("Get() error = %v, want ErrConnectionNotFound", err)
	}

	conn := testConnection()
	if err := store.Put(ctx, "alice", conn); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ProviderAthleteID != conn.ProviderAthleteID {
		t.Errorf("ProviderAthleteID = %q, want %q", got.ProviderAthleteID, conn.ProviderAthleteID)
	}
	if got.ExpiresAt != conn.ExpiresAt {
		t.Errorf("ExpiresAt = %d, want %d", got.ExpiresAt, conn.ExpiresAt)
	}

	// Overwrite (last writer wins)
	updated := testConnection()
	updated.ProviderAthleteID = "67890"
	if err := store.Put(ctx, "alice", updated); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err = store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ProviderAthleteID != "67890" {
		t.Errorf("ProviderAthleteID after overwrite = %q, want %q", got.ProviderAthleteID, "67890")
	}

	if err := store.Delete(ctx, "alice"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "alice"); !errors.Is(err, storage.ErrConnectionNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrConnectionNotFound", err)
	}
}

func TestStore_DeleteAbsent(t *testing.T) {
	store := New()
	defer store.Stop()

	err := store.Delete(context.Background(), "nobody")
	if !errors.Is(err, storage.ErrConnectionNotFound) {
		t.Errorf("Delete() error = %v, want ErrConnectionNotFound", err)
	}
}

func TestStore_PutValidation(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	if err := store.Put(ctx, "", testConnection()); err == nil {
		t.Error("Put() with empty username succeeded, want error")
	}
	if err := store.Put(ctx, "alice", nil); err == nil {
		t.Error("Put() with nil connection succeeded, want error")
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	if err := store.Put(ctx, "alice", testConnection()); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	first, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	first.ProviderAthleteID = "mutated"

	second, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if second.ProviderAthleteID == "mutated" {
		t.Error("mutation of Get() result leaked into the store")
	}
}

func TestStore_StateIssueAndConsume(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	nonce, err := store.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	// 32 bytes of entropy, hex encoded
	if len(nonce) != 64 {
		t.Errorf("nonce length = %d, want 64", len(nonce))
	}

	username, err := store.Consume(ctx, nonce)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if username != "alice" {
		t.Errorf("Consume() = %q, want %q", username, "alice")
	}

	// Second consume of the same nonce must fail.
	if _, err := store.Consume(ctx, nonce); !errors.Is(err, storage.ErrStateNotFound) {
		t.Errorf("second Consume() error = %v, want ErrStateNotFound", err)
	}
}

func TestStore_StateUnknownNonce(t *testing.T) {
	store := New()
	defer store.Stop()

	if _, err := store.Consume(context.Background(), "never-issued"); !errors.Is(err, storage.ErrStateNotFound) {
		t.Errorf("Consume() error = %v, want ErrStateNotFound", err)
	}
}

func TestStore_StateNoncesUnique(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		nonce, err := store.Issue(ctx, "alice")
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		if seen[nonce] {
			t.Fatalf("nonce %q issued twice", nonce)
		}
		seen[nonce] = true
	}
}

func TestStore_StateExpiry(t *testing.T) {
	store := NewWithConfig(10*time.Minute, time.Hour)
	defer store.Stop()
	ctx := context.Background()

	clock := testutil.NewMockTime(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	store.SetClock(clock.Now)

	nonce, err := store.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// Still valid just inside the TTL.
	clock.Advance(9 * time.Minute)
	fresh, err := store.Issue(ctx, "bob")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// Past the TTL for the first nonce, not for the second.
	clock.Advance(2 * time.Minute)
	if _, err := store.Consume(ctx, nonce); !errors.Is(err, storage.ErrStateNotFound) {
		t.Errorf("Consume() of expired nonce error = %v, want ErrStateNotFound", err)
	}
	if _, err := store.Consume(ctx, fresh); err != nil {
		t.Errorf("Consume() of fresh nonce error = %v", err)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			username := fmt.Sprintf("user-%d", n)
			if err := store.Put(ctx, username, testConnection()); err != nil {
				t.Errorf("Put() error = %v", err)
				return
			}
			if _, err := store.Get(ctx, username); err != nil {
				t.Errorf("Get() error = %v", err)
			}
			if _, err := store.Issue(ctx, username); err != nil {
				t.Errorf("Issue() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		if _, err := store.Get(ctx, fmt.Sprintf("user-%d", i)); err != nil {
			t.Errorf("Get(user-%d) error = %v", i, err)
		}
	}
}

func TestStore_ConcurrentStateConsume(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	nonce, err := store.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// Exactly one of the racing consumers wins.
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Consume(ctx, nonce); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("concurrent Consume() succeeded %d times, want 1", successes)
	}
}
