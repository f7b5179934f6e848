// Package memory provides an in-memory implementation of the storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kinnect/stravalink/instrumentation"
	"github.com/kinnect/stravalink/storage"
)

const (
	// DefaultStateTTL is how long an issued authorization state nonce stays
	// consumable before it is swept.
	DefaultStateTTL = 10 * time.Minute

	// stateNonceBytes is the entropy of an authorization state nonce.
	// Collisions across 32 random bytes are treated as negligible.
	stateNonceBytes = 32
)

// stateEntry is one in-flight authorization attempt.
type stateEntry struct {
	username  string
	createdAt time.Time
}

// Store is an in-memory implementation of storage.ConnectionStore and
// storage.StateRegistry.
type Store struct {
	mu sync.RWMutex

	connections map[string]*storage.Connection
	states      map[string]stateEntry

	stateTTL time.Duration

	// now is the time source; replaceable for deterministic tests.
	now func() time.Time

	// Atomic counters for metrics (lock-free access during metric collection)
	connectionsCountAtomic atomic.Int64
	statesCountAtomic      atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ConnectionStore = (*Store)(nil)
	_ storage.StateRegistry   = (*Store)(nil)
)

// New creates a new in-memory store with the default state TTL (10 minutes)
// and cleanup interval (1 minute).
func New() *Store {
	return NewWithConfig(DefaultStateTTL, time.Minute)
}

// NewWithConfig creates a new in-memory store with custom state TTL and
// cleanup interval. Non-positive values fall back to the defaults.
func NewWithConfig(stateTTL, cleanupInterval time.Duration) *Store {
	if stateTTL <= 0 {
		stateTTL = DefaultStateTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		connections:     make(map[string]*storage.Connection),
		states:          make(map[string]stateEntry),
		stateTTL:        stateTTL,
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	// Background sweep for states that are never looked up again. The lazy
	// sweep in Consume remains authoritative for correctness.
	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetClock replaces the store's time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetInstrumentation registers storage size callbacks with the given
// instrumentation so connection and state counts are observable.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}

	s.mu.Lock()
	s.connectionsCountAtomic.Store(int64(len(s.connections)))
	s.statesCountAtomic.Store(int64(len(s.states)))
	s.mu.Unlock()

	err := inst.RegisterStorageSizeCallbacks(
		func() int64 { return s.connectionsCountAtomic.Load() },
		func() int64 { return s.statesCountAtomic.Load() },
	)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// ConnectionStore Implementation
// ============================================================

// Get retrieves the connection for a username. Returns a copy so callers
// cannot mutate stored state outside Put.
func (s *Store) Get(_ context.Context, username string) (*storage.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.connections[username]
	if !ok {
		return nil, storage.ErrConnectionNotFound
	}

	copied := *conn
	return &copied, nil
}

// Put stores the connection for a username, replacing any existing record
// (last writer wins).
func (s *Store) Put(_ context.Context, username string, conn *storage.Connection) error {
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if conn == nil {
		return fmt.Errorf("connection is required")
	}

	copied := *conn

	s.mu.Lock()
	s.connections[username] = &copied
	s.connectionsCountAtomic.Store(int64(len(s.connections)))
	s.mu.Unlock()

	return nil
}

// Delete removes the connection for a username.
func (s *Store) Delete(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.connections[username]; !ok {
		return storage.ErrConnectionNotFound
	}
	delete(s.connections, username)
	s.connectionsCountAtomic.Store(int64(len(s.connections)))

	return nil
}

// ============================================================
// StateRegistry Implementation
// ============================================================

// Issue generates a random nonce and records the authorization attempt.
func (s *Store) Issue(_ context.Context, username string) (string, error) {
	if username == "" {
		return "", fmt.Errorf("username is required")
	}

	buf := make([]byte, stateNonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)

	s.mu.Lock()
	s.states[nonce] = stateEntry{
		username:  username,
		createdAt: s.now(),
	}
	s.statesCountAtomic.Store(int64(len(s.states)))
	s.mu.Unlock()

	return nonce, nil
}

// Consume sweeps expired states, then atomically looks up and removes the
// nonce. Unknown, expired, and already-consumed nonces are indistinguishable.
func (s *Store) Consume(_ context.Context, nonce string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepStatesLocked(s.now())

	entry, ok := s.states[nonce]
	if !ok {
		return "", storage.ErrStateNotFound
	}
	delete(s.states, nonce)
	s.statesCountAtomic.Store(int64(len(s.states)))

	return entry.username, nil
}

// sweepStatesLocked removes states older than the TTL. Must be called with
// the write lock held.
func (s *Store) sweepStatesLocked(now time.Time) {
	removed := 0
	for nonce, entry := range s.states {
		if now.Sub(entry.createdAt) > s.stateTTL {
			delete(s.states, nonce)
			removed++
		}
	}
	if removed > 0 {
		s.statesCountAtomic.Store(int64(len(s.states)))
		s.logger.Debug("Swept expired authorization states",
			"removed", removed,
			"remaining", len(s.states))
	}
}

// cleanupLoop periodically sweeps expired authorization states
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			s.sweepStatesLocked(s.now())
			s.mu.Unlock()
		case <-s.stopCleanup:
			return
		}
	}
}
