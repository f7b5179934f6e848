// Package storage provides interfaces and record types for persisting the
// Strava credential core's state.
//
// Two independent key spaces are defined:
//   - ConnectionStore: per-username records of encrypted token pairs
//   - StateRegistry: short-lived one-time CSRF state nonces
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for the prototype deployment and tests
//
// No transaction spans both key spaces; they can be backed independently.
package storage
