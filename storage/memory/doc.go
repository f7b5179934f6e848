// Package memory implements storage.ConnectionStore and storage.StateRegistry
// on plain maps guarded by a RWMutex. State nonces are swept lazily on every
// Consume and periodically by a background loop; connections live until
// deleted. Suitable for development, testing, and single-instance deployments.
package memory
