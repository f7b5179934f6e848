// Package providers defines the upstream provider abstraction used by the
// credential core: the Provider interface for the OAuth token endpoint and
// the APIClient interface for authenticated data calls.
//
// Implementations:
//   - providers/strava: the Strava OAuth and v3 API implementation
//   - providers/mock: a scripted provider for tests
package providers
