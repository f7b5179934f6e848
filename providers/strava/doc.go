// Package strava implements the providers interfaces for Strava: OAuth code
// exchange and refresh against the Strava token endpoint, and a bearer-auth
// client for the v3 data API.
package strava
