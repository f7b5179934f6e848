// Package testutil provides shared helpers for tests: a controllable clock,
// assertion shorthands, and HTTP test server constructors.
package testutil
