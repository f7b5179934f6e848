// Package instrumentation provides OpenTelemetry metrics and tracing for the
// Strava credential core. It defaults to no-op providers so the library adds
// zero overhead until a deployment wires real exporters.
package instrumentation
