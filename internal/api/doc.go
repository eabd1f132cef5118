// Package api implements the operational HTTP server for Neer Thuli.
//
// This package provides:
//   - Liveness (/healthz) and readiness (/readyz) probes
//   - Prometheus scrape endpoint (/metrics)
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Scope
//
// The server carries no business endpoints. Account, invitation and session
// operations are exposed by the account package to an embedding transport.
//
// # Readiness
//
// The database is a required dependency: readiness fails when it cannot be
// pinged. MQTT and InfluxDB are optional and are reported as "degraded"
// without failing the probe.
package api
