// Package logging provides structured logging for the identity core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	sessions := session.NewManager(repo, ..., logger.Component("session"))
//
// # Security
//
// Never log raw tokens, passwords, or password hashes. Invitation and session
// tokens are identified in logs by their record id only.
package logging
