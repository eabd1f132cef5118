// Package database provides SQLite connectivity for the identity core.
//
// This package manages:
//   - Database connection with WAL mode and foreign keys enforced
//   - Embedded schema migrations (YYYYMMDD_HHMMSS_name.up.sql / .down.sql)
//   - Transaction helpers and the Querier abstraction shared by repositories
//   - Fixed-width UTC timestamp encoding so range predicates work lexically
//   - Constraint-violation detection for insert-and-handle-conflict writes
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//   - Tokens are stored as SHA-256 digests, never raw
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
