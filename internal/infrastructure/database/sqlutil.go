package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// TimeLayout is the on-disk timestamp format. It is fixed width and always
// UTC, so lexical comparison in SQL matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// readRetryDelay is the pause before the single retry of a transient read.
const readRetryDelay = 50 * time.Millisecond

// FormatTime encodes t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime decodes a stored timestamp. RFC3339 is accepted for rows written
// by hand or by older tooling.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// ParseNullTime decodes a nullable timestamp column.
func ParseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil //nolint:nilnil // absent timestamp is not an error
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// NullTime encodes an optional timestamp for a nullable column.
func NullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTime(*t), Valid: true}
}

// NullString maps the empty string to SQL NULL.
func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// BoolToInt encodes a bool for an INTEGER column.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// IsUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY
// constraint failure.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// IsUniqueViolationOn reports whether err is a unique violation naming
// column, written as "table.column" the way SQLite reports it.
func IsUniqueViolationOn(err error, column string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || !IsUniqueViolation(err) {
		return false
	}
	return strings.Contains(sqliteErr.Error(), column)
}

// IsTransient reports whether err is a lock or busy condition worth retrying.
func IsTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// RetryRead runs an idempotent read and retries it once if the first attempt
// failed with a transient error. Never use it for writes.
func RetryRead(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !IsTransient(err) {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(readRetryDelay):
	}
	return fn()
}
