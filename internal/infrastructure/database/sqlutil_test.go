package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

func TestFormatParseTime(t *testing.T) {
	in := time.Date(2026, 3, 4, 5, 6, 7, 123456789, time.FixedZone("X", 3600))

	s := FormatTime(in)
	if s != "2026-03-04T04:06:07.123456Z" {
		t.Fatalf("FormatTime() = %q", s)
	}

	got, err := ParseTime(s)
	if err != nil {
		t.Fatalf("ParseTime() error = %v", err)
	}
	if !got.Equal(in.Truncate(time.Microsecond)) {
		t.Errorf("ParseTime() = %v, want %v", got, in)
	}

	if _, err := ParseTime("2026-03-04T04:06:07Z"); err != nil {
		t.Errorf("ParseTime(RFC3339) error = %v", err)
	}
	if _, err := ParseTime("not a time"); err == nil {
		t.Error("ParseTime(garbage) expected error")
	}
}

func TestFormatTime_LexicalOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	earlier := FormatTime(base.Add(999 * time.Millisecond))
	later := FormatTime(base.Add(time.Second))
	if earlier >= later {
		t.Errorf("%q should sort before %q", earlier, later)
	}
}

func TestNullHelpers(t *testing.T) {
	if NullString("").Valid {
		t.Error("NullString(\"\") should be NULL")
	}
	if !NullString("x").Valid {
		t.Error("NullString(\"x\") should be valid")
	}
	if NullTime(nil).Valid {
		t.Error("NullTime(nil) should be NULL")
	}

	now := time.Now()
	nt := NullTime(&now)
	parsed, err := ParseNullTime(nt)
	if err != nil || parsed == nil {
		t.Fatalf("ParseNullTime() = %v, %v", parsed, err)
	}
	if got, _ := ParseNullTime(sql.NullString{}); got != nil { //nolint:errcheck // nil input never errors
		t.Errorf("ParseNullTime(NULL) = %v, want nil", got)
	}
	if BoolToInt(true) != 1 || BoolToInt(false) != 0 {
		t.Error("BoolToInt mismatch")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE uniq (id TEXT PRIMARY KEY, slug TEXT UNIQUE)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO uniq VALUES ('a', 'one')"); err != nil {
		t.Fatalf("INSERT error = %v", err)
	}

	_, err := db.ExecContext(ctx, "INSERT INTO uniq VALUES ('b', 'one')")
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(unique) = false for %v", err)
	}

	_, err = db.ExecContext(ctx, "INSERT INTO uniq VALUES ('a', 'two')")
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(primary key) = false for %v", err)
	}

	if !IsUniqueViolationOn(err, "uniq.id") || IsUniqueViolationOn(err, "uniq.slug") {
		t.Errorf("IsUniqueViolationOn(primary key) mismatch for %v", err)
	}
	_, err = db.ExecContext(ctx, "INSERT INTO uniq VALUES ('c', 'one')")
	if !IsUniqueViolationOn(err, "uniq.slug") || IsUniqueViolationOn(err, "uniq.id") {
		t.Errorf("IsUniqueViolationOn(slug) mismatch for %v", err)
	}

	if IsUniqueViolation(errors.New("UNIQUE constraint failed")) {
		t.Error("plain errors must not match")
	}
	if IsUniqueViolation(nil) {
		t.Error("nil must not match")
	}
}

func TestRetryRead(t *testing.T) {
	t.Run("non-transient error is not retried", func(t *testing.T) {
		calls := 0
		want := errors.New("boom")
		err := RetryRead(context.Background(), func() error {
			calls++
			return want
		})
		if !errors.Is(err, want) || calls != 1 {
			t.Errorf("RetryRead() = %v after %d calls, want boom after 1", err, calls)
		}
	})

	t.Run("success is returned immediately", func(t *testing.T) {
		calls := 0
		if err := RetryRead(context.Background(), func() error { calls++; return nil }); err != nil || calls != 1 {
			t.Errorf("RetryRead() = %v after %d calls", err, calls)
		}
	})
}
