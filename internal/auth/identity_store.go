package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/database"
)

// IdentityStore persists identities. Emails are stored normalised.
type IdentityStore interface {
	Create(ctx context.Context, identity *Identity) error
	GetByID(ctx context.Context, id string) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
}

// SQLiteIdentityStore implements IdentityStore on the identities table.
type SQLiteIdentityStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ IdentityStore = (*SQLiteIdentityStore)(nil)

// NewSQLiteIdentityStore creates a new SQLite-backed identity store.
func NewSQLiteIdentityStore(db *sql.DB) *SQLiteIdentityStore {
	return &SQLiteIdentityStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a new identity. The ID is generated if empty.
func (s *SQLiteIdentityStore) Create(ctx context.Context, identity *Identity) error {
	email, err := NormalizeEmail(identity.Email)
	if err != nil {
		return err
	}
	identity.Email = email
	if identity.ID == "" {
		identity.ID = "idn-" + uuid.NewString()
	}

	identity.CreatedAt = s.now()
	identity.UpdatedAt = identity.CreatedAt
	ts := database.FormatTime(identity.CreatedAt)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO identities (id, email, display_name, phone, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		identity.ID, identity.Email, identity.DisplayName, database.NullString(identity.Phone),
		identity.PasswordHash, ts, ts,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("creating identity: %w", err)
	}
	return nil
}

const identityColumns = "id, email, display_name, phone, password_hash, created_at, updated_at"

// GetByID retrieves an identity by id.
func (s *SQLiteIdentityStore) GetByID(ctx context.Context, id string) (*Identity, error) {
	return scanIdentity(s.db.QueryRowContext(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE id = ?", id))
}

// GetByEmail retrieves an identity by email, case-insensitively.
func (s *SQLiteIdentityStore) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	normalised, err := NormalizeEmail(email)
	if err != nil {
		return nil, fmt.Errorf("identity %w", apperr.ErrNotFound)
	}
	return scanIdentity(s.db.QueryRowContext(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE email = ?", normalised))
}

// UpdatePassword replaces an identity's credential hash.
func (s *SQLiteIdentityStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE identities SET password_hash = ?, updated_at = ? WHERE id = ?",
		passwordHash, database.FormatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return fmt.Errorf("identity %w", apperr.ErrNotFound)
	}
	return nil
}

// Count returns the number of identities.
func (s *SQLiteIdentityStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM identities").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting identities: %w", err)
	}
	return n, nil
}

// Delete removes an identity. It is used to undo a creation whose
// surrounding operation failed.
func (s *SQLiteIdentityStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM identities WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting identity: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return fmt.Errorf("identity %w", apperr.ErrNotFound)
	}
	return nil
}

func scanIdentity(row *sql.Row) (*Identity, error) {
	var i Identity
	var phone sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&i.ID, &i.Email, &i.DisplayName, &phone, &i.PasswordHash, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("identity %w", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("scanning identity: %w", err)
	}
	i.Phone = phone.String

	if i.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if i.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &i, nil
}
