// Package audit records and queries the immutable security event trail.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/database"
)

// Repository is the storage contract for audit events.
type Repository interface {
	Create(ctx context.Context, e *Event) error
	List(ctx context.Context, orgID string, filter Filter) (*ListResult, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteRepository stores audit events in the audit_events table.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a new audit event repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create appends an event. ID and CreatedAt must already be set.
func (r *SQLiteRepository) Create(ctx context.Context, e *Event) error {
	var details sql.NullString
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, user_id, organization_id, type, resource, details,
		                           ip_address, user_agent, success, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, database.NullString(e.UserID), database.NullString(e.OrganizationID),
		string(e.Type), database.NullString(e.Resource), details,
		database.NullString(e.IPAddress), database.NullString(e.UserAgent),
		database.BoolToInt(e.Success), database.NullString(e.Error),
		database.FormatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// List returns events of one organization matching filter, newest first.
// The organization predicate is always present.
func (r *SQLiteRepository) List(ctx context.Context, orgID string, filter Filter) (*ListResult, error) {
	filter.normalise()

	conditions := []string{"organization_id = ?"}
	args := []any{orgID}

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Resource != "" {
		conditions = append(conditions, "resource = ?")
		args = append(args, filter.Resource)
	}
	if filter.Success != nil {
		conditions = append(conditions, "success = ?")
		args = append(args, database.BoolToInt(*filter.Success))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, database.FormatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "created_at < ?")
		args = append(args, database.FormatTime(filter.Until))
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	result := &ListResult{Limit: filter.Limit, Offset: filter.Offset}

	// WHERE is assembled from fixed fragments with ? placeholders only.
	countQuery := "SELECT COUNT(*) FROM audit_events " + where //nolint:gosec // parameterised
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&result.Total); err != nil {
		return nil, fmt.Errorf("counting audit events: %w", err)
	}

	query := `SELECT id, user_id, organization_id, type, resource, details, ip_address,
	                 user_agent, success, error, created_at
	          FROM audit_events ` + where + ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?` //nolint:gosec // parameterised
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	result.Events = []Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result.Events = append(result.Events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}
	return result, nil
}

// DeleteBefore removes events created before cutoff. Only the retention
// sweep calls this.
func (r *SQLiteRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM audit_events WHERE created_at < ?", database.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning audit events: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var e Event
	var typ string
	var userID, orgID, resource, details, ip, ua, errText sql.NullString
	var success int
	var createdAt string

	if err := rows.Scan(&e.ID, &userID, &orgID, &typ, &resource, &details,
		&ip, &ua, &success, &errText, &createdAt); err != nil {
		return nil, fmt.Errorf("scanning audit event: %w", err)
	}

	e.Type = EventType(typ)
	e.UserID = userID.String
	e.OrganizationID = orgID.String
	e.Resource = resource.String
	e.IPAddress = ip.String
	e.UserAgent = ua.String
	e.Error = errText.String
	e.Success = success != 0

	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
			return nil, fmt.Errorf("decoding audit details for %s: %w", e.ID, err)
		}
	}

	t, err := database.ParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = t
	return &e, nil
}
