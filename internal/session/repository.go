package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/database"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/tenancy"
)

const sessionColumns = `id, user_id, organization_id, device_info, ip_address, user_agent,
	expires_at, is_active, last_activity_at, terminated_at, created_at`

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

func insertSession(ctx context.Context, q database.Querier, s *Session, tokenHash string) error {
	var device sql.NullString
	if len(s.DeviceInfo) > 0 {
		b, err := json.Marshal(s.DeviceInfo)
		if err != nil {
			return fmt.Errorf("encoding device info: %w", err)
		}
		device = sql.NullString{String: string(b), Valid: true}
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`, token_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.OrganizationID, device, database.NullString(s.IPAddress),
		database.NullString(s.UserAgent), database.FormatTime(s.ExpiresAt),
		database.BoolToInt(s.IsActive), database.FormatTime(s.LastActivityAt),
		database.NullTime(s.TerminatedAt), database.FormatTime(s.CreatedAt), tokenHash,
	)
	return err
}

func getByTokenHash(ctx context.Context, q database.Querier, tokenHash string) (*Session, error) {
	return scanSession(q.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE token_hash = ?", tokenHash))
}

func getByID(ctx context.Context, q database.Querier, id string) (*Session, error) {
	return scanSession(q.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id))
}

func scanSession(s scanner) (*Session, error) {
	var out Session
	var device, ip, ua, terminated sql.NullString
	var active int
	var expiresAt, lastActivity, createdAt string

	err := s.Scan(&out.ID, &out.UserID, &out.OrganizationID, &device, &ip, &ua,
		&expiresAt, &active, &lastActivity, &terminated, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %w", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	out.IPAddress = ip.String
	out.UserAgent = ua.String
	out.IsActive = active != 0

	if device.Valid && device.String != "" {
		var attrs tenancy.Attributes
		if err := json.Unmarshal([]byte(device.String), &attrs); err != nil {
			return nil, fmt.Errorf("decoding device info: %w", err)
		}
		out.DeviceInfo = attrs
	}
	if out.ExpiresAt, err = database.ParseTime(expiresAt); err != nil {
		return nil, err
	}
	if out.LastActivityAt, err = database.ParseTime(lastActivity); err != nil {
		return nil, err
	}
	if out.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if out.TerminatedAt, err = database.ParseNullTime(terminated); err != nil {
		return nil, err
	}
	return &out, nil
}
