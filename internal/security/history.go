package security

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/database"
)

var errNoVerifier = errors.New("security guard has no credential verifier")

// CheckPasswordReuse reports whether candidate matches any retained
// password of userID. candidate is usually the plaintext credential, checked
// through the verifier; an exact match against a stored hash also counts.
func (g *Guard) CheckPasswordReuse(ctx context.Context, userID, candidate string) (bool, error) {
	if g.verifier == nil {
		return false, errNoVerifier
	}

	var hashes []string
	err := database.RetryRead(ctx, func() error {
		var err error
		hashes, err = g.retainedHashes(ctx, userID)
		return err
	})
	if err != nil {
		return false, err
	}

	for _, h := range hashes {
		if h == candidate {
			return true, nil
		}
		ok, err := g.verifier.VerifyPassword(candidate, h)
		if err != nil {
			g.logger.Warn("unreadable password history entry", "user_id", userID, "error", err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (g *Guard) retainedHashes(ctx context.Context, userID string) ([]string, error) {
	cutoff := g.clock.Now().Add(-g.policy.HistoryRetention)
	rows, err := g.db.QueryContext(ctx,
		`SELECT password_hash FROM password_history
		 WHERE user_id = ? AND created_at > ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, database.FormatTime(cutoff), g.policy.HistoryDepth)
	if err != nil {
		return nil, fmt.Errorf("reading password history: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scanning password history: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating password history: %w", err)
	}
	return hashes, nil
}

// AppendPasswordHistory stores hash for userID and prunes that user's
// history to the policy bounds. It emits nothing.
func (g *Guard) AppendPasswordHistory(ctx context.Context, userID, hash string) error {
	now := g.clock.Now()
	return database.WithTx(ctx, g.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO password_history (user_id, password_hash, created_at) VALUES (?, ?, ?)",
			userID, hash, database.FormatTime(now))
		if err != nil {
			return fmt.Errorf("appending password history: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM password_history WHERE user_id = ? AND (created_at <= ? OR id NOT IN (
			     SELECT id FROM password_history WHERE user_id = ?
			     ORDER BY created_at DESC, id DESC LIMIT ?))`,
			userID, database.FormatTime(now.Add(-g.policy.HistoryRetention)), userID, g.policy.HistoryDepth)
		if err != nil {
			return fmt.Errorf("trimming password history: %w", err)
		}
		return nil
	})
}

// RecordPasswordChange appends newHash to the history of userID and emits
// password_change.
func (g *Guard) RecordPasswordChange(ctx context.Context, userID, orgID, newHash string) error {
	if err := g.AppendPasswordHistory(ctx, userID, newHash); err != nil {
		return err
	}
	g.recorder.Record(ctx, audit.Event{
		UserID:         userID,
		OrganizationID: orgID,
		Type:           audit.EventPasswordChange,
		Resource:       "identity:" + userID,
		Success:        true,
	})
	return nil
}

// PrunePasswordHistory applies the depth and age bounds to every user.
func (g *Guard) PrunePasswordHistory(ctx context.Context) (int64, error) {
	cutoff := g.clock.Now().Add(-g.policy.HistoryRetention)
	res, err := g.db.ExecContext(ctx,
		`DELETE FROM password_history WHERE created_at <= ? OR id IN (
		     SELECT id FROM (
		         SELECT id, ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY created_at DESC, id DESC) AS rn
		         FROM password_history)
		     WHERE rn > ?)`,
		database.FormatTime(cutoff), g.policy.HistoryDepth)
	if err != nil {
		return 0, fmt.Errorf("pruning password history: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}
