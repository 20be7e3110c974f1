package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skobkin/xaescope/internal/domain"
)

type ActionRepo struct {
	db *sql.DB
}

func NewActionRepo(db *sql.DB) *ActionRepo {
	return &ActionRepo{db: db}
}

func (r *ActionRepo) Insert(ctx context.Context, a domain.ActionRecord) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO actions(session_id, command, kind, ops, outcome, error, capture_len, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.SessionID, a.Command, a.Kind, a.Ops, a.Outcome, nullableString(a.Error), a.CaptureLen, toUnixMillis(a.StartedAt), toUnixMillis(a.FinishedAt))
	if err != nil {
		return 0, fmt.Errorf("insert action: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read action id: %w", err)
	}

	return id, nil
}

// ListRecent returns at most limit actions, newest first.
func (r *ActionRepo) ListRecent(ctx context.Context, limit int) ([]domain.ActionRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, command, kind, ops, outcome, error, capture_len, started_at, finished_at
		FROM actions
		ORDER BY finished_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []domain.ActionRecord
	for rows.Next() {
		var (
			a          domain.ActionRecord
			errText    sql.NullString
			startedMs  int64
			finishedMs int64
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Command, &a.Kind, &a.Ops, &a.Outcome, &errText, &a.CaptureLen, &startedMs, &finishedMs); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		if errText.Valid {
			a.Error = errText.String
		}
		a.StartedAt = fromUnixMillis(startedMs)
		a.FinishedAt = fromUnixMillis(finishedMs)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}

	return out, nil
}

// PruneOlderThan deletes actions that finished before cutoff.
func (r *ActionRepo) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM actions WHERE finished_at < ?`, toUnixMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune actions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count pruned actions: %w", err)
	}

	return n, nil
}
