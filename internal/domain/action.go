package domain

import (
	"context"
	"time"

	"github.com/skobkin/xaescope/internal/events"
)

// ActionRecord is one journal row. Capture bytes are never stored.
type ActionRecord struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Command    string    `json:"command"`
	Kind       string    `json:"kind"`
	Ops        int       `json:"ops"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	CaptureLen int       `json:"capture_len"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r ActionRecord) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func ActionRecordFromEvent(e events.ActionCompleted) ActionRecord {
	return ActionRecord{
		SessionID:  e.SessionID,
		Command:    e.Command,
		Kind:       e.Kind,
		Ops:        e.Ops,
		Outcome:    string(e.Outcome),
		Error:      e.Err,
		CaptureLen: e.CaptureLen,
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
	}
}

type ActionRepository interface {
	Insert(ctx context.Context, r ActionRecord) (int64, error)
	ListRecent(ctx context.Context, limit int) ([]ActionRecord, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
