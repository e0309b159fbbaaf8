package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"screencopy/models"
)

// HistoryService stores one row per command flow.
type HistoryService struct {
	db *sql.DB
}

func NewHistoryService(db *sql.DB) *HistoryService {
	return &HistoryService{db: db}
}

func (h *HistoryService) Record(ctx context.Context, rec models.SessionRecord) error {
	var endedAt sql.NullInt64
	if rec.EndedAt != nil {
		endedAt = sql.NullInt64{Int64: rec.EndedAt.UnixMilli(), Valid: true}
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO sessions (id, command, serial, outcome, error_kind, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			serial = excluded.serial,
			outcome = excluded.outcome,
			error_kind = excluded.error_kind,
			error = excluded.error,
			ended_at = excluded.ended_at`,
		rec.ID, rec.Command, rec.Serial, rec.Outcome, rec.ErrorKind, rec.Error,
		rec.StartedAt.UnixMilli(), endedAt)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", rec.ID, err)
	}
	return nil
}

// List returns the most recent records first.
func (h *HistoryService) List(ctx context.Context, limit int) ([]models.SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, command, serial, outcome, error_kind, error, started_at, ended_at
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.SessionRecord
	for rows.Next() {
		var (
			rec       models.SessionRecord
			startedAt int64
			endedAt   sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.Command, &rec.Serial, &rec.Outcome, &rec.ErrorKind, &rec.Error, &startedAt, &endedAt); err != nil {
			return nil, err
		}
		rec.StartedAt = time.UnixMilli(startedAt)
		if endedAt.Valid {
			t := time.UnixMilli(endedAt.Int64)
			rec.EndedAt = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
