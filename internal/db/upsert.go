package db

import (
	"context"
	"database/sql"
	"fmt"
)

type MetricRow struct {
	ID         string
	JobID      string
	Step       int64
	Timestamp  string
	MetricType string
	MetricName string
	Value      float64
}

type InfoRow struct {
	ID         string
	JobID      string
	Step       int64
	Timestamp  string
	MetricName string
	Value      string
}

type FlushRecord struct {
	FlushID       string
	JobID         string
	CreatedAt     int64
	Status        string
	EventsWritten int
	ErrorMessage  string
	DurationMS    int64
}

// UpsertBatch writes one flush worth of rows in a single transaction.
// Rows are keyed by id, so re-reporting a (job, step, type, name) tuple
// replaces the previous value instead of duplicating it. The flush audit
// row commits atomically with the batch.
func (m *Manager) UpsertBatch(ctx context.Context, metrics []MetricRow, infos []InfoRow, audit FlushRecord) error {
	tx, err := m.writer.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if len(metrics) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO training_metrics (id, job_id, step, timestamp, metric_type, metric_name, value)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET timestamp = excluded.timestamp, value = excluded.value
`)
		if err != nil {
			return fmt.Errorf("prepare metric upsert: %w", err)
		}
		defer stmt.Close()

		for _, row := range metrics {
			if _, err := stmt.ExecContext(
				ctx,
				row.ID,
				row.JobID,
				row.Step,
				row.Timestamp,
				row.MetricType,
				row.MetricName,
				row.Value,
			); err != nil {
				return fmt.Errorf("upsert metric row: %w", err)
			}
		}
	}

	if len(infos) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO training_info (id, job_id, step, timestamp, metric_name, value)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET timestamp = excluded.timestamp, value = excluded.value
`)
		if err != nil {
			return fmt.Errorf("prepare info upsert: %w", err)
		}
		defer stmt.Close()

		for _, row := range infos {
			if _, err := stmt.ExecContext(
				ctx,
				row.ID,
				row.JobID,
				row.Step,
				row.Timestamp,
				row.MetricName,
				row.Value,
			); err != nil {
				return fmt.Errorf("upsert info row: %w", err)
			}
		}
	}

	if audit.FlushID != "" {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO flush_log (flush_id, job_id, created_at, status, events_written, error_message, duration_ms)
VALUES (?, ?, ?, ?, ?, NULL, ?)
`,
			audit.FlushID,
			audit.JobID,
			audit.CreatedAt,
			audit.Status,
			audit.EventsWritten,
			audit.DurationMS,
		); err != nil {
			return fmt.Errorf("insert flush record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// RecordFlushFailure logs a failed flush attempt outside any transaction.
// Best effort: if storage is the thing that is down, this fails too and the
// caller only keeps its slog warning.
func (m *Manager) RecordFlushFailure(ctx context.Context, audit FlushRecord) error {
	_, err := m.writer.ExecContext(ctx, `
INSERT INTO flush_log (flush_id, job_id, created_at, status, events_written, error_message, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		audit.FlushID,
		audit.JobID,
		audit.CreatedAt,
		audit.Status,
		audit.EventsWritten,
		audit.ErrorMessage,
		audit.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert flush failure record: %w", err)
	}
	return nil
}
