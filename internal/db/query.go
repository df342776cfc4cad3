package db

import (
	"context"
	"database/sql"
	"fmt"
)

// MetricsForJob returns every metric row for a job ordered by step, then by
// name within a step for stable output.
func (m *Manager) MetricsForJob(ctx context.Context, jobID string) ([]MetricRow, error) {
	rows, err := m.reader.QueryContext(ctx, `
SELECT id, job_id, step, timestamp, metric_type, metric_name, value
FROM training_metrics
WHERE job_id = ?
ORDER BY step, metric_type, metric_name
`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job metrics: %w", err)
	}
	defer rows.Close()
	return scanMetricRows(rows)
}

// MetricsByName returns the series for one (metric_type, metric_name) pair,
// ordered by step.
func (m *Manager) MetricsByName(ctx context.Context, jobID, metricType, metricName string) ([]MetricRow, error) {
	rows, err := m.reader.QueryContext(ctx, `
SELECT id, job_id, step, timestamp, metric_type, metric_name, value
FROM training_metrics
WHERE job_id = ? AND metric_type = ? AND metric_name = ?
ORDER BY step
`, jobID, metricType, metricName)
	if err != nil {
		return nil, fmt.Errorf("query metric series: %w", err)
	}
	defer rows.Close()
	return scanMetricRows(rows)
}

func (m *Manager) InfoForJob(ctx context.Context, jobID string) ([]InfoRow, error) {
	rows, err := m.reader.QueryContext(ctx, `
SELECT id, job_id, step, timestamp, metric_name, value
FROM training_info
WHERE job_id = ?
ORDER BY step, metric_name
`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job info: %w", err)
	}
	defer rows.Close()

	var out []InfoRow
	for rows.Next() {
		var row InfoRow
		if err := rows.Scan(&row.ID, &row.JobID, &row.Step, &row.Timestamp, &row.MetricName, &row.Value); err != nil {
			return nil, fmt.Errorf("scan info row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (m *Manager) MetricCount(ctx context.Context, jobID string) (int64, error) {
	var out int64
	if err := m.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM training_metrics WHERE job_id = ?", jobID).Scan(&out); err != nil {
		return 0, err
	}
	return out, nil
}

func (m *Manager) InfoCount(ctx context.Context, jobID string) (int64, error) {
	var out int64
	if err := m.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM training_info WHERE job_id = ?", jobID).Scan(&out); err != nil {
		return 0, err
	}
	return out, nil
}

func (m *Manager) LatestFlush(ctx context.Context, jobID string) (FlushRecord, error) {
	var rec FlushRecord
	err := m.reader.QueryRowContext(ctx, `
SELECT flush_id, job_id, created_at, status, events_written, COALESCE(error_message,''), COALESCE(duration_ms,0)
FROM flush_log
WHERE job_id = ?
ORDER BY id DESC LIMIT 1
`, jobID).Scan(
		&rec.FlushID,
		&rec.JobID,
		&rec.CreatedAt,
		&rec.Status,
		&rec.EventsWritten,
		&rec.ErrorMessage,
		&rec.DurationMS,
	)
	return rec, err
}

func scanMetricRows(rows *sql.Rows) ([]MetricRow, error) {
	var out []MetricRow
	for rows.Next() {
		var row MetricRow
		if err := rows.Scan(&row.ID, &row.JobID, &row.Step, &row.Timestamp, &row.MetricType, &row.MetricName, &row.Value); err != nil {
			return nil, fmt.Errorf("scan metric row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
