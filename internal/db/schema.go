package db

const schemaDDL = `
CREATE TABLE IF NOT EXISTS training_metrics (
  id TEXT PRIMARY KEY,
  job_id TEXT NOT NULL,
  step INTEGER NOT NULL,
  timestamp TEXT NOT NULL,
  metric_type TEXT NOT NULL,
  metric_name TEXT NOT NULL,
  value REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS training_info (
  id TEXT PRIMARY KEY,
  job_id TEXT NOT NULL,
  step INTEGER NOT NULL,
  timestamp TEXT NOT NULL,
  metric_name TEXT NOT NULL,
  value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS flush_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  flush_id TEXT NOT NULL,
  job_id TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  status TEXT NOT NULL,
  events_written INTEGER NOT NULL DEFAULT 0,
  error_message TEXT,
  duration_ms INTEGER
);

CREATE INDEX IF NOT EXISTS idx_metrics_job_step ON training_metrics (job_id, step);
CREATE INDEX IF NOT EXISTS idx_metrics_job_type_name ON training_metrics (job_id, metric_type, metric_name);
CREATE INDEX IF NOT EXISTS idx_info_job_step ON training_info (job_id, step);
`
