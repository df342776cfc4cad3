package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	_ "modernc.org/sqlite"
)

// Manager owns the SQLite file holding training metrics. A single-connection
// writer pool serializes all mutations; a small reader pool serves lookups.
type Manager struct {
	path   string
	writer *sql.DB
	reader *sql.DB
}

type HealthStats struct {
	DBStatus    string
	DBSizeBytes int64
	WALSize     int64
}

const pragmaSQL = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA busy_timeout = 10000;
PRAGMA temp_store = MEMORY;
PRAGMA auto_vacuum = INCREMENTAL;
PRAGMA foreign_keys = ON;
PRAGMA cache_size = -8000;
`

func init() {
	sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, _ string) error {
		_, err := conn.ExecContext(context.Background(), pragmaSQL, []driver.NamedValue{})
		return err
	})
}

func Open(path string) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := "file:" + path
	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer db: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader db: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(4)

	if err := writer.PingContext(context.Background()); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}
	if err := reader.PingContext(context.Background()); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, fmt.Errorf("ping reader: %w", err)
	}

	if _, err := writer.Exec(schemaDDL); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Manager{
		path:   path,
		writer: writer,
		reader: reader,
	}, nil
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Checkpoint(ctx context.Context) error {
	_, err := m.writer.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (m *Manager) Close() error {
	var errs []error
	if err := m.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.reader.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (m *Manager) Ping(ctx context.Context) error {
	return m.writer.PingContext(ctx)
}

func (m *Manager) Stats() HealthStats {
	stats := HealthStats{
		DBStatus: "ok",
	}
	if err := m.Ping(context.Background()); err != nil {
		stats.DBStatus = "error"
	}
	stats.DBSizeBytes = m.DBSizeBytes()
	stats.WALSize = m.WALSizeBytes()
	return stats
}

func (m *Manager) Pragmas(ctx context.Context) (journalMode string, busyTimeout int, err error) {
	if err = m.writer.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return "", 0, err
	}
	if err = m.writer.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		return "", 0, err
	}
	return journalMode, busyTimeout, nil
}
