package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/SeanYan604/ai-toolkit/internal/db"
)

// Registry hands out exactly one collector per job id. It is constructed
// once and passed to whoever needs it; there is no package-level instance.
type Registry struct {
	logger        *slog.Logger
	defaultDBPath string
	params        Params

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	collector *Collector
	dbm       *db.Manager
}

func NewRegistry(logger *slog.Logger, defaultDBPath string, params Params) *Registry {
	return &Registry{
		logger:        logger,
		defaultDBPath: defaultDBPath,
		params:        params.withDefaults(),
		entries:       make(map[string]*registryEntry),
	}
}

// GetOrCreate returns the collector for jobID, constructing it on first use.
// dbPath overrides the registry default and is honored only on the creating
// call. Construction happens under the registry lock, so two concurrent
// first calls for a new job id still build a single collector.
func (r *Registry) GetOrCreate(jobID, dbPath string) (*Collector, error) {
	if jobID == "" {
		return nil, errors.New("empty job id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[jobID]; ok {
		return entry.collector, nil
	}

	path := dbPath
	if path == "" {
		path = r.defaultDBPath
	}
	dbm, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metrics store for job %s: %w", jobID, err)
	}

	params := r.params
	if params.DiskStatsPath == "" {
		params.DiskStatsPath = filepath.Dir(path)
	}
	collector := NewCollector(r.logger, jobID, dbm, params)
	r.entries[jobID] = &registryEntry{collector: collector, dbm: dbm}
	r.logger.Info("metrics collector created", "job_id", jobID, "db_path", path)
	return collector, nil
}

// Release shuts down the job's collector (final flush included) and closes
// its store. Unknown job ids are a no-op.
func (r *Registry) Release(ctx context.Context, jobID string) error {
	r.mu.Lock()
	entry, ok := r.entries[jobID]
	if ok {
		delete(r.entries, jobID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.releaseEntry(ctx, jobID, entry)
}

// ReleaseAll tears down every registered collector; used at process end.
func (r *Registry) ReleaseAll(ctx context.Context) error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	var joined error
	for jobID, entry := range entries {
		if err := r.releaseEntry(ctx, jobID, entry); err != nil {
			joined = errors.Join(joined, err)
		}
	}
	return joined
}

func (r *Registry) releaseEntry(ctx context.Context, jobID string, entry *registryEntry) error {
	var joined error
	if err := entry.collector.Shutdown(ctx); err != nil {
		joined = errors.Join(joined, fmt.Errorf("shutdown collector %s: %w", jobID, err))
	}
	if err := entry.dbm.Checkpoint(ctx); err != nil {
		r.logger.Warn("wal checkpoint on release failed", "job_id", jobID, "error", err)
	}
	stats := entry.dbm.Stats()
	if err := entry.dbm.Close(); err != nil {
		joined = errors.Join(joined, fmt.Errorf("close store %s: %w", jobID, err))
	}
	r.logger.Info("metrics collector released",
		"job_id", jobID,
		"db_status", stats.DBStatus,
		"db_size_bytes", stats.DBSizeBytes,
		"wal_size_bytes", stats.WALSize,
	)
	return joined
}

// Health reports the storage health for a registered job; ok is false when
// the job id is unknown.
func (r *Registry) Health(jobID string) (db.HealthStats, bool) {
	r.mu.Lock()
	entry, ok := r.entries[jobID]
	r.mu.Unlock()
	if !ok {
		return db.HealthStats{}, false
	}
	return entry.dbm.Stats(), true
}

func (r *Registry) Jobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]string, 0, len(r.entries))
	for jobID := range r.entries {
		jobs = append(jobs, jobID)
	}
	slices.Sort(jobs)
	return jobs
}
