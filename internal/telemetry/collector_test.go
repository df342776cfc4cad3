package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/SeanYan604/ai-toolkit/internal/db"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeStore lets tests fail flushes on demand.
type fakeStore struct {
	mu       sync.Mutex
	fail     bool
	upserted []db.MetricRow
	failures []db.FlushRecord
}

func (f *fakeStore) UpsertBatch(_ context.Context, metrics []db.MetricRow, _ []db.InfoRow, _ db.FlushRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("storage unavailable")
	}
	f.upserted = append(f.upserted, metrics...)
	return nil
}

func (f *fakeStore) RecordFlushFailure(_ context.Context, audit db.FlushRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, audit)
	return nil
}

func (f *fakeStore) CheckpointIfWALExceeds(context.Context, int64) (bool, error) {
	return false, nil
}

func (f *fakeStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeStore) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserted)
}

func TestReportFlushesAtThreshold(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	c := NewCollector(testLogger(), "job1", store, Params{BufferThreshold: 10})

	// NaN learning rate, so each report buffers exactly one loss event.
	for step := int64(1); step <= 9; step++ {
		c.Report(context.Background(), step, map[string]float64{"total": 0.5}, math.NaN(), nil)
	}
	if got := c.Stats().Buffered; got != 9 {
		t.Fatalf("buffered after 9 reports = %d, want 9", got)
	}
	if store.rowCount() != 0 {
		t.Fatalf("store rows before threshold = %d, want 0", store.rowCount())
	}

	c.Report(context.Background(), 10, map[string]float64{"total": 0.5}, math.NaN(), nil)
	if got := c.Stats().Buffered; got != 0 {
		t.Fatalf("buffered after threshold crossing = %d, want 0", got)
	}
	if store.rowCount() != 10 {
		t.Fatalf("store rows after flush = %d, want 10", store.rowCount())
	}
	if got := c.Stats().Flushes; got != 1 {
		t.Fatalf("flush count = %d, want exactly 1", got)
	}
}

func TestFlushFailureRetainsBuffer(t *testing.T) {
	t.Parallel()

	store := &fakeStore{fail: true}
	c := NewCollector(testLogger(), "job1", store, Params{BufferThreshold: 2, MaxBufferedEvents: 100})

	c.Report(context.Background(), 1, map[string]float64{"total": 0.5}, math.NaN(), nil)
	c.Report(context.Background(), 2, map[string]float64{"total": 0.4}, math.NaN(), nil)

	stats := c.Stats()
	if stats.Buffered != 2 {
		t.Fatalf("buffered after failed flush = %d, want 2 retained", stats.Buffered)
	}
	if stats.FlushFailures != 1 {
		t.Fatalf("flush failures = %d, want 1", stats.FlushFailures)
	}
	if len(store.failures) != 1 {
		t.Fatalf("recorded failure audits = %d, want 1", len(store.failures))
	}

	store.setFail(false)
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if store.rowCount() != 2 {
		t.Fatalf("store rows after retry = %d, want 2", store.rowCount())
	}
	if got := c.Stats().Buffered; got != 0 {
		t.Fatalf("buffered after retry = %d, want 0", got)
	}
}

// blockingStore hangs every write until the flush deadline cancels it.
type blockingStore struct {
	fakeStore
}

func (b *blockingStore) UpsertBatch(ctx context.Context, _ []db.MetricRow, _ []db.InfoRow, _ db.FlushRecord) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestFlushTimeoutBoundsHungWrite(t *testing.T) {
	t.Parallel()

	store := &blockingStore{}
	c := NewCollector(testLogger(), "job1", store, Params{
		BufferThreshold: 100,
		FlushTimeout:    20 * time.Millisecond,
	})

	c.Report(context.Background(), 1, map[string]float64{"total": 0.5}, math.NaN(), nil)

	start := time.Now()
	err := c.Flush(context.Background())
	if err == nil {
		t.Fatalf("Flush against a hung store succeeded, want deadline error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Flush error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Flush blocked %s, want it bounded near the 20ms timeout", elapsed)
	}

	stats := c.Stats()
	if stats.Buffered != 1 {
		t.Fatalf("buffered after timed-out flush = %d, want 1 retained", stats.Buffered)
	}
	if stats.FlushFailures != 1 {
		t.Fatalf("flush failures = %d, want 1", stats.FlushFailures)
	}
}

func TestRetainedBufferIsCapped(t *testing.T) {
	t.Parallel()

	store := &fakeStore{fail: true}
	c := NewCollector(testLogger(), "job1", store, Params{BufferThreshold: 2, MaxBufferedEvents: 3})

	for step := int64(1); step <= 6; step++ {
		c.Report(context.Background(), step, map[string]float64{"total": 0.5}, math.NaN(), nil)
	}

	stats := c.Stats()
	if stats.Buffered > 3 {
		t.Fatalf("buffered = %d, want capped at 3", stats.Buffered)
	}
	if stats.EventsDropped == 0 {
		t.Fatalf("expected overflow drops to be counted")
	}
}

func TestReportWithSystemStats(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	c := NewCollector(testLogger(), "job1", store, Params{
		BufferThreshold: 100,
		DiskStatsPath:   t.TempDir(),
	})

	c.ReportWithSystemStats(context.Background(), 1, map[string]float64{"total": 0.5}, 1e-4, "1.5 it/s")
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// Loss, lr, and the speed info row at minimum; sampled host stats may
	// add system rows depending on the platform.
	if store.rowCount() < 3 {
		t.Fatalf("rows = %d, want at least loss+lr+speed_info", store.rowCount())
	}
	var foundSpeed bool
	for _, row := range store.upserted {
		if row.MetricName == "speed_info" && row.MetricType == "info" {
			foundSpeed = true
		}
	}
	if !foundSpeed {
		t.Fatalf("speed_info row missing: %+v", store.upserted)
	}
}

func TestFlushEmptyBufferIsNoop(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	c := NewCollector(testLogger(), "job1", store, Params{})
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("empty flush: %v", err)
	}
	if store.rowCount() != 0 {
		t.Fatalf("empty flush wrote %d rows", store.rowCount())
	}
}

func TestShutdownFlushesAndStops(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	c := NewCollector(testLogger(), "job1", store, Params{BufferThreshold: 100})

	c.Report(context.Background(), 1, map[string]float64{"total": 0.5}, 1e-4, nil)
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if store.rowCount() != 2 {
		t.Fatalf("rows after shutdown = %d, want 2", store.rowCount())
	}

	c.Report(context.Background(), 2, map[string]float64{"total": 0.4}, 1e-4, nil)
	if got := c.Stats().Buffered; got != 0 {
		t.Fatalf("report after shutdown buffered %d events, want 0", got)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestReportUpsertsAgainstSQLite(t *testing.T) {
	t.Parallel()

	dbm, err := db.Open(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = dbm.Close() }()

	c := NewCollector(testLogger(), "job1", dbm, Params{BufferThreshold: 100})

	// Same step reported twice: the row must hold the latest value.
	c.Report(context.Background(), 5, map[string]float64{"total": 0.9}, 1e-4, nil)
	c.Report(context.Background(), 5, map[string]float64{"total": 0.42}, 1e-4, nil)
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	series, err := dbm.MetricsByName(context.Background(), "job1", "loss", "total")
	if err != nil {
		t.Fatalf("metrics by name: %v", err)
	}
	if len(series) != 1 {
		t.Fatalf("loss/total rows = %d, want 1 after duplicate report", len(series))
	}
	if series[0].Value != 0.42 {
		t.Fatalf("value = %v, want latest 0.42", series[0].Value)
	}

	rec, err := dbm.LatestFlush(context.Background(), "job1")
	if err != nil {
		t.Fatalf("latest flush: %v", err)
	}
	if rec.Status != "ok" || rec.EventsWritten != 4 {
		t.Fatalf("unexpected flush audit: %+v", rec)
	}
}
