package telemetry

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/SeanYan604/ai-toolkit/internal/db"
)

func TestGetOrCreateReturnsSameInstance(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "metrics.db")
	r := NewRegistry(testLogger(), dbPath, Params{})
	defer func() { _ = r.ReleaseAll(context.Background()) }()

	first, err := r.GetOrCreate("job1", "")
	if err != nil {
		t.Fatalf("first GetOrCreate: %v", err)
	}
	second, err := r.GetOrCreate("job1", "ignored-after-first-call.db")
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same collector instance for one job id")
	}
}

func TestGetOrCreateConcurrentFirstCalls(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "metrics.db")
	r := NewRegistry(testLogger(), dbPath, Params{BufferThreshold: 100})
	defer func() { _ = r.ReleaseAll(context.Background()) }()

	const callers = 16
	collectors := make([]*Collector, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.GetOrCreate("job1", "")
			if err != nil {
				t.Errorf("concurrent GetOrCreate: %v", err)
				return
			}
			c.Report(context.Background(), int64(i), map[string]float64{"total": 0.5}, math.NaN(), nil)
			collectors[i] = c
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if collectors[i] != collectors[0] {
			t.Fatalf("caller %d got a different collector instance", i)
		}
	}
	// Mutations from every call site land in the one shared buffer.
	stats := collectors[0].Stats()
	if stats.EventsTotal != callers {
		t.Fatalf("events buffered across callers = %d, want %d", stats.EventsTotal, callers)
	}
}

func TestHealthReportsStoreStats(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "metrics.db")
	r := NewRegistry(testLogger(), dbPath, Params{BufferThreshold: 100})
	defer func() { _ = r.ReleaseAll(context.Background()) }()

	c, err := r.GetOrCreate("job1", "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	c.Report(context.Background(), 1, map[string]float64{"total": 0.5}, 1e-4, nil)
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	stats, ok := r.Health("job1")
	if !ok {
		t.Fatalf("Health reported unknown for a registered job")
	}
	if stats.DBStatus != "ok" {
		t.Fatalf("db status = %q, want ok", stats.DBStatus)
	}
	if stats.DBSizeBytes <= 0 {
		t.Fatalf("db size = %d, want > 0 after a flush", stats.DBSizeBytes)
	}

	if _, ok := r.Health("never-registered"); ok {
		t.Fatalf("Health reported ok for an unknown job")
	}
}

func TestReleaseUnknownJobIsNoop(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger(), filepath.Join(t.TempDir(), "metrics.db"), Params{})
	if err := r.Release(context.Background(), "never-registered"); err != nil {
		t.Fatalf("release unknown job: %v", err)
	}
}

func TestReleaseAllFlushesEveryJob(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "metrics.db")
	r := NewRegistry(testLogger(), dbPath, Params{BufferThreshold: 100})

	for _, jobID := range []string{"jobA", "jobB"} {
		c, err := r.GetOrCreate(jobID, "")
		if err != nil {
			t.Fatalf("GetOrCreate %s: %v", jobID, err)
		}
		c.Report(context.Background(), 1, map[string]float64{"total": 0.5}, 1e-4, nil)
	}

	if err := r.ReleaseAll(context.Background()); err != nil {
		t.Fatalf("ReleaseAll: %v", err)
	}
	if jobs := r.Jobs(); len(jobs) != 0 {
		t.Fatalf("jobs after ReleaseAll = %v, want none", jobs)
	}

	dbm, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer func() { _ = dbm.Close() }()
	for _, jobID := range []string{"jobA", "jobB"} {
		count, err := dbm.MetricCount(context.Background(), jobID)
		if err != nil {
			t.Fatalf("metric count %s: %v", jobID, err)
		}
		if count != 2 {
			t.Fatalf("%s rows = %d, want 2 (loss + lr)", jobID, count)
		}
	}
}
