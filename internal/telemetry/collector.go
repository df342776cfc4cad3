package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/SeanYan604/ai-toolkit/internal/db"
	"github.com/SeanYan604/ai-toolkit/internal/sysinfo"
)

// MetricStore is the slice of the database layer the collector needs.
type MetricStore interface {
	UpsertBatch(ctx context.Context, metrics []db.MetricRow, infos []db.InfoRow, audit db.FlushRecord) error
	RecordFlushFailure(ctx context.Context, audit db.FlushRecord) error
	CheckpointIfWALExceeds(ctx context.Context, thresholdBytes int64) (bool, error)
}

type Params struct {
	BufferThreshold      int
	MaxBufferedEvents    int
	FlushTimeout         time.Duration
	WALRestartThresholdB int64

	// DiskStatsPath is the directory sampled for the automatic disk usage
	// extra; empty disables disk sampling.
	DiskStatsPath string
}

func (p Params) withDefaults() Params {
	if p.BufferThreshold <= 0 {
		p.BufferThreshold = DefaultBufferThreshold
	}
	if p.MaxBufferedEvents < p.BufferThreshold {
		p.MaxBufferedEvents = DefaultMaxBufferedEvents
	}
	if p.FlushTimeout <= 0 {
		p.FlushTimeout = DefaultFlushTimeout
	}
	return p
}

// Collector buffers metric events for one job and flushes them to the store
// in batches. Report and Flush share one lock, so a flush never observes a
// partially appended batch and concurrent reports never interleave.
type Collector struct {
	jobID  string
	logger *slog.Logger
	store  MetricStore
	params Params

	mu     sync.Mutex
	buffer []Event
	closed bool

	eventsBuffered atomic.Int64
	eventsSkipped  atomic.Int64
	eventsDropped  atomic.Int64
	flushes        atomic.Int64
	flushFailures  atomic.Int64
}

func NewCollector(logger *slog.Logger, jobID string, store MetricStore, params Params) *Collector {
	c := &Collector{
		jobID:  jobID,
		logger: logger,
		store:  store,
		params: params.withDefaults(),
	}
	// Safety net only: Shutdown is the contract, the finalizer just keeps a
	// forgotten collector from silently losing its tail of events.
	runtime.SetFinalizer(c, (*Collector).finalize)
	return c
}

func (c *Collector) JobID() string {
	return c.jobID
}

// Report records one training step. It never fails the caller: unusable
// values are skipped and flush errors surface only as warnings. The calling
// goroutine blocks for the duration of a triggered flush, so slow storage
// throttles the loop instead of growing the buffer without bound.
func (c *Collector) Report(ctx context.Context, step int64, losses map[string]float64, lr float64, extras map[string]any) {
	events, skipped := buildStepEvents(c.jobID, step, time.Now(), losses, lr, extras)
	if skipped > 0 {
		c.eventsSkipped.Add(int64(skipped))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.eventsDropped.Add(int64(len(events)))
		return
	}
	c.buffer = append(c.buffer, events...)
	c.eventsBuffered.Add(int64(len(events)))

	if len(c.buffer) >= c.params.BufferThreshold {
		if err := c.flushLocked(ctx); err != nil {
			c.logger.Warn("metric flush failed, retaining buffer",
				"job_id", c.jobID,
				"buffered", len(c.buffer),
				"error", err,
			)
		}
	}
}

// ReportWithSystemStats is Report with automatically sampled system extras
// (process memory, disk usage) merged in, plus an optional speed string.
func (c *Collector) ReportWithSystemStats(ctx context.Context, step int64, losses map[string]float64, lr float64, speedInfo string) {
	extras := sysinfo.StepExtras(c.params.DiskStatsPath)
	if speedInfo != "" {
		extras["speed_info"] = speedInfo
	}
	c.Report(ctx, step, losses, lr, extras)
}

// Flush drains the buffer in one durable batch write. The buffer is cleared
// only on success; on failure it is retained for the next trigger, capped at
// MaxBufferedEvents with oldest events evicted first.
func (c *Collector) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked(ctx)
}

func (c *Collector) flushLocked(ctx context.Context) error {
	if len(c.buffer) == 0 {
		return nil
	}

	metrics := make([]db.MetricRow, 0, len(c.buffer))
	infos := make([]db.InfoRow, 0)
	for _, ev := range c.buffer {
		metrics = append(metrics, db.MetricRow{
			ID:         ev.ID,
			JobID:      ev.JobID,
			Step:       ev.Step,
			Timestamp:  ev.Timestamp,
			MetricType: string(ev.Type),
			MetricName: ev.Name,
			Value:      ev.Value,
		})
		if ev.Type == MetricTypeInfo && ev.Text != "" {
			infos = append(infos, db.InfoRow{
				ID:         ev.ID,
				JobID:      ev.JobID,
				Step:       ev.Step,
				Timestamp:  ev.Timestamp,
				MetricName: ev.Name,
				Value:      ev.Text,
			})
		}
	}

	audit := db.FlushRecord{
		FlushID:       uuid.NewString(),
		JobID:         c.jobID,
		CreatedAt:     time.Now().UnixMilli(),
		Status:        "ok",
		EventsWritten: len(c.buffer),
	}

	flushCtx, cancel := context.WithTimeout(ctx, c.params.FlushTimeout)
	defer cancel()

	start := time.Now()
	err := c.store.UpsertBatch(flushCtx, metrics, infos, audit)
	elapsed := time.Since(start)

	if err != nil {
		c.flushFailures.Add(1)
		c.recordFailure(err, elapsed)
		c.capRetainedLocked()
		return fmt.Errorf("flush %d events: %w", len(c.buffer), err)
	}

	c.flushes.Add(1)
	c.buffer = c.buffer[:0]

	if c.params.WALRestartThresholdB > 0 {
		if _, cpErr := c.store.CheckpointIfWALExceeds(context.Background(), c.params.WALRestartThresholdB); cpErr != nil {
			c.logger.Warn("wal checkpoint after flush failed", "job_id", c.jobID, "error", cpErr)
		}
	}
	return nil
}

func (c *Collector) recordFailure(cause error, elapsed time.Duration) {
	audit := db.FlushRecord{
		FlushID:       uuid.NewString(),
		JobID:         c.jobID,
		CreatedAt:     time.Now().UnixMilli(),
		Status:        "error",
		EventsWritten: 0,
		ErrorMessage:  cause.Error(),
		DurationMS:    elapsed.Milliseconds(),
	}
	recCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.store.RecordFlushFailure(recCtx, audit); err != nil {
		c.logger.Debug("flush failure audit not recorded", "job_id", c.jobID, "error", err)
	}
}

// capRetainedLocked bounds buffer growth while storage is unavailable.
func (c *Collector) capRetainedLocked() {
	over := len(c.buffer) - c.params.MaxBufferedEvents
	if over <= 0 {
		return
	}
	c.buffer = c.buffer[over:]
	c.eventsDropped.Add(int64(over))
	c.logger.Warn("buffer cap exceeded, oldest events dropped",
		"job_id", c.jobID,
		"dropped", over,
		"retained", len(c.buffer),
	)
}

// Shutdown performs the final flush and stops accepting events. Callers must
// invoke it at job end; the finalizer only covers the path where they forget.
func (c *Collector) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	err := c.flushLocked(ctx)
	c.closed = true
	runtime.SetFinalizer(c, nil)
	return err
}

func (c *Collector) finalize() {
	ctx, cancel := context.WithTimeout(context.Background(), c.params.FlushTimeout)
	defer cancel()
	_ = c.Shutdown(ctx)
}

type CollectorStats struct {
	Buffered      int
	EventsTotal   int64
	EventsSkipped int64
	EventsDropped int64
	Flushes       int64
	FlushFailures int64
}

func (c *Collector) Stats() CollectorStats {
	c.mu.Lock()
	buffered := len(c.buffer)
	c.mu.Unlock()
	return CollectorStats{
		Buffered:      buffered,
		EventsTotal:   c.eventsBuffered.Load(),
		EventsSkipped: c.eventsSkipped.Load(),
		EventsDropped: c.eventsDropped.Load(),
		Flushes:       c.flushes.Load(),
		FlushFailures: c.flushFailures.Load(),
	}
}
