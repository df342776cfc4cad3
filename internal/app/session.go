package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/SeanYan604/ai-toolkit/internal/config"
	"github.com/SeanYan604/ai-toolkit/internal/dynconfig"
	"github.com/SeanYan604/ai-toolkit/internal/logging"
	"github.com/SeanYan604/ai-toolkit/internal/telemetry"
)

// Session wires configuration, logging, and the metrics registry for one
// training process. The training loop holds a Session for its lifetime and
// calls Close on every exit path; Close releases every collector, which runs
// their final flushes.
type Session struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *telemetry.Registry
	startedAt time.Time
}

func Start(ctx context.Context) (*Session, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	logger, _, err := logging.Setup(os.Stdout, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return New(cfg, logger), nil
}

func New(cfg *config.Config, logger *slog.Logger) *Session {
	registry := telemetry.NewRegistry(logger, cfg.DBPath, telemetry.Params{
		BufferThreshold:      cfg.BufferThreshold,
		MaxBufferedEvents:    cfg.MaxBufferedEvents,
		FlushTimeout:         cfg.FlushTimeout,
		WALRestartThresholdB: cfg.WALRestartThresholdB,
	})
	return &Session{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		startedAt: time.Now(),
	}
}

func (s *Session) Logger() *slog.Logger {
	return s.logger
}

func (s *Session) Registry() *telemetry.Registry {
	return s.registry
}

// Collector returns the metrics collector for a job, creating it on first use.
func (s *Session) Collector(jobID string) (*telemetry.Collector, error) {
	return s.registry.GetOrCreate(jobID, "")
}

// ConfigStore opens the job's hot-reload cadence store under the configured
// output directory.
func (s *Session) ConfigStore(jobID string) (*dynconfig.Store, error) {
	store, err := dynconfig.Open(s.logger, jobID, s.cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("open dynamic config for job %s: %w", jobID, err)
	}
	return store, nil
}

// Close releases every live collector, bounded by a teardown timeout so a
// hung storage write cannot wedge process exit.
func (s *Session) Close(ctx context.Context) error {
	closeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	err := s.registry.ReleaseAll(closeCtx)
	s.logger.Info("telemetry session closed",
		"uptime", time.Since(s.startedAt).String(),
	)
	if err != nil {
		return fmt.Errorf("release collectors: %w", err)
	}
	return nil
}
