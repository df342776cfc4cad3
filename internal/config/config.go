package config

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	DBPath               string        `env:"AITK_DB_PATH,default=aitk_db.db"`
	OutputDir            string        `env:"AITK_OUTPUT_DIR,default=output"`
	LogLevel             string        `env:"AITK_LOG_LEVEL,default=info"`
	BufferThreshold      int           `env:"AITK_BUFFER_THRESHOLD,default=10"`
	MaxBufferedEvents    int           `env:"AITK_MAX_BUFFERED_EVENTS,default=1000"`
	FlushTimeout         time.Duration `env:"AITK_FLUSH_TIMEOUT,default=3s"`
	WALRestartThresholdB int64         `env:"AITK_WAL_RESTART_THRESHOLD_BYTES,default=52428800"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	return &cfg, nil
}

func WriteHelp(w io.Writer, version string) {
	fmt.Fprintf(w, "ai-toolkit telemetry %s\n\n", version)
	fmt.Fprintln(w, "Environment variables:")
	fmt.Fprintln(w, "  AITK_DB_PATH=aitk_db.db")
	fmt.Fprintln(w, "  AITK_OUTPUT_DIR=output")
	fmt.Fprintln(w, "  AITK_LOG_LEVEL=info")
	fmt.Fprintln(w, "  AITK_BUFFER_THRESHOLD=10")
	fmt.Fprintln(w, "  AITK_MAX_BUFFERED_EVENTS=1000")
	fmt.Fprintln(w, "  AITK_FLUSH_TIMEOUT=3s")
	fmt.Fprintln(w, "  AITK_WAL_RESTART_THRESHOLD_BYTES=52428800")
}
