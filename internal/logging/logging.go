package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Setup builds the process-wide JSON logger. The returned LevelVar can raise
// or lower verbosity on a running process without rebuilding the logger.
func Setup(w io.Writer, level string) (*slog.Logger, *slog.LevelVar, error) {
	levelVar := new(slog.LevelVar)
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}
	if err := levelVar.UnmarshalText([]byte(normalized)); err != nil {
		return nil, nil, fmt.Errorf("parse log level: %w", err)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: levelVar,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, levelVar, nil
}
