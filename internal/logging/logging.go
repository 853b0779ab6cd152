// Package logging provides the single slog.Logger instance threaded
// through fx into every module, replacing the teacher's webitel-go-kit
// logging bridge (dropped — see DESIGN.md) with a plain log/slog handler.
package logging

import (
	"log/slog"
	"os"

	"github.com/titan-mmo/titan/internal/config"
)

// New builds the process-wide structured logger: text output when
// TITAN_LOG_FORMAT is "text", JSON otherwise, matching the
// handler-selection idiom the teacher applies to its own logger setup.
func New(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil && cfg.Cluster.ServiceID == "dev" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if os.Getenv("TITAN_LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
