package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samcharles93/nhrun/internal/logger"
	"github.com/urfave/cli/v3"
)

const runLogName = "output.log"

// logOutput receives console logs. Replaced in tests.
var logOutput io.Writer = os.Stderr

func setupLogging(ctx context.Context, cmd *cli.Command, s Settings) (context.Context, error) {
	level, format := applyLoggingSettings(cmd, s)
	log, err := logger.ForFormat(format, logOutput, logger.ParseLevel(level))
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}

// teeRunLog adds <runDir>/output.log as a second log target. The returned
// close func is never nil.
func teeRunLog(ctx context.Context, runDir string, level slog.Level) (context.Context, func(), error) {
	path := filepath.Join(runDir, runLogName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return ctx, func() {}, fmt.Errorf("open run log: %w", err)
	}
	log := logger.Tee(logger.FromContext(ctx), slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return logger.WithContext(ctx, log), func() { _ = f.Close() }, nil
}
