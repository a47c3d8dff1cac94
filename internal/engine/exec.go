package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/samcharles93/nhrun/internal/config"
	"github.com/samcharles93/nhrun/internal/logger"
	"github.com/samcharles93/nhrun/internal/runmode"
)

// Exec runs the engine as a subprocess. The composed configuration is
// written to a fresh dispatch directory and passed with --config-file;
// evaluation additionally gets --run-dir, --period and, when set, --epoch.
type Exec struct {
	TrainCommand    []string
	EvaluateCommand []string
	// WorkDir holds dispatch directories. Defaults to os.TempDir().
	WorkDir string
	// KeepStaged leaves the dispatch directory in place after the engine
	// exits.
	KeepStaged bool
	Stdout     io.Writer
	Stderr     io.Writer
	// Env is appended to the environment of the current process.
	Env []string
	Log logger.Logger
}

func (e Exec) StartTraining(ctx context.Context, cfg config.RunConfig) error {
	if len(e.TrainCommand) == 0 {
		return fmt.Errorf("%w for training", ErrNoCommand)
	}
	return e.dispatch(ctx, cfg, e.TrainCommand, nil)
}

func (e Exec) StartEvaluation(ctx context.Context, cfg config.RunConfig, runDir string, epoch *int, period runmode.Period) error {
	if len(e.EvaluateCommand) == 0 {
		return fmt.Errorf("%w for evaluation", ErrNoCommand)
	}
	extra := []string{"--run-dir", runDir, "--period", string(period)}
	if epoch != nil {
		extra = append(extra, "--epoch", strconv.Itoa(*epoch))
	}
	return e.dispatch(ctx, cfg, e.EvaluateCommand, extra)
}

func (e Exec) dispatch(ctx context.Context, cfg config.RunConfig, command, extra []string) error {
	id := newDispatchID()
	log := e.logger(ctx).With("dispatch_id", id)

	dir, err := os.MkdirTemp(e.WorkDir, "nhrun-"+id+"-")
	if err != nil {
		return fmt.Errorf("engine: create dispatch dir: %w", err)
	}
	if !e.KeepStaged {
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				log.Warn("remove dispatch dir", "dir", dir, "error", err)
			}
		}()
	}

	cfgPath := filepath.Join(dir, config.FileName)
	if err := cfg.WriteFile(cfgPath); err != nil {
		return fmt.Errorf("engine: stage config: %w", err)
	}

	args := slices.Concat(command[1:], []string{"--config-file", cfgPath}, extra)
	cmd := exec.CommandContext(ctx, command[0], args...)
	cmd.Stdout = writerOr(e.Stdout, os.Stdout)
	cmd.Stderr = writerOr(e.Stderr, os.Stderr)
	cmd.Env = slices.Concat(os.Environ(), e.Env, []string{EnvDispatchID + "=" + id})

	log.Debug("starting engine", "command", command[0], "args", args)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("engine: %s: %w", command[0], err)
	}
	log.Debug("engine finished")
	return nil
}

func (e Exec) logger(ctx context.Context) logger.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logger.FromContext(ctx)
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w == nil {
		return fallback
	}
	return w
}
