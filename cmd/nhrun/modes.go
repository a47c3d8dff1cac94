package main

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/samcharles93/nhrun/internal/config"
	"github.com/samcharles93/nhrun/internal/device"
	"github.com/samcharles93/nhrun/internal/engine"
	"github.com/samcharles93/nhrun/internal/logger"
	"github.com/samcharles93/nhrun/internal/runlock"
	"github.com/samcharles93/nhrun/internal/runmode"
	"github.com/urfave/cli/v3"
)

// Replaced in tests.
var (
	newEngine    = buildEngine
	hostPlatform = device.Host
)

func trainCmd() *cli.Command {
	return &cli.Command{
		Name:  string(runmode.Train),
		Usage: "Start a new training run from a configuration file",
		Flags: slices.Concat(
			[]cli.Flag{configFileFlag("path to the run configuration (required)")},
			deviceFlags(),
			dispatchFlags(),
		),
		Action: modeAction(runmode.Train),
	}
}

func continueTrainingCmd() *cli.Command {
	return &cli.Command{
		Name:  string(runmode.ContinueTraining),
		Usage: "Continue training an existing run",
		Flags: slices.Concat(
			[]cli.Flag{
				runDirFlag("run directory to continue (required)"),
				configFileFlag("optional file whose keys override the stored configuration"),
			},
			deviceFlags(),
			dispatchFlags(),
		),
		Action: modeAction(runmode.ContinueTraining),
	}
}

func finetuneCmd() *cli.Command {
	return &cli.Command{
		Name:  string(runmode.Finetune),
		Usage: "Finetune a pre-trained run; the file must set base_run_dir and finetune_modules",
		Flags: slices.Concat(
			[]cli.Flag{configFileFlag("path to the finetune configuration (required)")},
			deviceFlags(),
			dispatchFlags(),
		),
		Action: modeAction(runmode.Finetune),
	}
}

func evaluateCmd() *cli.Command {
	return &cli.Command{
		Name:  string(runmode.Evaluate),
		Usage: "Evaluate a trained run",
		Flags: slices.Concat(
			[]cli.Flag{runDirFlag("run directory to evaluate (required)")},
			evaluationFlags(),
			deviceFlags(),
			dispatchFlags(),
		),
		Action: modeAction(runmode.Evaluate),
	}
}

func modeAction(mode runmode.Mode) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		settings := LoadSettings()
		req := buildRequest(mode, cmd)
		if err := req.Validate(); err != nil {
			return err
		}

		controller := &runmode.Controller{
			Store:    config.FileStore{},
			Platform: hostPlatform(),
		}

		if cmd.Bool("dry-run") {
			cfg, err := controller.Compose(req)
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.Root().Writer.Write(data)
			return err
		}

		if mode == runmode.Evaluate {
			level, _ := applyLoggingSettings(cmd, settings)
			teeCtx, closeLog, err := teeRunLog(ctx, req.RunDir, logger.ParseLevel(level))
			defer closeLog()
			if err != nil {
				logger.FromContext(ctx).Warn("run log disabled", "error", err)
			} else {
				ctx = teeCtx
			}
		}

		log := logger.FromContext(ctx)
		opts := applyEngineSettings(cmd, settings)
		eng, err := newEngine(opts, log)
		if err != nil {
			return err
		}
		controller.Engine = eng
		controller.Log = log
		if opts.lock {
			controller.Locker = runlock.Files{}
		}

		log.Debug("dispatching", "request", req.String(), "engine", opts.kind)
		_, err = controller.Run(ctx, req)
		return err
	}
}

func buildRequest(mode runmode.Mode, cmd *cli.Command) runmode.Request {
	req := runmode.Request{
		Mode:       mode,
		ConfigFile: cmd.String("config-file"),
		RunDir:     cmd.String("run-dir"),
		Device:     cmd.String("device"),
	}
	if cmd.IsSet("gpu") {
		gpu := int(cmd.Int64("gpu"))
		req.GPU = &gpu
	}
	if mode == runmode.Evaluate {
		req.Period = runmode.Period(cmd.String("period"))
		if cmd.IsSet("epoch") {
			epoch := int(cmd.Int64("epoch"))
			req.Epoch = &epoch
		}
	}
	return req
}

func buildEngine(opts engineOptions, log logger.Logger) (runmode.Engine, error) {
	switch opts.kind {
	case engineExec:
		return engine.Exec{
			TrainCommand:    opts.trainCommand,
			EvaluateCommand: opts.evaluateCommand,
			KeepStaged:      opts.keepStaged,
			Log:             log,
		}, nil
	case engineHTTP:
		if opts.url == "" {
			return nil, errors.New("--engine=http requires --engine-url or " + envEngineURL)
		}
		return engine.HTTP{BaseURL: opts.url, Timeout: opts.timeout, Log: log}, nil
	default:
		return nil, fmt.Errorf("unknown engine %q (expected %s or %s)", opts.kind, engineExec, engineHTTP)
	}
}
