package runmode

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/samcharles93/nhrun/internal/config"
	"github.com/samcharles93/nhrun/internal/device"
	"github.com/samcharles93/nhrun/internal/logger"
	"github.com/samcharles93/nhrun/internal/runlock"
)

// Store loads run configurations.
type Store interface {
	Load(path string) (config.RunConfig, error)
	// Overrides returns the raw contents of an override file. Explicit
	// nulls must be preserved.
	Overrides(path string) (map[string]any, error)
}

// Engine runs training and evaluation. It receives a fully composed
// configuration and owns everything that happens afterwards.
type Engine interface {
	StartTraining(ctx context.Context, cfg config.RunConfig) error
	StartEvaluation(ctx context.Context, cfg config.RunConfig, runDir string, epoch *int, period Period) error
}

// Controller turns a Request into a composed run configuration and hands it
// to the Engine.
type Controller struct {
	Store    Store
	Engine   Engine
	Platform device.Platform
	// Locker guards run directories. Nil disables locking.
	Locker runlock.Locker
	Log    logger.Logger
}

// Run validates req, composes the configuration for its mode and dispatches
// it, returning the configuration that was handed to the engine. Nothing is
// dispatched if validation or composition fails. Errors from the store are
// returned as they are; engine errors keep their message and chain and also
// match ErrEngine.
func (c *Controller) Run(ctx context.Context, req Request) (config.RunConfig, error) {
	req = req.withDefaults()
	cfg, err := c.Compose(req)
	if err != nil {
		return config.RunConfig{}, err
	}

	log := c.logger(ctx).With("mode", string(req.Mode))
	log.Info("using device", "device", cfg.Device)

	if dir, exclusive := lockTarget(req, cfg); dir != "" && c.Locker != nil {
		release, err := c.Locker.Acquire(dir, exclusive)
		if err != nil {
			return config.RunConfig{}, err
		}
		defer func() {
			if err := release(); err != nil {
				log.Warn("release run lock", "dir", dir, "error", err)
			}
		}()
	}

	if req.Mode == Evaluate {
		log.Debug("starting evaluation", "run_dir", req.RunDir, "period", string(req.Period), "epoch", epochAttr(req.Epoch))
		return cfg, engineFailed(c.Engine.StartEvaluation(ctx, cfg, req.RunDir, req.Epoch, req.Period))
	}
	log.Debug("starting training", "run_dir", cfg.RunDir, "experiment", cfg.ExperimentName)
	return cfg, engineFailed(c.Engine.StartTraining(ctx, cfg))
}

// Compose builds the final configuration for req without dispatching it.
func (c *Controller) Compose(req Request) (config.RunConfig, error) {
	if err := req.Validate(); err != nil {
		return config.RunConfig{}, err
	}

	var (
		cfg config.RunConfig
		err error
	)
	switch req.Mode {
	case Train:
		cfg, err = c.composeTrain(req)
	case ContinueTraining:
		cfg, err = c.composeContinue(req)
	case Finetune:
		cfg, err = c.composeFinetune(req)
	case Evaluate:
		cfg, err = c.composeEvaluate(req)
	default:
		return config.RunConfig{}, unknownMode(req.Mode)
	}
	if err != nil {
		return config.RunConfig{}, err
	}

	return cfg.WithDevice(device.Resolve(cfg.Device, req.GPU, req.Device, c.platform())), nil
}

func (c *Controller) composeTrain(req Request) (config.RunConfig, error) {
	return c.Store.Load(req.ConfigFile)
}

func (c *Controller) composeContinue(req Request) (config.RunConfig, error) {
	cfg, err := c.Store.Load(runConfigPath(req.RunDir))
	if err != nil {
		return config.RunConfig{}, err
	}
	if req.ConfigFile != "" {
		overrides, err := c.Store.Overrides(req.ConfigFile)
		if err != nil {
			return config.RunConfig{}, err
		}
		cfg, err = cfg.Override(overrides)
		if err != nil {
			return config.RunConfig{}, err
		}
	}
	return cfg.WithContinueTraining(true), nil
}

// composeFinetune layers the finetune file on top of the base run's
// configuration. The base run's identity is cleared so the engine starts a
// new run directory, and the flags are forced after all merges.
func (c *Controller) composeFinetune(req Request) (config.RunConfig, error) {
	ft, err := c.Store.Load(req.ConfigFile)
	if err != nil {
		return config.RunConfig{}, err
	}
	if len(ft.FinetuneModules) == 0 {
		return config.RunConfig{}, validationError{
			kind: ErrNoFinetuneModules,
			msg:  "for finetuning, at least one model part has to be specified by 'finetune_modules'",
		}
	}
	if ft.BaseRunDir == "" {
		return config.RunConfig{}, validationError{
			kind: ErrNoBaseRun,
			msg:  "for finetuning, 'base_run_dir' must point to the pre-trained run",
		}
	}

	base, err := c.Store.Load(runConfigPath(ft.BaseRunDir))
	if err != nil {
		return config.RunConfig{}, err
	}
	overrides, err := c.Store.Overrides(req.ConfigFile)
	if err != nil {
		return config.RunConfig{}, err
	}
	cfg, err := base.WithoutIdentity().Override(overrides)
	if err != nil {
		return config.RunConfig{}, err
	}
	return cfg.WithFinetuning(true).WithContinueTraining(false), nil
}

func (c *Controller) composeEvaluate(req Request) (config.RunConfig, error) {
	return c.Store.Load(runConfigPath(req.RunDir))
}

func (c *Controller) platform() device.Platform {
	if c.Platform == nil {
		return device.Host()
	}
	return c.Platform
}

func (c *Controller) logger(ctx context.Context) logger.Logger {
	if c.Log == nil {
		return logger.FromContext(ctx)
	}
	return c.Log
}

func runConfigPath(runDir string) string {
	return filepath.Join(runDir, config.FileName)
}

// lockTarget names the run directory a mode depends on. Continuing writes
// into the run, finetuning and evaluation only read from it.
func lockTarget(req Request, cfg config.RunConfig) (string, bool) {
	switch req.Mode {
	case ContinueTraining:
		return req.RunDir, true
	case Finetune:
		return cfg.BaseRunDir, false
	case Evaluate:
		return req.RunDir, false
	default:
		return "", false
	}
}

func epochAttr(epoch *int) string {
	if epoch == nil {
		return "latest"
	}
	return fmt.Sprint(*epoch)
}
