package runmode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"testing"

	"github.com/samcharles93/nhrun/internal/config"
	"github.com/samcharles93/nhrun/internal/device"
	"github.com/samcharles93/nhrun/internal/logger"
	"github.com/samcharles93/nhrun/internal/runlock"
)

type recordingStore struct {
	loads     []string
	overrides []string
}

func (s *recordingStore) Load(path string) (config.RunConfig, error) {
	s.loads = append(s.loads, path)
	return config.FileStore{}.Load(path)
}

func (s *recordingStore) Overrides(path string) (map[string]any, error) {
	s.overrides = append(s.overrides, path)
	return config.FileStore{}.Overrides(path)
}

type evalCall struct {
	cfg    config.RunConfig
	runDir string
	epoch  *int
	period Period
}

type fakeEngine struct {
	trained   []config.RunConfig
	evaluated []evalCall
	err       error
}

func (e *fakeEngine) StartTraining(ctx context.Context, cfg config.RunConfig) error {
	e.trained = append(e.trained, cfg)
	return e.err
}

func (e *fakeEngine) StartEvaluation(ctx context.Context, cfg config.RunConfig, runDir string, epoch *int, period Period) error {
	e.evaluated = append(e.evaluated, evalCall{cfg: cfg, runDir: runDir, epoch: epoch, period: period})
	return e.err
}

func (e *fakeEngine) calls() int {
	return len(e.trained) + len(e.evaluated)
}

type lockCall struct {
	dir       string
	exclusive bool
}

type fakeLocker struct {
	calls    []lockCall
	released int
	err      error
}

func (l *fakeLocker) Acquire(dir string, exclusive bool) (runlock.Release, error) {
	l.calls = append(l.calls, lockCall{dir: dir, exclusive: exclusive})
	if l.err != nil {
		return nil, l.err
	}
	return func() error {
		l.released++
		return nil
	}, nil
}

type harness struct {
	ctrl   *Controller
	store  *recordingStore
	engine *fakeEngine
	locker *fakeLocker
}

func newHarness(p device.Platform) *harness {
	h := &harness{
		store:  &recordingStore{},
		engine: &fakeEngine{},
		locker: &fakeLocker{},
	}
	h.ctrl = &Controller{
		Store:    h.store,
		Engine:   h.engine,
		Platform: p,
		Locker:   h.locker,
		Log:      logger.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return h
}

func writeFile(t *testing.T, path, body string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func intPtr(v int) *int { return &v }

func withoutKeys(m map[string]any, keys ...string) map[string]any {
	out := maps.Clone(m)
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

func TestRequiredArgumentsFailBeforeLoading(t *testing.T) {
	t.Parallel()

	tests := []Request{
		{Mode: Train},
		{Mode: Finetune},
		{Mode: ContinueTraining, ConfigFile: "override.yml"},
		{Mode: Evaluate},
	}
	for _, req := range tests {
		t.Run(string(req.Mode), func(t *testing.T) {
			t.Parallel()
			h := newHarness(device.Static{})
			_, err := h.ctrl.Run(context.Background(), req)
			if !errors.Is(err, ErrInvalidArguments) {
				t.Fatalf("expected ErrInvalidArguments, got %v", err)
			}
			if len(h.store.loads) != 0 || len(h.store.overrides) != 0 {
				t.Fatalf("store touched before validation: %+v", h.store)
			}
			if h.engine.calls() != 0 {
				t.Fatalf("engine called despite validation failure")
			}
		})
	}
}

func TestUnknownMode(t *testing.T) {
	t.Parallel()

	h := newHarness(device.Static{})
	_, err := h.ctrl.Run(context.Background(), Request{Mode: "resume", ConfigFile: "x.yml", RunDir: "/runs/a"})
	if !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
	if h.engine.calls() != 0 {
		t.Fatalf("engine called for unknown mode")
	}
}

func TestTrain(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := writeFile(t, filepath.Join(dir, "lstm.yml"), "experiment_name: lstm\ndevice: cuda:0\nepochs: 30\n")

	h := newHarness(device.Static{CUDA: true})
	if _, err := h.ctrl.Run(context.Background(), Request{Mode: Train, ConfigFile: cfgPath, GPU: intPtr(2)}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(h.engine.trained) != 1 {
		t.Fatalf("expected one training dispatch, got %d", len(h.engine.trained))
	}
	got := h.engine.trained[0]
	if got.Device != "cuda:2" {
		t.Fatalf("device: got %q want cuda:2", got.Device)
	}
	if got.IsContinueTraining || got.IsFinetuning {
		t.Fatalf("train must not set lineage flags: %+v", got)
	}
	if !slices.Equal(h.store.loads, []string{cfgPath}) {
		t.Fatalf("unexpected loads: %v", h.store.loads)
	}
	if len(h.locker.calls) != 0 {
		t.Fatalf("train should not lock, got %v", h.locker.calls)
	}
}

func TestContinueTrainingWithoutOverride(t *testing.T) {
	t.Parallel()

	runDir := filepath.Join(t.TempDir(), "run_0101")
	writeFile(t, filepath.Join(runDir, config.FileName), `
experiment_name: lstm
run_dir: `+runDir+`
device: cpu
epochs: 30
learning_rate: 0.001
target_variables: [QObs]
`)
	base, err := config.Load(filepath.Join(runDir, config.FileName))
	if err != nil {
		t.Fatalf("load base: %v", err)
	}

	h := newHarness(device.Static{MPS: true})
	if _, err := h.ctrl.Run(context.Background(), Request{Mode: ContinueTraining, RunDir: runDir, Device: "mps"}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	got := h.engine.trained[0]
	if !got.IsContinueTraining {
		t.Fatalf("is_continue_training not forced")
	}
	if got.Device != "mps" {
		t.Fatalf("device: got %q want mps", got.Device)
	}
	ignored := []string{config.KeyIsContinueTraining, config.KeyDevice}
	if !reflect.DeepEqual(withoutKeys(got.Map(), ignored...), withoutKeys(base.Map(), ignored...)) {
		t.Fatalf("base fields changed:\n got  %v\n want %v", got.Map(), base.Map())
	}
	if len(h.store.overrides) != 0 {
		t.Fatalf("no override file was given, got %v", h.store.overrides)
	}
	if !reflect.DeepEqual(h.locker.calls, []lockCall{{dir: runDir, exclusive: true}}) || h.locker.released != 1 {
		t.Fatalf("unexpected locking: %+v released=%d", h.locker.calls, h.locker.released)
	}
}

func TestContinueTrainingWithOverride(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	runDir := filepath.Join(dir, "run_0101")
	writeFile(t, filepath.Join(runDir, config.FileName), "experiment_name: lstm\nepochs: 30\nlearning_rate: 0.001\nbatch_size: 256\n")
	override := writeFile(t, filepath.Join(dir, "more.yml"), "epochs: 50\nlearning_rate: 0.0005\n")

	h := newHarness(device.Static{})
	if _, err := h.ctrl.Run(context.Background(), Request{Mode: ContinueTraining, RunDir: runDir, ConfigFile: override}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	got := h.engine.trained[0]
	for key, want := range map[string]any{"epochs": 50, "learning_rate": 0.0005, "batch_size": 256} {
		if v, _ := got.Get(key); v != want {
			t.Errorf("%s: got %v want %v", key, v, want)
		}
	}
	if got.ExperimentName != "lstm" || !got.IsContinueTraining || got.Device != device.CPU {
		t.Fatalf("unexpected composed config: %+v", got)
	}
}

func TestContinueTrainingFlagSurvivesOverride(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	runDir := filepath.Join(dir, "run")
	writeFile(t, filepath.Join(runDir, config.FileName), "epochs: 30\n")
	override := writeFile(t, filepath.Join(dir, "more.yml"), "is_continue_training: false\n")

	h := newHarness(device.Static{})
	if _, err := h.ctrl.Run(context.Background(), Request{Mode: ContinueTraining, RunDir: runDir, ConfigFile: override}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !h.engine.trained[0].IsContinueTraining {
		t.Fatalf("is_continue_training must be forced after the override")
	}
}

func TestFinetuneComposition(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	baseDir := filepath.Join(dir, "base_run")
	writeFile(t, filepath.Join(baseDir, config.FileName), `
run_dir: /a
experiment_name: X
is_continue_training: true
device: cuda
hidden_size: 128
learning_rate: 0.001
`)
	ftPath := writeFile(t, filepath.Join(dir, "finetune.yml"), `
base_run_dir: `+baseDir+`
finetune_modules: [head]
learning_rate: 0.01
`)

	h := newHarness(device.Static{})
	if _, err := h.ctrl.Run(context.Background(), Request{Mode: Finetune, ConfigFile: ftPath}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	got := h.engine.trained[0]

	if got.RunDir != "" || got.ExperimentName != "" {
		t.Fatalf("identity not cleared: run_dir=%q experiment_name=%q", got.RunDir, got.ExperimentName)
	}
	if _, ok := got.Get(config.KeyRunDir); ok {
		t.Fatalf("run_dir still present in composed map")
	}
	if got.IsContinueTraining {
		t.Fatalf("is_continue_training must be false for finetuning")
	}
	if !got.IsFinetuning {
		t.Fatalf("is_finetuning not set")
	}
	if v, _ := got.Get("learning_rate"); v != 0.01 {
		t.Fatalf("learning_rate: got %v want 0.01", v)
	}
	if v, _ := got.Get("hidden_size"); v != 128 {
		t.Fatalf("hidden_size from base lost: %v", v)
	}
	if got.BaseRunDir != baseDir || !slices.Equal(got.FinetuneModules, []string{"head"}) {
		t.Fatalf("finetune keys lost: %+v", got)
	}
	// cuda from the base run is unavailable here.
	if got.Device != device.CPU {
		t.Fatalf("device: got %q want cpu", got.Device)
	}

	wantLoads := []string{ftPath, filepath.Join(baseDir, config.FileName)}
	if !slices.Equal(h.store.loads, wantLoads) {
		t.Fatalf("loads: got %v want %v", h.store.loads, wantLoads)
	}
	if !reflect.DeepEqual(h.locker.calls, []lockCall{{dir: baseDir, exclusive: false}}) {
		t.Fatalf("unexpected locking: %+v", h.locker.calls)
	}
}

func TestFinetuneFlagsBeatInheritedValues(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	baseDir := filepath.Join(dir, "base_run")
	writeFile(t, filepath.Join(baseDir, config.FileName), "is_finetuning: false\n")
	ftPath := writeFile(t, filepath.Join(dir, "finetune.yml"),
		"base_run_dir: "+baseDir+"\nfinetune_modules: [lstm]\nis_finetuning: false\nis_continue_training: true\n")

	h := newHarness(device.Static{})
	if _, err := h.ctrl.Run(context.Background(), Request{Mode: Finetune, ConfigFile: ftPath}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	got := h.engine.trained[0]
	if !got.IsFinetuning || got.IsContinueTraining {
		t.Fatalf("flags not forced: finetune=%v continue=%v", got.IsFinetuning, got.IsContinueTraining)
	}
}

func TestFinetuneWithoutModulesNeverReadsBase(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"empty list": "base_run_dir: /runs/base\nfinetune_modules: []\n",
		"missing":    "base_run_dir: /runs/base\n",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ftPath := writeFile(t, filepath.Join(t.TempDir(), "finetune.yml"), body)

			h := newHarness(device.Static{})
			_, err := h.ctrl.Run(context.Background(), Request{Mode: Finetune, ConfigFile: ftPath})
			if !errors.Is(err, ErrNoFinetuneModules) {
				t.Fatalf("expected ErrNoFinetuneModules, got %v", err)
			}
			if !slices.Equal(h.store.loads, []string{ftPath}) {
				t.Fatalf("base configuration was read: %v", h.store.loads)
			}
			if h.engine.calls() != 0 || len(h.locker.calls) != 0 {
				t.Fatalf("side effects after precondition failure")
			}
		})
	}
}

func TestFinetuneWithoutBaseRunDir(t *testing.T) {
	t.Parallel()

	ftPath := writeFile(t, filepath.Join(t.TempDir(), "finetune.yml"), "finetune_modules: [head]\n")
	h := newHarness(device.Static{})
	_, err := h.ctrl.Run(context.Background(), Request{Mode: Finetune, ConfigFile: ftPath})
	if !errors.Is(err, ErrNoBaseRun) {
		t.Fatalf("expected ErrNoBaseRun, got %v", err)
	}
	if len(h.store.loads) != 1 {
		t.Fatalf("unexpected loads: %v", h.store.loads)
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	runDir := filepath.Join(t.TempDir(), "run")
	writeFile(t, filepath.Join(runDir, config.FileName), "experiment_name: lstm\ndevice: mps\n")

	t.Run("latest epoch by default", func(t *testing.T) {
		h := newHarness(device.Static{MPS: true})
		if _, err := h.ctrl.Run(context.Background(), Request{Mode: Evaluate, RunDir: runDir}); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		if len(h.engine.evaluated) != 1 || len(h.engine.trained) != 0 {
			t.Fatalf("expected one evaluation dispatch")
		}
		call := h.engine.evaluated[0]
		if call.epoch != nil {
			t.Fatalf("expected absent epoch, got %d", *call.epoch)
		}
		if call.period != PeriodTest {
			t.Fatalf("period: got %q want test", call.period)
		}
		if call.runDir != runDir || call.cfg.Device != device.MPS {
			t.Fatalf("unexpected call: %+v", call)
		}
		if !reflect.DeepEqual(h.locker.calls, []lockCall{{dir: runDir, exclusive: false}}) {
			t.Fatalf("unexpected locking: %+v", h.locker.calls)
		}
	})

	t.Run("explicit epoch and period", func(t *testing.T) {
		h := newHarness(device.Static{})
		req := Request{Mode: Evaluate, RunDir: runDir, Epoch: intPtr(12), Period: PeriodValidation, GPU: intPtr(-1)}
		if _, err := h.ctrl.Run(context.Background(), req); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		call := h.engine.evaluated[0]
		if call.epoch == nil || *call.epoch != 12 || call.period != PeriodValidation {
			t.Fatalf("unexpected call: epoch=%v period=%q", call.epoch, call.period)
		}
		if call.cfg.Device != device.CPU {
			t.Fatalf("device: got %q want cpu", call.cfg.Device)
		}
	})
}

func TestMissingRunConfigPropagates(t *testing.T) {
	t.Parallel()

	h := newHarness(device.Static{})
	_, err := h.ctrl.Run(context.Background(), Request{Mode: Evaluate, RunDir: filepath.Join(t.TempDir(), "nope")})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
	if h.engine.calls() != 0 {
		t.Fatalf("engine called without configuration")
	}
}

func TestEngineErrorKeepsChain(t *testing.T) {
	t.Parallel()

	cfgPath := writeFile(t, filepath.Join(t.TempDir(), "c.yml"), "epochs: 1\n")
	engineErr := errors.New("engine exploded")

	h := newHarness(device.Static{})
	h.engine.err = engineErr
	_, err := h.ctrl.Run(context.Background(), Request{Mode: Train, ConfigFile: cfgPath})
	if !errors.Is(err, engineErr) || !errors.Is(err, ErrEngine) {
		t.Fatalf("expected engine error marked with ErrEngine, got %v", err)
	}
	if err.Error() != engineErr.Error() {
		t.Fatalf("engine message changed: %q", err.Error())
	}
}

func TestLockContentionStopsDispatch(t *testing.T) {
	t.Parallel()

	runDir := filepath.Join(t.TempDir(), "run")
	writeFile(t, filepath.Join(runDir, config.FileName), "epochs: 1\n")

	h := newHarness(device.Static{})
	h.locker.err = runlock.ErrLocked
	_, err := h.ctrl.Run(context.Background(), Request{Mode: ContinueTraining, RunDir: runDir})
	if !errors.Is(err, runlock.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if h.engine.calls() != 0 {
		t.Fatalf("engine called while run directory was locked")
	}
}

func TestComposeHasNoSideEffects(t *testing.T) {
	t.Parallel()

	runDir := filepath.Join(t.TempDir(), "run")
	writeFile(t, filepath.Join(runDir, config.FileName), "device: cpu\n")

	h := newHarness(device.Static{CUDA: true})
	cfg, err := h.ctrl.Compose(Request{Mode: ContinueTraining, RunDir: runDir, Device: "cuda:1"})
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	if cfg.Device != "cuda:1" || !cfg.IsContinueTraining {
		t.Fatalf("unexpected composed config: %+v", cfg)
	}
	if h.engine.calls() != 0 || len(h.locker.calls) != 0 {
		t.Fatalf("Compose dispatched or locked")
	}
}
