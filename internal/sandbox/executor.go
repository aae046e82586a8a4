// Package sandbox runs generated programs against disposable browsers.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/scriptforge/api/schemas"
	"github.com/xkilldash9x/scriptforge/internal/config"
)

// Mode selects how a program is run.
type Mode string

const (
	// ModeValidation always runs headless and keeps the evidence.
	ModeValidation Mode = "validation"
	// ModeLive honours the configured headless setting.
	ModeLive Mode = "live"
)

var errNoEntryPoint = errors.New("program does not define a run(params) function")

// RunRequest describes one program run.
type RunRequest struct {
	ScriptPath string
	Mode       Mode
	Params     map[string]any
	// RunID names the evidence directory. A UUID is used when empty.
	RunID string
	// OnLog receives every console line the program emits, in order.
	OnLog func(level schemas.LogLevel, message string)
}

// Screenshot is a step screenshot found in the evidence directory.
type Screenshot struct {
	StepIndex int
	Path      string
}

// RunOutcome is what a run leaves behind. Screenshots captured before a
// failure are always reported.
type RunOutcome struct {
	RunID       string
	EvidenceDir string
	Screenshots []Screenshot
	Result      any
	Err         error
	Duration    time.Duration
}

// Executor runs programs with bounded concurrency. Each run gets its own VM
// and its own browser.
type Executor struct {
	cfg      config.SandboxConfig
	launcher Launcher
	fs       afero.Fs
	sem      *semaphore.Weighted
	logger   *zap.Logger
}

// NewExecutor creates an executor. fs holds both program files and evidence.
func NewExecutor(cfg config.SandboxConfig, launcher Launcher, fs afero.Fs, logger *zap.Logger) *Executor {
	limit := int64(cfg.MaxConcurrent)
	if limit <= 0 {
		limit = 1
	}
	return &Executor{
		cfg:      cfg,
		launcher: launcher,
		fs:       fs,
		sem:      semaphore.NewWeighted(limit),
		logger:   logger.Named("sandbox"),
	}
}

// Run executes the program at req.ScriptPath. It never returns nil; failures
// are reported through RunOutcome.Err.
func (e *Executor) Run(ctx context.Context, req RunRequest) *RunOutcome {
	start := time.Now()
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	out := &RunOutcome{RunID: req.RunID, EvidenceDir: filepath.Join(e.cfg.EvidenceDir, req.RunID)}
	defer func() { out.Duration = time.Since(start) }()

	logger := e.logger.With(zap.String("run_id", req.RunID), zap.String("mode", string(req.Mode)))

	if err := e.sem.Acquire(ctx, 1); err != nil {
		out.Err = fmt.Errorf("run aborted before start: %w", err)
		return out
	}
	defer e.sem.Release(1)

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if e.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if err := e.fs.MkdirAll(out.EvidenceDir, 0o755); err != nil {
		out.Err = fmt.Errorf("failed to create evidence directory: %w", err)
		return out
	}

	logger.Debug("Run starting.", zap.String("script", req.ScriptPath))
	out.Result, out.Err = e.execute(runCtx, req, out.EvidenceDir, logger)

	shots, err := DiscoverScreenshots(e.fs, out.EvidenceDir)
	if err != nil {
		logger.Warn("Failed to list evidence.", zap.Error(err))
	}
	out.Screenshots = shots

	if out.Err != nil {
		logger.Info("Run failed.", zap.Error(out.Err), zap.Int("screenshots", len(shots)))
	} else {
		logger.Info("Run finished.", zap.Int("screenshots", len(shots)))
	}
	return out
}

func (e *Executor) execute(ctx context.Context, req RunRequest, dir string, logger *zap.Logger) (result any, err error) {
	code, err := afero.ReadFile(e.fs, req.ScriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read program: %w", err)
	}
	prog, err := goja.Compile(filepath.Base(req.ScriptPath), string(code), true)
	if err != nil {
		return nil, fmt.Errorf("program does not compile: %w", err)
	}

	vm := goja.New()
	h := &host{
		ctx:       ctx,
		vm:        vm,
		launcher:  e.launcher,
		fs:        e.fs,
		dir:       dir,
		runID:     req.RunID,
		headless:  e.cfg.Headless || req.Mode == ModeValidation,
		stepDelay: e.cfg.StepDelay,
		onLog:     req.OnLog,
		logger:    logger,
	}
	defer h.teardown()
	if err := h.install(); err != nil {
		return nil, fmt.Errorf("failed to install host API: %w", err)
	}

	// Interrupt the VM when the run is cancelled or times out.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("program panicked: %v", r)
		}
	}()

	if _, err := vm.RunProgram(prog); err != nil {
		return nil, classify(ctx, err)
	}
	run, ok := goja.AssertFunction(vm.Get("run"))
	if !ok {
		return nil, errNoEntryPoint
	}

	params := vm.NewObject()
	for k, v := range req.Params {
		if err := params.Set(k, v); err != nil {
			return nil, fmt.Errorf("invalid parameter %q: %w", k, err)
		}
	}
	v, err := run(goja.Undefined(), params)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if v == nil {
		return nil, nil
	}
	return v.Export(), nil
}

// classify separates cancellation from program failures.
func classify(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) || ctx.Err() != nil {
		cause := ctx.Err()
		if cause == nil {
			cause = err
		}
		return fmt.Errorf("run aborted: %w", cause)
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return fmt.Errorf("program threw: %w", exc)
	}
	return err
}
