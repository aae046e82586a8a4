// Package tracker owns live executions. Each execution record has exactly one
// writer: an actor goroutine that serializes log appends, completion and stop
// requests and persists every mutation.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scriptforge/api/schemas"
	"github.com/xkilldash9x/scriptforge/internal/config"
	"github.com/xkilldash9x/scriptforge/internal/sandbox"
)

// StopMessage is the warn entry appended when a user stops an execution.
const StopMessage = "Execution stopped by user"

var errTrackerClosed = errors.New("tracker is shutting down")

// Runner executes a program. *sandbox.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, req sandbox.RunRequest) *sandbox.RunOutcome
}

// Tracker starts, observes and stops live executions.
type Tracker struct {
	scripts    schemas.ScriptRepository
	executions schemas.ExecutionRepository
	runner     Runner
	runTimeout time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	active  map[string]*actor
	closing bool
	wg      sync.WaitGroup
}

// New creates a tracker.
func New(cfg config.TrackerConfig, scripts schemas.ScriptRepository, executions schemas.ExecutionRepository, runner Runner, logger *zap.Logger) *Tracker {
	return &Tracker{
		scripts:    scripts,
		executions: executions,
		runner:     runner,
		runTimeout: cfg.RunTimeout,
		logger:     logger.Named("tracker"),
		now:        time.Now,
		active:     make(map[string]*actor),
	}
}

// Start creates a running execution for the script and runs it in the
// background. The returned record is a snapshot taken before the run begins.
func (t *Tracker) Start(ctx context.Context, scriptID string, params map[string]any) (*schemas.Execution, error) {
	script, err := t.scripts.Get(ctx, scriptID)
	if err != nil {
		return nil, err
	}

	exec := &schemas.Execution{
		ID:        uuid.NewString(),
		ScriptID:  script.ID,
		Status:    schemas.ExecutionRunning,
		Params:    params,
		StartTime: t.now().UTC(),
		Logs:      []schemas.LogEntry{},
	}
	exec.AppendLog(schemas.LogInfo, fmt.Sprintf("Execution started for script %s", script.Name))

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return nil, errTrackerClosed
	}
	if err := t.executions.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	// The run outlives the request that started it.
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if t.runTimeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), t.runTimeout)
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}

	a := &actor{
		id:      exec.ID,
		cancel:  cancel,
		mailbox: make(chan command),
		done:    make(chan struct{}),
		logger:  t.logger.With(zap.String("execution_id", exec.ID)),
	}
	t.active[exec.ID] = a

	t.wg.Add(2)
	go t.loop(a)
	go t.run(runCtx, a, script, params)

	a.logger.Info("Execution started.", zap.String("script_id", script.ID))
	return exec.Clone(), nil
}

// run drives the sandbox and reports the outcome to the actor.
func (t *Tracker) run(ctx context.Context, a *actor, script *schemas.GeneratedScript, params map[string]any) {
	defer t.wg.Done()
	out := t.runner.Run(ctx, sandbox.RunRequest{
		ScriptPath: script.FilePath,
		Mode:       sandbox.ModeLive,
		Params:     params,
		RunID:      a.id,
		OnLog: func(level schemas.LogLevel, msg string) {
			a.send(command{kind: cmdLog, level: level, message: msg})
		},
	})
	a.send(command{kind: cmdFinish, err: out.Err, duration: out.Duration})
}

// Stop transitions a running execution to stopped and cancels its run.
func (t *Tracker) Stop(ctx context.Context, id string) (*schemas.Execution, error) {
	t.mu.Lock()
	a, ok := t.active[id]
	t.mu.Unlock()

	if ok {
		reply := make(chan stopReply, 1)
		if a.send(command{kind: cmdStop, reply: reply}) {
			select {
			case r := <-reply:
				return r.exec, r.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	// Not active: report why it cannot be stopped.
	exec, err := t.executions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, &schemas.InvalidStateError{Entity: "execution", ID: id, State: string(exec.Status), Operation: "stop"}
}

// Get returns the current execution record.
func (t *Tracker) Get(ctx context.Context, id string) (*schemas.Execution, error) {
	return t.executions.Get(ctx, id)
}

// Logs returns the execution's audit trail in append order.
func (t *Tracker) Logs(ctx context.Context, id string) ([]schemas.LogEntry, error) {
	exec, err := t.executions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return exec.Logs, nil
}

// List returns one page of executions, newest first, and the total count.
func (t *Tracker) List(ctx context.Context, filter schemas.ExecutionFilter) ([]*schemas.Execution, int, error) {
	return t.executions.List(ctx, filter)
}

// Wait blocks until the execution is no longer running.
func (t *Tracker) Wait(ctx context.Context, id string) (*schemas.Execution, error) {
	t.mu.Lock()
	a, ok := t.active[id]
	t.mu.Unlock()
	if ok {
		select {
		case <-a.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return t.executions.Get(ctx, id)
}

// Shutdown stops every running execution and waits for their goroutines.
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.closing = true
	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		if _, err := t.Stop(ctx, id); err != nil && !schemas.IsInvalidState(err) {
			t.logger.Warn("Failed to stop execution during shutdown.", zap.String("execution_id", id), zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tracker shutdown timed out: %w", ctx.Err())
	}
}

func (t *Tracker) forget(id string) {
	t.mu.Lock()
	delete(t.active, id)
	t.mu.Unlock()
}
