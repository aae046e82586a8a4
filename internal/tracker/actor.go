package tracker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scriptforge/api/schemas"
)

type commandKind int

const (
	cmdLog commandKind = iota
	cmdStop
	cmdFinish
)

type command struct {
	kind     commandKind
	level    schemas.LogLevel
	message  string
	err      error
	duration time.Duration
	reply    chan stopReply
}

type stopReply struct {
	exec *schemas.Execution
	err  error
}

// actor is the single writer of one execution record.
type actor struct {
	id      string
	cancel  context.CancelFunc
	mailbox chan command
	done    chan struct{}
	logger  *zap.Logger
}

// send delivers cmd unless the actor has already exited.
func (a *actor) send(cmd command) bool {
	select {
	case a.mailbox <- cmd:
		return true
	case <-a.done:
		return false
	}
}

// loop applies commands until the run reports completion. Once the record is
// terminal, logs and the completion itself are dropped.
func (t *Tracker) loop(a *actor) {
	defer t.wg.Done()
	defer t.forget(a.id)
	defer close(a.done)
	defer a.cancel()

	terminal := false
	for cmd := range a.mailbox {
		switch cmd.kind {
		case cmdLog:
			if terminal {
				continue
			}
			if _, err := t.mutate(a.id, func(e *schemas.Execution) error {
				e.AppendLog(cmd.level, cmd.message)
				return nil
			}); err != nil {
				a.logger.Warn("Failed to persist execution log.", zap.Error(err))
			}

		case cmdStop:
			exec, err := t.mutate(a.id, func(e *schemas.Execution) error {
				if err := e.Transition(schemas.ExecutionStopped, t.now()); err != nil {
					return err
				}
				e.AppendLog(schemas.LogWarn, StopMessage)
				return nil
			})
			if err == nil {
				terminal = true
				a.cancel()
				a.logger.Info("Execution stopped by user.")
			}
			cmd.reply <- stopReply{exec: exec, err: err}

		case cmdFinish:
			if terminal {
				a.logger.Debug("Ignoring completion of a stopped execution.")
				return
			}
			_, err := t.mutate(a.id, func(e *schemas.Execution) error {
				if cmd.err != nil {
					if err := e.Transition(schemas.ExecutionFailed, t.now()); err != nil {
						return err
					}
					e.Error = cmd.err.Error()
					e.AppendLog(schemas.LogError, fmt.Sprintf("Execution failed: %v", cmd.err))
					return nil
				}
				if err := e.Transition(schemas.ExecutionCompleted, t.now()); err != nil {
					return err
				}
				e.AppendLog(schemas.LogInfo, fmt.Sprintf("Execution completed in %s", cmd.duration.Round(time.Millisecond)))
				return nil
			})
			if err != nil {
				a.logger.Error("Failed to persist execution outcome.", zap.Error(err))
			} else {
				a.logger.Info("Execution finished.", zap.Bool("success", cmd.err == nil))
			}
			return
		}
	}
}

// mutate persists one change to the record. Writes are detached from any
// caller's context so a cancelled request cannot lose an update.
func (t *Tracker) mutate(id string, fn func(*schemas.Execution) error) (*schemas.Execution, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return t.executions.Update(ctx, id, fn)
}
