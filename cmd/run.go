// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scriptforge/api/schemas"
	"github.com/xkilldash9x/scriptforge/internal/observability"
	"github.com/xkilldash9x/scriptforge/internal/tracker"
)

// logPollInterval paces log streaming while a run is in progress.
var logPollInterval = 250 * time.Millisecond

func newRunCmd() *cobra.Command {
	var (
		scriptID     string
		workflowPath string
		dataPath     string
		headed       bool
		quiet        bool
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs a program live and streams its execution log",
		Long: `Runs a generated program in live mode under the execution tracker. Log
entries are streamed as they are recorded. Interrupting the command stops
the execution and closes its browser.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if headed {
				cfg.SetSandboxHeadless(false)
			}
			params, err := loadParamsFile(dataPath)
			if err != nil {
				return err
			}

			components, err := componentsFactory(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown(ctx)

			script, err := resolveScript(ctx, components, scriptID, workflowPath)
			if err != nil {
				return err
			}

			exec, err := components.Tracker.Start(ctx, script.ID, params)
			if err != nil {
				return fmt.Errorf("failed to start execution: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s (script %s)\n", bold("Execution started:"), exec.ID, script.ID)

			final, err := followExecution(ctx, components.Tracker, exec.ID, out, !quiet)
			if errors.Is(err, context.Canceled) {
				logger.Info("Interrupted, stopping execution.", zap.String("execution_id", exec.ID))
				if stopped, stopErr := components.Tracker.Stop(context.WithoutCancel(ctx), exec.ID); stopErr == nil {
					printExecution(out, stopped)
				}
				return err
			}
			if err != nil {
				return err
			}

			printExecution(out, final)
			if final.Status != schemas.ExecutionCompleted {
				return fmt.Errorf("execution %s ended %s", final.ID, final.Status)
			}
			return nil
		},
	}

	runCmd.Flags().StringVarP(&scriptID, "script", "s", "", "ID of a stored script.")
	runCmd.Flags().StringVarP(&workflowPath, "workflow", "w", "", "Workflow file to generate from first.")
	runCmd.Flags().StringVarP(&dataPath, "data", "d", "", "Test data file (YAML or JSON) passed as run(params).")
	runCmd.Flags().BoolVar(&headed, "headed", false, "Show the browser window. (Overrides config/env)")
	runCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not stream the execution log.")
	runCmd.MarkFlagsMutuallyExclusive("script", "workflow")
	runCmd.MarkFlagsOneRequired("script", "workflow")
	return runCmd
}

// followExecution waits for the execution to leave the running state,
// printing new log entries as they appear when stream is set.
func followExecution(ctx context.Context, t *tracker.Tracker, id string, w io.Writer, stream bool) (*schemas.Execution, error) {
	var (
		final   *schemas.Execution
		waitErr error
	)
	waitDone := make(chan struct{})
	go func() {
		defer close(waitDone)
		final, waitErr = t.Wait(ctx, id)
	}()

	printed := 0
	flush := func() {
		if !stream {
			return
		}
		logs, err := t.Logs(context.WithoutCancel(ctx), id)
		if err != nil {
			return
		}
		for ; printed < len(logs); printed++ {
			printLog(w, logs[printed])
		}
	}

	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			flush()
		case <-waitDone:
			flush()
			return final, waitErr
		}
	}
}
