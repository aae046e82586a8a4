// File: cmd/output.go
package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/xkilldash9x/scriptforge/api/schemas"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func printScript(w io.Writer, s *schemas.GeneratedScript) {
	fmt.Fprintf(w, "%s %s\n", bold("Script:"), s.ID)
	fmt.Fprintf(w, "  Name:   %s\n", s.Name)
	fmt.Fprintf(w, "  File:   %s\n", s.FilePath)
	fmt.Fprintf(w, "  Source: %s\n", s.Source)
	fmt.Fprintf(w, "  Status: %s\n", scriptStatus(s.Status))
}

func scriptStatus(s schemas.ScriptStatus) string {
	switch s {
	case schemas.ScriptValidated:
		return green(string(s))
	case schemas.ScriptFailed:
		return red(string(s))
	default:
		return yellow(string(s))
	}
}

func executionStatus(s schemas.ExecutionStatus) string {
	switch s {
	case schemas.ExecutionCompleted:
		return green(string(s))
	case schemas.ExecutionFailed:
		return red(string(s))
	default:
		return yellow(string(s))
	}
}

func printValidation(w io.Writer, r *schemas.ValidationResult) {
	verdict := red("FAILED")
	if r.Success {
		verdict = green("PASSED")
	}
	fmt.Fprintf(w, "%s %s (%d/%d steps passed in %s)\n", bold("Validation:"), verdict,
		r.PassedSteps, r.TotalSteps, r.Duration.Round(time.Millisecond))
	for _, s := range r.Steps {
		mark := green("ok  ")
		if !s.Passed {
			mark = red("FAIL")
		}
		line := fmt.Sprintf("  %s step %d  score=%.2f confidence=%.2f", mark, s.StepIndex, s.MatchScore, s.Confidence)
		if s.Degraded {
			line += yellow(" (ocr degraded)")
		}
		fmt.Fprintln(w, line)
		if s.Error != "" {
			fmt.Fprintf(w, "       %s\n", red(s.Error))
		}
		if s.Diff != "" {
			fmt.Fprintf(w, "       %s\n", gray(strings.ReplaceAll(s.Diff, "\n", " ")))
		}
	}
	if r.EvidenceDir != "" {
		fmt.Fprintf(w, "  Evidence: %s\n", r.EvidenceDir)
	}
}

func printLog(w io.Writer, e schemas.LogEntry) {
	level := string(e.Level)
	switch e.Level {
	case schemas.LogWarn:
		level = yellow(level)
	case schemas.LogError:
		level = red(level)
	default:
		level = gray(level)
	}
	fmt.Fprintf(w, "%s [%s] %s\n", e.Timestamp.Local().Format("15:04:05"), level, e.Message)
}

func printExecution(w io.Writer, e *schemas.Execution) {
	fmt.Fprintf(w, "%s %s  script=%s  status=%s  started=%s",
		bold("Execution"), e.ID, e.ScriptID, executionStatus(e.Status), e.StartTime.Local().Format(time.RFC3339))
	if e.EndTime != nil {
		fmt.Fprintf(w, "  duration=%s", e.Duration.Round(time.Millisecond))
	}
	fmt.Fprintln(w)
	if e.Error != "" {
		fmt.Fprintf(w, "  %s\n", red(e.Error))
	}
}
