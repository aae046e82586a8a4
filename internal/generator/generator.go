// Package generator compiles workflows into goja-chromedp automation programs.
package generator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scriptforge/api/schemas"
	"github.com/xkilldash9x/scriptforge/internal/config"
	"github.com/xkilldash9x/scriptforge/internal/scriptstore"
)

var errNoEntryPoint = errors.New("synthesized code does not define function run(")

// Generator turns workflows into persisted program files.
type Generator struct {
	synth     schemas.Synthesizer
	store     *scriptstore.Store
	workflows schemas.WorkflowRepository
	scripts   schemas.ScriptRepository
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a generator. synth may be nil, which disables synthesis. The
// repositories are only needed by GenerateForWorkflow.
func New(
	cfg config.GeneratorConfig,
	synth schemas.Synthesizer,
	store *scriptstore.Store,
	workflows schemas.WorkflowRepository,
	scripts schemas.ScriptRepository,
	logger *zap.Logger,
) *Generator {
	return &Generator{
		synth:     synth,
		store:     store,
		workflows: workflows,
		scripts:   scripts,
		timeout:   cfg.SynthesisTimeout,
		logger:    logger.Named("generator"),
		now:       time.Now,
	}
}

// Generate compiles the workflow's steps and writes the program to the script
// store. It does not modify the workflow or any repository.
func (g *Generator) Generate(ctx context.Context, wf *schemas.Workflow) (*schemas.GeneratedScript, error) {
	if wf == nil || len(wf.Steps) == 0 {
		return nil, schemas.ErrEmptyWorkflow
	}

	steps := orderedSteps(wf.Steps)
	logger := g.logger.With(zap.String("workflow_id", wf.ID), zap.Int("steps", len(steps)))
	now := g.now().UTC()

	code, source := g.synthesize(ctx, wf, steps, logger)
	if code == "" {
		fallback, err := renderProgram(wf, steps, now)
		if err != nil {
			return nil, err
		}
		code, source = fallback, schemas.SourceTemplate
	}

	id := uuid.NewString()
	name := scriptName(wf.Name, now, id)
	path, err := g.store.Write(name, code)
	if err != nil {
		return nil, fmt.Errorf("failed to persist generated script: %w", err)
	}

	script := &schemas.GeneratedScript{
		ID:           id,
		WorkflowID:   wf.ID,
		Name:         strings.TrimSuffix(name, ".js"),
		Code:         code,
		Engine:       schemas.EngineGojaChromedp,
		FilePath:     path,
		Status:       schemas.ScriptPending,
		Source:       source,
		Expectations: expectations(steps),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	logger.Info("Script generated.",
		zap.String("script_id", script.ID),
		zap.String("source", string(source)),
		zap.String("path", path))
	return script, nil
}

// GenerateForWorkflow drives the workflow lifecycle around Generate:
// ready -> generating -> completed, or failed with the error retained.
func (g *Generator) GenerateForWorkflow(ctx context.Context, workflowID string) (*schemas.GeneratedScript, error) {
	wf, err := g.workflows.Update(ctx, workflowID, func(w *schemas.Workflow) error {
		if w.Status != schemas.WorkflowReady {
			return &schemas.InvalidStateError{Entity: "workflow", ID: w.ID, State: string(w.Status), Operation: "generate"}
		}
		w.Status = schemas.WorkflowGenerating
		w.UpdatedAt = g.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	script, genErr := g.Generate(ctx, wf)
	if genErr == nil {
		if genErr = g.scripts.Create(ctx, script); genErr != nil {
			if rmErr := g.store.Remove(script.FilePath); rmErr != nil {
				g.logger.Warn("Failed to remove orphaned script file.", zap.String("path", script.FilePath), zap.Error(rmErr))
			}
			genErr = fmt.Errorf("failed to save script record: %w", genErr)
		}
	}

	_, updErr := g.workflows.Update(ctx, workflowID, func(w *schemas.Workflow) error {
		w.UpdatedAt = g.now().UTC()
		if genErr != nil {
			w.Status = schemas.WorkflowFailed
			w.Error = genErr.Error()
			return nil
		}
		w.Status = schemas.WorkflowCompleted
		w.Error = ""
		w.LastScriptID = script.ID
		return nil
	})
	if updErr != nil {
		g.logger.Error("Failed to record workflow generation outcome.", zap.String("workflow_id", workflowID), zap.Error(updErr))
	}

	if genErr != nil {
		return nil, genErr
	}
	return script, nil
}

// synthesize makes one bounded attempt at external synthesis. Any failure
// returns "" so the caller falls back to templates.
func (g *Generator) synthesize(ctx context.Context, wf *schemas.Workflow, steps []schemas.Step, logger *zap.Logger) (string, schemas.ScriptSource) {
	if g.synth == nil {
		return "", ""
	}

	sctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	raw, err := g.synth.Synthesize(sctx, buildRequest(wf, steps))
	if err == nil {
		raw = cleanSynthesized(raw)
		err = checkProgram(raw)
	}
	if err != nil {
		logger.Warn("Code synthesis failed; using template fallback.",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", ""
	}
	return raw, schemas.SourceSynthesis
}

// checkProgram rejects empty output, output without the entry point and
// output that does not parse.
func checkProgram(code string) error {
	if strings.TrimSpace(code) == "" {
		return errors.New("synthesized code is empty")
	}
	if !strings.Contains(code, "function run(") {
		return errNoEntryPoint
	}
	if _, err := goja.Compile("synthesized.js", code, false); err != nil {
		return fmt.Errorf("synthesized code does not parse: %w", err)
	}
	return nil
}

// renderProgram is the deterministic template fallback.
func renderProgram(wf *schemas.Workflow, steps []schemas.Step, now time.Time) (string, error) {
	view := programView{
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		Engine:       schemas.EngineGojaChromedp,
		GeneratedAt:  now.Format(time.RFC3339),
	}
	for i, step := range steps {
		sv, err := renderStep(i+1, step)
		if err != nil {
			return "", err
		}
		view.Steps = append(view.Steps, sv)
	}

	var sb strings.Builder
	if err := programTemplate.Execute(&sb, view); err != nil {
		return "", fmt.Errorf("failed to render program: %w", err)
	}
	return sb.String(), nil
}

func orderedSteps(in []schemas.Step) []schemas.Step {
	steps := append([]schemas.Step(nil), in...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps
}

func expectations(steps []schemas.Step) []schemas.Expectation {
	var out []schemas.Expectation
	for i, s := range steps {
		if s.ScreenshotRef != "" {
			out = append(out, schemas.Expectation{StepIndex: i + 1, ScreenshotRef: s.ScreenshotRef})
		}
	}
	return out
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// scriptName builds <slug>_<unix-nanos>_<short-id>.js.
func scriptName(workflowName string, now time.Time, id string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(workflowName), "_"), "_")
	if slug == "" {
		slug = "workflow"
	}
	if len(slug) > 48 {
		slug = strings.TrimRight(slug[:48], "_")
	}
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s_%d_%s.js", slug, now.UnixNano(), short)
}
