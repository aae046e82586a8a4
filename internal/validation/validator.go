// Package validation scores a generated program by running it and comparing
// the text on its screenshots with the recorded evidence.
package validation

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scriptforge/api/schemas"
	"github.com/xkilldash9x/scriptforge/internal/config"
	"github.com/xkilldash9x/scriptforge/internal/ocr"
	"github.com/xkilldash9x/scriptforge/internal/sandbox"
	"github.com/xkilldash9x/scriptforge/internal/similarity"
)

const (
	// Steps scored at once; each step runs up to two extractions.
	stepParallelism  = 4
	maxEvidenceBytes = 32 << 20
)

// Runner executes a program. *sandbox.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, req sandbox.RunRequest) *sandbox.RunOutcome
}

// Validator runs programs in validation mode and scores their evidence.
type Validator struct {
	cfg        config.ValidationConfig
	fallback   float64
	runner     Runner
	extractor  schemas.TextExtractor
	scripts    schemas.ScriptRepository
	fs         afero.Fs
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a validator. fallbackConfidence is the confidence assigned to
// a screenshot whose extraction failed. scripts is only needed by
// ValidateScript.
func New(
	cfg config.ValidationConfig,
	fallbackConfidence float64,
	runner Runner,
	extractor schemas.TextExtractor,
	scripts schemas.ScriptRepository,
	fs afero.Fs,
	logger *zap.Logger,
) *Validator {
	return &Validator{
		cfg:        cfg,
		fallback:   fallbackConfidence,
		runner:     runner,
		extractor:  extractor,
		scripts:    scripts,
		fs:         fs,
		httpClient: &http.Client{Timeout: cfg.EvidenceTimeout},
		logger:     logger.Named("validation"),
		now:        time.Now,
	}
}

// ValidateScript loads a script, validates it, and stores the verdict on it.
func (v *Validator) ValidateScript(ctx context.Context, scriptID string, testData map[string]any) (*schemas.GeneratedScript, error) {
	script, err := v.scripts.Get(ctx, scriptID)
	if err != nil {
		return nil, err
	}

	result := v.Validate(ctx, script, testData)

	updated, err := v.scripts.Update(ctx, scriptID, func(s *schemas.GeneratedScript) error {
		s.AttachValidation(result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store validation result: %w", err)
	}
	return updated, nil
}

// Validate runs the script and scores every captured step. It never fails;
// problems are reported inside the result.
func (v *Validator) Validate(ctx context.Context, script *schemas.GeneratedScript, testData map[string]any) *schemas.ValidationResult {
	start := time.Now()
	logger := v.logger.With(zap.String("script_id", script.ID))

	out := v.runner.Run(ctx, sandbox.RunRequest{
		ScriptPath: script.FilePath,
		Mode:       sandbox.ModeValidation,
		Params:     testData,
		OnLog: func(level schemas.LogLevel, msg string) {
			logger.Debug("Program output.", zap.String("level", string(level)), zap.String("message", msg))
		},
	})

	steps := make([]schemas.StepResult, len(out.Screenshots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(stepParallelism)
	for i, shot := range out.Screenshots {
		g.Go(func() error {
			steps[i] = v.scoreStep(gctx, script, shot, logger)
			return nil
		})
	}
	_ = g.Wait()

	result := &schemas.ValidationResult{
		Steps:       steps,
		EvidenceDir: out.EvidenceDir,
	}
	if out.Err != nil {
		result.Error = out.Err.Error()
		result.Steps = append(result.Steps, schemas.StepResult{
			StepIndex: len(out.Screenshots) + 1,
			Passed:    false,
			Error:     out.Err.Error(),
		})
	}
	result.Tally()
	result.Duration = time.Since(start)
	result.ValidatedAt = v.now().UTC()

	logger.Info("Validation finished.",
		zap.Bool("success", result.Success),
		zap.Int("passed", result.PassedSteps),
		zap.Int("failed", result.FailedSteps),
		zap.Duration("duration", result.Duration))
	return result
}

// scoreStep extracts the captured screenshot and, when present, the expected
// evidence concurrently, then applies the pass rule.
func (v *Validator) scoreStep(ctx context.Context, script *schemas.GeneratedScript, shot sandbox.Screenshot, logger *zap.Logger) schemas.StepResult {
	res := schemas.StepResult{StepIndex: shot.StepIndex, ActualScreenshot: shot.Path}
	ref, hasEvidence := script.ExpectationFor(shot.StepIndex)

	var (
		actual, expected schemas.OCRResult
		evidenceErr      error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := afero.ReadFile(v.fs, shot.Path)
		if err != nil {
			logger.Warn("Screenshot unreadable; degrading.", zap.String("path", shot.Path), zap.Error(err))
			actual = ocr.Fallback(v.fallback)
			return nil
		}
		actual = v.extract(gctx, data, logger)
		return nil
	})
	if hasEvidence {
		res.ExpectedScreenshot = ref
		g.Go(func() error {
			data, err := v.loadEvidence(gctx, ref)
			if err != nil {
				evidenceErr = err
				logger.Warn("Expected evidence unavailable; degrading.", zap.String("ref", ref), zap.Error(err))
				expected = ocr.Fallback(v.fallback)
				return nil
			}
			expected = v.extract(gctx, data, logger)
			return nil
		})
	}
	_ = g.Wait()

	res.Confidence = actual.Confidence
	res.ObservedText = actual.Text
	res.Degraded = actual.Degraded || expected.Degraded

	if hasEvidence {
		res.Similarity = similarity.Compare(similarity.Metric(v.cfg.Metric), expected.Text, actual.Text)
		res.MatchScore = math.Min(res.Similarity, math.Min(actual.Confidence, expected.Confidence))
		res.Passed = res.MatchScore > v.cfg.Threshold
		if res.Similarity < 1 {
			res.Diff = similarity.Diff(expected.Text, actual.Text)
		}
		if evidenceErr != nil {
			res.Error = fmt.Sprintf("expected evidence unavailable: %v", evidenceErr)
		}
		return res
	}

	// A degraded extraction has no text; its placeholder confidence decides.
	res.MatchScore = actual.Confidence
	res.Passed = res.MatchScore >= v.cfg.MinConfidence && (actual.Degraded || strings.TrimSpace(actual.Text) != "")
	return res
}

// extract runs OCR, substituting the degraded placeholder on failure.
func (v *Validator) extract(ctx context.Context, data []byte, logger *zap.Logger) schemas.OCRResult {
	res, err := v.extractor.Extract(ctx, data, v.cfg.Language)
	if err != nil {
		logger.Warn("OCR failed; using fallback result.", zap.Error(err))
		return ocr.Fallback(v.fallback)
	}
	return res
}

// loadEvidence reads a local path or downloads an http(s) reference.
func (v *Validator) loadEvidence(ctx context.Context, ref string) ([]byte, error) {
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return afero.ReadFile(v.fs, ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("evidence download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxEvidenceBytes))
}
