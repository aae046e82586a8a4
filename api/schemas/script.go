package schemas

import "time"

// -- Generated Script Schemas --

// EngineGojaChromedp is the only execution engine the generator targets: a
// JavaScript program run inside an embedded goja VM whose host API drives a
// chromedp controlled browser.
const EngineGojaChromedp = "goja-chromedp"

// ScriptStatus is the lifecycle state of a generated script.
type ScriptStatus string

const (
	ScriptPending   ScriptStatus = "pending"
	ScriptValidated ScriptStatus = "validated"
	ScriptFailed    ScriptStatus = "failed"
)

// ScriptSource records which path produced the code.
type ScriptSource string

const (
	SourceSynthesis ScriptSource = "synthesis"
	SourceTemplate  ScriptSource = "template"
)

// Expectation is the expected-state evidence for one step, snapshotted at
// generation time so a script can be validated after its workflow is gone.
type Expectation struct {
	StepIndex     int    `json:"step_index"`
	ScreenshotRef string `json:"screenshot_ref"`
}

// GeneratedScript is the immutable program artifact derived from a workflow.
// Only Status, Validation and UpdatedAt change after creation.
type GeneratedScript struct {
	ID           string            `json:"id"`
	WorkflowID   string            `json:"workflow_id"`
	Name         string            `json:"name"`
	Code         string            `json:"code"`
	Engine       string            `json:"engine"`
	FilePath     string            `json:"file_path"`
	Status       ScriptStatus      `json:"status"`
	Source       ScriptSource      `json:"source"`
	Expectations []Expectation     `json:"expectations,omitempty"`
	Validation   *ValidationResult `json:"validation,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// ExpectationFor returns the evidence reference for a 1-based step index.
func (s *GeneratedScript) ExpectationFor(stepIndex int) (string, bool) {
	for _, e := range s.Expectations {
		if e.StepIndex == stepIndex && e.ScreenshotRef != "" {
			return e.ScreenshotRef, true
		}
	}
	return "", false
}

// AttachValidation stores a verdict and derives the script status from it.
func (s *GeneratedScript) AttachValidation(result *ValidationResult) {
	s.Validation = result
	if result != nil && result.Success {
		s.Status = ScriptValidated
	} else {
		s.Status = ScriptFailed
	}
	s.UpdatedAt = time.Now().UTC()
}

// -- Validation Schemas --

// StepResult is the verdict for one captured step.
type StepResult struct {
	StepIndex int  `json:"step_index"`
	Passed    bool `json:"passed"`
	// MatchScore is the value compared against the pass threshold.
	MatchScore float64 `json:"match_score"`
	Similarity float64 `json:"similarity"`
	// Confidence is the OCR confidence of the captured screenshot.
	Confidence         float64 `json:"confidence"`
	Degraded           bool    `json:"degraded,omitempty"`
	ExpectedScreenshot string  `json:"expected_screenshot,omitempty"`
	ActualScreenshot   string  `json:"actual_screenshot,omitempty"`
	ObservedText       string  `json:"observed_text,omitempty"`
	Diff               string  `json:"diff,omitempty"`
	Error              string  `json:"error,omitempty"`
}

// ValidationResult is the aggregated verdict of one validation run.
type ValidationResult struct {
	Success     bool          `json:"success"`
	Steps       []StepResult  `json:"steps"`
	TotalSteps  int           `json:"total_steps"`
	PassedSteps int           `json:"passed_steps"`
	FailedSteps int           `json:"failed_steps"`
	Duration    time.Duration `json:"duration"`
	EvidenceDir string        `json:"evidence_dir,omitempty"`
	Error       string        `json:"error,omitempty"`
	ValidatedAt time.Time     `json:"validated_at"`
}

// Tally recomputes the aggregate counters from Steps.
func (r *ValidationResult) Tally() {
	r.TotalSteps = len(r.Steps)
	r.PassedSteps = 0
	for _, s := range r.Steps {
		if s.Passed {
			r.PassedSteps++
		}
	}
	r.FailedSteps = r.TotalSteps - r.PassedSteps
	r.Success = r.FailedSteps == 0
}
