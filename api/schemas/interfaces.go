package schemas

import "context"

// -- Repository Interfaces --

// WorkflowRepository persists workflows. Update applies mutate atomically
// with respect to other updates of the same record; returning an error from
// mutate aborts the update and leaves the stored record unchanged.
//
//go:generate mockery --name WorkflowRepository --output ../../internal/mocks --outpkg mocks
type WorkflowRepository interface {
	Create(ctx context.Context, w *Workflow) error
	Get(ctx context.Context, id string) (*Workflow, error)
	List(ctx context.Context) ([]*Workflow, error)
	Update(ctx context.Context, id string, mutate func(*Workflow) error) (*Workflow, error)
	Delete(ctx context.Context, id string) error
}

// ScriptRepository persists generated scripts.
//
//go:generate mockery --name ScriptRepository --output ../../internal/mocks --outpkg mocks
type ScriptRepository interface {
	Create(ctx context.Context, s *GeneratedScript) error
	Get(ctx context.Context, id string) (*GeneratedScript, error)
	// List returns scripts newest first, optionally restricted to one workflow.
	List(ctx context.Context, workflowID string) ([]*GeneratedScript, error)
	Update(ctx context.Context, id string, mutate func(*GeneratedScript) error) (*GeneratedScript, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository persists live run records.
//
//go:generate mockery --name ExecutionRepository --output ../../internal/mocks --outpkg mocks
type ExecutionRepository interface {
	Create(ctx context.Context, e *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	// List returns the requested page ordered by start time, newest first,
	// together with the total number of matching records.
	List(ctx context.Context, filter ExecutionFilter) ([]*Execution, int, error)
	Update(ctx context.Context, id string, mutate func(*Execution) error) (*Execution, error)
	Delete(ctx context.Context, id string) error
}

// Repositories groups the three stores so they can be wired as one unit.
type Repositories struct {
	Workflows  WorkflowRepository
	Scripts    ScriptRepository
	Executions ExecutionRepository
}

// -- Collaborator Interfaces --

// SynthesisRequest is the prompt handed to a code-synthesis provider.
type SynthesisRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

// Synthesizer turns a prompt into program text. Every failure class is
// reported as an error; callers fall back rather than retry.
//
//go:generate mockery --name Synthesizer --output ../../internal/mocks --outpkg mocks
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (string, error)
}

// BBox is an axis-aligned box in image pixel coordinates.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TextRegion is one OCR line or block.
type TextRegion struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// OCRResult is the extraction of one image.
type OCRResult struct {
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	Regions    []TextRegion `json:"regions,omitempty"`
	// Degraded marks the fixed placeholder produced when extraction failed.
	Degraded bool `json:"degraded,omitempty"`
}

// TextExtractor is the OCR capability.
//
//go:generate mockery --name TextExtractor --output ../../internal/mocks --outpkg mocks
type TextExtractor interface {
	Extract(ctx context.Context, image []byte, language string) (OCRResult, error)
}
