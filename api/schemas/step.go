package schemas

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// -- Step Schemas --

// Action names one automation instruction kind.
type Action string

const (
	ActionNavigate   Action = "navigate"
	ActionClick      Action = "click"
	ActionInput      Action = "input"
	ActionSelect     Action = "select"
	ActionWait       Action = "wait"
	ActionScreenshot Action = "screenshot"
	ActionScroll     Action = "scroll"
	ActionHover      Action = "hover"
)

// SupportedActions lists every action the generator has a template for, in
// documentation order.
var SupportedActions = []Action{
	ActionNavigate,
	ActionClick,
	ActionInput,
	ActionSelect,
	ActionWait,
	ActionScreenshot,
	ActionScroll,
	ActionHover,
}

// actionAliases maps accepted spellings onto the canonical action.
var actionAliases = map[string]Action{
	"goto": ActionNavigate,
	"fill": ActionInput,
	"type": ActionInput,
}

const (
	// DefaultWaitTarget is used when a wait step carries no target (seconds).
	DefaultWaitTarget = "1"
	// DefaultScrollTarget scrolls the viewport rather than a specific element.
	DefaultScrollTarget = "window"
)

// ParseAction normalizes a user supplied action name. Unknown names are
// returned verbatim (lower-cased) so the generator can emit a placeholder.
func ParseAction(raw string) Action {
	name := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := actionAliases[name]; ok {
		return alias
	}
	return Action(name)
}

// Known reports whether the action belongs to the supported vocabulary.
func (a Action) Known() bool {
	for _, known := range SupportedActions {
		if a == known {
			return true
		}
	}
	return false
}

// RequiresValue reports whether the action needs Step.Value.
func (a Action) RequiresValue() bool {
	return a == ActionInput || a == ActionSelect
}

// Step is a single automation instruction within a workflow.
type Step struct {
	Order         int    `json:"order" yaml:"order"`
	Action        Action `json:"action" yaml:"action"`
	Target        string `json:"target,omitempty" yaml:"target,omitempty"`
	Value         string `json:"value,omitempty" yaml:"value,omitempty"`
	ScreenshotRef string `json:"screenshot_ref,omitempty" yaml:"screenshot_ref,omitempty"`
	Description   string `json:"description,omitempty" yaml:"description,omitempty"`
}

// normalize applies alias resolution and target defaults in place.
func (s *Step) normalize() {
	s.Action = ParseAction(string(s.Action))
	s.Target = strings.TrimSpace(s.Target)
	if s.Target == "" {
		switch s.Action {
		case ActionWait:
			s.Target = DefaultWaitTarget
		case ActionScroll:
			s.Target = DefaultScrollTarget
		}
	}
}

// Validate checks a normalized step. Unknown actions are accepted because
// the generator degrades them to a placeholder; an empty action is not.
func (s Step) Validate() error {
	if s.Action == "" {
		return fmt.Errorf("%w: step %d has no action", ErrInvalidStep, s.Order)
	}
	if !s.Action.Known() {
		return nil
	}
	if s.Target == "" {
		return fmt.Errorf("%w: step %d (%s) requires a target", ErrInvalidStep, s.Order, s.Action)
	}
	if s.Action.RequiresValue() && s.Value == "" {
		return fmt.Errorf("%w: step %d (%s) requires a value", ErrInvalidStep, s.Order, s.Action)
	}
	return nil
}

// -- Workflow Schemas --

// WorkflowStatus tracks a workflow through authoring and generation.
type WorkflowStatus string

const (
	WorkflowDraft      WorkflowStatus = "draft"
	WorkflowReady      WorkflowStatus = "ready"
	WorkflowGenerating WorkflowStatus = "generating"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowFailed     WorkflowStatus = "failed"
)

// Workflow is an ordered list of steps plus metadata. It owns its steps.
type Workflow struct {
	ID          string         `json:"id" yaml:"id,omitempty"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Status      WorkflowStatus `json:"status" yaml:"status,omitempty"`
	Steps       []Step         `json:"steps" yaml:"steps"`
	// LastScriptID is the most recent script generated from this workflow.
	LastScriptID string    `json:"last_script_id,omitempty" yaml:"-"`
	Error        string    `json:"error,omitempty" yaml:"-"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"-"`
}

// Finalize normalizes and validates the steps and moves the workflow into the
// ready state. Steps are sorted by order, which must form the dense sequence
// 1..n. A workflow that is currently generating cannot be finalized.
func (w *Workflow) Finalize() error {
	if w.Status == WorkflowGenerating {
		return &InvalidStateError{Entity: "workflow", ID: w.ID, State: string(w.Status), Operation: "finalize"}
	}
	if len(w.Steps) == 0 {
		return ErrEmptyWorkflow
	}

	steps := make([]Step, len(w.Steps))
	copy(steps, w.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	for i := range steps {
		if steps[i].Order != i+1 {
			return fmt.Errorf("%w: step orders must form a dense sequence starting at 1 (position %d has order %d)",
				ErrInvalidStep, i+1, steps[i].Order)
		}
		steps[i].normalize()
		if err := steps[i].Validate(); err != nil {
			return err
		}
	}

	w.Steps = steps
	w.Status = WorkflowReady
	w.Error = ""
	return nil
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	c := *w
	c.Steps = append([]Step(nil), w.Steps...)
	return &c
}
