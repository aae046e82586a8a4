// File: internal/api/types.go
package api

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/scriptforge/api/schemas"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Status string      `json:"status"` // "success", "error", "accepted"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// WorkflowRequest is the body of workflow create and update calls.
type WorkflowRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Steps       []schemas.Step `json:"steps"`
	// Finalize moves the workflow to ready in the same call.
	Finalize bool `json:"finalize,omitempty"`
}

const (
	maxNameLength        = 100
	maxDescriptionLength = 500
)

// Validate checks the request shape. Step semantics are checked by Finalize.
func (r WorkflowRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	switch {
	case name == "":
		return fmt.Errorf("name is required")
	case len(name) > maxNameLength:
		return fmt.Errorf("name must be at most %d characters", maxNameLength)
	case len(r.Description) > maxDescriptionLength:
		return fmt.Errorf("description must be at most %d characters", maxDescriptionLength)
	case r.Steps == nil:
		return fmt.Errorf("steps is required")
	}
	for i, s := range r.Steps {
		if strings.TrimSpace(string(s.Action)) == "" {
			return fmt.Errorf("steps[%d].action is required", i)
		}
	}
	return nil
}

// RunRequest carries the parameters for validation and live runs.
type RunRequest struct {
	ScriptID string         `json:"script_id,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// ExecutionPage is the listing payload for executions.
type ExecutionPage struct {
	Executions []*schemas.Execution `json:"executions"`
	Total      int                  `json:"total"`
	Page       int                  `json:"page"`
	Limit      int                  `json:"limit"`
}
