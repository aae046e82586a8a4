// File: cmd/components.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/scriptforge/api/schemas"
	"github.com/xkilldash9x/scriptforge/internal/config"
	"github.com/xkilldash9x/scriptforge/internal/service"
)

// componentsFactory builds the service graph. Tests replace it to inject a
// fake browser launcher and an in-memory filesystem.
var componentsFactory = func(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*service.Components, error) {
	return service.NewComponents(ctx, cfg, logger, service.Options{})
}

// loadWorkflowFile parses a workflow from YAML or JSON.
func loadWorkflowFile(path string) (*schemas.Workflow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	var wf schemas.Workflow
	if err := unmarshalDocument(raw, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow file %s: %w", path, err)
	}
	if strings.TrimSpace(wf.Name) == "" {
		wf.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &wf, nil
}

// loadParamsFile reads the test data map passed to run(params).
func loadParamsFile(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	params := map[string]any{}
	if err := unmarshalDocument(raw, &params); err != nil {
		return nil, fmt.Errorf("failed to parse data file %s: %w", path, err)
	}
	return params, nil
}

// unmarshalDocument decodes JSON when the document starts with an object
// and YAML otherwise. Tab-indented JSON is not valid YAML.
func unmarshalDocument(raw []byte, v interface{}) error {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		return json.Unmarshal(trimmed, v)
	}
	return yaml.Unmarshal(raw, v)
}

// importWorkflow finalizes a workflow loaded from disk and records it so the
// generator can drive its lifecycle.
func importWorkflow(ctx context.Context, c *service.Components, wf *schemas.Workflow) (*schemas.Workflow, error) {
	now := time.Now().UTC()
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	wf.Status = schemas.WorkflowDraft
	wf.CreatedAt, wf.UpdatedAt = now, now
	if err := wf.Finalize(); err != nil {
		return nil, fmt.Errorf("workflow %q is not valid: %w", wf.Name, err)
	}
	if err := c.Repos.Workflows.Create(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}
	return wf, nil
}

// resolveScript returns the script named by id, or generates one from the
// workflow file when no id is given.
func resolveScript(ctx context.Context, c *service.Components, scriptID, workflowPath string) (*schemas.GeneratedScript, error) {
	switch {
	case scriptID != "" && workflowPath != "":
		return nil, fmt.Errorf("--script and --workflow are mutually exclusive")
	case scriptID != "":
		return c.Repos.Scripts.Get(ctx, scriptID)
	case workflowPath != "":
		wf, err := loadWorkflowFile(workflowPath)
		if err != nil {
			return nil, err
		}
		if wf, err = importWorkflow(ctx, c, wf); err != nil {
			return nil, err
		}
		return c.Generator.GenerateForWorkflow(ctx, wf.ID)
	default:
		return nil, fmt.Errorf("one of --script or --workflow is required")
	}
}
