// File: internal/api/handlers.go
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scriptforge/api/schemas"
	"github.com/xkilldash9x/scriptforge/internal/generator"
	"github.com/xkilldash9x/scriptforge/internal/scriptstore"
	"github.com/xkilldash9x/scriptforge/internal/service"
	"github.com/xkilldash9x/scriptforge/internal/store"
	"github.com/xkilldash9x/scriptforge/internal/tracker"
	"github.com/xkilldash9x/scriptforge/internal/validation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

// Handlers manages HTTP request handling for workflows, scripts and executions.
type Handlers struct {
	log       *zap.Logger
	workflows schemas.WorkflowRepository
	scripts   schemas.ScriptRepository
	files     *scriptstore.Store
	generator *generator.Generator
	validator *validation.Validator
	tracker   *tracker.Tracker
	now       func() time.Time
}

// NewHandlers creates handlers backed by the initialized components.
func NewHandlers(logger *zap.Logger, c *service.Components) *Handlers {
	return &Handlers{
		log:       logger.Named("api_handlers"),
		workflows: c.Repos.Workflows,
		scripts:   c.Repos.Scripts,
		files:     c.ScriptStore,
		generator: c.Generator,
		validator: c.Validator,
		tracker:   c.Tracker,
		now:       time.Now,
	}
}

// RegisterRoutes sets up the routing for the API.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	// Health check endpoint (unversioned)
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", h.HandleCreateWorkflow)
			r.Get("/", h.HandleListWorkflows)
			r.Get("/{id}", h.HandleGetWorkflow)
			r.Put("/{id}", h.HandleUpdateWorkflow)
			r.Delete("/{id}", h.HandleDeleteWorkflow)
			r.Post("/{id}/finalize", h.HandleFinalizeWorkflow)
			r.Post("/{id}/generate", h.HandleGenerateScript)
		})
		r.Route("/scripts", func(r chi.Router) {
			r.Get("/", h.HandleListScripts)
			r.Get("/{id}", h.HandleGetScript)
			r.Get("/{id}/download", h.HandleDownloadScript)
			r.Post("/{id}/validate", h.HandleValidateScript)
			r.Post("/{id}/execute", h.HandleExecuteScript)
			r.Delete("/{id}", h.HandleDeleteScript)
		})
		r.Route("/executions", func(r chi.Router) {
			r.Post("/", h.HandleStartExecution)
			r.Get("/", h.HandleListExecutions)
			r.Get("/{id}", h.HandleGetExecution)
			r.Get("/{id}/logs", h.HandleGetExecutionLogs)
			r.Post("/{id}/stop", h.HandleStopExecution)
		})
	})
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// -- Workflows --

func (h *Handlers) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req WorkflowRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.now().UTC()
	wf := &schemas.Workflow{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Status:      schemas.WorkflowDraft,
		Steps:       req.Steps,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Finalize {
		if err := wf.Finalize(); err != nil {
			h.respondWithAppError(w, err)
			return
		}
	}
	if err := h.workflows.Create(r.Context(), wf); err != nil {
		h.respondWithAppError(w, err)
		return
	}

	h.log.Info("Workflow created.", zap.String("workflow_id", wf.ID), zap.String("status", string(wf.Status)))
	h.respondWithSuccess(w, http.StatusCreated, wf)
}

func (h *Handlers) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.workflows.List(r.Context())
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := workflows[:0]
		for _, wf := range workflows {
			if string(wf.Status) == status {
				filtered = append(filtered, wf)
			}
		}
		workflows = filtered
	}
	if workflows == nil {
		workflows = []*schemas.Workflow{}
	}
	h.respondWithSuccess(w, http.StatusOK, workflows)
}

func (h *Handlers) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.workflows.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, wf)
}

// HandleUpdateWorkflow replaces a workflow's content and returns it to draft,
// or straight to ready when finalize is requested.
func (h *Handlers) HandleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req WorkflowRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	wf, err := h.workflows.Update(r.Context(), chi.URLParam(r, "id"), func(wf *schemas.Workflow) error {
		if wf.Status == schemas.WorkflowGenerating {
			return &schemas.InvalidStateError{Entity: "workflow", ID: wf.ID, State: string(wf.Status), Operation: "update"}
		}
		wf.Name = strings.TrimSpace(req.Name)
		wf.Description = req.Description
		wf.Steps = req.Steps
		wf.Status = schemas.WorkflowDraft
		wf.Error = ""
		wf.UpdatedAt = h.now().UTC()
		if req.Finalize {
			return wf.Finalize()
		}
		return nil
	})
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.log.Info("Workflow updated.", zap.String("workflow_id", wf.ID))
	h.respondWithSuccess(w, http.StatusOK, wf)
}

func (h *Handlers) HandleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.workflows.Delete(r.Context(), id); err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.log.Info("Workflow deleted.", zap.String("workflow_id", id))
	h.respondWithSuccess(w, http.StatusOK, map[string]string{"id": id})
}

func (h *Handlers) HandleFinalizeWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.workflows.Update(r.Context(), chi.URLParam(r, "id"), func(wf *schemas.Workflow) error {
		if err := wf.Finalize(); err != nil {
			return err
		}
		wf.UpdatedAt = h.now().UTC()
		return nil
	})
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, wf)
}

func (h *Handlers) HandleGenerateScript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.log.Info("Starting script generation.", zap.String("workflow_id", id))
	script, err := h.generator.GenerateForWorkflow(r.Context(), id)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusCreated, script)
}

// -- Scripts --

func (h *Handlers) HandleListScripts(w http.ResponseWriter, r *http.Request) {
	scripts, err := h.scripts.List(r.Context(), r.URL.Query().Get("workflow_id"))
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	if scripts == nil {
		scripts = []*schemas.GeneratedScript{}
	}
	h.respondWithSuccess(w, http.StatusOK, scripts)
}

func (h *Handlers) HandleGetScript(w http.ResponseWriter, r *http.Request) {
	script, err := h.scripts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, script)
}

// HandleDownloadScript serves the program text as a file attachment.
func (h *Handlers) HandleDownloadScript(w http.ResponseWriter, r *http.Request) {
	script, err := h.scripts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", script.Name+".js"))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, script.Code)
}

// HandleValidateScript runs a validation synchronously and returns the
// script with its verdict attached.
func (h *Handlers) HandleValidateScript(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	script, err := h.validator.ValidateScript(r.Context(), chi.URLParam(r, "id"), req.Params)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, script)
}

func (h *Handlers) HandleExecuteScript(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	h.startExecution(w, r, chi.URLParam(r, "id"), req.Params)
}

// HandleDeleteScript removes the record and then its program file. A file
// that cannot be removed is logged and left behind.
func (h *Handlers) HandleDeleteScript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	script, err := h.scripts.Get(r.Context(), id)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	if err := h.scripts.Delete(r.Context(), id); err != nil {
		h.respondWithAppError(w, err)
		return
	}
	if err := h.files.Remove(script.FilePath); err != nil {
		h.log.Warn("Failed to remove script file.", zap.String("script_id", id), zap.String("path", script.FilePath), zap.Error(err))
	}
	h.log.Info("Script deleted.", zap.String("script_id", id))
	h.respondWithSuccess(w, http.StatusOK, map[string]string{"id": id})
}

// -- Executions --

func (h *Handlers) HandleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.ScriptID == "" {
		h.respondWithError(w, http.StatusBadRequest, "script_id is required")
		return
	}
	h.startExecution(w, r, req.ScriptID, req.Params)
}

func (h *Handlers) startExecution(w http.ResponseWriter, r *http.Request, scriptID string, params map[string]any) {
	exec, err := h.tracker.Start(r.Context(), scriptID, params)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithStatus(w, http.StatusAccepted, "accepted", exec, "")
}

func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseExecutionFilter(r)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter = filter.Normalize()

	executions, total, err := h.tracker.List(r.Context(), filter)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	if executions == nil {
		executions = []*schemas.Execution{}
	}
	h.respondWithSuccess(w, http.StatusOK, ExecutionPage{
		Executions: executions,
		Total:      total,
		Page:       filter.Page,
		Limit:      filter.Limit,
	})
}

func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.tracker.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, exec)
}

func (h *Handlers) HandleGetExecutionLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.tracker.Logs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	if logs == nil {
		logs = []schemas.LogEntry{}
	}
	h.respondWithSuccess(w, http.StatusOK, logs)
}

func (h *Handlers) HandleStopExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.tracker.Stop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.log.Info("Execution stopped.", zap.String("execution_id", exec.ID))
	h.respondWithSuccess(w, http.StatusOK, exec)
}

// parseExecutionFilter reads script_id, status, page and limit from the query.
func parseExecutionFilter(r *http.Request) (schemas.ExecutionFilter, error) {
	q := r.URL.Query()
	filter := schemas.ExecutionFilter{
		ScriptID: q.Get("script_id"),
		Status:   schemas.ExecutionStatus(q.Get("status")),
	}
	switch filter.Status {
	case "", schemas.ExecutionRunning, schemas.ExecutionCompleted, schemas.ExecutionFailed, schemas.ExecutionStopped:
	default:
		return filter, fmt.Errorf("unknown status %q", filter.Status)
	}

	var err error
	if filter.Page, err = queryInt(q.Get("page")); err != nil {
		return filter, fmt.Errorf("invalid page: %w", err)
	}
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		return filter, fmt.Errorf("invalid limit: %w", err)
	}
	return filter, nil
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// decodeBody decodes a JSON body. With allowEmpty, a missing body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	return err
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, schemas.ErrNotFound):
		return http.StatusNotFound
	case schemas.IsInvalidState(err), errors.Is(err, store.ErrExists):
		return http.StatusConflict
	case errors.Is(err, schemas.ErrEmptyWorkflow), errors.Is(err, schemas.ErrInvalidStep):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondWithAppError sends the status that matches err.
func (h *Handlers) respondWithAppError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.log.Error("Request failed.", zap.Error(err))
	}
	h.respondWithError(w, code, err.Error())
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respondWithStatus(w, statusCode, "error", nil, message)
}

// respondWithSuccess sends a standardized JSON success response.
func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	h.respondWithStatus(w, statusCode, "success", data, "")
}

// respondWithStatus sends a standardized JSON response with a specific status string.
func (h *Handlers) respondWithStatus(w http.ResponseWriter, statusCode int, status string, data interface{}, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	resp := Response{Status: status, Data: data, Error: errMsg}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
