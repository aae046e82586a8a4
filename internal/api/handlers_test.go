package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scriptforge/api/schemas"
	"github.com/xkilldash9x/scriptforge/internal/config"
	"github.com/xkilldash9x/scriptforge/internal/sandbox"
	"github.com/xkilldash9x/scriptforge/internal/service"
)

// -- Stubs --

type stubLauncher struct{}

func (stubLauncher) Launch(context.Context, sandbox.LaunchOptions) (sandbox.Browser, error) {
	return stubBrowser{}, nil
}

type stubBrowser struct{}

func (stubBrowser) Page(context.Context) (sandbox.Page, error) { return stubPage{}, nil }
func (stubBrowser) Close() error                               { return nil }

type stubPage struct{}

func (stubPage) Navigate(context.Context, string) error       { return nil }
func (stubPage) Click(context.Context, string) error          { return nil }
func (stubPage) Fill(context.Context, string, string) error   { return nil }
func (stubPage) Select(context.Context, string, string) error { return nil }
func (stubPage) WaitVisible(context.Context, string) error    { return nil }
func (stubPage) Scroll(context.Context, string, int) error    { return nil }
func (stubPage) Hover(context.Context, string) error          { return nil }
func (stubPage) Screenshot(context.Context) ([]byte, error)   { return []byte("png"), nil }

// -- Test Setup Helpers --

type envelope[T any] struct {
	Status string `json:"status"`
	Data   T      `json:"data"`
	Error  string `json:"error"`
}

type testAPI struct {
	t          *testing.T
	server     *httptest.Server
	components *service.Components
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	ocrServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"Search results for goja","confidence":0.92}`)
	}))
	t.Cleanup(ocrServer.Close)

	cfg := config.NewDefaultConfig()
	cfg.DatabaseCfg.URL = ""
	cfg.GeneratorCfg.OutputDir = "/scripts"
	cfg.SandboxCfg.EvidenceDir = "/evidence"
	cfg.SandboxCfg.StepDelay = 0
	cfg.LLMCfg.Provider = config.ProviderNone
	cfg.OCRCfg.URL = ocrServer.URL

	logger := zaptest.NewLogger(t)
	components, err := service.NewComponents(context.Background(), cfg, logger, service.Options{
		Fs:       afero.NewMemMapFs(),
		Launcher: stubLauncher{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { components.Shutdown(context.Background()) })

	srv := httptest.NewServer(NewServer(cfg.Server(), components, logger).Router())
	t.Cleanup(srv.Close)
	return &testAPI{t: t, server: srv, components: components}
}

func (a *testAPI) do(method, path, body string) *http.Response {
	a.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.server.Client().Do(req)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

const searchWorkflow = `{
	"name": "Search",
	"steps": [
		{"order": 2, "action": "type", "target": "#q", "value": "{{term}}"},
		{"order": 1, "action": "navigate", "target": "https://search.test"}
	]
}`

// createReadyWorkflow creates and finalizes a workflow through the API.
func (a *testAPI) createReadyWorkflow() *schemas.Workflow {
	a.t.Helper()
	resp := a.do(http.MethodPost, "/api/v1/workflows", searchWorkflow)
	require.Equal(a.t, http.StatusCreated, resp.StatusCode)
	created := decode[*schemas.Workflow](a.t, resp)

	resp = a.do(http.MethodPost, "/api/v1/workflows/"+created.Data.ID+"/finalize", "")
	require.Equal(a.t, http.StatusOK, resp.StatusCode)
	return decode[*schemas.Workflow](a.t, resp).Data
}

func (a *testAPI) generate(workflowID string) *schemas.GeneratedScript {
	a.t.Helper()
	resp := a.do(http.MethodPost, "/api/v1/workflows/"+workflowID+"/generate", "")
	require.Equal(a.t, http.StatusCreated, resp.StatusCode)
	return decode[*schemas.GeneratedScript](a.t, resp).Data
}

// -- Test Cases --

func TestHealthCheck(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(body))
}

func TestWorkflowEndpoints(t *testing.T) {
	a := newTestAPI(t)

	t.Run("create starts in draft", func(t *testing.T) {
		resp := a.do(http.MethodPost, "/api/v1/workflows", searchWorkflow)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		env := decode[*schemas.Workflow](t, resp)
		assert.Equal(t, "success", env.Status)
		assert.NotEmpty(t, env.Data.ID)
		assert.Equal(t, schemas.WorkflowDraft, env.Data.Status)
	})

	t.Run("finalize orders and normalizes steps", func(t *testing.T) {
		wf := a.createReadyWorkflow()
		assert.Equal(t, schemas.WorkflowReady, wf.Status)
		require.Len(t, wf.Steps, 2)
		assert.Equal(t, schemas.ActionNavigate, wf.Steps[0].Action)
		assert.Equal(t, schemas.ActionInput, wf.Steps[1].Action, "type is an alias of input")
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		cases := map[string]string{
			"not json":      `{"name":`,
			"missing name":  `{"steps": []}`,
			"missing steps": `{"name": "x"}`,
			"blank action":  `{"name": "x", "steps": [{"order": 1, "target": "#a"}]}`,
		}
		for name, body := range cases {
			resp := a.do(http.MethodPost, "/api/v1/workflows", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
			assert.Equal(t, "error", decode[any](t, resp).Status, name)
		}
	})

	t.Run("finalize with a gap in step order is a bad request", func(t *testing.T) {
		body := `{"name": "Gap", "steps": [
			{"order": 1, "action": "click", "target": "#a"},
			{"order": 3, "action": "click", "target": "#b"}]}`
		resp := a.do(http.MethodPost, "/api/v1/workflows", body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		id := decode[*schemas.Workflow](t, resp).Data.ID

		resp = a.do(http.MethodPost, "/api/v1/workflows/"+id+"/finalize", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, decode[any](t, resp).Error, "invalid step")
	})

	t.Run("finalize an empty workflow is a bad request", func(t *testing.T) {
		resp := a.do(http.MethodPost, "/api/v1/workflows", `{"name": "Empty", "steps": [], "finalize": true}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("generate requires a ready workflow", func(t *testing.T) {
		resp := a.do(http.MethodPost, "/api/v1/workflows", searchWorkflow)
		id := decode[*schemas.Workflow](t, resp).Data.ID

		resp = a.do(http.MethodPost, "/api/v1/workflows/"+id+"/generate", "")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("update returns the workflow to draft", func(t *testing.T) {
		wf := a.createReadyWorkflow()
		resp := a.do(http.MethodPut, "/api/v1/workflows/"+wf.ID,
			`{"name": "Renamed", "steps": [{"order": 1, "action": "navigate", "target": "https://x.test"}]}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		updated := decode[*schemas.Workflow](t, resp).Data
		assert.Equal(t, "Renamed", updated.Name)
		assert.Equal(t, schemas.WorkflowDraft, updated.Status)
		assert.Len(t, updated.Steps, 1)
	})

	t.Run("unknown ids are not found", func(t *testing.T) {
		for _, path := range []string{"/api/v1/workflows/missing", "/api/v1/scripts/missing", "/api/v1/executions/missing"} {
			resp := a.do(http.MethodGet, path, "")
			assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		}
		resp := a.do(http.MethodDelete, "/api/v1/workflows/missing", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("list filters by status", func(t *testing.T) {
		resp := a.do(http.MethodGet, "/api/v1/workflows?status=ready", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		for _, wf := range decode[[]*schemas.Workflow](t, resp).Data {
			assert.Equal(t, schemas.WorkflowReady, wf.Status)
		}
	})
}

func TestScriptEndpoints(t *testing.T) {
	a := newTestAPI(t)
	wf := a.createReadyWorkflow()
	script := a.generate(wf.ID)
	assert.Equal(t, wf.ID, script.WorkflowID)
	assert.Equal(t, schemas.ScriptPending, script.Status)

	t.Run("workflow records the generated script", func(t *testing.T) {
		resp := a.do(http.MethodGet, "/api/v1/workflows/"+wf.ID, "")
		stored := decode[*schemas.Workflow](t, resp).Data
		assert.Equal(t, schemas.WorkflowCompleted, stored.Status)
		assert.Equal(t, script.ID, stored.LastScriptID)
	})

	t.Run("list by workflow", func(t *testing.T) {
		resp := a.do(http.MethodGet, "/api/v1/scripts?workflow_id="+wf.ID, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		scripts := decode[[]*schemas.GeneratedScript](t, resp).Data
		require.Len(t, scripts, 1)
		assert.Equal(t, script.ID, scripts[0].ID)
	})

	t.Run("download serves the program", func(t *testing.T) {
		resp := a.do(http.MethodGet, "/api/v1/scripts/"+script.ID+"/download", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "javascript")
		assert.Contains(t, resp.Header.Get("Content-Disposition"), script.Name+".js")
		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), "function run(params)")
	})

	t.Run("validate attaches a verdict", func(t *testing.T) {
		resp := a.do(http.MethodPost, "/api/v1/scripts/"+script.ID+"/validate", `{"params": {"term": "goja"}}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		validated := decode[*schemas.GeneratedScript](t, resp).Data
		require.NotNil(t, validated.Validation)
		assert.Equal(t, schemas.ScriptValidated, validated.Status)
		assert.True(t, validated.Validation.Success)
		assert.Equal(t, 2, validated.Validation.TotalSteps)
		assert.Equal(t, "Search results for goja", validated.Validation.Steps[0].ObservedText)
	})

	t.Run("validate accepts an empty body", func(t *testing.T) {
		resp := a.do(http.MethodPost, "/api/v1/scripts/"+script.ID+"/validate", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("delete removes the record and the file", func(t *testing.T) {
		resp := a.do(http.MethodDelete, "/api/v1/scripts/"+script.ID, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = a.do(http.MethodGet, "/api/v1/scripts/"+script.ID, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		exists, err := afero.Exists(a.components.ScriptStore.Fs(), script.FilePath)
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestExecutionEndpoints(t *testing.T) {
	a := newTestAPI(t)
	wf := a.createReadyWorkflow()
	script := a.generate(wf.ID)

	resp := a.do(http.MethodPost, "/api/v1/scripts/"+script.ID+"/execute", `{"params": {"term": "goja"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	started := decode[*schemas.Execution](t, resp)
	assert.Equal(t, "accepted", started.Status)
	assert.Equal(t, schemas.ExecutionRunning, started.Data.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := a.components.Tracker.Wait(ctx, started.Data.ID)
	require.NoError(t, err)
	require.Equal(t, schemas.ExecutionCompleted, done.Status, "error: %s", done.Error)

	t.Run("get and logs", func(t *testing.T) {
		resp := a.do(http.MethodGet, "/api/v1/executions/"+done.ID, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, schemas.ExecutionCompleted, decode[*schemas.Execution](t, resp).Data.Status)

		resp = a.do(http.MethodGet, "/api/v1/executions/"+done.ID+"/logs", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		logs := decode[[]schemas.LogEntry](t, resp).Data
		require.NotEmpty(t, logs)
		assert.Contains(t, logs[0].Message, "Execution started")
	})

	t.Run("stopping a finished execution conflicts", func(t *testing.T) {
		resp := a.do(http.MethodPost, "/api/v1/executions/"+done.ID+"/stop", "")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)

		resp = a.do(http.MethodPost, "/api/v1/executions/missing/stop", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("start by body requires a script id", func(t *testing.T) {
		resp := a.do(http.MethodPost, "/api/v1/executions", `{"params": {}}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = a.do(http.MethodPost, "/api/v1/executions", `{"script_id": "missing"}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("list pages and filters", func(t *testing.T) {
		resp := a.do(http.MethodGet, "/api/v1/executions?script_id="+script.ID+"&status=completed&limit=5", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		page := decode[ExecutionPage](t, resp).Data
		assert.Equal(t, 1, page.Total)
		assert.Equal(t, 1, page.Page)
		assert.Equal(t, 5, page.Limit)
		require.Len(t, page.Executions, 1)
		assert.Equal(t, done.ID, page.Executions[0].ID)
	})

	t.Run("list rejects bad query values", func(t *testing.T) {
		for _, q := range []string{"status=sleeping", "page=two", "limit=x"} {
			resp := a.do(http.MethodGet, "/api/v1/executions?"+q, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		}
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{schemas.NotFoundf("script", "x"), http.StatusNotFound},
		{&schemas.InvalidStateError{Entity: "execution", ID: "x", State: "completed", Operation: "stop"}, http.StatusConflict},
		{schemas.ErrEmptyWorkflow, http.StatusBadRequest},
		{schemas.ErrInvalidStep, http.StatusBadRequest},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestCORSPreflight(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(http.MethodOptions, "/api/v1/workflows", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestResponseEnvelope(t *testing.T) {
	h := &Handlers{log: zaptest.NewLogger(t)}
	rec := httptest.NewRecorder()
	h.respondWithError(rec, http.StatusTeapot, "short and stout")

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"error","error":"short and stout"}`, strings.TrimSpace(rec.Body.String()))

	rec = httptest.NewRecorder()
	h.respondWithSuccess(rec, http.StatusOK, map[string]int{"n": 1})
	var buf bytes.Buffer
	buf.ReadFrom(rec.Body)
	assert.JSONEq(t, `{"status":"success","data":{"n":1}}`, buf.String())
}
