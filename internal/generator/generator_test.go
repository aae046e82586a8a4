package generator

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scriptforge/api/schemas"
	"github.com/xkilldash9x/scriptforge/internal/config"
	"github.com/xkilldash9x/scriptforge/internal/mocks"
	"github.com/xkilldash9x/scriptforge/internal/scriptstore"
	"github.com/xkilldash9x/scriptforge/internal/store"
)

// -- Test Setup Helpers --

type fixture struct {
	gen   *Generator
	fs    afero.Fs
	repos schemas.Repositories
	logs  *observer.ObservedLogs
}

func newFixture(t *testing.T, synth schemas.Synthesizer) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	st, err := scriptstore.New(fs, "/scripts", zap.NewNop())
	require.NoError(t, err)

	core, logs := observer.New(zap.DebugLevel)
	repos := store.NewMemoryRepositories()
	gen := New(config.GeneratorConfig{OutputDir: "/scripts", SynthesisTimeout: 200 * time.Millisecond},
		synth, st, repos.Workflows, repos.Scripts, zap.New(core))
	return &fixture{gen: gen, fs: fs, repos: repos, logs: logs}
}

func scenarioWorkflow() *schemas.Workflow {
	return &schemas.Workflow{
		ID:     "wf-ada",
		Name:   "Greeting Form",
		Status: schemas.WorkflowReady,
		Steps: []schemas.Step{
			{Order: 1, Action: schemas.ActionNavigate, Target: "https://x.test"},
			{Order: 2, Action: schemas.ActionInput, Target: "#field", Value: "{{name}}", ScreenshotRef: "/evidence/2.png"},
			{Order: 3, Action: schemas.ActionScreenshot, Target: "out.png"},
		},
	}
}

func countFiles(t *testing.T, fs afero.Fs) int {
	t.Helper()
	entries, err := afero.ReadDir(fs, "/scripts")
	require.NoError(t, err)
	return len(entries)
}

var timestampLine = regexp.MustCompile(`(?m)^// Generated at: .*$`)

// -- Test Cases: Template Fallback --

func TestGenerate_EmptyWorkflow(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.gen.Generate(context.Background(), &schemas.Workflow{ID: "empty"})
	assert.ErrorIs(t, err, schemas.ErrEmptyWorkflow)
	assert.Equal(t, 0, countFiles(t, f.fs), "no file may be written for an empty workflow")
}

func TestGenerate_FallbackIsDeterministic(t *testing.T) {
	f := newFixture(t, nil)
	wf := scenarioWorkflow()

	f.gen.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	first, err := f.gen.Generate(context.Background(), wf)
	require.NoError(t, err)

	f.gen.now = func() time.Time { return time.Date(2026, 6, 6, 12, 30, 0, 0, time.UTC) }
	second, err := f.gen.Generate(context.Background(), wf)
	require.NoError(t, err)

	assert.NotEqual(t, first.Code, second.Code, "timestamps differ")
	assert.Equal(t,
		timestampLine.ReplaceAllString(first.Code, ""),
		timestampLine.ReplaceAllString(second.Code, ""))
	assert.NotEqual(t, first.FilePath, second.FilePath)
	assert.Equal(t, 2, countFiles(t, f.fs))
}

func TestGenerate_ResolvesParamsAtRunTime(t *testing.T) {
	f := newFixture(t, nil)

	script, err := f.gen.Generate(context.Background(), scenarioWorkflow())
	require.NoError(t, err)

	assert.Contains(t, script.Code, `page.goto(resolve("https://x.test", params));`)
	assert.Contains(t, script.Code, `page.fill(resolve("#field", params), resolve("{{name}}", params));`)
	assert.NotContains(t, script.Code, "Ada", "test data must not be baked in at generation time")

	vm := goja.New()
	_, err = vm.RunString(script.Code)
	require.NoError(t, err, "fallback program must parse")

	resolve, ok := goja.AssertFunction(vm.Get("resolve"))
	require.True(t, ok)
	out, err := resolve(goja.Undefined(), vm.ToValue("{{name}}"), vm.ToValue(map[string]interface{}{"name": "Ada"}))
	require.NoError(t, err)
	assert.Equal(t, "Ada", out.String())

	out, err = resolve(goja.Undefined(), vm.ToValue("hi {{ missing }}"), vm.ToValue(map[string]interface{}{}))
	require.NoError(t, err)
	assert.Equal(t, "hi {{ missing }}", out.String())

	_, ok = goja.AssertFunction(vm.Get("run"))
	assert.True(t, ok, "program must expose run(params)")
}

func TestGenerate_EverySupportedActionRendersTargetAndValue(t *testing.T) {
	f := newFixture(t, nil)

	cases := map[schemas.Action]schemas.Step{
		schemas.ActionNavigate:   {Action: schemas.ActionNavigate, Target: "https://a.test/p"},
		schemas.ActionClick:      {Action: schemas.ActionClick, Target: "#submit-btn"},
		schemas.ActionInput:      {Action: schemas.ActionInput, Target: "#email", Value: "a@b.test"},
		schemas.ActionSelect:     {Action: schemas.ActionSelect, Target: "#country", Value: "NZ"},
		schemas.ActionWait:       {Action: schemas.ActionWait, Target: ".loaded"},
		schemas.ActionScreenshot: {Action: schemas.ActionScreenshot, Target: "final.png"},
		schemas.ActionScroll:     {Action: schemas.ActionScroll, Target: "#footer"},
		schemas.ActionHover:      {Action: schemas.ActionHover, Target: ".menu"},
	}
	require.Len(t, cases, len(schemas.SupportedActions))

	for action, step := range cases {
		step.Order = 1
		script, err := f.gen.Generate(context.Background(), &schemas.Workflow{ID: "wf", Name: string(action), Steps: []schemas.Step{step}})
		require.NoError(t, err, action)
		assert.Contains(t, script.Code, `"`+step.Target+`"`, action)
		if step.Value != "" {
			assert.Contains(t, script.Code, `"`+step.Value+`"`, action)
		}
		assert.NotContains(t, script.Code, unsupportedMarker, action)
		assert.Equal(t, schemas.SourceTemplate, script.Source)
	}
}

func TestGenerate_ScreenshotStepUsesCapture(t *testing.T) {
	f := newFixture(t, nil)
	script, err := f.gen.Generate(context.Background(), &schemas.Workflow{
		ID:    "wf",
		Steps: []schemas.Step{{Order: 1, Action: schemas.ActionScreenshot, Target: "step_1.png"}},
	})
	require.NoError(t, err)
	assert.Contains(t, script.Code, `page.capture(resolve("step_1.png", params));`)
	assert.Contains(t, script.Code, `page.screenshot("step_1.png");`)
}

func TestGenerate_WaitSecondsBecomeSleep(t *testing.T) {
	f := newFixture(t, nil)
	script, err := f.gen.Generate(context.Background(), &schemas.Workflow{
		Steps: []schemas.Step{{Order: 1, Action: schemas.ActionWait, Target: "2.5"}},
	})
	require.NoError(t, err)
	assert.Contains(t, script.Code, "page.sleep(2500);")
}

func TestGenerate_UnknownActionPlaceholder(t *testing.T) {
	f := newFixture(t, nil)
	script, err := f.gen.Generate(context.Background(), &schemas.Workflow{
		ID: "wf",
		Steps: []schemas.Step{
			{Order: 1, Action: schemas.ActionClick, Target: "#a"},
			{Order: 2, Action: "drag */ evil", Target: "#b"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, script.Code, "/* UNSUPPORTED ACTION: drag * / evil */")
	assert.Contains(t, script.Code, "console.warn(")
	assert.Contains(t, script.Code, `page.screenshot("step_2.png");`)

	_, err = goja.Compile("x.js", script.Code, false)
	assert.NoError(t, err)
}

func TestGenerate_StepsRunInOrder(t *testing.T) {
	f := newFixture(t, nil)
	script, err := f.gen.Generate(context.Background(), &schemas.Workflow{Steps: []schemas.Step{
		{Order: 2, Action: schemas.ActionClick, Target: "#second"},
		{Order: 1, Action: schemas.ActionClick, Target: "#first"},
	}})
	require.NoError(t, err)
	assert.Less(t, strings.Index(script.Code, "#first"), strings.Index(script.Code, "#second"))
	assert.Less(t, strings.Index(script.Code, "step_1.png"), strings.Index(script.Code, "step_2.png"))
}

func TestGenerate_Metadata(t *testing.T) {
	f := newFixture(t, nil)
	script, err := f.gen.Generate(context.Background(), scenarioWorkflow())
	require.NoError(t, err)

	assert.Equal(t, "wf-ada", script.WorkflowID)
	assert.Equal(t, schemas.EngineGojaChromedp, script.Engine)
	assert.Equal(t, schemas.ScriptPending, script.Status)
	assert.Equal(t, []schemas.Expectation{{StepIndex: 2, ScreenshotRef: "/evidence/2.png"}}, script.Expectations)
	assert.Regexp(t, `^/scripts/greeting_form_\d+_[0-9a-f]{8}\.js$`, script.FilePath)

	onDisk, err := afero.ReadFile(f.fs, script.FilePath)
	require.NoError(t, err)
	assert.Equal(t, script.Code, string(onDisk))
}

// -- Test Cases: Synthesis --

func TestGenerate_SynthesisSuccessStripsFences(t *testing.T) {
	synth := new(mocks.MockSynthesizer)
	synth.On("Synthesize", mock.Anything, mock.Anything).
		Return("```javascript\nfunction run(params) { var b = launch(); b.close(); }\n```", nil).Once()
	f := newFixture(t, synth)

	script, err := f.gen.Generate(context.Background(), scenarioWorkflow())
	require.NoError(t, err)
	assert.Equal(t, schemas.SourceSynthesis, script.Source)
	assert.Equal(t, "function run(params) { var b = launch(); b.close(); }", script.Code)
	synth.AssertExpectations(t)
}

func TestGenerate_SynthesisPromptCarriesSteps(t *testing.T) {
	synth := new(mocks.MockSynthesizer)
	synth.On("Synthesize", mock.Anything, mock.MatchedBy(func(req schemas.SynthesisRequest) bool {
		return strings.Contains(req.UserPrompt, `Step 2: input on "#field" with value "{{name}}"`) &&
			strings.Contains(req.UserPrompt, "function run(params)")
	})).Return("", errors.New("quota")).Once()
	f := newFixture(t, synth)

	_, err := f.gen.Generate(context.Background(), scenarioWorkflow())
	require.NoError(t, err)
	synth.AssertExpectations(t)
}

func TestGenerate_SynthesisFailuresFallBack(t *testing.T) {
	testCases := []struct {
		name   string
		output string
		err    error
	}{
		{"provider error", "", errors.New("503 upstream")},
		{"empty output", "   ", nil},
		{"missing entry point", "function main() {}", nil},
		{"does not parse", "function run(params) { if ( }", nil},
	}
	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			synth := new(mocks.MockSynthesizer)
			synth.On("Synthesize", mock.Anything, mock.Anything).Return(tt.output, tt.err).Once()
			f := newFixture(t, synth)

			script, err := f.gen.Generate(context.Background(), scenarioWorkflow())
			require.NoError(t, err)
			assert.Equal(t, schemas.SourceTemplate, script.Source)
			assert.Contains(t, script.Code, "function run(params)")
			assert.Equal(t, 1, f.logs.FilterMessage("Code synthesis failed; using template fallback.").Len())
			synth.AssertNumberOfCalls(t, "Synthesize", 1)
		})
	}
}

func TestGenerate_SynthesisTimeoutFallsBack(t *testing.T) {
	synth := &mocks.MockSynthesizer{Delay: 5 * time.Second}
	synth.On("Synthesize", mock.Anything, mock.Anything).Return("", nil)
	f := newFixture(t, synth)

	start := time.Now()
	script, err := f.gen.Generate(context.Background(), scenarioWorkflow())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, schemas.SourceTemplate, script.Source)
}

// -- Test Cases: Workflow Lifecycle --

func TestGenerateForWorkflow(t *testing.T) {
	ctx := context.Background()

	t.Run("ready workflow completes", func(t *testing.T) {
		f := newFixture(t, nil)
		require.NoError(t, f.repos.Workflows.Create(ctx, scenarioWorkflow()))

		script, err := f.gen.GenerateForWorkflow(ctx, "wf-ada")
		require.NoError(t, err)

		stored, err := f.repos.Scripts.Get(ctx, script.ID)
		require.NoError(t, err)
		assert.Equal(t, script.FilePath, stored.FilePath)

		wf, err := f.repos.Workflows.Get(ctx, "wf-ada")
		require.NoError(t, err)
		assert.Equal(t, schemas.WorkflowCompleted, wf.Status)
		assert.Equal(t, script.ID, wf.LastScriptID)
	})

	t.Run("draft workflow is rejected", func(t *testing.T) {
		f := newFixture(t, nil)
		wf := scenarioWorkflow()
		wf.Status = schemas.WorkflowDraft
		require.NoError(t, f.repos.Workflows.Create(ctx, wf))

		_, err := f.gen.GenerateForWorkflow(ctx, wf.ID)
		assert.True(t, schemas.IsInvalidState(err))
		assert.Equal(t, 0, countFiles(t, f.fs))

		stored, _ := f.repos.Workflows.Get(ctx, wf.ID)
		assert.Equal(t, schemas.WorkflowDraft, stored.Status)
	})

	t.Run("empty ready workflow fails", func(t *testing.T) {
		f := newFixture(t, nil)
		require.NoError(t, f.repos.Workflows.Create(ctx, &schemas.Workflow{ID: "wf-empty", Status: schemas.WorkflowReady}))

		_, err := f.gen.GenerateForWorkflow(ctx, "wf-empty")
		assert.ErrorIs(t, err, schemas.ErrEmptyWorkflow)

		stored, _ := f.repos.Workflows.Get(ctx, "wf-empty")
		assert.Equal(t, schemas.WorkflowFailed, stored.Status)
		assert.NotEmpty(t, stored.Error)
	})

	t.Run("unknown workflow", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.gen.GenerateForWorkflow(ctx, "nope")
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})
}

func TestScriptName(t *testing.T) {
	now := time.Unix(0, 1700000000123456789)
	assert.Equal(t, "my_login_flow_1700000000123456789_0a1b2c3d.js",
		scriptName("  My Login-Flow!! ", now, "0a1b2c3d-0000-4000-8000-000000000000"))
	assert.Equal(t, "workflow_1700000000123456789_abcdef01.js", scriptName("日本", now, "abcdef01-2345"))
}
