package generator

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/scriptforge/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// unsupportedMarker prefixes the placeholder emitted for unknown actions.
const unsupportedMarker = "UNSUPPORTED ACTION"

var templateFuncs = template.FuncMap{
	"js":      jsString,
	"comment": commentText,
}

// actionTemplates holds one snippet per supported action. Each snippet is
// rendered with a stepView and must leave `page` positioned for the next step.
// Values always go through resolve() so {{key}} placeholders bind at run time.
var actionTemplates = map[schemas.Action]*template.Template{
	schemas.ActionNavigate: mustSnippet("navigate",
		`page.goto(resolve({{js .Target}}, params));`),
	schemas.ActionClick: mustSnippet("click",
		`page.click(resolve({{js .Target}}, params));`),
	schemas.ActionInput: mustSnippet("input",
		`page.fill(resolve({{js .Target}}, params), resolve({{js .Value}}, params));`),
	schemas.ActionSelect: mustSnippet("select",
		`page.select(resolve({{js .Target}}, params), resolve({{js .Value}}, params));`),
	schemas.ActionWait: mustSnippet("wait",
		`{{if .WaitMillis}}page.sleep({{.WaitMillis}});{{else}}page.waitFor(resolve({{js .Target}}, params));{{end}}`),
	schemas.ActionScreenshot: mustSnippet("screenshot",
		`page.capture(resolve({{js .Target}}, params));`),
	schemas.ActionScroll: mustSnippet("scroll",
		`page.scroll(resolve({{js .Target}}, params){{if .Value}}, resolve({{js .Value}}, params){{end}});`),
	schemas.ActionHover: mustSnippet("hover",
		`page.hover(resolve({{js .Target}}, params));`),
}

var unsupportedTemplate = mustSnippet("unsupported",
	`/* `+unsupportedMarker+`: {{comment .Action}} */
    console.warn({{js .Warning}});`)

// programTemplate is the skeleton every fallback program shares. The only
// line that varies between two renders of the same steps is "Generated at".
var programTemplate = template.Must(template.New("program").Funcs(templateFuncs).Parse(
	`// Generated by scriptforge. Do not edit; regenerate instead.
// Workflow: {{comment .WorkflowID}} ({{comment .WorkflowName}})
// Engine: {{.Engine}}
// Generated at: {{.GeneratedAt}}
"use strict";

// resolve substitutes {{"{{"}}key{{"}}"}} placeholders from the run parameters. Unknown
// keys are left untouched so a missing parameter is visible in the output.
function resolve(value, params) {
  if (typeof value !== "string") {
    return value;
  }
  return value.replace(/\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}/g, function (match, key) {
    if (params && Object.prototype.hasOwnProperty.call(params, key)) {
      return String(params[key]);
    }
    return match;
  });
}

function run(params) {
  params = params || {};
  var browser = launch();
  try {
    var page = browser.page();
    console.log("Starting automation...");
{{range .Steps}}
    // Step {{.Index}}: {{comment .Label}}
    {{.Code}}
    page.screenshot("step_{{.Index}}.png");
    page.settle();
    console.log("Step {{.Index}} completed");
{{end}}
    console.log("Automation completed successfully!");
  } finally {
    browser.close();
  }
}
`))

type stepView struct {
	Index      int
	Action     string
	Target     string
	Value      string
	Label      string
	WaitMillis int64
	Warning    string
	Code       string
}

type programView struct {
	WorkflowID   string
	WorkflowName string
	Engine       string
	GeneratedAt  string
	Steps        []stepView
}

func mustSnippet(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(templateFuncs).Parse(text))
}

// renderStep translates one step into its snippet. Unknown actions produce a
// visible placeholder instead of an error.
func renderStep(index int, step schemas.Step) (stepView, error) {
	view := stepView{
		Index:  index,
		Action: string(step.Action),
		Target: step.Target,
		Value:  step.Value,
		Label:  step.Description,
	}
	if view.Label == "" {
		view.Label = string(step.Action)
	}

	tmpl, known := actionTemplates[step.Action]
	if !known {
		tmpl = unsupportedTemplate
		view.Warning = fmt.Sprintf("Unsupported action %q at step %d; skipped", step.Action, index)
	}
	if step.Action == schemas.ActionWait {
		view.WaitMillis = waitMillis(step.Target)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, view); err != nil {
		return stepView{}, fmt.Errorf("failed to render step %d (%s): %w", index, step.Action, err)
	}
	view.Code = sb.String()
	return view, nil
}

// waitMillis interprets a numeric wait target as seconds. Non-numeric
// targets are selectors and yield 0.
func waitMillis(target string) int64 {
	secs, err := strconv.ParseFloat(strings.TrimSpace(target), 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return int64(secs * 1000)
}

// jsString renders s as a double-quoted JavaScript string literal.
func jsString(s string) (string, error) {
	out, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// commentText keeps user text on one line and unable to close a block comment.
func commentText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "*/", "* /")
}
