package generator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/scriptforge/api/schemas"
)

const systemPrompt = `You are an expert RPA automation engineer. You write JavaScript (ECMAScript 5.1, no async/await, no modules, no require) for an embedded interpreter that exposes a synchronous browser API.`

// hostContract documents the runtime API the program may use.
const hostContract = `Runtime API (all calls are synchronous and throw on failure):
- launch() returns a browser; browser.page() returns the page; browser.close() releases it.
- page.goto(url), page.click(selector), page.fill(selector, text), page.select(selector, value)
- page.waitFor(selector), page.sleep(milliseconds), page.scroll(target[, pixels]) where target is "window" or a selector
- page.hover(selector), page.screenshot(fileName), page.capture(fileName), page.settle()
- console.log/info/warn/error(message)`

const requirements = `Requirements:
1. Define exactly one entry point: function run(params) { ... } where params is an object of test data (may be empty).
2. Any value containing {{key}} must be resolved from params at run time, never hard-coded.
3. Execute the steps strictly in the order given.
4. After step N completes call page.screenshot("step_N.png") and then page.settle().
   A screenshot step saves its own image with page.capture(fileName), never page.screenshot.
5. Wrap the steps in try/finally and call browser.close() in the finally block.
6. Add a short comment for each step.
Generate ONLY the JavaScript code without any explanations or markdown formatting.`

// buildRequest assembles the synthesis prompt for steps already sorted by order.
func buildRequest(wf *schemas.Workflow, steps []schemas.Step) schemas.SynthesisRequest {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate an automation program for the following workflow.\n\nWorkflow Name: %s\n", wf.Name)
	if wf.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", wf.Description)
	}

	sb.WriteString("\nSteps:\n")
	for i, step := range steps {
		fmt.Fprintf(&sb, "Step %d: %s on %q", i+1, step.Action, step.Target)
		if step.Value != "" {
			fmt.Fprintf(&sb, " with value %q", step.Value)
		}
		if step.Description != "" {
			fmt.Fprintf(&sb, " - %s", step.Description)
		}
		sb.WriteByte('\n')
	}

	sb.WriteString("\n")
	sb.WriteString(hostContract)
	sb.WriteString("\n\n")
	sb.WriteString(requirements)

	return schemas.SynthesisRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   sb.String(),
	}
}

var fencePattern = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")

// cleanSynthesized strips markdown fences around synthesized code.
func cleanSynthesized(code string) string {
	return strings.TrimSpace(fencePattern.ReplaceAllString(code, ""))
}
