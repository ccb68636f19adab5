package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/v0xg/screenpilot/internal/executor"
)

const systemPrompt = `You are a browser automation planner. You control a real web browser to complete the user's task, one phase at a time.

You will receive:
1. A screenshot of the current viewport (when a page is open)
2. A simplified HTML digest of the interactive elements on the page
3. The user's task, and sometimes the most recent actions already performed

Output a JSON array of at most %d actions. Each action has:
- "action": one of "navigateToWebsite", "clickElement", "fillInput", "scrollToElement", "waitForElement"
- "params":
  - navigateToWebsite: {"website": "<absolute URL>"}
  - clickElement, scrollToElement: {"selector": "...", "selectorType": "id" | "css" | "xpath" | "text"}
  - fillInput: {"selector": "...", "selectorType": "...", "text": "<value to type>"}
  - waitForElement: {"selector": "...", "selectorType": "...", "timeout": <milliseconds, optional>}
- "reasoning": one short sentence explaining the action
- "phaseCompleted": true if this action navigates, submits a form, opens a dialog or otherwise changes the page significantly
- "completed": true only if this action finishes the whole task

Selector rules:
- Prefer "id" (without the leading #), then "css", then "text" (visible text, value, alt or title), then "xpath"
- Use only elements you can see in the digest or the screenshot
- The digest may only cover part of the page (often the header or navigation); when it disagrees with the screenshot, trust the screenshot

Phase rules:
- Stop the array at the FIRST action with "phaseCompleted": true. The page will be observed again and you will be asked to continue; do not guess what appears afterwards
- navigateToWebsite always has "phaseCompleted": true
- If no page is open yet, start with navigateToWebsite

Example (first phase of "search for golang"):
[
  {"action": "navigateToWebsite", "params": {"website": "https://duckduckgo.com"}, "reasoning": "Open a search engine", "phaseCompleted": true, "completed": false}
]

Example (search page is open):
[
  {"action": "fillInput", "params": {"selector": "q", "selectorType": "id", "text": "golang"}, "reasoning": "Type the query", "phaseCompleted": false, "completed": false},
  {"action": "clickElement", "params": {"selector": "button[type=submit]", "selectorType": "css"}, "reasoning": "Submit the search", "phaseCompleted": true, "completed": false}
]

Respond ONLY with the JSON array, no explanation or markdown.`

const continuePrompt = `You are continuing a browser automation task. The page may have changed since the last actions were executed.

Current phase: %d

Most recent actions (oldest first):
%s

Original user request: %s

Generate the NEXT batch of actions. If the request is now fulfilled, return a single action that confirms the final state with "completed": true, or [] if nothing is left to do.
Do NOT repeat an action that already succeeded unless the page clearly requires it.

Respond ONLY with the JSON array, no explanation or markdown.`

const recoveryPrompt = `An action failed while executing a browser automation task. Propose a different way forward.

Original user request: %s

Failed action:
%s

Error:
%s

Most recent actions (oldest first, the failed one included):
%s

Rules:
- Do NOT retry the failed action with the same selector and selector type; pick another selector, another selectorType, or dismiss whatever is in the way first
- "wait timed out" means the element was not found: choose a different selector or scroll/navigate to where it is
- If another element would receive the click, either target that element or close it first
- Follow the same phase rules as before

Respond ONLY with the JSON array, no explanation or markdown.`

func buildSystemPrompt(maxBatch int) string {
	return fmt.Sprintf(systemPrompt, maxBatch)
}

func buildUserPrompt(digest string, task string) string {
	return pageSection(digest) + "\n\nUser request: " + task
}

func buildContinuePrompt(digest string, task string, phase int, recent []executor.Action) string {
	return pageSection(digest) + "\n\n" + fmt.Sprintf(continuePrompt, phase, formatActions(recent), task)
}

func buildRecoveryPrompt(digest string, task string, failed *executor.Action, errText, hint string, recent []executor.Action) string {
	failedJSON := "(unknown)"
	if failed != nil {
		failedJSON = formatAction(*failed)
	}
	if hint != "" {
		errText += "\n\n" + hint
	}
	return pageSection(digest) + "\n\n" + fmt.Sprintf(recoveryPrompt, task, failedJSON, errText, formatActions(recent))
}

func pageSection(digest string) string {
	if strings.TrimSpace(digest) == "" {
		return "Page digest:\n(no page is open yet)"
	}
	return "Page digest:\n" + digest
}

func formatActions(actions []executor.Action) string {
	if len(actions) == 0 {
		return "(none)"
	}
	lines := make([]string, len(actions))
	for i, a := range actions {
		lines[i] = fmt.Sprintf("%d. %s", i+1, formatAction(a))
	}
	return strings.Join(lines, "\n")
}

func formatAction(a executor.Action) string {
	data, err := json.Marshal(a)
	if err != nil {
		return a.String()
	}
	return string(data)
}
