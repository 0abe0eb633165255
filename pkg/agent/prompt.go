package agent

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"

	"github.com/troupehq/troupe/pkg/models"
)

// DefaultContext is rendered when a run carries no caller-supplied context.
const DefaultContext = "暂无"

// PromptVars are the values a prompt template may reference.
type PromptVars struct {
	CurrentTime      string
	Instructions     string
	Tools            string
	ToolNames        string
	Query            string
	Context          string
	Planner          string
	Playbook         string
	AgentScratchpad  string
	MaxIterations    int
	CurrentIteration int
}

// reactTemplate is the built-in prompt. Roles select it with the symbol
// "react"; teams may register alternatives under their own symbols.
const reactTemplate = `Current time: {{.CurrentTime}}

{{.Instructions}}

You have access to the following tools:

{{.Tools}}

Respond in this exact format:

Thought: your reasoning about what to do next
Action: the tool to use, one of [{{.ToolNames}}]
Action Input: the tool arguments as a JSON object
Observation: the tool result (provided to you, never write it yourself)

When you have enough information, respond with:

Thought: your concluding reasoning
Answer: the complete final answer

{{if .Planner}}Plan to follow:
{{.Planner}}

{{end}}{{if .Playbook}}Playbook of progress so far:
{{.Playbook}}

{{end}}Context: {{.Context}}

Question: {{.Query}}

This is iteration {{.CurrentIteration}} of at most {{.MaxIterations}}.

{{.AgentScratchpad}}`

var (
	templatesMu sync.RWMutex
	templates   = map[string]*template.Template{}
)

func init() {
	if err := RegisterTemplate("react", reactTemplate); err != nil {
		panic(err)
	}
}

// RegisterTemplate parses and registers a prompt template under a symbol.
// Registering an existing symbol replaces it.
func RegisterTemplate(symbol, text string) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return fmt.Errorf("template symbol must not be empty")
	}
	tpl, err := template.New(symbol).Parse(text)
	if err != nil {
		return fmt.Errorf("invalid prompt template %q: %w", symbol, err)
	}
	templatesMu.Lock()
	templates[symbol] = tpl
	templatesMu.Unlock()
	return nil
}

// HasTemplate reports whether a symbol is registered.
func HasTemplate(symbol string) bool {
	templatesMu.RLock()
	defer templatesMu.RUnlock()
	_, ok := templates[symbol]
	return ok
}

// RenderPrompt executes the template registered under symbol. An empty
// Context renders as DefaultContext.
func RenderPrompt(symbol string, vars PromptVars) (string, error) {
	templatesMu.RLock()
	tpl, ok := templates[symbol]
	templatesMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", symbol)
	}
	if strings.TrimSpace(vars.Context) == "" {
		vars.Context = DefaultContext
	}
	var sb strings.Builder
	if err := tpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("failed to render prompt template %q: %w", symbol, err)
	}
	return sb.String(), nil
}

// Scratchpad block field names, in render order.
const (
	FieldThought     = "thought"
	FieldAction      = "action"
	FieldActionInput = "action_input"
	FieldObservation = "observation"
)

// AllStepFields is the default include set for scratchpad rendering.
var AllStepFields = []string{FieldThought, FieldAction, FieldActionInput, FieldObservation}

// FormatSteps renders persisted steps as ReAct scratchpad blocks, one blank
// line between steps. include filters which fields appear; nil means all.
// Origin steps are never rendered.
func FormatSteps(steps []models.Step, include []string) string {
	if include == nil {
		include = AllStepFields
	}
	want := map[string]bool{}
	for _, f := range include {
		want[f] = true
	}

	var blocks []string
	for _, step := range steps {
		if step.IsOriginQuery {
			continue
		}
		var lines []string
		if want[FieldThought] && step.Thought != "" {
			lines = append(lines, "Thought: "+step.Thought)
		}
		if want[FieldAction] && step.Action != "" {
			lines = append(lines, "Action: "+step.Action)
		}
		if want[FieldActionInput] && step.ActionInput != "" {
			lines = append(lines, "Action Input: "+step.ActionInput)
		}
		if want[FieldObservation] && step.Observation != "" {
			lines = append(lines, "Observation: "+FormatObservation(step.Observation))
		}
		if len(lines) > 0 {
			blocks = append(blocks, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(blocks, "\n\n")
}

var markdownLineRe = regexp.MustCompile(`^(#{1,6}\s|[-*+]\s|\d+\.\s|>\s?|\||` + "```" + `)`)

// FormatObservation normalizes a tool observation for prompt injection.
// Markdown structure lines (headings, list items, fences, tables, quotes)
// are indented four spaces so they read as part of the observation rather
// than the prompt; everything else is trimmed.
func FormatObservation(obs string) string {
	lines := strings.Split(obs, "\n")
	out := make([]string, len(lines))
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && markdownLineRe.MatchString(trimmed) {
			out[i] = "    " + trimmed
		} else {
			out[i] = trimmed
		}
	}
	return strings.Join(out, "\n")
}
