// Package tool defines the tool abstraction the agent loop executes:
// descriptors with parameter schemas, a per-agent registry, a retrying
// executor, and the learned-usage memory manager.
package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Names of tools the core treats specially. final_answer is the sentinel
// action that ends a loop; user_input and handoff receive implicit
// parameters at execution time.
const (
	NameFinalAnswer = "final_answer"
	NameUserInput   = "user_input"
	NameHandoff     = "handoff"
	NameCrawler     = "crawler"
	NameSearch      = "search"
	NamePlanner     = "planner"
	NamePythonREPL  = "python_repl"
)

// Param describes one tool parameter.
type Param struct {
	Type        string // string, int, float, bool, object, array
	Required    bool
	Default     any
	Description string
}

// Invoker executes a tool call. The returned map carries at least a
// "result" entry; other keys are opaque to the core.
type Invoker func(ctx context.Context, params map[string]any) (map[string]any, error)

// Tool is a tool descriptor plus its invoker. Construction normalizes
// everything the loop needs into one value; the loop never type-switches
// on concrete tool implementations.
type Tool struct {
	Name        string
	Description string
	Params      map[string]Param
	Outputs     map[string]string // output field → description
	IsAsync     bool              // cooperative invoker, awaited in place
	NeedHistory bool              // receives a serialized transcript of prior observations
	MaxRetries  int
	RetryDelay  time.Duration
	Memory      string // learned usage guidance rendered into prompts
	Invoke      Invoker
}

// Validate reports whether the descriptor is usable.
func (t *Tool) Validate() error {
	if t == nil {
		return fmt.Errorf("nil tool")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Invoke == nil {
		return fmt.Errorf("tool %s has no invoker", t.Name)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("tool %s has negative max_retries", t.Name)
	}
	return nil
}

// FullDescription formats the tool's help block for ReAct prompt injection:
// name, description, and a parameter table with defaults. The registry
// numbers these blocks and appends usage guidance when concatenating.
func (t *Tool) FullDescription() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**%s**: %s\n", t.Name, t.Description))

	if len(t.Params) == 0 {
		sb.WriteString("    **Parameters**: None\n")
	} else {
		sb.WriteString("    **Parameters**:\n")

		// Sort keys for deterministic output
		keys := make([]string, 0, len(t.Params))
		for k := range t.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, name := range keys {
			p := t.Params[name]
			reqLabel := "optional"
			if p.Required {
				reqLabel = "required"
			}
			typeSuffix := ""
			if p.Type != "" {
				typeSuffix = ", " + p.Type
			}
			sb.WriteString(fmt.Sprintf("    - %s (%s%s)", name, reqLabel, typeSuffix))
			if p.Description != "" {
				sb.WriteString(": " + p.Description)
			}
			if p.Default != nil {
				sb.WriteString(fmt.Sprintf(" [default: %v]", p.Default))
			}
			sb.WriteString("\n")
		}
	}

	if len(t.Outputs) > 0 {
		sb.WriteString("    **Returns**:\n")
		keys := make([]string, 0, len(t.Outputs))
		for k := range t.Outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, name := range keys {
			sb.WriteString(fmt.Sprintf("    - %s: %s\n", name, t.Outputs[name]))
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}
