package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/troupehq/troupe/pkg/kvs"
	"github.com/troupehq/troupe/pkg/llm"
)

// memoryMaxLen hard-caps stored guidance. Guidance is rendered into every
// prompt, so it must stay small.
const memoryMaxLen = 500

// observationSampleLen bounds how much of an observation the analysis
// prompt sees.
const observationSampleLen = 500

// learnTimeout bounds one detached learning pass.
const learnTimeout = 30 * time.Second

var memoryPrompt = template.Must(template.New("tool_memory").Parse(`You maintain concise usage guidance for a tool used by an autonomous agent.

Tool: {{.Tool}}
Last execution: {{.Status}}
Parameter types: {{.ParamTypes}}
User query: {{.UserQuery}}
Observation (truncated): {{.Observation}}
{{- if .ErrorMsg}}
Error: {{.ErrorMsg}}
{{- end}}
{{- if .Prior}}

Current guidance:
{{.Prior}}
{{- end}}

Rewrite the guidance in at most three short sentences. Capture parameter pitfalls and effective usage patterns. Return only the guidance text.`))

// LearnInput carries everything one learning pass needs.
type LearnInput struct {
	Tool        string
	Params      map[string]any
	Observation string
	IsError     bool
	ErrorMsg    string
	UserQuery   string
	ConvID      string
	UserName    string
}

// MemoryManager maintains one rolling usage-guidance string per
// (user, tool) pair, or per tool when no user scope is given. Updates
// overwrite wholesale; last writer wins, no locking.
type MemoryManager struct {
	kv    kvs.Store
	llm   llm.Client
	model string
}

// NewMemoryManager creates a MemoryManager using the given analysis model.
func NewMemoryManager(kv kvs.Store, client llm.Client, model string) *MemoryManager {
	return &MemoryManager{kv: kv, llm: client, model: model}
}

// Read returns the guidance for a tool: user-scoped first, then the
// global scope, then "". Read failures are advisory and log only.
func (m *MemoryManager) Read(ctx context.Context, user, toolName string) string {
	if m == nil {
		return ""
	}
	if user != "" {
		v, err := m.kv.Get(ctx, kvs.ToolMemoryKey(user, toolName))
		if err == nil {
			return v
		}
		if !errors.Is(err, kvs.ErrNotFound) {
			slog.Warn("Failed to read tool memory", "tool", toolName, "user", user, "error", err)
			return ""
		}
	}
	v, err := m.kv.Get(ctx, kvs.ToolMemoryGlobalKey(toolName))
	if err != nil {
		if !errors.Is(err, kvs.ErrNotFound) {
			slog.Warn("Failed to read tool memory", "tool", toolName, "error", err)
		}
		return ""
	}
	return v
}

// Learn regenerates a tool's guidance from one execution outcome and
// overwrites the stored value. Every failure path logs and returns;
// memory never breaks a run.
func (m *MemoryManager) Learn(ctx context.Context, in LearnInput) {
	if m == nil || m.llm == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, learnTimeout)
	defer cancel()

	key := kvs.ToolMemoryGlobalKey(in.Tool)
	if in.UserName != "" {
		key = kvs.ToolMemoryKey(in.UserName, in.Tool)
	}
	prior := m.Read(ctx, in.UserName, in.Tool)

	status := "success"
	if in.IsError {
		status = "failure"
	}

	var buf bytes.Buffer
	err := memoryPrompt.Execute(&buf, map[string]string{
		"Tool":        in.Tool,
		"Status":      status,
		"ParamTypes":  paramTypes(in.Params),
		"UserQuery":   in.UserQuery,
		"Observation": TruncateRunes(in.Observation, observationSampleLen),
		"ErrorMsg":    in.ErrorMsg,
		"Prior":       prior,
	})
	if err != nil {
		slog.Warn("Failed to render tool memory prompt", "tool", in.Tool, "error", err)
		return
	}

	text, _, err := m.llm.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: buf.String()}}, m.model)
	if err != nil {
		slog.Warn("Tool memory analysis failed", "tool", in.Tool, "error", err)
		return
	}

	guidance := TruncateRunes(CleanText(text), memoryMaxLen)
	if guidance == "" {
		return
	}
	if err := m.kv.Set(ctx, key, guidance, 0); err != nil {
		slog.Warn("Failed to store tool memory", "tool", in.Tool, "error", err)
	}
}

// paramTypes renders the call's parameter names with their observed types,
// sorted for stable prompts.
func paramTypes(params map[string]any) string {
	if len(params) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+typeName(params[k]))
	}
	return strings.Join(parts, ", ")
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int64:
		return "int"
	case float32, float64:
		return "float"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
