package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/troupehq/troupe/pkg/llm"
	"github.com/troupehq/troupe/pkg/tool"
)

// ToolCall is the action half of a parsed model response. Params is a
// map[string]any when the input was structured, otherwise the raw string.
type ToolCall struct {
	Name   string
	Params any
}

// ParsedResponse is the parser's output. Fallback marks a response the
// cascade could not interpret, wrapped as a final answer so the loop never
// crashes on model noise; callers surface that as a synthetic answer.
type ParsedResponse struct {
	Thinking string
	Tool     ToolCall
	Fallback bool
}

var (
	bracketActionRe = regexp.MustCompile(`(?s)^([^\[\s]+)\[(.*)\]$`)
	codeFenceRe     = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\n?(.*?)```")
)

const repairPrompt = `Convert the following model output into a single JSON object with this exact shape:
{"thinking": "<the reasoning text>", "tool": {"name": "<tool name>", "params": {<parameters>}}}

If the output is a final answer rather than a tool call, use "final_answer" as the tool name and put the answer text in params as {"answer": "<text>"}.
Respond with the JSON object only, no commentary.

Model output:
%s`

// Parser turns model text into a tool call via a forgiving cascade: direct
// JSON, ReAct-style sections, an optional LLM repair pass, and finally a
// final-answer wrap of the raw text.
type Parser struct {
	client llm.Client
	model  string
}

// NewParser builds a parser. client may be nil, which disables the repair
// stage.
func NewParser(client llm.Client, model string) *Parser {
	return &Parser{client: client, model: model}
}

// Parse never fails; the worst input degrades to a Fallback final answer.
func (p *Parser) Parse(ctx context.Context, text string) ParsedResponse {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return fallbackAnswer(raw)
	}
	if res, ok := parseDirect(raw); ok {
		return normalize(res, raw)
	}
	if res, ok := parseStructured(raw); ok {
		return normalize(res, raw)
	}
	if res, ok := p.repair(ctx, raw); ok {
		return normalize(res, raw)
	}
	return fallbackAnswer(raw)
}

// normalize applies the cross-stage rules: a blank tool name degrades to a
// final answer, and bare-string params for the code tool are wrapped into a
// runnable payload.
func normalize(res ParsedResponse, raw string) ParsedResponse {
	res.Tool.Name = strings.TrimSpace(res.Tool.Name)
	if res.Tool.Name == "" {
		return fallbackAnswer(raw)
	}
	if s, ok := res.Tool.Params.(string); ok && res.Tool.Name == tool.NamePythonREPL {
		res.Tool.Params = wrapCode(s)
	}
	return res
}

func fallbackAnswer(raw string) ParsedResponse {
	text := strings.TrimSpace(raw)
	if text == "" {
		text = "Unable to parse the model response."
	}
	return ParsedResponse{
		Thinking: text,
		Tool:     ToolCall{Name: tool.NameFinalAnswer, Params: text},
		Fallback: true,
	}
}

type wireTool struct {
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params"`
}

type wireResponse struct {
	Thinking string    `json:"thinking"`
	Tool     *wireTool `json:"tool"`
}

// parseDirect accepts a response that is entirely a JSON object of the
// {thinking, tool} shape, tolerating a Markdown fence around it.
func parseDirect(text string) (ParsedResponse, bool) {
	candidate := text
	if !strings.HasPrefix(candidate, "{") {
		candidate = strings.TrimSpace(tool.CleanText(candidate))
		if !strings.HasPrefix(candidate, "{") {
			return ParsedResponse{}, false
		}
	}
	var wire wireResponse
	if err := json.Unmarshal([]byte(candidate), &wire); err != nil || wire.Tool == nil {
		return ParsedResponse{}, false
	}
	return ParsedResponse{
		Thinking: strings.TrimSpace(wire.Thinking),
		Tool:     ToolCall{Name: wire.Tool.Name, Params: decodeWireParams(wire.Tool.Params)},
	}, true
}

// decodeWireParams unwraps params, parsing one level of string-encoded JSON.
func decodeWireParams(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	if s, ok := v.(string); ok {
		var nested map[string]any
		if err := json.Unmarshal([]byte(s), &nested); err == nil {
			return nested
		}
		return s
	}
	return v
}

// Section labels recognized by the line machine.
const (
	secThought     = "thought"
	secAction      = "action"
	secActionInput = "action_input"
	secAnswer      = "answer"
)

type sections struct {
	values  map[string]string
	found   map[string]bool
	preface string
}

// headerContent strips a "Name:" or fullwidth "Name：" prefix from a line.
func headerContent(line, name string) (string, bool) {
	for _, sep := range []string{":", "："} {
		if prefix := name + sep; strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line[len(prefix):]), true
		}
	}
	return "", false
}

// parseStructured runs a line-based state machine over ReAct-style output.
// Content lines accumulate into the most recent section; text before the
// first header is kept as a preface and adopted as the thought when the
// model skipped an explicit Thought line.
func parseStructured(text string) (ParsedResponse, bool) {
	s := extractSections(text)

	thinking := s.values[secThought]
	if thinking == "" {
		thinking = s.preface
	}

	if s.found[secAnswer] {
		return ParsedResponse{
			Thinking: thinking,
			Tool:     ToolCall{Name: tool.NameFinalAnswer, Params: s.values[secAnswer]},
		}, true
	}

	action := strings.TrimSpace(s.values[secAction])
	if action == "" {
		return ParsedResponse{}, false
	}

	if m := bracketActionRe.FindStringSubmatch(action); m != nil {
		return ParsedResponse{
			Thinking: thinking,
			Tool:     ToolCall{Name: m[1], Params: parseBracketParams(m[2])},
		}, true
	}

	// The tool name is the first line of the action section; anything the
	// model appended below it is noise.
	name := strings.TrimSpace(strings.SplitN(action, "\n", 2)[0])
	return ParsedResponse{
		Thinking: thinking,
		Tool:     ToolCall{Name: name, Params: decodeActionInput(s.values[secActionInput])},
	}, true
}

func extractSections(text string) *sections {
	s := &sections{values: map[string]string{}, found: map[string]bool{}}

	var current string
	var content []string
	var preface []string

	flush := func() {
		if current == "" {
			return
		}
		joined := strings.TrimSpace(strings.Join(content, "\n"))
		if joined != "" || !s.found[current] {
			s.values[current] = joined
		}
		s.found[current] = true
	}

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" && current == "" {
			continue
		}

		// A model-written Observation line means everything after it is
		// hallucinated continuation.
		if _, ok := headerContent(line, "Observation"); ok {
			break
		}

		if rest, ok := headerContent(line, "Thought"); ok {
			flush()
			current, content = secThought, []string{rest}
			continue
		}
		if rest, ok := headerContent(line, "Action Input"); ok {
			flush()
			current, content = secActionInput, []string{rest}
			continue
		}
		if rest, ok := headerContent(line, "Action"); ok {
			flush()
			current, content = secAction, []string{rest}
			continue
		}
		if rest, ok := headerContent(line, "Answer"); ok {
			flush()
			current, content = secAnswer, []string{rest}
			continue
		}

		if current == "" {
			preface = append(preface, line)
			continue
		}
		content = append(content, line)
	}
	flush()

	s.preface = strings.TrimSpace(strings.Join(preface, "\n"))
	return s
}

// decodeActionInput tries JSON first and keeps the raw string otherwise.
func decodeActionInput(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return v
	}
	return trimmed
}

// parseBracketParams handles the compact tool[a=1, b=two] call form. JSON
// bodies are parsed as-is; otherwise comma-separated k=v pairs are coerced
// to int, float, or bool, with quoted values kept verbatim.
func parseBracketParams(content string) any {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(content), &m); err == nil {
			return m
		}
		return content
	}
	params := map[string]any{}
	for _, pair := range strings.Split(content, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		if key == "" {
			continue
		}
		params[key] = coerceScalar(strings.TrimSpace(kv[1]))
	}
	return params
}

func coerceScalar(v string) any {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if strings.EqualFold(v, "true") {
		return true
	}
	if strings.EqualFold(v, "false") {
		return false
	}
	return v
}

// wrapCode turns a bare (possibly fenced) code string into the payload the
// code execution tool expects.
func wrapCode(s string) map[string]any {
	language := "python"
	code := s
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		if m[1] != "" {
			language = m[1]
		}
		code = m[2]
	}
	return map[string]any{
		"code":           strings.TrimSpace(code),
		"language":       language,
		"enable_network": false,
	}
}

// repair asks the analysis model to restate unparseable output as JSON.
func (p *Parser) repair(ctx context.Context, text string) (ParsedResponse, bool) {
	if p.client == nil {
		return ParsedResponse{}, false
	}
	out, _, err := p.client.Complete(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: fmt.Sprintf(repairPrompt, text)},
	}, p.model)
	if err != nil {
		slog.Warn("Parser repair call failed", "error", err)
		return ParsedResponse{}, false
	}
	res, ok := parseDirect(strings.TrimSpace(out))
	if !ok || strings.TrimSpace(res.Tool.Name) == "" {
		return ParsedResponse{}, false
	}
	return res, true
}
