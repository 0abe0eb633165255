package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func echoTool() *Tool {
	return &Tool{
		Name:        "echo",
		Description: "Echo the given text.",
		Params: map[string]Param{
			"text": {Type: "string", Required: true, Description: "Text to echo."},
		},
		Outputs: map[string]string{"result": "The echoed text."},
		Invoke: func(_ context.Context, params map[string]any) (map[string]any, error) {
			return map[string]any{"result": params["text"]}, nil
		},
	}
}

func TestFullDescription(t *testing.T) {
	tl := &Tool{
		Name:        "search",
		Description: "Search the web.",
		Params: map[string]Param{
			"query": {Type: "string", Required: true, Description: "The search query."},
			"limit": {Type: "int", Default: 5, Description: "Maximum results."},
		},
		Outputs: map[string]string{"result": "Numbered results."},
		Invoke:  func(context.Context, map[string]any) (map[string]any, error) { return nil, nil },
	}

	want := "**search**: Search the web.\n" +
		"    **Parameters**:\n" +
		"    - limit (optional, int): Maximum results. [default: 5]\n" +
		"    - query (required, string): The search query.\n" +
		"    **Returns**:\n" +
		"    - result: Numbered results."
	assert.Equal(t, want, tl.FullDescription())
}

func TestFullDescriptionNoParams(t *testing.T) {
	tl := &Tool{
		Name:        "ping",
		Description: "Liveness probe.",
		Invoke:      func(context.Context, map[string]any) (map[string]any, error) { return nil, nil },
	}
	assert.Equal(t, "**ping**: Liveness probe.\n    **Parameters**: None", tl.FullDescription())
}

func TestToolValidate(t *testing.T) {
	tests := []struct {
		name    string
		tool    *Tool
		wantErr bool
	}{
		{name: "valid", tool: echoTool(), wantErr: false},
		{name: "nil tool", tool: nil, wantErr: true},
		{name: "empty name", tool: &Tool{Name: "  ", Invoke: func(context.Context, map[string]any) (map[string]any, error) { return nil, nil }}, wantErr: true},
		{name: "nil invoker", tool: &Tool{Name: "x"}, wantErr: true},
		{name: "negative retries", tool: &Tool{Name: "x", MaxRetries: -1, Invoke: func(context.Context, map[string]any) (map[string]any, error) { return nil, nil }}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tool.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRegistryDuplicateRejected(t *testing.T) {
	_, err := NewRegistry(echoTool(), echoTool())
	assert.ErrorIs(t, err, ErrDuplicateTool)
}

func TestRegistryLookup(t *testing.T) {
	r, err := NewRegistry(echoTool(), NewFinalAnswer())
	require.NoError(t, err)

	got, err := r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", got.Name)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrToolNotFound)

	assert.True(t, r.Has(NameFinalAnswer))
	assert.False(t, r.Has("missing"))
	assert.Equal(t, []string{"echo", NameFinalAnswer}, r.Names())
	assert.Equal(t, "echo, final_answer", r.NamesCSV())
}

func TestRegistryDescribeNumbersAndCaches(t *testing.T) {
	r, err := NewRegistry(NewFinalAnswer(), echoTool())
	require.NoError(t, err)

	desc := r.Describe()
	assert.Contains(t, desc, "1. **echo**")
	assert.Contains(t, desc, "2. **final_answer**")
	assert.NotContains(t, desc, "Usage guidance")
	assert.Equal(t, desc, r.Describe())

	require.NoError(t, r.SetMemory("echo", "pass text, not objects"))
	desc = r.Describe()
	assert.Contains(t, desc, "Usage guidance: pass text, not objects")

	err = r.SetMemory("missing", "x")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegistryEmptyDescribe(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	assert.Equal(t, "No tools available.", r.Describe())
}

func TestExecutionErrorMessage(t *testing.T) {
	err := &ExecutionError{Tool: "flaky", Attempts: 3, Err: assert.AnError}
	assert.Contains(t, err.Error(), "flaky failed after 3 retries")
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, IsExecutionError(err))
	assert.False(t, IsExecutionError(assert.AnError))
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "  keep it simple  ", want: "keep it simple"},
		{name: "fenced", in: "```text\nguide body\n```", want: "guide body"},
		{name: "fenced with language", in: "```markdown\nuse short queries\n```", want: "use short queries"},
		{name: "bold stripped", in: "**always** quote urls", want: "always quote urls"},
		{name: "unclosed fence untouched", in: "```\nhalf open", want: "```\nhalf open"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", TruncateRunes("abc", 10))
	assert.Equal(t, "ab", TruncateRunes("abcd", 2))
	assert.Equal(t, "已停", TruncateRunes("已停止", 2), "multi-byte runes survive truncation")
	assert.Equal(t, "", TruncateRunes("abc", 0))
}

func TestMinuteLimiterRate(t *testing.T) {
	l := newMinuteLimiter(5)
	assert.Equal(t, rate.Every(12*time.Second), l.Limit())

	assert.Equal(t, rate.Every(12*time.Second), newMinuteLimiter(0).Limit(), "zero falls back to default")
}
