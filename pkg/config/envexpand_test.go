package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple substitution with {{.VAR}}",
			input: "api_key_env: {{.PROVIDER_KEY_NAME}}",
			env:   map[string]string{"PROVIDER_KEY_NAME": "OPENAI_API_KEY"},
			want:  "api_key_env: OPENAI_API_KEY",
		},
		{
			name:  "literal ${VAR} is NOT expanded",
			input: "pattern: ${USER_ID}",
			env:   map[string]string{"USER_ID": "123"},
			want:  "pattern: ${USER_ID}",
		},
		{
			name:  "termination regex with $ anchor preserved",
			input: `pattern: "^done$"`,
			env:   map[string]string{},
			want:  `pattern: "^done$"`,
		},
		{
			name:  "multiple substitutions in one line",
			input: "addr: {{.KVS_HOST}}:{{.KVS_PORT}}",
			env: map[string]string{
				"KVS_HOST": "redis.internal",
				"KVS_PORT": "6379",
			},
			want: "addr: redis.internal:6379",
		},
		{
			name:  "missing variable expands to empty",
			input: "endpoint: {{.MISSING_VAR}}",
			env:   map[string]string{},
			want:  "endpoint: ",
		},
		{
			name:  "no substitution when no variables",
			input: "static: value",
			env:   map[string]string{"UNUSED": "value"},
			want:  "static: value",
		},
		{
			name:  "variables in nested YAML structure",
			input: "kvs:\n  addr: {{.KVS_ADDR}}\n  db: {{.KVS_DB}}",
			env: map[string]string{
				"KVS_ADDR": "localhost:6379",
				"KVS_DB":   "2",
			},
			want: "kvs:\n  addr: localhost:6379\n  db: 2",
		},
		{
			name:  "special characters in expanded value",
			input: "webhook_url: {{.WEBHOOK}}",
			env:   map[string]string{"WEBHOOK": "https://hooks.example.com/T0/B1?sig=a$b%c"},
			want:  "webhook_url: https://hooks.example.com/T0/B1?sig=a$b%c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			result := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.want, string(result))
		})
	}
}

// Malformed template syntax passes through unchanged so the YAML parser can
// produce its own diagnostics.
func TestExpandEnvMalformedTemplates(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "unclosed template", input: "api_key_env: {{.API_KEY"},
		{name: "only opening braces", input: "api_key_env: {{"},
		{name: "variable without leading dot", input: "api_key_env: {{API_KEY}}"},
		{name: "undefined function", input: "api_key_env: {{.API_KEY | upper}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("API_KEY", "should-not-appear")

			result := ExpandEnv([]byte(tt.input))

			assert.Equal(t, tt.input, string(result),
				"malformed template should pass through unchanged")
			assert.NotContains(t, string(result), "should-not-appear")
		})
	}
}

func TestExpandEnvPassThroughToYAMLParser(t *testing.T) {
	// A malformed template inside a quoted scalar is still valid YAML.
	input := "server:\n  host: localhost\n  name: \"{{.NAME\"\n"
	expanded := ExpandEnv([]byte(input))

	var result map[string]any
	err := yaml.Unmarshal(expanded, &result)
	assert.NoError(t, err)
	assert.NotNil(t, result)
}
