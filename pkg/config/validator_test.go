package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig builds a minimal configuration that passes validation; tests
// mutate one field at a time.
func validConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		KVS:       KVSConfig{Backend: "memory"},
		LLM:       DefaultLLMConfig(),
		Tracing:   DefaultTracingConfig(),
		Retention: DefaultRetentionConfig(),
		Notify:    DefaultNotifyConfig(),
		WebTools:  DefaultWebToolsConfig(),
		Defaults:  DefaultAgentDefaults(),
		Teams: NewTeamRegistry(map[string]TeamConfig{
			"t": {
				Name:      "t",
				StartRole: "general",
				Roles: map[string]RoleConfig{
					"general": {
						PromptTemplate:       "react",
						MaxIterations:        5,
						LLMTimeout:           DefaultAgentDefaults().LLMTimeout,
						ScratchpadMemorySize: 10,
					},
				},
			},
		}),
	}
}

func TestValidateAllAcceptsValidConfig(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidateAll(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "bad server port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantMsg: "port",
		},
		{
			name:    "unknown kvs backend",
			mutate:  func(c *Config) { c.KVS.Backend = "dynamo" },
			wantMsg: "backend",
		},
		{
			name: "redis backend without addr",
			mutate: func(c *Config) {
				c.KVS.Backend = "redis"
				c.KVS.Addr = ""
			},
			wantMsg: "addr",
		},
		{
			name:    "missing llm api key env",
			mutate:  func(c *Config) { c.LLM.APIKeyEnv = "" },
			wantMsg: "api_key_env",
		},
		{
			name:    "missing default model",
			mutate:  func(c *Config) { c.LLM.DefaultModel = "" },
			wantMsg: "default_model",
		},
		{
			name:    "unknown tracing exporter",
			mutate:  func(c *Config) { c.Tracing.Exporter = "jaeger" },
			wantMsg: "exporter",
		},
		{
			name:    "sample ratio out of range",
			mutate:  func(c *Config) { c.Tracing.SampleRatio = 1.5 },
			wantMsg: "sample_ratio",
		},
		{
			name: "otlp enabled without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
				c.Tracing.Endpoint = ""
			},
			wantMsg: "endpoint",
		},
		{
			name:    "non-positive stream retention",
			mutate:  func(c *Config) { c.Retention.StreamRetention = 0 },
			wantMsg: "stream_retention",
		},
		{
			name: "team without roles",
			mutate: func(c *Config) {
				c.Teams = NewTeamRegistry(map[string]TeamConfig{
					"empty": {Name: "empty", StartRole: "x"},
				})
			},
			wantMsg: "at least one role",
		},
		{
			name: "start role not in team",
			mutate: func(c *Config) {
				c.Teams = NewTeamRegistry(map[string]TeamConfig{
					"t": {
						Name:      "t",
						StartRole: "ghost",
						Roles: map[string]RoleConfig{
							"general": {
								PromptTemplate:       "react",
								MaxIterations:        5,
								LLMTimeout:           DefaultAgentDefaults().LLMTimeout,
								ScratchpadMemorySize: 10,
							},
						},
					},
				})
			},
			wantMsg: "start_role",
		},
		{
			name: "role with zero iterations",
			mutate: func(c *Config) {
				team, _ := c.Teams.Get("t")
				role := team.Roles["general"]
				role.MaxIterations = 0
				team.Roles["general"] = role
				c.Teams = NewTeamRegistry(map[string]TeamConfig{"t": team})
			},
			wantMsg: "max_iterations",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestTerminationSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    TerminationSpec
		wantErr bool
	}{
		{name: "step limit ok", spec: TerminationSpec{Type: TermStepLimit, MaxSteps: 5}},
		{name: "step limit zero", spec: TerminationSpec{Type: TermStepLimit}, wantErr: true},
		{name: "tool name ok", spec: TerminationSpec{Type: TermToolName, Tools: []string{"final_answer"}}},
		{name: "tool name empty", spec: TerminationSpec{Type: TermToolName}, wantErr: true},
		{name: "text match ok", spec: TerminationSpec{Type: TermTextMatch, Pattern: "done", Target: TargetThought}},
		{name: "text match bad target", spec: TerminationSpec{Type: TermTextMatch, Pattern: "done", Target: "elsewhere"}, wantErr: true},
		{name: "timeout ok", spec: TerminationSpec{Type: TermTimeout, Seconds: 30}},
		{name: "timeout zero", spec: TerminationSpec{Type: TermTimeout}, wantErr: true},
		{name: "error count ok", spec: TerminationSpec{Type: TermErrorCount, MaxErrors: 3}},
		{
			name: "composite ok",
			spec: TerminationSpec{Type: TermComposite, Mode: ModeAny, Conditions: []TerminationSpec{
				{Type: TermStepLimit, MaxSteps: 10},
			}},
		},
		{
			name:    "composite bad mode",
			spec:    TerminationSpec{Type: TermComposite, Mode: "some", Conditions: []TerminationSpec{{Type: TermStepLimit, MaxSteps: 1}}},
			wantErr: true,
		},
		{
			name: "composite invalid nested",
			spec: TerminationSpec{Type: TermComposite, Mode: ModeAll, Conditions: []TerminationSpec{
				{Type: TermTimeout},
			}},
			wantErr: true,
		},
		{name: "unknown type", spec: TerminationSpec{Type: "vibes"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTeamRegistry(t *testing.T) {
	reg := NewTeamRegistry(map[string]TeamConfig{
		"b": {Name: "b"},
		"a": {Name: "a"},
	})

	assert.Equal(t, []string{"a", "b"}, reg.Names())
	assert.True(t, reg.Has("a"))
	assert.False(t, reg.Has("zz"))

	_, err := reg.Get("zz")
	assert.ErrorIs(t, err, ErrTeamNotFound)
}
