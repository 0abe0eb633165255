package config

// BuiltinConfig holds configuration compiled into the binary. User YAML
// merges on top; a user team with the same name replaces the built-in one.
type BuiltinConfig struct {
	Teams map[string]TeamConfig
}

// GetBuiltinConfig returns the built-in configuration. A minimal
// single-agent team ships so the binary answers queries without any team
// YAML present.
func GetBuiltinConfig() *BuiltinConfig {
	return &BuiltinConfig{
		Teams: map[string]TeamConfig{
			"default": {
				Name:      "default",
				Rules:     "Answer the user's query directly. Use tools when they help.",
				StartRole: "general",
				Roles: map[string]RoleConfig{
					"general": {
						Description:    "General-purpose assistant that answers queries end to end",
						Instructions:   "Work step by step. Cite tool observations when you use them.",
						PromptTemplate: "react",
						Tools:          []string{"final_answer", "user_input", "crawler", "search"},
						Termination: []TerminationSpec{
							{Type: TermToolName, Tools: []string{"final_answer"}},
						},
					},
				},
			},
		},
	}
}

// mergeTeams combines built-in and user-defined teams. User definitions
// replace built-ins wholesale on name collision.
func mergeTeams(builtin, user map[string]TeamConfig) map[string]TeamConfig {
	merged := make(map[string]TeamConfig, len(builtin)+len(user))
	for name, team := range builtin {
		merged[name] = team
	}
	for name, team := range user {
		merged[name] = team
	}
	return merged
}
