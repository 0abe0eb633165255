package config

import "fmt"

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast, stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := v.validateKVS(); err != nil {
		return fmt.Errorf("KVS validation failed: %w", err)
	}
	if err := v.validateLLM(); err != nil {
		return fmt.Errorf("LLM validation failed: %w", err)
	}
	if err := v.validateTracing(); err != nil {
		return fmt.Errorf("tracing validation failed: %w", err)
	}
	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}
	if err := v.validateTeams(); err != nil {
		return fmt.Errorf("team validation failed: %w", err)
	}
	return nil
}

func (v *ConfigValidator) validateServer() error {
	s := v.cfg.Server
	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("server", "http", "port", fmt.Errorf("%w: %d", ErrInvalidValue, s.Port))
	}
	return nil
}

func (v *ConfigValidator) validateKVS() error {
	k := v.cfg.KVS
	switch k.Backend {
	case "redis", "memory":
	default:
		return NewValidationError("kvs", k.Backend, "backend", fmt.Errorf("%w: must be redis or memory", ErrInvalidValue))
	}
	if k.Backend == "redis" && k.Addr == "" {
		return NewValidationError("kvs", k.Backend, "addr", ErrMissingRequiredField)
	}
	return nil
}

func (v *ConfigValidator) validateLLM() error {
	l := v.cfg.LLM
	if l.APIKeyEnv == "" {
		return NewValidationError("llm", "provider", "api_key_env", ErrMissingRequiredField)
	}
	if l.DefaultModel == "" {
		return NewValidationError("llm", "provider", "default_model", ErrMissingRequiredField)
	}
	if l.MaxRetries < 0 {
		return NewValidationError("llm", "provider", "max_retries", fmt.Errorf("%w: %d", ErrInvalidValue, l.MaxRetries))
	}
	return nil
}

func (v *ConfigValidator) validateTracing() error {
	t := v.cfg.Tracing
	switch t.Exporter {
	case "stdout", "otlp":
	default:
		return NewValidationError("tracing", t.Exporter, "exporter", fmt.Errorf("%w: must be stdout or otlp", ErrInvalidValue))
	}
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return NewValidationError("tracing", t.Exporter, "sample_ratio", fmt.Errorf("%w: %v not in [0, 1]", ErrInvalidValue, t.SampleRatio))
	}
	if t.Enabled && t.Exporter == "otlp" && t.Endpoint == "" {
		return NewValidationError("tracing", t.Exporter, "endpoint", ErrMissingRequiredField)
	}
	return nil
}

func (v *ConfigValidator) validateRetention() error {
	r := v.cfg.Retention
	if r.StreamRetention <= 0 {
		return NewValidationError("retention", "streams", "stream_retention", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if r.CleanupInterval <= 0 {
		return NewValidationError("retention", "streams", "cleanup_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateTeams() error {
	for _, name := range v.cfg.Teams.Names() {
		team, err := v.cfg.Teams.Get(name)
		if err != nil {
			return err
		}
		if len(team.Roles) == 0 {
			return NewValidationError("team", name, "roles", fmt.Errorf("at least one role required"))
		}
		if team.StartRole == "" {
			return NewValidationError("team", name, "start_role", ErrMissingRequiredField)
		}
		if _, ok := team.Roles[team.StartRole]; !ok {
			return NewValidationError("team", name, "start_role",
				fmt.Errorf("%w: %s", ErrRoleNotFound, team.StartRole))
		}
		for roleName, role := range team.Roles {
			if err := v.validateRole(name, roleName, role); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *ConfigValidator) validateRole(team, name string, role RoleConfig) error {
	field := func(f string) string { return fmt.Sprintf("roles.%s.%s", name, f) }

	if role.PromptTemplate == "" {
		return NewValidationError("team", team, field("prompt_template"), ErrMissingRequiredField)
	}
	if role.MaxIterations < 1 {
		return NewValidationError("team", team, field("max_iterations"), fmt.Errorf("must be at least 1"))
	}
	if role.LLMTimeout <= 0 {
		return NewValidationError("team", team, field("llm_timeout"), fmt.Errorf("must be positive"))
	}
	if role.ScratchpadMemorySize < 1 {
		return NewValidationError("team", team, field("scratchpad_memory_size"), fmt.Errorf("must be at least 1"))
	}
	for i, spec := range role.Termination {
		if err := spec.Validate(); err != nil {
			return NewValidationError("team", team, field(fmt.Sprintf("termination[%d]", i)), err)
		}
	}
	return nil
}
