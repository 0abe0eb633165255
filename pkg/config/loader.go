package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the configuration file loaded from the config directory.
const ConfigFileName = "troupe.yaml"

// troupeYAMLConfig represents the complete troupe.yaml file structure.
type troupeYAMLConfig struct {
	Server    *serverYAML           `yaml:"server"`
	KVS       *kvsYAML              `yaml:"kvs"`
	LLM       *llmYAML              `yaml:"llm"`
	Tracing   *tracingYAML          `yaml:"tracing"`
	Retention *retentionYAML        `yaml:"retention"`
	Notify    *notifyYAML           `yaml:"notify"`
	WebTools  *webToolsYAML         `yaml:"web_tools"`
	Defaults  *defaultsYAML         `yaml:"defaults"`
	Teams     map[string]teamYAML   `yaml:"teams"`
}

type serverYAML struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

type kvsYAML struct {
	Backend     string `yaml:"backend,omitempty"`
	Addr        string `yaml:"addr,omitempty"`
	PasswordEnv string `yaml:"password_env,omitempty"`
	DB          int    `yaml:"db,omitempty"`
	PoolSize    int    `yaml:"pool_size,omitempty"`
}

type llmYAML struct {
	APIKeyEnv     string `yaml:"api_key_env,omitempty"`
	BaseURL       string `yaml:"base_url,omitempty"`
	DefaultModel  string `yaml:"default_model,omitempty"`
	AnalysisModel string `yaml:"analysis_model,omitempty"`
	MaxRetries    int    `yaml:"max_retries,omitempty"`
	RetryDelay    string `yaml:"retry_delay,omitempty"`
	Timeout       string `yaml:"timeout,omitempty"`
}

type tracingYAML struct {
	Enabled     *bool    `yaml:"enabled,omitempty"`
	ServiceName string   `yaml:"service_name,omitempty"`
	Exporter    string   `yaml:"exporter,omitempty"`
	Endpoint    string   `yaml:"endpoint,omitempty"`
	SampleRatio *float64 `yaml:"sample_ratio,omitempty"`
}

type retentionYAML struct {
	StreamRetention string `yaml:"stream_retention,omitempty"`
	CleanupInterval string `yaml:"cleanup_interval,omitempty"`
}

type notifyYAML struct {
	Enabled    *bool  `yaml:"enabled,omitempty"`
	WebhookURL string `yaml:"webhook_url,omitempty"`
	Timeout    string `yaml:"timeout,omitempty"`
}

type webToolsYAML struct {
	CrawlerPerMinute int    `yaml:"crawler_per_minute,omitempty"`
	SearchPerMinute  int    `yaml:"search_per_minute,omitempty"`
	RequestTimeout   string `yaml:"request_timeout,omitempty"`
	SearchEndpoint   string `yaml:"search_endpoint,omitempty"`
	SearchAPIKeyEnv  string `yaml:"search_api_key_env,omitempty"`
}

type defaultsYAML struct {
	Model                string `yaml:"model,omitempty"`
	MaxIterations        int    `yaml:"max_iterations,omitempty"`
	LLMTimeout           string `yaml:"llm_timeout,omitempty"`
	IterationRetryDelay  string `yaml:"iteration_retry_delay,omitempty"`
	ScratchpadMemorySize int    `yaml:"scratchpad_memory_size,omitempty"`
	ToolMemory           *bool  `yaml:"tool_memory,omitempty"`
}

type teamYAML struct {
	Rules     string              `yaml:"rules,omitempty"`
	StartRole string              `yaml:"start_role"`
	MaxRounds int                 `yaml:"max_rounds,omitempty"`
	Roles     map[string]roleYAML `yaml:"roles"`
}

type roleYAML struct {
	Description          string            `yaml:"description,omitempty"`
	Instructions         string            `yaml:"instructions,omitempty"`
	PromptTemplate       string            `yaml:"prompt_template,omitempty"`
	Model                string            `yaml:"model,omitempty"`
	ReasonerModel        string            `yaml:"reasoner_model,omitempty"`
	Tools                []string          `yaml:"tools,omitempty"`
	MaxIterations        int               `yaml:"max_iterations,omitempty"`
	LLMTimeout           string            `yaml:"llm_timeout,omitempty"`
	IterationRetryDelay  string            `yaml:"iteration_retry_delay,omitempty"`
	ScratchpadMemorySize int               `yaml:"scratchpad_memory_size,omitempty"`
	ToolMemory           *bool             `yaml:"tool_memory,omitempty"`
	Termination          []TerminationSpec `yaml:"termination,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load troupe.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined teams
//  5. Resolve defaults for every block
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"teams", stats.Teams,
		"roles", stats.Roles)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	raw, err := loader.loadTroupeYAML()
	if err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}

	builtin := GetBuiltinConfig()
	defaults := resolveDefaults(raw.Defaults)

	userTeams := make(map[string]TeamConfig, len(raw.Teams))
	for name, team := range raw.Teams {
		resolved, err := resolveTeam(name, team, defaults)
		if err != nil {
			return nil, err
		}
		userTeams[name] = resolved
	}
	teams := mergeTeams(builtin.Teams, userTeams)
	// Built-in teams pick up defaults too.
	for name, team := range teams {
		if _, user := userTeams[name]; user {
			continue
		}
		for roleName, role := range team.Roles {
			filled, err := applyRoleDefaults(role, defaults)
			if err != nil {
				return nil, NewValidationError("team", name, "roles."+roleName, err)
			}
			team.Roles[roleName] = filled
		}
		teams[name] = team
	}

	return &Config{
		configDir: configDir,
		Server:    resolveServer(raw.Server),
		KVS:       resolveKVS(raw.KVS),
		LLM:       resolveLLM(raw.LLM),
		Tracing:   resolveTracing(raw.Tracing),
		Retention: resolveRetention(raw.Retention),
		Notify:    resolveNotify(raw.Notify),
		WebTools:  resolveWebTools(raw.WebTools),
		Defaults:  defaults,
		Teams:     NewTeamRegistry(teams),
	}, nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes the original data through on template errors so the
	// YAML parser produces the diagnostics.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func (l *configLoader) loadTroupeYAML() (*troupeYAMLConfig, error) {
	var config troupeYAMLConfig
	config.Teams = make(map[string]teamYAML)

	if err := l.loadYAML(ConfigFileName, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// parseDuration parses a duration string, falling back to def with a
// warning on empty or malformed input.
func parseDuration(value string, def time.Duration, field string) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration in config, using default",
			"field", field, "value", value, "default", def, "error", err)
		return def
	}
	return d
}

func resolveServer(y *serverYAML) ServerConfig {
	cfg := DefaultServerConfig()
	if y == nil {
		return cfg
	}
	if y.Host != "" {
		cfg.Host = y.Host
	}
	if y.Port > 0 {
		cfg.Port = y.Port
	}
	return cfg
}

func resolveKVS(y *kvsYAML) KVSConfig {
	cfg := DefaultKVSConfig()
	if y == nil {
		return cfg
	}
	if y.Backend != "" {
		cfg.Backend = y.Backend
	}
	if y.Addr != "" {
		cfg.Addr = y.Addr
	}
	if y.PasswordEnv != "" {
		cfg.PasswordEnv = y.PasswordEnv
	}
	if y.DB != 0 {
		cfg.DB = y.DB
	}
	if y.PoolSize > 0 {
		cfg.PoolSize = y.PoolSize
	}
	return cfg
}

func resolveLLM(y *llmYAML) LLMConfig {
	cfg := DefaultLLMConfig()
	if y == nil {
		return cfg
	}
	if y.APIKeyEnv != "" {
		cfg.APIKeyEnv = y.APIKeyEnv
	}
	if y.BaseURL != "" {
		cfg.BaseURL = y.BaseURL
	}
	if y.DefaultModel != "" {
		cfg.DefaultModel = y.DefaultModel
	}
	if y.AnalysisModel != "" {
		cfg.AnalysisModel = y.AnalysisModel
	}
	if y.MaxRetries > 0 {
		cfg.MaxRetries = y.MaxRetries
	}
	cfg.RetryDelay = parseDuration(y.RetryDelay, cfg.RetryDelay, "llm.retry_delay")
	cfg.Timeout = parseDuration(y.Timeout, cfg.Timeout, "llm.timeout")
	// Auxiliary calls fall back to the iteration model.
	if cfg.AnalysisModel == "" {
		cfg.AnalysisModel = cfg.DefaultModel
	}
	return cfg
}

func resolveTracing(y *tracingYAML) TracingConfig {
	cfg := DefaultTracingConfig()
	if y == nil {
		return cfg
	}
	if y.Enabled != nil {
		cfg.Enabled = *y.Enabled
	}
	if y.ServiceName != "" {
		cfg.ServiceName = y.ServiceName
	}
	if y.Exporter != "" {
		cfg.Exporter = y.Exporter
	}
	if y.Endpoint != "" {
		cfg.Endpoint = y.Endpoint
	}
	if y.SampleRatio != nil {
		cfg.SampleRatio = *y.SampleRatio
	}
	return cfg
}

func resolveRetention(y *retentionYAML) RetentionConfig {
	cfg := DefaultRetentionConfig()
	if y == nil {
		return cfg
	}
	cfg.StreamRetention = parseDuration(y.StreamRetention, cfg.StreamRetention, "retention.stream_retention")
	cfg.CleanupInterval = parseDuration(y.CleanupInterval, cfg.CleanupInterval, "retention.cleanup_interval")
	return cfg
}

func resolveNotify(y *notifyYAML) NotifyConfig {
	cfg := DefaultNotifyConfig()
	if y == nil {
		return cfg
	}
	if y.Enabled != nil {
		cfg.Enabled = *y.Enabled
	}
	if y.WebhookURL != "" {
		cfg.WebhookURL = y.WebhookURL
	}
	cfg.Timeout = parseDuration(y.Timeout, cfg.Timeout, "notify.timeout")
	return cfg
}

func resolveWebTools(y *webToolsYAML) WebToolsConfig {
	cfg := DefaultWebToolsConfig()
	if y == nil {
		return cfg
	}
	if y.CrawlerPerMinute > 0 {
		cfg.CrawlerPerMinute = y.CrawlerPerMinute
	}
	if y.SearchPerMinute > 0 {
		cfg.SearchPerMinute = y.SearchPerMinute
	}
	cfg.RequestTimeout = parseDuration(y.RequestTimeout, cfg.RequestTimeout, "web_tools.request_timeout")
	if y.SearchEndpoint != "" {
		cfg.SearchEndpoint = y.SearchEndpoint
	}
	if y.SearchAPIKeyEnv != "" {
		cfg.SearchAPIKeyEnv = y.SearchAPIKeyEnv
	}
	return cfg
}

func resolveDefaults(y *defaultsYAML) AgentDefaults {
	cfg := DefaultAgentDefaults()
	if y == nil {
		return cfg
	}
	if y.Model != "" {
		cfg.Model = y.Model
	}
	if y.MaxIterations > 0 {
		cfg.MaxIterations = y.MaxIterations
	}
	cfg.LLMTimeout = parseDuration(y.LLMTimeout, cfg.LLMTimeout, "defaults.llm_timeout")
	cfg.IterationRetryDelay = parseDuration(y.IterationRetryDelay, cfg.IterationRetryDelay, "defaults.iteration_retry_delay")
	if y.ScratchpadMemorySize > 0 {
		cfg.ScratchpadMemorySize = y.ScratchpadMemorySize
	}
	if y.ToolMemory != nil {
		cfg.ToolMemory = *y.ToolMemory
	}
	return cfg
}

func resolveTeam(name string, y teamYAML, defaults AgentDefaults) (TeamConfig, error) {
	team := TeamConfig{
		Name:      name,
		Rules:     y.Rules,
		StartRole: y.StartRole,
		MaxRounds: y.MaxRounds,
		Roles:     make(map[string]RoleConfig, len(y.Roles)),
	}
	for roleName, role := range y.Roles {
		resolved, err := resolveRole(role, defaults)
		if err != nil {
			return TeamConfig{}, NewValidationError("team", name, "roles."+roleName, err)
		}
		team.Roles[roleName] = resolved
	}
	return team, nil
}

func resolveRole(y roleYAML, defaults AgentDefaults) (RoleConfig, error) {
	role := RoleConfig{
		Description:          y.Description,
		Instructions:         y.Instructions,
		PromptTemplate:       y.PromptTemplate,
		Model:                y.Model,
		ReasonerModel:        y.ReasonerModel,
		Tools:                y.Tools,
		MaxIterations:        y.MaxIterations,
		ScratchpadMemorySize: y.ScratchpadMemorySize,
		Termination:          y.Termination,
	}
	if y.LLMTimeout != "" {
		role.LLMTimeout = parseDuration(y.LLMTimeout, 0, "role.llm_timeout")
	}
	if y.IterationRetryDelay != "" {
		role.IterationRetryDelay = parseDuration(y.IterationRetryDelay, 0, "role.iteration_retry_delay")
	}
	if y.ToolMemory != nil {
		role.ToolMemory = *y.ToolMemory
	} else {
		role.ToolMemory = defaults.ToolMemory
	}
	return applyRoleDefaults(role, defaults)
}

// applyRoleDefaults fills zero-valued role fields from the defaults block.
func applyRoleDefaults(role RoleConfig, defaults AgentDefaults) (RoleConfig, error) {
	base := RoleConfig{
		PromptTemplate:       "react",
		Model:                defaults.Model,
		MaxIterations:        defaults.MaxIterations,
		LLMTimeout:           defaults.LLMTimeout,
		IterationRetryDelay:  defaults.IterationRetryDelay,
		ScratchpadMemorySize: defaults.ScratchpadMemorySize,
	}
	if err := mergo.Merge(&role, base); err != nil {
		return RoleConfig{}, fmt.Errorf("failed to merge role defaults: %w", err)
	}
	return role, nil
}
