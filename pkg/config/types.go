// Package config loads and validates the troupe.yaml configuration file:
// server and KVS settings, model provider access, tracing, retention, and
// the declarative team definitions the orchestrator builds agents from.
package config

import "time"

// Config is the fully resolved runtime configuration.
type Config struct {
	configDir string

	Server    ServerConfig
	KVS       KVSConfig
	LLM       LLMConfig
	Tracing   TracingConfig
	Retention RetentionConfig
	Notify    NotifyConfig
	WebTools  WebToolsConfig
	Defaults  AgentDefaults
	Teams     *TeamRegistry
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	Teams int
	Roles int
}

// Stats returns counts of loaded components.
func (c *Config) Stats() Stats {
	s := Stats{Teams: len(c.Teams.Names())}
	for _, name := range c.Teams.Names() {
		if team, err := c.Teams.Get(name); err == nil {
			s.Roles += len(team.Roles)
		}
	}
	return s
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Host string
	Port int
}

// KVSConfig holds key-value store connection settings.
type KVSConfig struct {
	// Backend selects the store implementation: "redis" or "memory".
	Backend     string
	Addr        string
	PasswordEnv string
	DB          int
	PoolSize    int
}

// LLMConfig holds model provider access settings. The provider speaks the
// OpenAI chat-completion protocol; BaseURL points it at compatible gateways.
type LLMConfig struct {
	APIKeyEnv string
	BaseURL   string

	// DefaultModel answers agent iterations when a role sets no model.
	DefaultModel string
	// AnalysisModel drives auxiliary calls: playbook regeneration, tool
	// memory learning, and parser repair.
	AnalysisModel string

	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	// Exporter is "stdout" or "otlp".
	Exporter    string
	Endpoint    string
	SampleRatio float64
}

// RetentionConfig controls cleanup of chat event logs and metadata, which
// carry no KVS TTL of their own.
type RetentionConfig struct {
	// StreamRetention is the maximum age of a chat's event log.
	StreamRetention time.Duration
	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration
}

// NotifyConfig holds webhook notification settings for terminal chat states.
type NotifyConfig struct {
	Enabled    bool
	WebhookURL string
	Timeout    time.Duration
}

// WebToolsConfig holds settings for the built-in crawler and search tools.
type WebToolsConfig struct {
	// CrawlerPerMinute and SearchPerMinute bound outbound request rates.
	CrawlerPerMinute int
	SearchPerMinute  int
	RequestTimeout   time.Duration
	SearchEndpoint   string
	SearchAPIKeyEnv  string
}

// AgentDefaults fills role configuration fields left unset by a team
// definition.
type AgentDefaults struct {
	Model                string
	MaxIterations        int
	LLMTimeout           time.Duration
	IterationRetryDelay  time.Duration
	ScratchpadMemorySize int
	ToolMemory           bool
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{Host: "0.0.0.0", Port: 8080}
}

// DefaultKVSConfig returns the built-in KVS defaults.
func DefaultKVSConfig() KVSConfig {
	return KVSConfig{
		Backend:     "redis",
		Addr:        "localhost:6379",
		PasswordEnv: "KVS_PASSWORD",
		PoolSize:    10,
	}
}

// DefaultLLMConfig returns the built-in model provider defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		APIKeyEnv:    "OPENAI_API_KEY",
		DefaultModel: "gpt-4o",
		MaxRetries:   3,
		RetryDelay:   1 * time.Second,
		Timeout:      60 * time.Second,
	}
}

// DefaultTracingConfig returns the built-in tracing defaults.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "troupe",
		Exporter:    "stdout",
		SampleRatio: 0.08,
	}
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		StreamRetention: 72 * time.Hour,
		CleanupInterval: 12 * time.Hour,
	}
}

// DefaultNotifyConfig returns the built-in notification defaults.
func DefaultNotifyConfig() NotifyConfig {
	return NotifyConfig{Timeout: 10 * time.Second}
}

// DefaultWebToolsConfig returns the built-in web tool defaults.
func DefaultWebToolsConfig() WebToolsConfig {
	return WebToolsConfig{
		CrawlerPerMinute: 5,
		SearchPerMinute:  5,
		RequestTimeout:   30 * time.Second,
		SearchAPIKeyEnv:  "SEARCH_API_KEY",
	}
}

// DefaultAgentDefaults returns the built-in per-role defaults.
func DefaultAgentDefaults() AgentDefaults {
	return AgentDefaults{
		MaxIterations:        10,
		LLMTimeout:           60 * time.Second,
		IterationRetryDelay:  1 * time.Second,
		ScratchpadMemorySize: 20,
	}
}
