package config

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// TeamConfig declares a team: shared rules, the role that receives the user
// query, and one agent configuration per role.
type TeamConfig struct {
	Name      string
	Rules     string
	StartRole string
	MaxRounds int
	Roles     map[string]RoleConfig
}

// RoleConfig is the fully resolved configuration of one role's agent.
type RoleConfig struct {
	Description    string
	Instructions   string
	PromptTemplate string
	Model          string
	ReasonerModel  string
	Tools          []string

	MaxIterations        int
	LLMTimeout           time.Duration
	IterationRetryDelay  time.Duration
	ScratchpadMemorySize int
	ToolMemory           bool

	Termination []TerminationSpec
}

// Termination condition type tags accepted in team YAML.
const (
	TermStepLimit  = "step_limit"
	TermToolName   = "tool_name"
	TermTextMatch  = "text_match"
	TermTimeout    = "timeout"
	TermErrorCount = "error_count"
	TermComposite  = "composite"
)

// TextMatch targets.
const (
	TargetFinalAnswer = "final_answer"
	TargetThought     = "thought"
	TargetObservation = "observation"
)

// Composite modes.
const (
	ModeAny = "any"
	ModeAll = "all"
)

// TerminationSpec is one tagged termination-condition variant as declared in
// YAML. Fields beyond Type apply only to the variant the tag selects.
type TerminationSpec struct {
	Type string `yaml:"type"`

	// step_limit
	MaxSteps int `yaml:"max_steps,omitempty"`
	// tool_name
	Tools []string `yaml:"tools,omitempty"`
	// text_match
	Pattern string `yaml:"pattern,omitempty"`
	Target  string `yaml:"target,omitempty"`
	// timeout
	Seconds float64 `yaml:"seconds,omitempty"`
	// error_count
	MaxErrors int `yaml:"max_errors,omitempty"`
	// composite
	Mode       string            `yaml:"mode,omitempty"`
	Conditions []TerminationSpec `yaml:"conditions,omitempty"`
}

// Validate checks a termination spec, recursing into composites.
func (s TerminationSpec) Validate() error {
	switch s.Type {
	case TermStepLimit:
		if s.MaxSteps < 1 {
			return fmt.Errorf("%w: step_limit requires max_steps >= 1", ErrInvalidValue)
		}
	case TermToolName:
		if len(s.Tools) == 0 {
			return fmt.Errorf("%w: tool_name requires at least one tool", ErrInvalidValue)
		}
	case TermTextMatch:
		if s.Pattern == "" {
			return fmt.Errorf("%w: text_match requires a pattern", ErrInvalidValue)
		}
		switch s.Target {
		case TargetFinalAnswer, TargetThought, TargetObservation:
		default:
			return fmt.Errorf("%w: text_match target %q", ErrInvalidValue, s.Target)
		}
	case TermTimeout:
		if s.Seconds <= 0 {
			return fmt.Errorf("%w: timeout requires seconds > 0", ErrInvalidValue)
		}
	case TermErrorCount:
		if s.MaxErrors < 1 {
			return fmt.Errorf("%w: error_count requires max_errors >= 1", ErrInvalidValue)
		}
	case TermComposite:
		if s.Mode != ModeAny && s.Mode != ModeAll {
			return fmt.Errorf("%w: composite mode %q", ErrInvalidValue, s.Mode)
		}
		if len(s.Conditions) == 0 {
			return fmt.Errorf("%w: composite requires at least one condition", ErrInvalidValue)
		}
		for _, c := range s.Conditions {
			if err := c.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown termination type %q", ErrInvalidValue, s.Type)
	}
	return nil
}

// TeamRegistry provides read access to loaded team definitions.
type TeamRegistry struct {
	mu    sync.RWMutex
	teams map[string]TeamConfig
}

// NewTeamRegistry creates a registry from loaded team configurations.
// The map is copied so later mutation of the source cannot leak in.
func NewTeamRegistry(teams map[string]TeamConfig) *TeamRegistry {
	copied := make(map[string]TeamConfig, len(teams))
	for name, team := range teams {
		copied[name] = team
	}
	return &TeamRegistry{teams: copied}
}

// Get returns a team definition by name.
func (r *TeamRegistry) Get(name string) (TeamConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	team, ok := r.teams[name]
	if !ok {
		return TeamConfig{}, fmt.Errorf("%w: %s", ErrTeamNotFound, name)
	}
	return team, nil
}

// Has reports whether a team is registered.
func (r *TeamRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.teams[name]
	return ok
}

// Names returns registered team names, sorted.
func (r *TeamRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.teams))
	for name := range r.teams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
