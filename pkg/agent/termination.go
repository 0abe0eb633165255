package agent

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/troupehq/troupe/pkg/config"
)

// EvalContext is the loop state a termination condition inspects. It is
// rebuilt at every iteration boundary from the most recent step.
type EvalContext struct {
	Step          int
	Action        string
	Thought       string
	Observation   string
	FinalAnswer   string
	ErrorOccurred bool
}

// Condition decides whether an agent loop should end. Conditions are
// evaluated in declaration order at each iteration boundary; the first
// match wins.
type Condition interface {
	ShouldTerminate(ctx EvalContext) bool
	String() string
}

// StepLimit ends the loop once the step counter reaches Max.
type StepLimit struct {
	Max int
}

func (c StepLimit) ShouldTerminate(ctx EvalContext) bool { return ctx.Step >= c.Max }
func (c StepLimit) String() string                       { return fmt.Sprintf("step_limit(%d)", c.Max) }

// ToolName ends the loop after any of the named tools has run.
type ToolName struct {
	Names []string
}

func (c ToolName) ShouldTerminate(ctx EvalContext) bool {
	return ctx.Action != "" && slices.Contains(c.Names, ctx.Action)
}

func (c ToolName) String() string {
	return fmt.Sprintf("tool_name(%s)", strings.Join(c.Names, ","))
}

// TextMatch ends the loop when a pattern appears in the chosen target field.
type TextMatch struct {
	Pattern *regexp.Regexp
	Target  string
}

func (c TextMatch) ShouldTerminate(ctx EvalContext) bool {
	var text string
	switch c.Target {
	case config.TargetFinalAnswer:
		text = ctx.FinalAnswer
	case config.TargetThought:
		text = ctx.Thought
	case config.TargetObservation:
		text = ctx.Observation
	}
	return text != "" && c.Pattern.MatchString(text)
}

func (c TextMatch) String() string {
	return fmt.Sprintf("text_match(%s on %s)", c.Pattern.String(), c.Target)
}

// Timeout ends the loop once the agent has been alive longer than Limit.
// Start is set at agent construction; the condition only fires between
// iterations, never mid-call.
type Timeout struct {
	Limit time.Duration
	Start time.Time
}

func (c Timeout) ShouldTerminate(EvalContext) bool {
	return !c.Start.IsZero() && time.Since(c.Start) >= c.Limit
}

func (c Timeout) String() string { return fmt.Sprintf("timeout(%s)", c.Limit) }

// ErrorCount ends the loop after Max iterations reported an error. The
// counter is internal state, so an ErrorCount instance belongs to exactly
// one agent.
type ErrorCount struct {
	Max  int
	seen int
}

func (c *ErrorCount) ShouldTerminate(ctx EvalContext) bool {
	if ctx.ErrorOccurred {
		c.seen++
	}
	return c.seen >= c.Max
}

func (c *ErrorCount) String() string { return fmt.Sprintf("error_count(%d)", c.Max) }

// Composite combines conditions with any/all semantics. Nesting is allowed.
type Composite struct {
	Conditions []Condition
	Mode       string
}

func (c Composite) ShouldTerminate(ctx EvalContext) bool {
	if len(c.Conditions) == 0 {
		return false
	}
	for _, cond := range c.Conditions {
		fired := cond.ShouldTerminate(ctx)
		if c.Mode == config.ModeAll && !fired {
			return false
		}
		if c.Mode != config.ModeAll && fired {
			return true
		}
	}
	return c.Mode == config.ModeAll
}

func (c Composite) String() string {
	parts := make([]string, len(c.Conditions))
	for i, cond := range c.Conditions {
		parts[i] = cond.String()
	}
	return fmt.Sprintf("composite(%s: %s)", c.Mode, strings.Join(parts, ", "))
}

// FromSpec builds a condition from its validated configuration form.
// Timeout conditions anchor to now.
func FromSpec(spec config.TerminationSpec) (Condition, error) {
	switch spec.Type {
	case config.TermStepLimit:
		return StepLimit{Max: spec.MaxSteps}, nil
	case config.TermToolName:
		return ToolName{Names: spec.Tools}, nil
	case config.TermTextMatch:
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid text_match pattern %q: %w", spec.Pattern, err)
		}
		return TextMatch{Pattern: re, Target: spec.Target}, nil
	case config.TermTimeout:
		return Timeout{
			Limit: time.Duration(spec.Seconds * float64(time.Second)),
			Start: time.Now(),
		}, nil
	case config.TermErrorCount:
		return &ErrorCount{Max: spec.MaxErrors}, nil
	case config.TermComposite:
		conds := make([]Condition, 0, len(spec.Conditions))
		for _, child := range spec.Conditions {
			cond, err := FromSpec(child)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
		}
		return Composite{Conditions: conds, Mode: spec.Mode}, nil
	default:
		return nil, fmt.Errorf("unknown termination type %q", spec.Type)
	}
}

// FromSpecs resolves a condition list. The loop's own iteration budget acts
// as the implicit step limit, so nothing is injected here; explicit
// StepLimit declarations terminate cleanly while budget exhaustion is the
// fatal no-answer path.
func FromSpecs(specs []config.TerminationSpec) ([]Condition, error) {
	conds := make([]Condition, 0, len(specs))
	for _, spec := range specs {
		cond, err := FromSpec(spec)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	return conds, nil
}
