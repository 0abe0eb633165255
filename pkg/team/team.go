// Package team builds and runs agent teams from declarative configuration:
// one agent per role, queue listeners, roster registration, and the handoff
// tool that moves work between roles.
package team

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/troupehq/troupe/pkg/agent"
	"github.com/troupehq/troupe/pkg/config"
	"github.com/troupehq/troupe/pkg/events"
	"github.com/troupehq/troupe/pkg/kvs"
	"github.com/troupehq/troupe/pkg/llm"
	"github.com/troupehq/troupe/pkg/models"
	"github.com/troupehq/troupe/pkg/session"
	"github.com/troupehq/troupe/pkg/store"
	"github.com/troupehq/troupe/pkg/tool"
	"github.com/troupehq/troupe/pkg/trace"
)

// Deps are the shared collaborators every agent on a team uses.
type Deps struct {
	KV           kvs.Store
	LLM          llm.Client
	Publisher    *events.Publisher
	Executor     *tool.Executor
	Steps        *store.StepStore
	Conversation *store.ConversationStore
	Playbook     *agent.PlaybookGenerator
	Memory       *tool.MemoryManager
	Broker       tool.InputWaiter
	Web          *tool.WebTools
	Tracer       *trace.Tracer

	DefaultModel  string
	AnalysisModel string
}

// rosterRecord is one entry in the team_agents list.
type rosterRecord struct {
	AgentID      string    `json:"agent_id"`
	Role         string    `json:"role"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Team is one running instantiation of a team configuration, bound to a
// chat. Construction builds the agents; Start registers them and opens
// their listeners.
type Team struct {
	name      string
	chatID    string
	startRole models.Role
	deps      Deps

	agents    []*agent.Agent
	listeners map[string]*agent.Listener // agent ID → listener
	byRole    map[models.Role]*agent.Agent
	roles     []models.Role
}

// New builds a team for one chat. Roles are registered globally; the
// instructions of every agent open with the shared team description so each
// member knows who else is on the team.
func New(cfg config.TeamConfig, chatID, userName string, deps Deps) (*Team, error) {
	if len(cfg.Roles) == 0 {
		return nil, fmt.Errorf("team %s has no roles", cfg.Name)
	}

	t := &Team{
		name:      cfg.Name,
		chatID:    chatID,
		deps:      deps,
		listeners: make(map[string]*agent.Listener),
		byRole:    make(map[models.Role]*agent.Agent),
	}

	names := make([]string, 0, len(cfg.Roles))
	for name := range cfg.Roles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		role, err := models.RegisterRole(name)
		if err != nil {
			return nil, fmt.Errorf("team %s: %w", cfg.Name, err)
		}
		t.roles = append(t.roles, role)
	}

	start, err := models.RegisterRole(cfg.StartRole)
	if err != nil {
		return nil, fmt.Errorf("team %s: invalid start role: %w", cfg.Name, err)
	}
	t.startRole = start

	desc := composeDescription(cfg, names)
	parser := agent.NewParser(deps.LLM, deps.AnalysisModel)

	for i, name := range names {
		rc := cfg.Roles[name]
		registry, err := t.buildRegistry(rc, len(names) > 1)
		if err != nil {
			return nil, fmt.Errorf("team %s role %s: %w", cfg.Name, name, err)
		}

		model := rc.Model
		if model == "" {
			model = deps.DefaultModel
		}
		instructions := rc.Instructions
		if desc != "" {
			instructions = desc + "\n\n" + instructions
		}

		a, err := agent.New(agent.Config{
			Role:                t.roles[i],
			Description:         rc.Description,
			Instructions:        instructions,
			PromptTemplate:      rc.PromptTemplate,
			Model:               model,
			ReasonerModel:       rc.ReasonerModel,
			MaxIterations:       rc.MaxIterations,
			LLMTimeout:          rc.LLMTimeout,
			IterationRetryDelay: rc.IterationRetryDelay,
			MemorySize:          rc.ScratchpadMemorySize,
			ToolMemory:          rc.ToolMemory,
			UserName:            userName,
			Termination:         rc.Termination,
		}, agent.Deps{
			LLM:          deps.LLM,
			Parser:       parser,
			Registry:     registry,
			Executor:     deps.Executor,
			Publisher:    deps.Publisher,
			Steps:        deps.Steps,
			Conversation: deps.Conversation,
			Playbook:     deps.Playbook,
			Memory:       deps.Memory,
			KV:           deps.KV,
			Tracer:       deps.Tracer,
		})
		if err != nil {
			return nil, fmt.Errorf("team %s role %s: %w", cfg.Name, name, err)
		}

		t.agents = append(t.agents, a)
		if _, taken := t.byRole[t.roles[i]]; !taken {
			t.byRole[t.roles[i]] = a
		}
	}

	if _, ok := t.byRole[t.startRole]; !ok {
		return nil, fmt.Errorf("team %s: start role %q has no agent", cfg.Name, cfg.StartRole)
	}
	return t, nil
}

// buildRegistry resolves a role's tool list. Multi-role teams get the
// handoff tool even when the configuration omits it, since delegation is
// the point of having more than one role.
func (t *Team) buildRegistry(rc config.RoleConfig, multiRole bool) (*tool.Registry, error) {
	names := append([]string(nil), rc.Tools...)
	if len(names) == 0 {
		names = []string{tool.NameFinalAnswer}
	}
	if multiRole && !contains(names, tool.NameHandoff) {
		names = append(names, tool.NameHandoff)
	}

	tools := make([]*tool.Tool, 0, len(names))
	for _, name := range names {
		tl, err := t.buildTool(name)
		if err != nil {
			return nil, err
		}
		tools = append(tools, tl)
	}
	return tool.NewRegistry(tools...)
}

func (t *Team) buildTool(name string) (*tool.Tool, error) {
	switch name {
	case tool.NameFinalAnswer:
		return tool.NewFinalAnswer(), nil
	case tool.NameUserInput:
		return tool.NewUserInput(t.deps.Broker, t.deps.Publisher), nil
	case tool.NameHandoff:
		return NewHandoff(t.deps.KV, t.Roles), nil
	case tool.NameCrawler:
		if t.deps.Web == nil {
			return nil, fmt.Errorf("crawler tool requires web tools")
		}
		return t.deps.Web.Crawler(), nil
	case tool.NameSearch:
		if t.deps.Web == nil {
			return nil, fmt.Errorf("search tool requires web tools")
		}
		return t.deps.Web.Search(), nil
	default:
		return nil, fmt.Errorf("%w: %s", tool.ErrToolNotFound, name)
	}
}

// Start registers every agent in the KVS rosters, opens the listeners, and
// announces the workflow on the chat stream.
func (t *Team) Start(ctx context.Context, stream bool) error {
	for _, a := range t.agents {
		if err := t.deps.KV.RPush(ctx, kvs.RoleAgentsKey(string(a.Role())), a.ID()); err != nil {
			return fmt.Errorf("failed to register agent %s: %w", a.ID(), err)
		}
		record, err := json.Marshal(rosterRecord{
			AgentID:      a.ID(),
			Role:         string(a.Role()),
			RegisteredAt: time.Now().UTC(),
		})
		if err == nil {
			err = t.deps.KV.RPush(ctx, kvs.TeamAgentsKey(t.chatID), string(record))
		}
		if err != nil {
			slog.Warn("Failed to record team roster entry", "agent_id", a.ID(), "error", err)
		}

		l := agent.NewListener(a, t.deps.KV)
		t.listeners[a.ID()] = l
		l.Start()
	}
	if err := t.deps.KV.Expire(ctx, kvs.TeamAgentsKey(t.chatID), kvs.TeamRosterTTL); err != nil {
		slog.Warn("Failed to set team roster TTL", "chat_id", t.chatID, "error", err)
	}

	if stream && t.deps.Publisher != nil {
		roles := make([]string, len(t.roles))
		for i, r := range t.roles {
			roles[i] = string(r)
		}
		if err := t.deps.Publisher.PublishWorkflow(ctx, t.chatID, events.WorkflowPayload{
			Team:      t.name,
			StartRole: string(t.startRole),
			Roles:     roles,
		}); err != nil {
			slog.Warn("Failed to publish workflow event", "chat_id", t.chatID, "error", err)
		}
	}
	return nil
}

// Run hands the user query to the start agent and drives its loop to an
// outcome. Delegated work continues asynchronously through the listeners.
func (t *Team) Run(ctx context.Context, query string, stream bool) (agent.RunResult, error) {
	return t.byRole[t.startRole].Run(ctx, agent.RunInput{
		Query:  query,
		ChatID: t.chatID,
		Stream: stream,
	})
}

// OnComplete registers a hook fired when the start agent finishes a resumed
// engagement, which is how an asynchronous (handed-off) chat reaches its
// final answer.
func (t *Team) OnComplete(fn func(answer string)) {
	start := t.byRole[t.startRole]
	if l, ok := t.listeners[start.ID()]; ok {
		l.OnResult(fn)
	}
}

// Stop flags every member and tears down the roster.
func (t *Team) Stop() {
	for _, a := range t.agents {
		a.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.deps.KV.Del(ctx, kvs.TeamAgentsKey(t.chatID)); err != nil {
		slog.Warn("Failed to delete team roster", "chat_id", t.chatID, "error", err)
	}
}

// Name returns the team configuration name.
func (t *Team) Name() string { return t.name }

// ChatID returns the chat this instantiation is bound to.
func (t *Team) ChatID() string { return t.chatID }

// Roles returns the team's roles in sorted order.
func (t *Team) Roles() []models.Role {
	out := make([]models.Role, len(t.roles))
	copy(out, t.roles)
	return out
}

// Members exposes the agents as cacheable session members.
func (t *Team) Members() []session.Member {
	out := make([]session.Member, len(t.agents))
	for i, a := range t.agents {
		out[i] = a
	}
	return out
}

// composeDescription renders the shared team preamble: the rules followed
// by a roster of roles and their descriptions.
func composeDescription(cfg config.TeamConfig, sortedNames []string) string {
	var sb strings.Builder
	sb.WriteString("You are part of the team \"" + cfg.Name + "\".")
	if rules := strings.TrimSpace(cfg.Rules); rules != "" {
		sb.WriteString(" " + rules)
	}
	sb.WriteString("\n\nTeam members:")
	for _, name := range sortedNames {
		sb.WriteString("\n- " + name)
		if d := strings.TrimSpace(cfg.Roles[name].Description); d != "" {
			sb.WriteString(": " + d)
		}
	}
	return sb.String()
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
