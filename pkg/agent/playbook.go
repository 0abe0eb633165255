package agent

import (
	"context"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/troupehq/troupe/pkg/events"
	"github.com/troupehq/troupe/pkg/llm"
	"github.com/troupehq/troupe/pkg/models"
	"github.com/troupehq/troupe/pkg/store"
	"github.com/troupehq/troupe/pkg/tool"
)

var playbookPrompt = template.Must(template.New("playbook").Parse(`You maintain a running playbook for an autonomous agent session: a short, numbered record of what has been done and what remains, written so another agent could pick up the work.

Current time: {{.CurrentTime}}

User request:
{{.UserQuery}}

Previous playbook:
{{if .LastPlaybook}}{{.LastPlaybook}}{{else}}(none yet){{end}}

Latest step:
{{.StepText}}

Rewrite the playbook to reflect the latest step. Keep it under 15 lines. Respond with the playbook text only.`))

type playbookVars struct {
	CurrentTime  string
	UserQuery    string
	LastPlaybook string
	StepText     string
}

// PlaybookGenerator keeps a chat's rolling playbook current. Every failure
// path is log-only: a playbook is an aid, never a reason to fail a run.
type PlaybookGenerator struct {
	client llm.Client
	model  string
	store  *store.PlaybookStore
	pub    *events.Publisher
}

// NewPlaybookGenerator builds a generator. A nil client disables updates.
func NewPlaybookGenerator(client llm.Client, model string, st *store.PlaybookStore, pub *events.Publisher) *PlaybookGenerator {
	return &PlaybookGenerator{client: client, model: model, store: st, pub: pub}
}

// Current returns the stored playbook for a conversation, or "".
func (g *PlaybookGenerator) Current(ctx context.Context, convID string) string {
	if g == nil || g.store == nil {
		return ""
	}
	text, err := g.store.Load(ctx, convID)
	if err != nil {
		return ""
	}
	return text
}

// Update regenerates the playbook from the latest step and persists it.
// When stream is set a playbook_update event is published as well.
func (g *PlaybookGenerator) Update(ctx context.Context, convID, userQuery string, step models.Step, stream bool) {
	if g == nil || g.client == nil || g.store == nil {
		return
	}

	last, err := g.store.Load(ctx, convID)
	if err != nil {
		last = ""
	}

	var sb strings.Builder
	if err := playbookPrompt.Execute(&sb, playbookVars{
		CurrentTime:  time.Now().Format("2006-01-02 15:04:05"),
		UserQuery:    userQuery,
		LastPlaybook: last,
		StepText:     stepText(step),
	}); err != nil {
		slog.Warn("Playbook prompt render failed", "error", err)
		return
	}

	out, _, err := g.client.Complete(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: sb.String()},
	}, g.model)
	if err != nil {
		slog.Warn("Playbook generation failed", "conv_id", convID, "error", err)
		return
	}

	playbook := strings.TrimSpace(tool.CleanText(out))
	if playbook == "" {
		return
	}
	if err := g.store.Save(ctx, convID, playbook); err != nil {
		slog.Warn("Playbook save failed", "conv_id", convID, "error", err)
		return
	}
	if stream && g.pub != nil {
		if err := g.pub.PublishPlaybookUpdate(ctx, convID, events.PlaybookUpdatePayload{Playbook: playbook}); err != nil {
			slog.Warn("Playbook event publish failed", "conv_id", convID, "error", err)
		}
	}
}

func stepText(step models.Step) string {
	var parts []string
	if step.Thought != "" {
		parts = append(parts, "Thought: "+step.Thought)
	}
	if step.Action != "" {
		parts = append(parts, "Action: "+step.Action)
	}
	if step.ActionInput != "" {
		parts = append(parts, "Action Input: "+step.ActionInput)
	}
	if step.Observation != "" {
		parts = append(parts, "Observation: "+tool.TruncateRunes(step.Observation, 1000))
	}
	return strings.Join(parts, "\n")
}
