package team

import (
	"context"
	"fmt"
	"strings"

	"github.com/troupehq/troupe/pkg/kvs"
	"github.com/troupehq/troupe/pkg/models"
	"github.com/troupehq/troupe/pkg/tool"
)

// NewHandoff returns the delegation tool. Invoking it pushes a task event
// onto the target role's queue; the loop treats the resulting step as a
// handoff exit. sender_id, sender_role and chat_id arrive as implicit
// parameters injected by the executor.
//
// teamRoles supplies the roles valid as targets, evaluated per call so the
// tool follows the team it is built for.
func NewHandoff(kv kvs.Store, teamRoles func() []models.Role) *tool.Tool {
	return &tool.Tool{
		Name:        tool.NameHandoff,
		Description: "Hand the current task off to another role on the team and end your turn. The result comes back to you later.",
		Params: map[string]tool.Param{
			"target_role": {Type: "string", Required: true, Description: "Role to receive the task."},
			"task":        {Type: "string", Required: true, Description: "Short imperative statement of the task."},
			"description": {Type: "string", Description: "Details the receiver needs."},
			"context":     {Type: "string", Description: "Background carried into the receiver's prompt."},
		},
		Outputs: map[string]string{
			"result":   "Confirmation of the handoff.",
			"event_id": "Queue event identifier for the delegation.",
		},
		Invoke: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			target, _ := params["target_role"].(string)
			target = strings.ToLower(strings.TrimSpace(target))
			if target == "" {
				return nil, fmt.Errorf("handoff requires a target_role")
			}
			task, _ := params["task"].(string)
			if strings.TrimSpace(task) == "" {
				return nil, fmt.Errorf("handoff requires a task")
			}

			role := models.Role(target)
			if !onTeam(role, teamRoles()) {
				return nil, fmt.Errorf("role %q is not on this team", target)
			}

			senderID, _ := params["sender_id"].(string)
			senderRole, _ := params["sender_role"].(string)
			chatID, _ := params["chat_id"].(string)
			description, _ := params["description"].(string)
			background, _ := params["context"].(string)

			ev, err := models.NewTaskEvent(chatID, role, senderID, models.Role(senderRole), models.TaskPayload{
				Task:        task,
				Description: description,
				Context:     background,
			})
			if err != nil {
				return nil, err
			}
			raw, err := ev.Encode()
			if err != nil {
				return nil, err
			}
			if err := kv.RPush(ctx, kvs.RoleQueueKey(target), raw); err != nil {
				return nil, fmt.Errorf("failed to enqueue handoff: %w", err)
			}
			return map[string]any{
				"result":   fmt.Sprintf("Task handed off to role %s.", target),
				"event_id": ev.EventID,
			}, nil
		},
	}
}

func onTeam(role models.Role, roles []models.Role) bool {
	for _, r := range roles {
		if models.SameRole(role, r) {
			return true
		}
	}
	return false
}
