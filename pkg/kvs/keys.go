package kvs

import "time"

// Retention and capacity policy for the well-known key families.
const (
	ConversationTTL = 12 * time.Hour
	StepsTTL        = 12 * time.Hour
	PlaybookTTL     = 12 * time.Hour
	TeamRosterTTL   = 24 * time.Hour

	ConversationCap = 100
	StepsCap        = 100
)

// ChatMetasKey is the hash of chat_id to chat metadata, used for session
// discovery and retention.
const ChatMetasKey = "chat_metas"

// ConversationKey holds a conversation's chat turns.
func ConversationKey(convID string) string { return "conversation:" + convID }

// StepsKey holds a conversation's persisted scratchpad steps. The name is
// historical: entries describe tool invocations.
func StepsKey(convID string) string { return "tools:" + convID }

// PlaybookKey holds a conversation's rolling playbook.
func PlaybookKey(convID string) string { return "playbook:" + convID }

// ToolMemoryKey holds learned usage guidance for a tool, scoped to a user
// when one is known.
func ToolMemoryKey(user, tool string) string {
	if user == "" {
		return ToolMemoryGlobalKey(tool)
	}
	return "tool_memory:" + user + ":" + tool
}

// ToolMemoryGlobalKey holds unscoped usage guidance for a tool.
func ToolMemoryGlobalKey(tool string) string { return "tool_memory:" + tool }

// RoleQueueKey is the shared mailbox for all agents of a role.
func RoleQueueKey(role string) string { return "role_queue:" + role }

// AgentQueueKey is the direct mailbox of a single agent.
func AgentQueueKey(agentID string) string { return "agent_queue:" + agentID }

// RoleAgentsKey lists the agent IDs currently registered under a role.
func RoleAgentsKey(role string) string { return "role_agents:" + role }

// TeamAgentsKey lists the roster of a team session.
func TeamAgentsKey(chatID string) string { return "team_agents:" + chatID }

// ChatStreamKey is the replayable event log of a chat.
func ChatStreamKey(chatID string) string { return "chat_stream:" + chatID }

// ChatChannel is the pub/sub channel carrying live events for a chat.
func ChatChannel(chatID string) string { return "chat:" + chatID }
