package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/troupehq/troupe/pkg/kvs"
)

// streamCap bounds the per-chat replay log. Oldest events fall off first;
// a UI session that outgrows this reloads state through the REST surface.
const streamCap = 1000

// notifyLimit bounds live pub/sub frames. Larger events are broadcast as a
// truncation marker; the full envelope is still in the replay log.
const notifyLimit = 7900

// DefaultStreamTTL is applied to replay logs when no retention is configured,
// so abandoned chats age out even with the cleanup janitor disabled.
const DefaultStreamTTL = 72 * time.Hour

// StreamEvent is the wire envelope for every event on a chat stream.
// Data is a JSON-encoded payload object or plain text.
type StreamEvent struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// Encode returns the envelope as wire JSON.
func (e StreamEvent) Encode() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s envelope: %w", e.Event, err)
	}
	return string(raw), nil
}

// DecodeStreamEvent parses a wire envelope.
func DecodeStreamEvent(raw string) (StreamEvent, error) {
	var e StreamEvent
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return StreamEvent{}, fmt.Errorf("failed to decode stream event: %w", err)
	}
	if e.Event == "" {
		return StreamEvent{}, fmt.Errorf("stream event missing event type")
	}
	return e, nil
}

// Publisher appends events to a chat's replay log and broadcasts live
// copies on the chat's pub/sub channel.
//
// Each public method accepts a specific typed payload struct; see
// payloads.go. A zero Timestamp is stamped at publish time.
type Publisher struct {
	store     kvs.Store
	streamTTL time.Duration
}

// NewPublisher creates a Publisher. streamTTL bounds how long replay logs
// outlive their last event; zero selects DefaultStreamTTL.
func NewPublisher(store kvs.Store, streamTTL time.Duration) *Publisher {
	if streamTTL <= 0 {
		streamTTL = DefaultStreamTTL
	}
	return &Publisher{store: store, streamTTL: streamTTL}
}

// --- Typed public methods ---

// PublishStatus records a chat lifecycle transition.
func (p *Publisher) PublishStatus(ctx context.Context, chatID string, payload StatusPayload) error {
	payload.Timestamp = stamp(payload.Timestamp)
	return p.emit(ctx, chatID, EventTypeStatus, payload)
}

// PublishComplete records the terminal event for a chat.
func (p *Publisher) PublishComplete(ctx context.Context, chatID string, payload CompletePayload) error {
	payload.Timestamp = stamp(payload.Timestamp)
	return p.emit(ctx, chatID, EventTypeComplete, payload)
}

// PublishError records a chat-level error.
func (p *Publisher) PublishError(ctx context.Context, chatID string, payload ErrorPayload) error {
	payload.Timestamp = stamp(payload.Timestamp)
	return p.emit(ctx, chatID, EventTypeError, payload)
}

// PublishWorkflow announces the team layout at orchestration start.
func (p *Publisher) PublishWorkflow(ctx context.Context, chatID string, payload WorkflowPayload) error {
	payload.Timestamp = stamp(payload.Timestamp)
	return p.emit(ctx, chatID, EventTypeWorkflow, payload)
}

// PublishNodeResult records a delegated task's result flowing back.
func (p *Publisher) PublishNodeResult(ctx context.Context, chatID string, payload NodeResultPayload) error {
	payload.Timestamp = stamp(payload.Timestamp)
	return p.emit(ctx, chatID, EventTypeNodeResult, payload)
}

// PublishAgentStart records an agent beginning a run.
func (p *Publisher) PublishAgentStart(ctx context.Context, chatID string, payload AgentStartPayload) error {
	payload.Timestamp = stamp(payload.Timestamp)
	return p.emit(ctx, chatID, EventTypeAgentStart, payload)
}

// PublishAgentThinking records a parsed thought for one loop iteration.
func (p *Publisher) PublishAgentThinking(ctx context.Context, chatID string, payload AgentThinkingPayload) error {
	payload.Timestamp = stamp(payload.Timestamp)
	return p.emit(ctx, chatID, EventTypeAgentThinking, payload)
}

// PublishAgentComplete records an agent finishing with an answer.
func (p *Publisher) PublishAgentComplete(ctx context.Context, chatID string, payload AgentCompletePayload) error {
	payload.Timestamp = stamp(payload.Timestamp)
	return p.emit(ctx, chatID, EventTypeAgentComplete, payload)
}

// PublishAgentError records an agent run failing.
func (p *Publisher) PublishAgentError(ctx context.Context, chatID string, payload AgentErrorPayload) error {
	payload.Timestamp = stamp(payload.Timestamp)
	return p.emit(ctx, chatID, EventTypeAgentError, payload)
}

// PublishExplanation surfaces narration text from a coordinating agent.
func (p *Publisher) PublishExplanation(ctx context.Context, chatID string, payload ExplanationPayload) error {
	payload.Timestamp = stamp(payload.Timestamp)
	return p.emit(ctx, chatID, EventTypeExplanation, payload)
}

// PublishAnswer surfaces an intermediate answer fragment.
func (p *Publisher) PublishAnswer(ctx context.Context, chatID string, payload AnswerPayload) error {
	payload.Timestamp = stamp(payload.Timestamp)
	return p.emit(ctx, chatID, EventTypeAnswer, payload)
}

// PublishActionStart records the beginning of a tool attempt sequence.
func (p *Publisher) PublishActionStart(ctx context.Context, chatID string, payload ActionStartPayload) error {
	payload.Timestamp = stamp(payload.Timestamp)
	return p.emit(ctx, chatID, EventTypeActionStart, payload)
}

// PublishActionComplete records a tool call finishing.
func (p *Publisher) PublishActionComplete(ctx context.Context, chatID string, payload ActionCompletePayload) error {
	payload.Timestamp = stamp(payload.Timestamp)
	return p.emit(ctx, chatID, EventTypeActionComplete, payload)
}

// PublishToolProgress records an individual tool attempt starting.
func (p *Publisher) PublishToolProgress(ctx context.Context, chatID string, payload ToolProgressPayload) error {
	payload.Timestamp = stamp(payload.Timestamp)
	return p.emit(ctx, chatID, EventTypeToolProgress, payload)
}

// PublishToolRetry records a failed tool attempt.
func (p *Publisher) PublishToolRetry(ctx context.Context, chatID string, payload ToolRetryPayload) error {
	payload.Timestamp = stamp(payload.Timestamp)
	return p.emit(ctx, chatID, EventTypeToolRetry, payload)
}

// PublishUserInputRequired records a run suspending for operator input.
func (p *Publisher) PublishUserInputRequired(ctx context.Context, chatID string, payload UserInputRequiredPayload) error {
	payload.Timestamp = stamp(payload.Timestamp)
	return p.emit(ctx, chatID, EventTypeUserInputRequired, payload)
}

// PublishPlaybookUpdate records a regenerated playbook.
func (p *Publisher) PublishPlaybookUpdate(ctx context.Context, chatID string, payload PlaybookUpdatePayload) error {
	payload.Timestamp = stamp(payload.Timestamp)
	return p.emit(ctx, chatID, EventTypePlaybookUpdate, payload)
}

// PublishText publishes an envelope whose data is plain text rather than a
// JSON payload object.
func (p *Publisher) PublishText(ctx context.Context, chatID, eventType, text string) error {
	return p.send(ctx, chatID, StreamEvent{Event: eventType, Data: text})
}

// --- Internal core ---

// emit marshals the payload and routes the envelope.
func (p *Publisher) emit(ctx context.Context, chatID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return p.send(ctx, chatID, StreamEvent{Event: eventType, Data: string(data)})
}

// send persists the full envelope to the replay log, then broadcasts a live
// copy. Persistence failure aborts; broadcast failure is returned but the
// event is already replayable.
func (p *Publisher) send(ctx context.Context, chatID string, env StreamEvent) error {
	raw, err := env.Encode()
	if err != nil {
		return err
	}

	if err := p.store.RPushCapped(ctx, kvs.ChatStreamKey(chatID), streamCap, p.streamTTL, raw); err != nil {
		return fmt.Errorf("failed to persist %s event: %w", env.Event, err)
	}

	notify, err := truncateIfNeeded(env, raw)
	if err != nil {
		return err
	}
	if err := p.store.Publish(ctx, kvs.ChatChannel(chatID), notify); err != nil {
		return fmt.Errorf("failed to broadcast %s event: %w", env.Event, err)
	}
	return nil
}

// --- Internal helpers ---

func stamp(ts string) string {
	if ts == "" {
		return Now()
	}
	return ts
}

// truncateIfNeeded returns the envelope as-is when it fits the live frame
// limit, otherwise a minimal marker envelope. Clients seeing the marker
// re-sync from the replay log, which always holds the full event.
func truncateIfNeeded(env StreamEvent, raw string) (string, error) {
	if len(raw) <= notifyLimit {
		return raw, nil
	}
	marker := StreamEvent{Event: env.Event, Data: `{"truncated":true}`}
	return marker.Encode()
}
