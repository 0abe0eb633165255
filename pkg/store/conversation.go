// Package store contains the conversation-scoped persistence layer over the KVS.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/troupehq/troupe/pkg/kvs"
	"github.com/troupehq/troupe/pkg/models"
)

// opTimeout bounds individual KVS operations issued by the stores.
const opTimeout = 5 * time.Second

// ConversationStore manages per-conversation chat turns.
// Turns live in a capped list: oldest entries are discarded past the cap and
// the TTL is refreshed on every write.
type ConversationStore struct {
	kv kvs.Store
}

// NewConversationStore creates a new ConversationStore.
func NewConversationStore(kv kvs.Store) *ConversationStore {
	return &ConversationStore{kv: kv}
}

// SaveTurn appends a turn to the conversation.
func (s *ConversationStore) SaveTurn(callerCtx context.Context, convID string, turn models.Turn) error {
	if convID == "" {
		return NewValidationError("conversation_id", "required")
	}
	if turn.Content == "" {
		return NewValidationError("content", "required")
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	raw, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	ctx, cancel := context.WithTimeout(callerCtx, opTimeout)
	defer cancel()
	if err := s.kv.RPushCapped(ctx, kvs.ConversationKey(convID), kvs.ConversationCap, kvs.ConversationTTL, string(raw)); err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	return nil
}

// SaveUserTurn appends a user turn with the current timestamp.
func (s *ConversationStore) SaveUserTurn(ctx context.Context, convID, content string) error {
	return s.SaveTurn(ctx, convID, models.Turn{Type: models.TurnUser, Content: content})
}

// SaveAssistantTurn appends an assistant turn with the current timestamp.
func (s *ConversationStore) SaveAssistantTurn(ctx context.Context, convID, content string) error {
	return s.SaveTurn(ctx, convID, models.Turn{Type: models.TurnAssistant, Content: content})
}

// History returns every stored turn in append order. Corrupt entries are
// skipped with a warning rather than failing the whole read.
func (s *ConversationStore) History(callerCtx context.Context, convID string) ([]models.Turn, error) {
	if convID == "" {
		return nil, NewValidationError("conversation_id", "required")
	}

	ctx, cancel := context.WithTimeout(callerCtx, opTimeout)
	defer cancel()
	raws, err := s.kv.LRange(ctx, kvs.ConversationKey(convID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	turns := make([]models.Turn, 0, len(raws))
	for _, raw := range raws {
		var turn models.Turn
		if err := json.Unmarshal([]byte(raw), &turn); err != nil {
			slog.Warn("Skipping undecodable conversation turn", "conversation_id", convID, "error", err)
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
