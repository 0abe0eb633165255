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

// StepStore manages the persisted scratchpad steps of a conversation.
//
// Steps from every agent in a team land in one list per conversation,
// each tagged with the owning role. Role tagging is a read filter, not a
// key: prompt construction replays only the calling role's steps.
type StepStore struct {
	kv kvs.Store
}

// NewStepStore creates a new StepStore.
func NewStepStore(kv kvs.Store) *StepStore {
	return &StepStore{kv: kv}
}

// Append persists one scratchpad step.
func (s *StepStore) Append(callerCtx context.Context, convID string, step models.Step) error {
	if convID == "" {
		return NewValidationError("conversation_id", "required")
	}
	if step.Role == "" {
		return NewValidationError("role", "required")
	}
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now().UTC()
	}

	raw, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to marshal step: %w", err)
	}

	ctx, cancel := context.WithTimeout(callerCtx, opTimeout)
	defer cancel()
	if err := s.kv.RPushCapped(ctx, kvs.StepsKey(convID), kvs.StepsCap, kvs.StepsTTL, string(raw)); err != nil {
		return fmt.Errorf("failed to persist step: %w", err)
	}
	return nil
}

// Recent returns the most recent limit steps owned by role, in causal
// (append) order.
//
// The list TTL is refreshed on every write, so entries can outlive their
// natural 12 hours while the conversation stays active; entries older than
// the step TTL are skipped at load time instead. Corrupt entries and other
// roles' steps are skipped too.
func (s *StepStore) Recent(callerCtx context.Context, convID string, role models.Role, limit int) ([]models.Step, error) {
	if convID == "" {
		return nil, NewValidationError("conversation_id", "required")
	}
	if limit <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(callerCtx, opTimeout)
	defer cancel()
	raws, err := s.kv.LRange(ctx, kvs.StepsKey(convID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}

	cutoff := time.Now().Add(-kvs.StepsTTL)
	steps := make([]models.Step, 0, len(raws))
	for _, raw := range raws {
		var step models.Step
		if err := json.Unmarshal([]byte(raw), &step); err != nil {
			slog.Warn("Skipping undecodable scratchpad step", "conversation_id", convID, "error", err)
			continue
		}
		if step.Timestamp.Before(cutoff) {
			continue
		}
		if !models.SameRole(step.Role, role) {
			continue
		}
		steps = append(steps, step)
	}

	if len(steps) > limit {
		steps = steps[len(steps)-limit:]
	}
	return steps, nil
}
