package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/troupehq/troupe/pkg/kvs"
)

// PlaybookStore manages the per-conversation rolling playbook.
type PlaybookStore struct {
	kv kvs.Store
}

// NewPlaybookStore creates a new PlaybookStore.
func NewPlaybookStore(kv kvs.Store) *PlaybookStore {
	return &PlaybookStore{kv: kv}
}

// Save overwrites the conversation's playbook and refreshes its TTL.
func (s *PlaybookStore) Save(callerCtx context.Context, convID, playbook string) error {
	if convID == "" {
		return NewValidationError("conversation_id", "required")
	}

	ctx, cancel := context.WithTimeout(callerCtx, opTimeout)
	defer cancel()
	if err := s.kv.Set(ctx, kvs.PlaybookKey(convID), playbook, kvs.PlaybookTTL); err != nil {
		return fmt.Errorf("failed to save playbook: %w", err)
	}
	return nil
}

// Load returns the current playbook, or "" when none has been written yet.
func (s *PlaybookStore) Load(callerCtx context.Context, convID string) (string, error) {
	if convID == "" {
		return "", NewValidationError("conversation_id", "required")
	}

	ctx, cancel := context.WithTimeout(callerCtx, opTimeout)
	defer cancel()
	playbook, err := s.kv.Get(ctx, kvs.PlaybookKey(convID))
	if errors.Is(err, kvs.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load playbook: %w", err)
	}
	return playbook, nil
}
