package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/troupehq/troupe/pkg/kvs"
	"github.com/troupehq/troupe/pkg/models"
)

// MetaStore manages the chat discovery hash: one field per chat.
type MetaStore struct {
	kv kvs.Store
}

// NewMetaStore creates a new MetaStore.
func NewMetaStore(kv kvs.Store) *MetaStore {
	return &MetaStore{kv: kv}
}

// Save writes a chat's metadata, stamping CreatedAt on first write and
// UpdatedAt always.
func (s *MetaStore) Save(callerCtx context.Context, meta models.ChatMeta) error {
	if meta.ChatID == "" {
		return NewValidationError("chat_id", "required")
	}
	if meta.Query == "" {
		return NewValidationError("query", "required")
	}
	now := time.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now

	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal chat meta: %w", err)
	}

	ctx, cancel := context.WithTimeout(callerCtx, opTimeout)
	defer cancel()
	if err := s.kv.HSet(ctx, kvs.ChatMetasKey, meta.ChatID, string(raw)); err != nil {
		return fmt.Errorf("failed to save chat meta: %w", err)
	}
	return nil
}

// Get returns one chat's metadata.
func (s *MetaStore) Get(callerCtx context.Context, chatID string) (models.ChatMeta, error) {
	if chatID == "" {
		return models.ChatMeta{}, NewValidationError("chat_id", "required")
	}

	ctx, cancel := context.WithTimeout(callerCtx, opTimeout)
	defer cancel()
	raw, err := s.kv.HGet(ctx, kvs.ChatMetasKey, chatID)
	if errors.Is(err, kvs.ErrNotFound) {
		return models.ChatMeta{}, ErrNotFound
	}
	if err != nil {
		return models.ChatMeta{}, fmt.Errorf("failed to load chat meta: %w", err)
	}
	return decodeMeta(chatID, raw), nil
}

// List returns all chats, newest first.
func (s *MetaStore) List(callerCtx context.Context) ([]models.ChatMeta, error) {
	ctx, cancel := context.WithTimeout(callerCtx, opTimeout)
	defer cancel()
	fields, err := s.kv.HGetAll(ctx, kvs.ChatMetasKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat metas: %w", err)
	}

	metas := make([]models.ChatMeta, 0, len(fields))
	for chatID, raw := range fields {
		metas = append(metas, decodeMeta(chatID, raw))
	}
	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].CreatedAt.After(metas[j].CreatedAt)
		}
		return metas[i].ChatID < metas[j].ChatID
	})
	return metas, nil
}

// UpdateStatus transitions a chat's lifecycle status.
func (s *MetaStore) UpdateStatus(ctx context.Context, chatID string, status models.ChatStatus) error {
	meta, err := s.Get(ctx, chatID)
	if err != nil {
		return err
	}
	meta.Status = status
	return s.Save(ctx, meta)
}

// Delete removes chats from the discovery hash.
func (s *MetaStore) Delete(callerCtx context.Context, chatIDs ...string) error {
	if len(chatIDs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(callerCtx, opTimeout)
	defer cancel()
	if err := s.kv.HDel(ctx, kvs.ChatMetasKey, chatIDs...); err != nil {
		return fmt.Errorf("failed to delete chat metas: %w", err)
	}
	return nil
}

// decodeMeta tolerates both value shapes in the hash: full JSON metadata,
// and the bare query string older deployments stored.
func decodeMeta(chatID, raw string) models.ChatMeta {
	var meta models.ChatMeta
	if err := json.Unmarshal([]byte(raw), &meta); err == nil && meta.ChatID != "" {
		return meta
	}
	return models.ChatMeta{ChatID: chatID, Query: raw, Status: models.ChatStatusPending}
}
