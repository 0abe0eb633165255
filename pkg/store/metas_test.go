package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupehq/troupe/pkg/kvs"
	"github.com/troupehq/troupe/pkg/models"
)

func TestMetaRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMetaStore(kvs.NewMemory())

	require.NoError(t, s.Save(ctx, models.ChatMeta{
		ChatID: "c1",
		Query:  "investigate the outage",
		Team:   "default",
		Author: "alice",
		Status: models.ChatStatusPending,
	}))

	meta, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "investigate the outage", meta.Query)
	assert.Equal(t, models.ChatStatusPending, meta.Status)
	assert.False(t, meta.CreatedAt.IsZero())
	assert.False(t, meta.UpdatedAt.IsZero())
}

func TestMetaGetMissing(t *testing.T) {
	s := NewMetaStore(kvs.NewMemory())
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMetaToleratesBareQueryValue(t *testing.T) {
	ctx := context.Background()
	kv := kvs.NewMemory()
	s := NewMetaStore(kv)

	// Older deployments stored the raw user query as the hash value.
	require.NoError(t, kv.HSet(ctx, kvs.ChatMetasKey, "legacy", "plain query text"))

	meta, err := s.Get(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "legacy", meta.ChatID)
	assert.Equal(t, "plain query text", meta.Query)
	assert.Equal(t, models.ChatStatusPending, meta.Status)
}

func TestMetaListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMetaStore(kvs.NewMemory())

	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.Save(ctx, models.ChatMeta{ChatID: "c-old", Query: "q1", Status: models.ChatStatusCompleted, CreatedAt: old}))
	require.NoError(t, s.Save(ctx, models.ChatMeta{ChatID: "c-new", Query: "q2", Status: models.ChatStatusRunning}))

	metas, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "c-new", metas[0].ChatID)
	assert.Equal(t, "c-old", metas[1].ChatID)
}

func TestMetaUpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMetaStore(kvs.NewMemory())

	require.NoError(t, s.Save(ctx, models.ChatMeta{ChatID: "c1", Query: "q", Status: models.ChatStatusPending}))
	require.NoError(t, s.UpdateStatus(ctx, "c1", models.ChatStatusCompleted))

	meta, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.ChatStatusCompleted, meta.Status)

	err = s.UpdateStatus(ctx, "missing", models.ChatStatusFailed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMetaDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMetaStore(kvs.NewMemory())

	require.NoError(t, s.Save(ctx, models.ChatMeta{ChatID: "c1", Query: "q"}))
	require.NoError(t, s.Save(ctx, models.ChatMeta{ChatID: "c2", Query: "q"}))
	require.NoError(t, s.Delete(ctx, "c1"))
	require.NoError(t, s.Delete(ctx))

	_, err := s.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "c2")
	assert.NoError(t, err)
}

func TestMetaValidation(t *testing.T) {
	ctx := context.Background()
	s := NewMetaStore(kvs.NewMemory())

	assert.True(t, IsValidationError(s.Save(ctx, models.ChatMeta{Query: "q"})))
	assert.True(t, IsValidationError(s.Save(ctx, models.ChatMeta{ChatID: "c1"})))
}
