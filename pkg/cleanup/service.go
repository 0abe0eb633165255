// Package cleanup enforces retention on the data that carries no KVS TTL
// of its own: chat event streams and the chat metadata hash.
package cleanup

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/troupehq/troupe/pkg/config"
	"github.com/troupehq/troupe/pkg/kvs"
	"github.com/troupehq/troupe/pkg/store"
)

// Service periodically removes expired chat streams and metadata entries.
// Sweeps are idempotent and safe to run from multiple processes.
type Service struct {
	cfg   config.RetentionConfig
	kv    kvs.Store
	metas *store.MetaStore

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the retention janitor.
func NewService(cfg config.RetentionConfig, kv kvs.Store, metas *store.MetaStore) *Service {
	return &Service{cfg: cfg, kv: kv, metas: metas}
}

// Start launches the background loop: one sweep immediately, then one per
// interval.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"stream_retention", s.cfg.StreamRetention,
		"interval", s.cfg.CleanupInterval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one retention pass. Each phase is isolated: a failure in one
// is logged and the others still run.
func (s *Service) Sweep(ctx context.Context) {
	expired := s.expiredChats(ctx)
	if len(expired) > 0 {
		s.deleteChats(ctx, expired)
	}
	s.deleteOrphanStreams(ctx)
}

// expiredChats lists chat IDs whose metadata is older than the retention
// window.
func (s *Service) expiredChats(ctx context.Context) []string {
	metas, err := s.metas.List(ctx)
	if err != nil {
		slog.Error("Retention: failed to list chat metadata", "error", err)
		return nil
	}
	cutoff := time.Now().Add(-s.cfg.StreamRetention)
	var expired []string
	for _, meta := range metas {
		ts := meta.UpdatedAt
		if ts.IsZero() {
			ts = meta.CreatedAt
		}
		if !ts.IsZero() && ts.Before(cutoff) {
			expired = append(expired, meta.ChatID)
		}
	}
	return expired
}

func (s *Service) deleteChats(ctx context.Context, chatIDs []string) {
	keys := make([]string, 0, len(chatIDs))
	for _, id := range chatIDs {
		keys = append(keys, kvs.ChatStreamKey(id))
	}
	if err := s.kv.Del(ctx, keys...); err != nil {
		slog.Error("Retention: failed to delete chat streams", "count", len(keys), "error", err)
		return
	}
	if err := s.metas.Delete(ctx, chatIDs...); err != nil {
		slog.Error("Retention: failed to delete chat metadata", "count", len(chatIDs), "error", err)
		return
	}
	slog.Info("Retention: removed expired chats", "count", len(chatIDs))
}

// deleteOrphanStreams removes event streams whose metadata entry is already
// gone, which happens when a previous sweep deleted metadata but the stream
// delete failed.
func (s *Service) deleteOrphanStreams(ctx context.Context) {
	streamKeys, err := s.kv.Keys(ctx, kvs.ChatStreamKey("*"))
	if err != nil {
		slog.Error("Retention: failed to scan stream keys", "error", err)
		return
	}
	if len(streamKeys) == 0 {
		return
	}

	known, err := s.kv.HGetAll(ctx, kvs.ChatMetasKey)
	if err != nil {
		slog.Error("Retention: failed to read chat metadata hash", "error", err)
		return
	}

	var orphans []string
	prefix := kvs.ChatStreamKey("")
	for _, key := range streamKeys {
		chatID := strings.TrimPrefix(key, prefix)
		if _, ok := known[chatID]; !ok {
			orphans = append(orphans, key)
		}
	}
	if len(orphans) == 0 {
		return
	}
	if err := s.kv.Del(ctx, orphans...); err != nil {
		slog.Error("Retention: failed to delete orphan streams", "count", len(orphans), "error", err)
		return
	}
	slog.Info("Retention: removed orphan streams", "count", len(orphans))
}
