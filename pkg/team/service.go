package team

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/troupehq/troupe/pkg/agent"
	"github.com/troupehq/troupe/pkg/config"
	"github.com/troupehq/troupe/pkg/events"
	"github.com/troupehq/troupe/pkg/models"
	"github.com/troupehq/troupe/pkg/session"
	"github.com/troupehq/troupe/pkg/store"
)

// Notifier delivers terminal-state notifications. Implemented by the notify
// package; a nil Notifier is silently skipped.
type Notifier interface {
	NotifyComplete(ctx context.Context, chatID, status, answer string)
}

// Service runs chats end to end: it instantiates the configured team,
// drives the start agent, and owns the chat's terminal bookkeeping (the
// complete event, metadata status, notification, teardown).
type Service struct {
	teams    *config.TeamRegistry
	deps     Deps
	cache    *session.Cache
	metas    *store.MetaStore
	notifier Notifier

	mu   sync.Mutex
	done map[string]time.Time // chat ID → finalize time
}

// doneRetention is how long a finalized chat ID stays in the dedupe map.
// Late completion callbacks land within seconds of teardown; after the
// window the entry is pruned so the map stays bounded.
const doneRetention = time.Minute

// NewService builds the chat runner.
func NewService(teams *config.TeamRegistry, deps Deps, cache *session.Cache, metas *store.MetaStore, notifier Notifier) *Service {
	return &Service{
		teams:    teams,
		deps:     deps,
		cache:    cache,
		metas:    metas,
		notifier: notifier,
		done:     make(map[string]time.Time),
	}
}

// Launch runs one chat to its outcome. It blocks until the start agent's
// first engagement ends; a handed-off chat keeps running in the team's
// listeners and finalizes through the completion hook.
func (s *Service) Launch(ctx context.Context, chatID, teamName, query, author string) {
	cfg, err := s.teams.Get(teamName)
	if err != nil {
		s.fail(chatID, err)
		return
	}
	t, err := New(cfg, chatID, author, s.deps)
	if err != nil {
		s.fail(chatID, err)
		return
	}
	if err := t.Start(ctx, true); err != nil {
		t.Stop()
		s.fail(chatID, err)
		return
	}

	s.cache.Put(chatID, t.Members())
	s.setStatus(ctx, chatID, models.ChatStatusRunning, "")
	t.OnComplete(func(answer string) {
		s.finalize(t, answer, models.ChatStatusCompleted)
	})

	res, err := t.Run(ctx, query, true)
	switch {
	case err != nil:
		s.publishChatError(chatID, err)
		s.finalize(t, err.Error(), models.ChatStatusFailed)
	case res.Status == agent.StatusCompleted:
		s.finalize(t, res.Answer, models.ChatStatusCompleted)
	case res.Status == agent.StatusStopped:
		s.finalize(t, res.Answer, models.ChatStatusStopped)
	case res.Status == agent.StatusHandedOff:
		slog.Info("Chat handed off, awaiting delegated result", "chat_id", chatID, "team", teamName)
	}
}

// StopChat flags every member of a running chat. It reports whether a
// roster was found.
func (s *Service) StopChat(ctx context.Context, chatID string) bool {
	members, ok := s.cache.Get(chatID)
	if !ok {
		return false
	}
	for _, m := range members {
		m.Stop()
	}
	if s.markDone(chatID) {
		s.publishComplete(chatID, agent.StoppedAnswer, models.ChatStatusStopped)
	}
	s.cache.Delete(chatID)
	return true
}

// finalize ends a chat exactly once: terminal event, metadata, notification,
// then teardown. Teardown always runs.
func (s *Service) finalize(t *Team, answer string, status models.ChatStatus) {
	if s.markDone(t.ChatID()) {
		s.publishComplete(t.ChatID(), answer, status)
	}
	t.Stop()
	s.cache.Delete(t.ChatID())
}

// fail finalizes a chat that never got a team off the ground.
func (s *Service) fail(chatID string, err error) {
	slog.Error("Chat launch failed", "chat_id", chatID, "error", err)
	s.publishChatError(chatID, err)
	if s.markDone(chatID) {
		s.publishComplete(chatID, err.Error(), models.ChatStatusFailed)
	}
	s.cache.Delete(chatID)
}

// markDone reports whether the caller won the race to finalize the chat.
// Expired entries are pruned on the way through.
func (s *Service) markDone(chatID string) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range s.done {
		if now.Sub(at) > doneRetention {
			delete(s.done, id)
		}
	}
	if _, dup := s.done[chatID]; dup {
		return false
	}
	s.done[chatID] = now
	return true
}

func (s *Service) publishComplete(chatID, answer string, status models.ChatStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishComplete(ctx, chatID, events.CompletePayload{
			Answer: answer,
			Status: string(status),
		}); err != nil {
			slog.Warn("Failed to publish complete event", "chat_id", chatID, "error", err)
		}
	}
	if s.metas != nil {
		if err := s.metas.UpdateStatus(ctx, chatID, status); err != nil {
			slog.Warn("Failed to update chat status", "chat_id", chatID, "error", err)
		}
	}
	if s.notifier != nil {
		s.notifier.NotifyComplete(ctx, chatID, string(status), answer)
	}
}

func (s *Service) publishChatError(chatID string, err error) {
	if s.deps.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if perr := s.deps.Publisher.PublishError(ctx, chatID, events.ErrorPayload{Message: err.Error()}); perr != nil {
		slog.Warn("Failed to publish error event", "chat_id", chatID, "error", perr)
	}
}

func (s *Service) setStatus(ctx context.Context, chatID string, status models.ChatStatus, detail string) {
	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishStatus(ctx, chatID, events.StatusPayload{
			Status: string(status),
			Detail: detail,
		}); err != nil {
			slog.Warn("Failed to publish status event", "chat_id", chatID, "error", err)
		}
	}
	if s.metas != nil {
		if err := s.metas.UpdateStatus(ctx, chatID, status); err != nil {
			slog.Warn("Failed to update chat status", "chat_id", chatID, "error", err)
		}
	}
}
