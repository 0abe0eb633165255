// Package notify delivers webhook notifications for terminal chat states.
// Notification is strictly best-effort: failures are logged and never
// propagate into the run that triggered them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/troupehq/troupe/pkg/config"
	"github.com/troupehq/troupe/pkg/version"
)

// payload is the webhook body.
type payload struct {
	ChatID    string `json:"chat_id"`
	Status    string `json:"status"`
	Answer    string `json:"answer,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Service posts terminal-state notifications. A nil *Service is a valid
// no-op, so wiring never branches on whether notification is configured.
type Service struct {
	url    string
	client *http.Client

	mu   sync.Mutex
	seen map[string]bool // chats already notified
}

// New builds the notifier, or nil when notification is disabled or has no
// webhook URL.
func New(cfg config.NotifyConfig) *Service {
	if !cfg.Enabled || cfg.WebhookURL == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultNotifyConfig().Timeout
	}
	return &Service{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: timeout},
		seen:   make(map[string]bool),
	}
}

// NotifyComplete posts one notification per chat. Repeat calls for the same
// chat are dropped, so racing finalize paths produce a single webhook.
func (s *Service) NotifyComplete(ctx context.Context, chatID, status, answer string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.seen[chatID] {
		s.mu.Unlock()
		return
	}
	s.seen[chatID] = true
	s.mu.Unlock()

	body, err := json.Marshal(payload{
		ChatID:    chatID,
		Status:    status,
		Answer:    answer,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		slog.Warn("Failed to encode notification", "chat_id", chatID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		slog.Warn("Failed to build notification request", "chat_id", chatID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Warn("Notification delivery failed", "chat_id", chatID, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Warn("Notification rejected", "chat_id", chatID, "status", resp.StatusCode)
	}
}
