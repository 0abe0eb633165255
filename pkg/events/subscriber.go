package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/troupehq/troupe/pkg/kvs"
)

// Subscriber delivers a chat's event history followed by its live feed.
type Subscriber struct {
	store kvs.Store
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(store kvs.Store) *Subscriber {
	return &Subscriber{store: store}
}

// Stream returns a channel carrying every persisted event for the chat and
// then live events until ctx is cancelled or the subscription closes.
//
// The live subscription is established before the replay read, so no event
// is lost in between; one published in that window may be delivered twice.
// Callers treat delivery as at-least-once.
func (s *Subscriber) Stream(ctx context.Context, chatID string) (<-chan StreamEvent, error) {
	sub, err := s.store.Subscribe(ctx, kvs.ChatChannel(chatID))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to chat %s: %w", chatID, err)
	}

	replay, err := s.store.LRange(ctx, kvs.ChatStreamKey(chatID), 0, -1)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to read replay log for chat %s: %w", chatID, err)
	}

	out := make(chan StreamEvent, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		for _, raw := range replay {
			if !s.forward(ctx, out, chatID, raw) {
				return
			}
		}

		for {
			select {
			case msg, ok := <-sub.Messages():
				if !ok {
					return
				}
				if !s.forward(ctx, out, chatID, msg.Payload) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Replay returns the persisted event log without subscribing to the live feed.
func (s *Subscriber) Replay(ctx context.Context, chatID string) ([]StreamEvent, error) {
	raws, err := s.store.LRange(ctx, kvs.ChatStreamKey(chatID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay log for chat %s: %w", chatID, err)
	}
	out := make([]StreamEvent, 0, len(raws))
	for _, raw := range raws {
		ev, err := DecodeStreamEvent(raw)
		if err != nil {
			slog.Warn("Skipping undecodable stream event", "chat_id", chatID, "error", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// forward decodes and delivers one raw envelope. Returns false when the
// consumer is gone.
func (s *Subscriber) forward(ctx context.Context, out chan<- StreamEvent, chatID, raw string) bool {
	ev, err := DecodeStreamEvent(raw)
	if err != nil {
		slog.Warn("Skipping undecodable stream event", "chat_id", chatID, "error", err)
		return true
	}
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// IsTerminal reports whether an event type ends a chat stream. The SSE
// handler closes the connection after forwarding one of these.
func IsTerminal(eventType string) bool {
	return eventType == EventTypeComplete || eventType == EventTypeError
}
