package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupehq/troupe/pkg/config"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	assert.Nil(t, New(config.NotifyConfig{Enabled: false, WebhookURL: "http://x"}))
	assert.Nil(t, New(config.NotifyConfig{Enabled: true}))
}

func TestNilServiceIsSafe(t *testing.T) {
	var s *Service
	s.NotifyComplete(context.Background(), "c1", "completed", "answer")
}

func TestNotifyPostsPayload(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	s := New(config.NotifyConfig{Enabled: true, WebhookURL: srv.URL})
	require.NotNil(t, s)
	s.NotifyComplete(context.Background(), "chat-1", "completed", "the answer")

	assert.Equal(t, "chat-1", got["chat_id"])
	assert.Equal(t, "completed", got["status"])
	assert.Equal(t, "the answer", got["answer"])
	assert.NotEmpty(t, got["timestamp"])
}

func TestNotifyDedupsPerChat(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	s := New(config.NotifyConfig{Enabled: true, WebhookURL: srv.URL})
	s.NotifyComplete(context.Background(), "chat-1", "completed", "a")
	s.NotifyComplete(context.Background(), "chat-1", "stopped", "b")
	s.NotifyComplete(context.Background(), "chat-2", "failed", "c")

	assert.EqualValues(t, 2, hits.Load())
}

func TestNotifyFailureIsSilent(t *testing.T) {
	s := New(config.NotifyConfig{Enabled: true, WebhookURL: "http://127.0.0.1:1"})
	s.NotifyComplete(context.Background(), "chat-1", "completed", "a")
}
