// Package e2e exercises the full stack end to end: HTTP API, dispatcher,
// team service, agent loops, and the KVS event fabric, with a scripted
// model client in place of a live provider.
package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/troupehq/troupe/pkg/api"
	"github.com/troupehq/troupe/pkg/config"
	"github.com/troupehq/troupe/pkg/events"
	"github.com/troupehq/troupe/pkg/kvs"
	"github.com/troupehq/troupe/pkg/llm"
	"github.com/troupehq/troupe/pkg/models"
	"github.com/troupehq/troupe/pkg/session"
	"github.com/troupehq/troupe/pkg/store"
	"github.com/troupehq/troupe/pkg/team"
	"github.com/troupehq/troupe/pkg/tool"
	"github.com/troupehq/troupe/pkg/worker"
)

// harness is one fully wired process instance on in-memory infrastructure.
type harness struct {
	kv         kvs.Store
	client     *llm.ScriptedClient
	metas      *store.MetaStore
	subscriber *events.Subscriber
	broker     *session.InputBroker
	dispatcher *worker.Dispatcher
	ts         *httptest.Server
}

// newHarness wires the stack for the given teams and scripted model
// responses. No playbook generator is attached so scripts stay aligned with
// agent iterations.
func newHarness(t *testing.T, teams map[string]config.TeamConfig, responses ...llm.ScriptedResponse) *harness {
	t.Helper()

	kv := kvs.NewMemory()
	t.Cleanup(func() { kv.Close() })

	client := llm.NewScripted(responses...)
	publisher := events.NewPublisher(kv, time.Hour)
	metas := store.NewMetaStore(kv)
	broker := session.NewInputBroker()
	cache := session.NewCache(0)
	registry := config.NewTeamRegistry(teams)

	runner := team.NewService(registry, team.Deps{
		KV:            kv,
		LLM:           client,
		Publisher:     publisher,
		Executor:      tool.NewExecutor(publisher, nil),
		Steps:         store.NewStepStore(kv),
		Conversation:  store.NewConversationStore(kv),
		Broker:        broker,
		Web:           tool.NewWebTools(tool.WebConfig{}),
		DefaultModel:  "test-model",
		AnalysisModel: "test-analysis",
	}, cache, metas, nil)

	dispatcher := worker.New()
	t.Cleanup(func() { dispatcher.Stop(2 * time.Second) })
	t.Cleanup(cache.Drain)

	server := api.NewServer(config.DefaultServerConfig(), api.Deps{
		Teams:      registry,
		KV:         kv,
		Metas:      metas,
		Playbooks:  store.NewPlaybookStore(kv),
		Subscriber: events.NewSubscriber(kv),
		Broker:     broker,
		Runner:     runner,
		Dispatcher: dispatcher,
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &harness{
		kv:         kv,
		client:     client,
		metas:      metas,
		subscriber: events.NewSubscriber(kv),
		broker:     broker,
		dispatcher: dispatcher,
		ts:         ts,
	}
}

// submit posts a chat and returns its ID.
func (h *harness) submit(t *testing.T, teamName, query string) string {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"query": query, "team": teamName})
	require.NoError(t, err)
	resp, err := http.Post(h.ts.URL+"/api/v1/chats", "application/json", strings.NewReader(string(raw)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body struct {
		ChatID string `json:"chat_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.ChatID)
	return body.ChatID
}

// waitStatus polls chat metadata until it reaches the wanted status.
func (h *harness) waitStatus(t *testing.T, chatID string, status models.ChatStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		meta, err := h.metas.Get(context.Background(), chatID)
		return err == nil && meta.Status == status
	}, 5*time.Second, 10*time.Millisecond, "chat %s never reached status %s", chatID, status)
}

// waitEvent polls the replay log until an event of the given type appears,
// then returns its decoded payload.
func (h *harness) waitEvent(t *testing.T, chatID, eventType string) map[string]any {
	t.Helper()
	var payload map[string]any
	require.Eventually(t, func() bool {
		evs, err := h.subscriber.Replay(context.Background(), chatID)
		if err != nil {
			return false
		}
		for _, ev := range evs {
			if ev.Event == eventType {
				payload = map[string]any{}
				if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
					payload = map[string]any{"data": ev.Data}
				}
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "chat %s never emitted %s", chatID, eventType)
	return payload
}

// eventTypes returns the replay log's event types in order.
func (h *harness) eventTypes(t *testing.T, chatID string) []string {
	t.Helper()
	evs, err := h.subscriber.Replay(context.Background(), chatID)
	require.NoError(t, err)
	types := make([]string, len(evs))
	for i, ev := range evs {
		types[i] = ev.Event
	}
	return types
}

// post issues a JSON POST against the API and returns the decoded body.
func (h *harness) post(t *testing.T, path string, body any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.ts.URL+path, "application/json", strings.NewReader(string(raw)))
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded
}

// soloTeam is a single-role team answering directly.
func soloTeam() map[string]config.TeamConfig {
	return map[string]config.TeamConfig{
		"solo": {
			Name:      "solo",
			StartRole: "general",
			Roles: map[string]config.RoleConfig{
				"general": {
					Description:         "Answers questions.",
					Instructions:        "Answer the user's question.",
					IterationRetryDelay: time.Millisecond,
				},
			},
		},
	}
}
