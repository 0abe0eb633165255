// Package api exposes the HTTP surface: chat submission, discovery, SSE
// streaming, stop/input control, and health.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/troupehq/troupe/pkg/config"
	"github.com/troupehq/troupe/pkg/events"
	"github.com/troupehq/troupe/pkg/kvs"
	"github.com/troupehq/troupe/pkg/session"
	"github.com/troupehq/troupe/pkg/store"
	"github.com/troupehq/troupe/pkg/worker"
)

// ChatRunner executes submitted chats. Implemented by team.Service.
type ChatRunner interface {
	Launch(ctx context.Context, chatID, teamName, query, author string)
	StopChat(ctx context.Context, chatID string) bool
}

// Server is the HTTP API server.
type Server struct {
	cfg        config.ServerConfig
	teams      *config.TeamRegistry
	kv         kvs.Store
	metas      *store.MetaStore
	playbooks  *store.PlaybookStore
	subscriber *events.Subscriber
	broker     *session.InputBroker
	runner     ChatRunner
	dispatcher *worker.Dispatcher

	httpServer *http.Server
}

// Deps carries the server's collaborators.
type Deps struct {
	Teams      *config.TeamRegistry
	KV         kvs.Store
	Metas      *store.MetaStore
	Playbooks  *store.PlaybookStore
	Subscriber *events.Subscriber
	Broker     *session.InputBroker
	Runner     ChatRunner
	Dispatcher *worker.Dispatcher
}

// NewServer creates the API server and wires its routes.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:        cfg,
		teams:      deps.Teams,
		kv:         deps.KV,
		metas:      deps.Metas,
		playbooks:  deps.Playbooks,
		subscriber: deps.Subscriber,
		broker:     deps.Broker,
		runner:     deps.Runner,
		dispatcher: deps.Dispatcher,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(), securityHeaders())
	s.registerRoutes(engine)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(engine *gin.Engine) {
	engine.GET("/health", s.healthHandler)

	v1 := engine.Group("/api/v1")
	v1.POST("/chats", s.createChatHandler)
	v1.GET("/chats", s.listChatsHandler)
	v1.GET("/chats/:id", s.getChatHandler)
	v1.GET("/chats/:id/stream", s.streamChatHandler)
	v1.POST("/chats/:id/stop", s.stopChatHandler)
	v1.POST("/chats/:id/input", s.chatInputHandler)
	v1.GET("/chats/:id/playbook", s.getPlaybookHandler)
}

// Handler exposes the underlying HTTP handler for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start serves requests until Shutdown. It blocks; http.ErrServerClosed is
// not treated as a failure.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
