package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/troupehq/troupe/pkg/models"
	"github.com/troupehq/troupe/pkg/store"
	"github.com/troupehq/troupe/pkg/worker"
)

const maxQueryLength = 100_000

// CreateChatRequest is the HTTP request body for POST /chats.
type CreateChatRequest struct {
	Query string `json:"query"`
	Team  string `json:"team"`
}

// CreateChatResponse is the HTTP response for POST /chats.
type CreateChatResponse struct {
	ChatID string `json:"chat_id"`
	Status string `json:"status"`
}

// createChatHandler handles POST /api/v1/chats.
// Records the chat as pending and submits it for async execution.
func (s *Server) createChatHandler(c *gin.Context) {
	// 1. Bind and validate request body
	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	if len(req.Query) > maxQueryLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query exceeds maximum length of 100,000 characters"})
		return
	}
	if req.Team == "" {
		req.Team = "default"
	}
	if !s.teams.Has(req.Team) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown team: " + req.Team})
		return
	}

	// 2. Record the chat before execution so discovery sees it immediately
	author := extractAuthor(c)
	chatID := uuid.NewString()
	if err := s.metas.Save(c.Request.Context(), models.ChatMeta{
		ChatID: chatID,
		Query:  req.Query,
		Team:   req.Team,
		Author: author,
		Status: models.ChatStatusPending,
	}); err != nil {
		slog.Error("Failed to record submitted chat", "chat_id", chatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record chat"})
		return
	}

	// 3. Submit for async execution
	teamName, query := req.Team, req.Query
	err := s.dispatcher.Submit(chatID, func(ctx context.Context) {
		s.runner.Launch(ctx, chatID, teamName, query, author)
	})
	if err != nil {
		if errors.Is(err, worker.ErrShuttingDown) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service is shutting down"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, &CreateChatResponse{
		ChatID: chatID,
		Status: string(models.ChatStatusPending),
	})
}

// listChatsHandler handles GET /api/v1/chats.
func (s *Server) listChatsHandler(c *gin.Context) {
	metas, err := s.metas.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list chats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": metas, "count": len(metas)})
}

// getChatHandler handles GET /api/v1/chats/:id.
func (s *Server) getChatHandler(c *gin.Context) {
	meta, err := s.metas.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
		return
	}
	c.JSON(http.StatusOK, meta)
}

// stopChatHandler handles POST /api/v1/chats/:id/stop.
// Flags the team's agents and cancels the dispatch context.
func (s *Server) stopChatHandler(c *gin.Context) {
	chatID := c.Param("id")
	stopped := s.runner.StopChat(c.Request.Context(), chatID)
	cancelled := s.dispatcher.Cancel(chatID)
	if !stopped && !cancelled {
		c.JSON(http.StatusNotFound, gin.H{"error": "no running chat with this id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chat_id": chatID,
		"status":  string(models.ChatStatusStopped),
	})
}

// ChatInputRequest is the HTTP request body for POST /chats/:id/input.
type ChatInputRequest struct {
	NodeID string `json:"node_id"`
	Value  string `json:"value"`
}

// chatInputHandler handles POST /api/v1/chats/:id/input.
// Resumes a user_input tool invocation suspended on the given node.
func (s *Server) chatInputHandler(c *gin.Context) {
	var req ChatInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.NodeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "node_id is required"})
		return
	}
	delivered := s.broker.Resolve(req.NodeID, req.Value)
	c.JSON(http.StatusOK, gin.H{
		"chat_id":   c.Param("id"),
		"node_id":   req.NodeID,
		"delivered": delivered,
	})
}

// getPlaybookHandler handles GET /api/v1/chats/:id/playbook.
func (s *Server) getPlaybookHandler(c *gin.Context) {
	chatID := c.Param("id")
	playbook, err := s.playbooks.Load(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load playbook"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "playbook": playbook})
}
