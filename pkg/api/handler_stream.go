package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/troupehq/troupe/pkg/events"
	"github.com/troupehq/troupe/pkg/store"
)

// streamChatHandler handles GET /api/v1/chats/:id/stream.
// Serves the chat's event stream as SSE: the persisted replay log first,
// then the live feed. The connection closes after a terminal event.
func (s *Server) streamChatHandler(c *gin.Context) {
	chatID := c.Param("id")

	if _, err := s.metas.Get(c.Request.Context(), chatID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
		return
	}

	ch, err := s.subscriber.Stream(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open event stream"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Event, ev.Data)
			return !events.IsTerminal(ev.Event)
		case <-c.Request.Context().Done():
			return false
		}
	})
}
