package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/troupehq/troupe/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck is one component's health entry.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the HTTP response for GET /health.
type HealthResponse struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version"`
	ActiveChats int                    `json:"active_chats"`
	Checks      map[string]HealthCheck `json:"checks"`
}

// healthHandler handles GET /health.
// Only the service's own components (KVS, dispatcher) are checked; the LLM
// provider is excluded so an upstream outage does not restart this process.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if err := s.kv.Ping(ctx); err != nil {
		status = healthStatusUnhealthy
		checks["kvs"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["kvs"] = HealthCheck{Status: healthStatusHealthy}
	}
	checks["dispatcher"] = HealthCheck{Status: healthStatusHealthy}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, &HealthResponse{
		Status:      status,
		Version:     version.GitCommit,
		ActiveChats: s.dispatcher.Active(),
		Checks:      checks,
	})
}
