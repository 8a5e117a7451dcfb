package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"learnhub/realtime-service/services"
)

type HealthResponse struct {
	Status      string    `json:"status"`
	Service     string    `json:"service"`
	Instance    string    `json:"instance"`
	Connections int       `json:"connections"`
	Timestamp   time.Time `json:"timestamp"`
}

// HealthCheck handles GET /health
func HealthCheck(gateway *services.Gateway, instanceID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:      "healthy",
			Service:     "realtime-service",
			Instance:    instanceID,
			Connections: gateway.ConnectionCount(),
			Timestamp:   time.Now(),
		})
	}
}
