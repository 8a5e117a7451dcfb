package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"learnhub/realtime-service/models"
	"learnhub/realtime-service/services"
	"learnhub/realtime-service/utils"
)

type PresenceHandler struct {
	presence *services.PresenceRegistry
	logger   *utils.Logger
}

func NewPresenceHandler(presence *services.PresenceRegistry, logger *utils.Logger) *PresenceHandler {
	return &PresenceHandler{
		presence: presence,
		logger:   logger,
	}
}

// GetStatus handles GET /api/v1/presence/status
func (ph *PresenceHandler) GetStatus(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id parameter is required"})
		return
	}

	isOnline := ph.presence.IsOnline(userID)
	status := models.StatusOffline
	if isOnline {
		status = models.StatusOnline
	}

	c.JSON(http.StatusOK, models.StatusResponse{
		UserID:   userID,
		Status:   status,
		IsOnline: isOnline,
		Clients:  ph.presence.Clients(userID),
	})
}

// GetOnlineUsers handles GET /api/v1/presence/online
func (ph *PresenceHandler) GetOnlineUsers(c *gin.Context) {
	users := ph.presence.OnlineUsers(c.Request.Context())

	c.JSON(http.StatusOK, models.OnlineUsersResponse{
		Count: len(users),
		Users: users,
	})
}
