package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"learnhub/realtime-service/middleware"
	"learnhub/realtime-service/models"
	"learnhub/realtime-service/services"
	"learnhub/realtime-service/utils"
)

type NotificationHandler struct {
	notifications *services.NotificationService
	logger        *utils.Logger
}

func NewNotificationHandler(notifications *services.NotificationService, logger *utils.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		logger:        logger,
	}
}

// ListAll handles GET /api/v1/notifications
func (h *NotificationHandler) ListAll(c *gin.Context) {
	notifications, err := h.notifications.ListAll(c.Request.Context())
	h.respondList(c, notifications, err)
}

// ListForUser handles GET /api/v1/notifications/user
func (h *NotificationHandler) ListForUser(c *gin.Context) {
	notifications, err := h.notifications.ListForUser(c.Request.Context(), c.GetString(middleware.ContextUserID))
	h.respondList(c, notifications, err)
}

// ListForMentor handles GET /api/v1/notifications/mentor
func (h *NotificationHandler) ListForMentor(c *gin.Context) {
	notifications, err := h.notifications.ListForMentor(c.Request.Context(), c.GetString(middleware.ContextUserID))
	h.respondList(c, notifications, err)
}

// MarkRead handles PUT /api/v1/notifications/:id/read and returns the
// caller's refreshed list.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.notifications.MarkRead(ctx, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	notifications, err := h.notifications.ListForRole(ctx, c.GetString(middleware.ContextUserID), c.GetString(middleware.ContextRole))
	h.respondList(c, notifications, err)
}

// Create handles POST /api/v1/notifications
func (h *NotificationHandler) Create(c *gin.Context) {
	var req models.CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	notification, err := h.notifications.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":      true,
		"notification": notification,
	})
}

func (h *NotificationHandler) respondList(c *gin.Context, notifications []models.Notification, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"notifications": notifications,
	})
}
