package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"learnhub/realtime-service/services"
)

// statusFor maps service errors to HTTP status codes and client messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		return http.StatusNotFound, "Chat not found"
	case errors.Is(err, services.ErrNotParticipant):
		return http.StatusForbidden, "You are not authorized to view this chat"
	case errors.Is(err, services.ErrMentorNotFound):
		return http.StatusNotFound, "Mentor not found"
	case errors.Is(err, services.ErrCourseNotFound):
		return http.StatusNotFound, "Course not found"
	case errors.Is(err, services.ErrNotificationNotFound):
		return http.StatusNotFound, "Notification not found"
	case errors.Is(err, services.ErrInvalidID):
		return http.StatusBadRequest, "Invalid id format"
	case errors.Is(err, services.ErrInvalidParticipants):
		return http.StatusBadRequest, "Cannot open a chat with yourself"
	case errors.Is(err, services.ErrInvalidNotification):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrWriteConflict):
		return http.StatusConflict, "Resource was modified concurrently, please retry"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func respondError(c *gin.Context, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
	})
}
