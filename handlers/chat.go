package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"learnhub/realtime-service/middleware"
	"learnhub/realtime-service/services"
	"learnhub/realtime-service/utils"
)

type ChatHandler struct {
	chat   *services.ChatService
	logger *utils.Logger
}

func NewChatHandler(chat *services.ChatService, logger *utils.Logger) *ChatHandler {
	return &ChatHandler{
		chat:   chat,
		logger: logger,
	}
}

type privateChatRequest struct {
	MentorID string `json:"mentorId" binding:"required"`
}

type courseChatRequest struct {
	CourseID string `json:"courseId" binding:"required"`
	UserID   string `json:"userId" binding:"required"`
}

// OpenPrivateChat handles POST /api/v1/chat/private
func (h *ChatHandler) OpenPrivateChat(c *gin.Context) {
	var req privateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Mentor ID is required",
		})
		return
	}

	chat, err := h.chat.OpenPrivateChat(c.Request.Context(), c.GetString(middleware.ContextUserID), req.MentorID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"chat":    chat,
	})
}

// ListChats handles GET /api/v1/chat/all
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.chat.ListChats(c.Request.Context(), c.GetString(middleware.ContextUserID))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"directChats": chats.Direct,
		"groupChats":  chats.Group,
	})
}

// GetChat handles GET /api/v1/chat/:id
func (h *ChatHandler) GetChat(c *gin.Context) {
	chat, err := h.chat.OpenChat(c.Request.Context(), c.Param("id"), c.GetString(middleware.ContextUserID))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"chat":    chat,
	})
}

// JoinCourseGroup handles POST /api/v1/chat/course
func (h *ChatHandler) JoinCourseGroup(c *gin.Context) {
	var req courseChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Course ID and User ID are required",
		})
		return
	}

	chat, err := h.chat.JoinCourseGroup(c.Request.Context(), req.CourseID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"chatId":  chat.ID.Hex(),
	})
}
