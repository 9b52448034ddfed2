package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"charity-service/internal/api/middleware"
	"charity-service/internal/models"
	"charity-service/internal/services"

	"github.com/gin-gonic/gin"
)

type MessageService interface {
	SendMessage(ctx context.Context, userID, communityID string, req models.SendMessageRequest) (*models.CommunityMessage, error)
	GetCommunityMessages(ctx context.Context, userID, communityID string, page, limit int) (*models.PaginatedMessagesResponse, error)
	EditMessage(ctx context.Context, userID, messageID string, req models.EditMessageRequest) (*models.CommunityMessage, error)
	DeleteMessage(ctx context.Context, userID, messageID string) error
	AddReaction(ctx context.Context, userID, messageID string, req models.ReactionRequest) (*models.CommunityMessage, error)
	RemoveReaction(ctx context.Context, userID, messageID string) (*models.CommunityMessage, error)
	GetRecentMessages(ctx context.Context, userID string, limit int) ([]models.RecentMessage, error)
	MarkMessagesAsRead(ctx context.Context, userID, communityID string) (int64, error)
	GetUnreadMessageCounts(ctx context.Context, userID string) (*models.UnreadCountsResponse, error)
}

type MessageHandler struct {
	messages MessageService
}

func NewMessageHandler(messages MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// SendMessage godoc
// @Summary Send a message to a community
// @Tags messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param communityId path string true "Community ID"
// @Param request body models.SendMessageRequest true "Message"
// @Success 201 {object} models.CommunityMessage
// @Failure 400 {object} models.ErrorResponse "Validation failed"
// @Failure 403 {object} models.ErrorResponse "Not a member of the community"
// @Failure 404 {object} models.ErrorResponse "Community not found"
// @Router /communities/{communityId}/messages [post]
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}

	msg, err := h.messages.SendMessage(c.Request.Context(), middleware.UserID(c), c.Param("communityId"), req)
	if err != nil {
		respondServiceError(c, "Failed to send message", err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// GetCommunityMessages godoc
// @Summary Get community messages
// @Description Paginated, newest page first, messages within a page oldest first
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param communityId path string true "Community ID"
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Page size" default(50)
// @Success 200 {object} models.PaginatedMessagesResponse
// @Failure 403 {object} models.ErrorResponse "Not a member of the community"
// @Failure 404 {object} models.ErrorResponse "Community not found"
// @Router /communities/{communityId}/messages [get]
func (h *MessageHandler) GetCommunityMessages(c *gin.Context) {
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", services.DefaultPageSize)

	resp, err := h.messages.GetCommunityMessages(c.Request.Context(), middleware.UserID(c), c.Param("communityId"), page, limit)
	if err != nil {
		respondServiceError(c, "Failed to get messages", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// EditMessage godoc
// @Summary Edit a message
// @Description Only the sender may edit, within 24 hours of sending
// @Tags messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param messageId path string true "Message ID"
// @Param request body models.EditMessageRequest true "New content"
// @Success 200 {object} models.CommunityMessage
// @Failure 403 {object} models.ErrorResponse "Not the sender, or edit window passed"
// @Failure 404 {object} models.ErrorResponse "Message not found"
// @Router /communities/messages/{messageId} [put]
func (h *MessageHandler) EditMessage(c *gin.Context) {
	var req models.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}

	msg, err := h.messages.EditMessage(c.Request.Context(), middleware.UserID(c), c.Param("messageId"), req)
	if err != nil {
		respondServiceError(c, "Failed to edit message", err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage godoc
// @Summary Delete a message
// @Description The sender, a community admin or the community creator may delete
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param messageId path string true "Message ID"
// @Success 200 {object} models.AckResponse
// @Failure 403 {object} models.ErrorResponse "Not allowed"
// @Failure 404 {object} models.ErrorResponse "Message not found"
// @Router /communities/messages/{messageId} [delete]
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	if err := h.messages.DeleteMessage(c.Request.Context(), middleware.UserID(c), c.Param("messageId")); err != nil {
		respondServiceError(c, "Failed to delete message", err)
		return
	}
	c.JSON(http.StatusOK, models.AckResponse{Message: "Message deleted successfully"})
}

// AddReaction godoc
// @Summary React to a message
// @Tags messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param messageId path string true "Message ID"
// @Param request body models.ReactionRequest true "Emoji"
// @Success 200 {object} models.CommunityMessage
// @Failure 400 {object} models.ErrorResponse "Invalid emoji"
// @Failure 403 {object} models.ErrorResponse "Not a member of the community"
// @Failure 404 {object} models.ErrorResponse "Message not found"
// @Router /communities/messages/{messageId}/react [post]
func (h *MessageHandler) AddReaction(c *gin.Context) {
	var req models.ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}

	msg, err := h.messages.AddReaction(c.Request.Context(), middleware.UserID(c), c.Param("messageId"), req)
	if err != nil {
		respondServiceError(c, "Failed to add reaction", err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// RemoveReaction godoc
// @Summary Remove own reaction from a message
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param messageId path string true "Message ID"
// @Success 200 {object} models.CommunityMessage
// @Failure 404 {object} models.ErrorResponse "Message not found"
// @Router /communities/messages/{messageId}/react [delete]
func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	msg, err := h.messages.RemoveReaction(c.Request.Context(), middleware.UserID(c), c.Param("messageId"))
	if err != nil {
		respondServiceError(c, "Failed to remove reaction", err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// GetRecentMessages godoc
// @Summary Get recent messages across the user's communities
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Number of messages" default(10)
// @Success 200 {object} models.RecentMessagesResponse
// @Router /communities/recent-messages [get]
func (h *MessageHandler) GetRecentMessages(c *gin.Context) {
	limit := queryInt(c, "limit", services.DefaultRecentLimit)

	messages, err := h.messages.GetRecentMessages(c.Request.Context(), middleware.UserID(c), limit)
	if err != nil {
		respondServiceError(c, "Failed to get recent messages", err)
		return
	}
	c.JSON(http.StatusOK, models.RecentMessagesResponse{Messages: messages})
}

// MarkMessagesAsRead godoc
// @Summary Mark every message of a community as read
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param communityId path string true "Community ID"
// @Success 200 {object} models.MarkReadResponse
// @Failure 403 {object} models.ErrorResponse "Not a member of the community"
// @Failure 404 {object} models.ErrorResponse "Community not found"
// @Router /communities/{communityId}/messages/read [post]
func (h *MessageHandler) MarkMessagesAsRead(c *gin.Context) {
	marked, err := h.messages.MarkMessagesAsRead(c.Request.Context(), middleware.UserID(c), c.Param("communityId"))
	if err != nil {
		respondServiceError(c, "Failed to mark messages as read", err)
		return
	}
	c.JSON(http.StatusOK, models.MarkReadResponse{Message: "Messages marked as read", MarkedCount: marked})
}

// GetUnreadMessageCounts godoc
// @Summary Get unread message counts per community
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.UnreadCountsResponse
// @Router /communities/unread-counts [get]
func (h *MessageHandler) GetUnreadMessageCounts(c *gin.Context) {
	counts, err := h.messages.GetUnreadMessageCounts(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondServiceError(c, "Failed to get unread counts", err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func queryInt(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

func respondValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.NewErrorResponse(http.StatusBadRequest, "Validation failed").WithDetails(err.Error()))
}

func respondServiceError(c *gin.Context, message string, err error) {
	status := serviceErrorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error(message, "path", c.FullPath(), "error", err)
		c.JSON(status, models.NewErrorResponse(status, "Internal server error"))
		return
	}
	c.JSON(status, models.NewErrorResponse(status, err.Error()))
}

func serviceErrorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrCommunityNotFound),
		errors.Is(err, services.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotCommunityMember),
		errors.Is(err, services.ErrNotMessageSender),
		errors.Is(err, services.ErrEditWindowExpired),
		errors.Is(err, services.ErrDeleteNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, services.ErrEmptyContent),
		errors.Is(err, services.ErrContentTooLong),
		errors.Is(err, services.ErrSpamContent),
		errors.Is(err, services.ErrExcessiveCaps),
		errors.Is(err, services.ErrExcessiveSymbols),
		errors.Is(err, services.ErrInvalidReaction),
		errors.Is(err, services.ErrInvalidReplyMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
