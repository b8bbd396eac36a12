package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
	"chat-sync/internal/telemetry"
)

const defaultPageSize = 50

// MessageHandler manages message endpoints. Handlers persist and answer;
// fan-out to other participants happens over the websocket relay, driven
// by the sending client.
type MessageHandler struct {
	convRepo    repositories.ConversationRepository
	messageRepo repositories.MessageRepository
	audit       *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(convRepo repositories.ConversationRepository, messageRepo repositories.MessageRepository, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{convRepo: convRepo, messageRepo: messageRepo, audit: audit}
}

// ListMessages returns a page of conversation messages, oldest first.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if !h.requireMember(c, conversationID) {
		return
	}

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	msgs, err := h.messageRepo.ListMessages(c.Request.Context(), conversationID, limit, c.Query("before"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage stores a message and returns it with the server-assigned id.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if !h.requireMember(c, conversationID) {
		return
	}

	var req struct {
		Content     *string             `json:"content"`
		Attachments []models.Attachment `json:"attachments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (req.Content == nil || *req.Content == "") && len(req.Attachments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message needs content or attachments"})
		return
	}

	userID := c.GetString("userID")
	userName := c.GetString("userName")
	msg, err := h.messageRepo.CreateMessage(c.Request.Context(), conversationID, userID, userName, req.Content, req.Attachments)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// EditMessage replaces a message's content (sender only).
func (h *MessageHandler) EditMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	messageID := c.Param("message_id")
	if !h.requireMember(c, conversationID) {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	msg, err := h.messageRepo.EditMessage(c.Request.Context(), messageID, userID, req.Content)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not edit message"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// DeleteMessage tombstones a message for everyone (sender only).
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	messageID := c.Param("message_id")
	if !h.requireMember(c, conversationID) {
		return
	}

	userID := c.GetString("userID")
	if err := h.messageRepo.DeleteMessage(c.Request.Context(), messageID, userID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not delete message"})
		return
	}

	h.emitAudit(c, "INFO", "Message deleted")
	c.Status(http.StatusNoContent)
}

// AddReaction records a reaction and returns the authoritative message state.
func (h *MessageHandler) AddReaction(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	messageID := c.Param("message_id")
	if !h.requireMember(c, conversationID) {
		return
	}

	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	if err := h.messageRepo.AddReaction(c.Request.Context(), messageID, userID, req.Emoji); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not add reaction"})
		return
	}

	h.respondWithMessage(c, messageID)
}

// RemoveReaction removes the caller's reaction and returns the message state.
func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	messageID := c.Param("message_id")
	emoji := c.Param("emoji")
	if !h.requireMember(c, conversationID) {
		return
	}

	userID := c.GetString("userID")
	if err := h.messageRepo.RemoveReaction(c.Request.Context(), messageID, userID, emoji); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not remove reaction"})
		return
	}

	h.respondWithMessage(c, messageID)
}

// MarkReceipts persists read or delivery receipts for the caller.
func (h *MessageHandler) MarkReceipts(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if !h.requireMember(c, conversationID) {
		return
	}

	var req struct {
		MessageIDs []string `json:"message_ids" binding:"required"`
		Kind       string   `json:"kind" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Kind != "read" && req.Kind != "delivered" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be read or delivered"})
		return
	}

	userID := c.GetString("userID")
	if err := h.messageRepo.AddReceipts(c.Request.Context(), req.MessageIDs, userID, req.Kind); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store receipts"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) respondWithMessage(c *gin.Context, messageID string) {
	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *MessageHandler) requireMember(c *gin.Context, conversationID string) bool {
	userID := c.GetString("userID")
	member, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return false
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return false
	}
	return true
}

func (h *MessageHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
