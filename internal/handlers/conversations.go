package handlers

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-sync/internal/repositories"
	"chat-sync/internal/telemetry"
)

// ConversationHandler manages conversation endpoints.
type ConversationHandler struct {
	convRepo  repositories.ConversationRepository
	audit     *telemetry.AuditEmitter
	uploadDir string
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(convRepo repositories.ConversationRepository, audit *telemetry.AuditEmitter, uploadDir string) *ConversationHandler {
	return &ConversationHandler{convRepo: convRepo, audit: audit, uploadDir: uploadDir}
}

// CreateConversation creates a direct or group conversation owned by the caller.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req struct {
		Name      string   `json:"name"`
		IsGroup   bool     `json:"is_group"`
		MemberIDs []string `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	if !req.IsGroup && len(req.MemberIDs) != 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direct conversation needs exactly one other member"})
		return
	}

	conv, err := h.convRepo.CreateConversation(c.Request.Context(), userID, req.Name, req.IsGroup, req.MemberIDs)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	h.emitAudit(c, "INFO", "Conversation created")
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

// ListConversations returns the caller's active conversations.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	h.listConversations(c, false)
}

// ListArchivedConversations returns the caller's archived conversations.
func (h *ConversationHandler) ListArchivedConversations(c *gin.Context) {
	h.listConversations(c, true)
}

func (h *ConversationHandler) listConversations(c *gin.Context, archived bool) {
	userID := c.GetString("userID")

	summaries, err := h.convRepo.ListConversations(c.Request.Context(), userID, archived)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// GetConversation returns one conversation with its participants.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString("userID")

	member, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	conv, err := h.convRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// UpdateSettings patches the caller's mute, pin and archive flags.
func (h *ConversationHandler) UpdateSettings(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString("userID")

	var req struct {
		Muted    *bool `json:"muted"`
		Pinned   *bool `json:"pinned"`
		Archived *bool `json:"archived"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	if err := h.convRepo.UpdateSettings(c.Request.Context(), conversationID, userID, req.Muted, req.Pinned, req.Archived); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update settings"})
		return
	}

	c.Status(http.StatusNoContent)
}

// LeaveConversation removes the caller from the conversation.
func (h *ConversationHandler) LeaveConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString("userID")

	member, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	if err := h.convRepo.RemoveMember(c.Request.Context(), conversationID, userID); err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not leave conversation"})
		return
	}

	h.emitAudit(c, "INFO", "Left conversation")
	c.Status(http.StatusNoContent)
}

// AddMember adds a user to a group conversation.
func (h *ConversationHandler) AddMember(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString("userID")

	var req struct {
		UserID   string `json:"user_id" binding:"required"`
		UserName string `json:"user_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.convRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if !conv.IsGroup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot add members to a direct conversation"})
		return
	}
	if conv.OwnerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the owner can add members"})
		return
	}

	if err := h.convRepo.AddMember(c.Request.Context(), conversationID, req.UserID, req.UserName); err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not add member"})
		return
	}

	h.emitAudit(c, "INFO", "Member added")
	c.Status(http.StatusNoContent)
}

// RemoveMember removes a user from a group conversation (owner only).
func (h *ConversationHandler) RemoveMember(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	memberID := c.Param("user_id")
	userID := c.GetString("userID")

	conv, err := h.convRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if conv.OwnerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the owner can remove members"})
		return
	}

	if err := h.convRepo.RemoveMember(c.Request.Context(), conversationID, memberID); err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not remove member"})
		return
	}

	h.emitAudit(c, "INFO", "Member removed")
	c.Status(http.StatusNoContent)
}

// UploadAvatar stores a group avatar image and records its URL.
func (h *ConversationHandler) UploadAvatar(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString("userID")

	member, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}

	name := uuid.NewString() + filepath.Ext(file.Filename)
	if err := c.SaveUploadedFile(file, filepath.Join(h.uploadDir, name)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store file"})
		return
	}

	avatarURL := "/uploads/" + name
	if err := h.convRepo.SetAvatarURL(c.Request.Context(), conversationID, avatarURL); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update avatar"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"avatar_url": avatarURL})
}

func (h *ConversationHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
