package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type sendMessageRequest struct {
	WorkspaceID string `json:"workspace"`
	Content     string `json:"content"`
}

type bulkDeleteRequest struct {
	MessageIDs []string `json:"messageIds"`
}

func (h *httpHandler) handleListMessages(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	if !h.requireMember(c, workspaceID) {
		return
	}
	messages, err := h.chat.List(c.Request.Context(), workspaceID)
	if err != nil {
		h.respondError(c, "chat.list", err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// handleSendMessage shares the socket send_message path: persist, broadcast, notify.
func (h *httpHandler) handleSendMessage(c *gin.Context) {
	var request sendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requireMember(c, request.WorkspaceID) {
		return
	}
	message, err := h.chat.Send(c.Request.Context(), request.WorkspaceID, c.GetString(userIDContextKey), request.Content)
	if err != nil {
		h.respondError(c, "chat.send", err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

func (h *httpHandler) handleDeleteMessage(c *gin.Context) {
	message, err := h.chat.Delete(c.Request.Context(), c.Param("messageId"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "chat.delete", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": message.ID})
}

func (h *httpHandler) handleBulkDeleteMessages(c *gin.Context) {
	var request bulkDeleteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	deleted, err := h.chat.BulkDelete(c.Request.Context(), request.MessageIDs, c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "chat.bulk_delete", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
