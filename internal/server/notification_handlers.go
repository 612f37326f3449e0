package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/teamsync/backend/internal/realtime"
)

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	list, err := h.notifications.List(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "notifications.list", err)
		return
	}
	response := make([]realtime.NotificationPayload, 0, len(list))
	for _, notification := range list {
		response = append(response, notification.Payload())
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleUnreadCount(c *gin.Context) {
	count, err := h.notifications.UnreadCount(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "notifications.unread_count", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	notification, err := h.notifications.MarkRead(c.Request.Context(), c.Param("notificationId"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "notifications.mark_read", err)
		return
	}
	c.JSON(http.StatusOK, notification.Payload())
}
