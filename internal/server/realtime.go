package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ticketResponsePayload struct {
	Ticket    string `json:"ticket"`
	ExpiresIn int64  `json:"expires_in"`
}

func (h *httpHandler) handleIssueTicket(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	ticket, expiresIn, err := h.tickets.Issue(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to issue realtime ticket", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ticket_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, ticketResponsePayload{Ticket: ticket, ExpiresIn: expiresIn})
}

// handleRealtimeSocket authenticates the handshake with a ticket query
// parameter when present, otherwise with the session, and hands the socket
// to the gateway.
func (h *httpHandler) handleRealtimeSocket(c *gin.Context) {
	var userID string
	if ticket := strings.TrimSpace(c.Query("ticket")); ticket != "" {
		subject, err := h.tickets.Validate(ticket)
		if err != nil {
			h.logger.Info("realtime ticket rejected", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		userID = subject
	} else {
		resolved, _, ok := h.authenticate(c)
		if !ok {
			return
		}
		userID = resolved
	}
	if err := h.gateway.Serve(c.Writer, c.Request, userID); err != nil {
		h.logger.Debug("realtime session ended with error", zap.String("user_id", userID), zap.Error(err))
	}
}
