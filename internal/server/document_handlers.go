package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/teamsync/backend/internal/documents"
)

type createDocumentPayload struct {
	WorkspaceID string `json:"workspace"`
	Title       string `json:"title"`
}

type documentPayload struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace"`
	Title       string          `json:"title"`
	CreatedBy   string          `json:"createdBy"`
	Content     json.RawMessage `json:"content,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func newDocumentPayload(document documents.Document) documentPayload {
	payload := documentPayload{
		ID:          document.ID,
		WorkspaceID: document.WorkspaceID,
		Title:       document.Title,
		CreatedBy:   document.CreatedBy,
		CreatedAt:   document.CreatedAt,
		UpdatedAt:   document.UpdatedAt,
	}
	if len(document.Content) > 0 {
		payload.Content = json.RawMessage(document.Content)
	}
	return payload
}

// handleCreateDocument stores an empty document and notifies the other members.
func (h *httpHandler) handleCreateDocument(c *gin.Context) {
	var request createDocumentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requireMember(c, request.WorkspaceID) {
		return
	}
	ctx := c.Request.Context()
	document, err := h.documents.Create(ctx, request.WorkspaceID, request.Title, c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "documents.create", err)
		return
	}
	_, err = h.triggers.DocumentCreated(ctx, document.WorkspaceID, document.Title, h.actor(c))
	h.notifyAfter("document_created", err)
	c.JSON(http.StatusCreated, newDocumentPayload(document))
}

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	if !h.requireMember(c, workspaceID) {
		return
	}
	list, err := h.documents.ListByWorkspace(c.Request.Context(), workspaceID)
	if err != nil {
		h.respondError(c, "documents.list", err)
		return
	}
	response := make([]documentPayload, 0, len(list))
	for _, document := range list {
		response = append(response, newDocumentPayload(document))
	}
	c.JSON(http.StatusOK, response)
}

// handleGetDocument returns the baseline content a client loads before joining the room.
func (h *httpHandler) handleGetDocument(c *gin.Context) {
	document, err := h.documents.Get(c.Request.Context(), c.Param("documentId"))
	if err != nil {
		h.respondError(c, "documents.get", err)
		return
	}
	if !h.requireMember(c, document.WorkspaceID) {
		return
	}
	c.JSON(http.StatusOK, newDocumentPayload(document))
}
