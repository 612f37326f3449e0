package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/teamsync/backend/internal/files"
)

type recordFilePayload struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

type filePayload struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace"`
	UploaderID  string    `json:"uploadedBy"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newFilePayload(file files.File) filePayload {
	return filePayload{
		ID:          file.ID,
		WorkspaceID: file.WorkspaceID,
		UploaderID:  file.UploaderID,
		Name:        file.Name,
		Path:        file.Path,
		Size:        file.Size,
		ContentType: file.ContentType,
		CreatedAt:   file.CreatedAt,
	}
}

// handleRecordFile stores upload metadata and notifies the other members.
// The bytes are placed in storage by the client before this call.
func (h *httpHandler) handleRecordFile(c *gin.Context) {
	var request recordFilePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	workspaceID := c.Param("workspaceId")
	if !h.requireMember(c, workspaceID) {
		return
	}
	ctx := c.Request.Context()
	file, err := h.files.Record(ctx, workspaceID, c.GetString(userIDContextKey), files.Upload{
		Name:        request.Name,
		Path:        request.Path,
		Size:        request.Size,
		ContentType: request.ContentType,
	})
	if err != nil {
		h.respondError(c, "files.record", err)
		return
	}
	_, err = h.triggers.FileUploaded(ctx, file.WorkspaceID, file.Name, h.actor(c))
	h.notifyAfter("file_uploaded", err)
	c.JSON(http.StatusCreated, newFilePayload(file))
}

func (h *httpHandler) handleListFiles(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	if !h.requireMember(c, workspaceID) {
		return
	}
	list, err := h.files.ListByWorkspace(c.Request.Context(), workspaceID)
	if err != nil {
		h.respondError(c, "files.list", err)
		return
	}
	response := make([]filePayload, 0, len(list))
	for _, file := range list {
		response = append(response, newFilePayload(file))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleDeleteFile(c *gin.Context) {
	file, err := h.files.Delete(c.Request.Context(), c.Param("fileId"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "files.delete", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": file.ID})
}
