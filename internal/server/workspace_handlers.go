package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/teamsync/backend/internal/workspaces"
)

type createWorkspacePayload struct {
	Name string `json:"name"`
}

type workspacePayload struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner"`
	MemberIDs []string  `json:"members,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func newWorkspacePayload(workspace workspaces.Workspace) workspacePayload {
	return workspacePayload{
		ID:        workspace.ID,
		Name:      workspace.Name,
		OwnerID:   workspace.OwnerID,
		MemberIDs: workspace.MemberIDs,
		CreatedAt: workspace.CreatedAt,
	}
}

func (h *httpHandler) handleCreateWorkspace(c *gin.Context) {
	var request createWorkspacePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	workspace, err := h.workspaces.Create(c.Request.Context(), c.GetString(userIDContextKey), request.Name)
	if err != nil {
		h.respondError(c, "workspaces.create", err)
		return
	}
	c.JSON(http.StatusCreated, newWorkspacePayload(workspace))
}

func (h *httpHandler) handleListWorkspaces(c *gin.Context) {
	list, err := h.workspaces.ListForUser(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "workspaces.list", err)
		return
	}
	response := make([]workspacePayload, 0, len(list))
	for _, workspace := range list {
		response = append(response, newWorkspacePayload(workspace))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetWorkspace(c *gin.Context) {
	workspace, err := h.workspaces.Get(c.Request.Context(), c.Param("workspaceId"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "workspaces.get", err)
		return
	}
	c.JSON(http.StatusOK, newWorkspacePayload(workspace))
}

// handleJoinWorkspace adds the caller and notifies the owner.
func (h *httpHandler) handleJoinWorkspace(c *gin.Context) {
	ctx := c.Request.Context()
	workspace, err := h.workspaces.Join(ctx, c.Param("workspaceId"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "workspaces.join", err)
		return
	}
	_, err = h.triggers.WorkspaceJoined(ctx, workspace.ID, workspace.Name, workspace.OwnerID, h.actor(c))
	h.notifyAfter("workspace_joined", err)
	c.JSON(http.StatusOK, newWorkspacePayload(workspace))
}
