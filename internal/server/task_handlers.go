package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/teamsync/backend/internal/realtime"
	"github.com/teamsync/backend/internal/tasks"
)

type createTaskPayload struct {
	WorkspaceID string `json:"workspace"`
	Title       string `json:"title"`
	Description string `json:"description"`
	AssignedTo  string `json:"assignedTo"`
}

type updateTaskPayload struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	AssignedTo  *string `json:"assignedTo"`
}

func (h *httpHandler) handleCreateTask(c *gin.Context) {
	var request createTaskPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requireMember(c, request.WorkspaceID) {
		return
	}
	task, err := h.tasks.Create(c.Request.Context(), h.actor(c), tasks.CreateInput{
		WorkspaceID: request.WorkspaceID,
		Title:       request.Title,
		Description: request.Description,
		AssignedTo:  request.AssignedTo,
	})
	if err != nil {
		h.respondError(c, "tasks.create", err)
		return
	}
	c.JSON(http.StatusCreated, task.Snapshot())
}

func (h *httpHandler) handleListTasks(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	if !h.requireMember(c, workspaceID) {
		return
	}
	list, err := h.tasks.ListByWorkspace(c.Request.Context(), workspaceID)
	if err != nil {
		h.respondError(c, "tasks.list", err)
		return
	}
	response := make([]realtime.TaskSnapshot, 0, len(list))
	for _, task := range list {
		response = append(response, task.Snapshot())
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleUpdateTask(c *gin.Context) {
	var request updateTaskPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requireTaskAccess(c, c.Param("taskId")) {
		return
	}
	input := tasks.UpdateInput{
		Title:       request.Title,
		Description: request.Description,
		AssignedTo:  request.AssignedTo,
	}
	if request.Status != nil {
		status := tasks.Status(*request.Status)
		input.Status = &status
	}
	task, err := h.tasks.Update(c.Request.Context(), h.actor(c), c.Param("taskId"), input)
	if err != nil {
		h.respondError(c, "tasks.update", err)
		return
	}
	c.JSON(http.StatusOK, task.Snapshot())
}

func (h *httpHandler) handleDeleteTask(c *gin.Context) {
	if !h.requireTaskAccess(c, c.Param("taskId")) {
		return
	}
	task, err := h.tasks.Delete(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		h.respondError(c, "tasks.delete", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": task.ID})
}

func (h *httpHandler) requireTaskAccess(c *gin.Context, taskID string) bool {
	if !h.enforceAccess {
		return true
	}
	task, err := h.tasks.Get(c.Request.Context(), taskID)
	if err != nil {
		h.respondError(c, "tasks.get", err)
		return false
	}
	return h.requireMember(c, task.WorkspaceID)
}
