package tasks

import (
	"time"

	"github.com/teamsync/backend/internal/realtime"
)

// Status is the workflow column of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

func (s Status) valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	default:
		return false
	}
}

type Task struct {
	ID          string    `gorm:"column:task_id;primaryKey;size:190"`
	WorkspaceID string    `gorm:"column:workspace_id;size:190;not null;index"`
	Title       string    `gorm:"column:title;size:300;not null"`
	Description string    `gorm:"column:description;type:text"`
	Status      Status    `gorm:"column:status;size:32;not null"`
	AssignedTo  string    `gorm:"column:assigned_to;size:190;index"`
	CreatedBy   string    `gorm:"column:created_by;size:190;not null"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (Task) TableName() string {
	return "tasks"
}

// Snapshot is the task as broadcast to workspace members.
func (t Task) Snapshot() realtime.TaskSnapshot {
	return realtime.TaskSnapshot{
		ID:          t.ID,
		WorkspaceID: t.WorkspaceID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		AssignedTo:  t.AssignedTo,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}
