// Package tasks stores workspace tasks and announces every change to the workspace room.
package tasks

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/teamsync/backend/internal/ids"
	"github.com/teamsync/backend/internal/notifications"
	"github.com/teamsync/backend/internal/realtime"
	"github.com/teamsync/backend/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase    = errors.New("database handle is required")
	errMissingIDProvider  = errors.New("id provider is required")
	errMissingBroadcaster = errors.New("broadcaster is required")
	errInvalidStatus      = errors.New("unknown task status")
)

const (
	opServiceNew = "tasks.service.new"
	opCreate     = "tasks.create"
	opList       = "tasks.list"
	opGet        = "tasks.get"
	opUpdate     = "tasks.update"
	opDelete     = "tasks.delete"
)

// Broadcaster delivers an event to the members of a room.
type Broadcaster interface {
	Broadcast(room realtime.RoomName, event realtime.Event) int
}

// AssignmentNotifier tells assignees about their tasks.
type AssignmentNotifier interface {
	TaskAssigned(ctx context.Context, workspaceID, title, assigneeID string, actor notifications.Actor) (notifications.Dispatch, error)
	TaskReassigned(ctx context.Context, workspaceID, title, previousAssigneeID, assigneeID string, actor notifications.Actor) (notifications.Dispatch, error)
}

type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDProvider  ids.Provider
	Broadcaster Broadcaster
	Notifier    AssignmentNotifier
	Logger      *zap.Logger
}

type Service struct {
	db          *gorm.DB
	clock       func() time.Time
	idProvider  ids.Provider
	broadcaster Broadcaster
	notifier    AssignmentNotifier
	logger      *zap.Logger
}

// NewService requires a database, an id provider and a broadcaster. A nil
// Notifier disables assignment notifications.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerr.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Broadcaster == nil {
		return nil, serviceerr.New(opServiceNew, "missing_broadcaster", errMissingBroadcaster)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:          cfg.Database,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		broadcaster: cfg.Broadcaster,
		notifier:    cfg.Notifier,
		logger:      logger,
	}, nil
}

// CreateInput describes a new task.
type CreateInput struct {
	WorkspaceID string
	Title       string
	Description string
	AssignedTo  string
}

// UpdateInput carries the fields to change. Nil fields are left alone; an
// empty AssignedTo clears the assignee.
type UpdateInput struct {
	Title       *string
	Description *string
	Status      *Status
	AssignedTo  *string
}

// Create stores the task, broadcasts task_created to the workspace room and
// notifies the assignee.
func (s *Service) Create(ctx context.Context, actor notifications.Actor, input CreateInput) (Task, error) {
	workspaceID := strings.TrimSpace(input.WorkspaceID)
	title := strings.TrimSpace(input.Title)
	if workspaceID == "" || title == "" || strings.TrimSpace(actor.ID) == "" {
		return Task{}, serviceerr.New(opCreate, "invalid_input", serviceerr.ErrInvalidInput)
	}
	taskID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Task{}, serviceerr.New(opCreate, "id_generation_failed", err)
	}
	now := s.clock().UTC()
	task := Task{
		ID:          taskID,
		WorkspaceID: workspaceID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Status:      StatusTodo,
		AssignedTo:  strings.TrimSpace(input.AssignedTo),
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("workspace_id", workspaceID))
		return Task{}, serviceerr.New(opCreate, "insert_failed", err)
	}

	s.broadcaster.Broadcast(realtime.WorkspaceRoom(workspaceID), realtime.TaskCreated{Task: task.Snapshot()})
	if s.notifier != nil {
		if _, err := s.notifier.TaskAssigned(ctx, workspaceID, task.Title, task.AssignedTo, actor); err != nil {
			s.logger.Warn("task assignment notification failed", zap.String("task_id", task.ID), zap.Error(err))
		}
	}
	return task, nil
}

// ListByWorkspace returns the workspace's tasks, oldest first.
func (s *Service) ListByWorkspace(ctx context.Context, workspaceID string) ([]Task, error) {
	var tasks []Task
	if err := s.db.WithContext(ctx).
		Where("workspace_id = ?", strings.TrimSpace(workspaceID)).
		Order("created_at ASC").
		Find(&tasks).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("workspace_id", workspaceID))
		return nil, serviceerr.New(opList, "query_failed", err)
	}
	return tasks, nil
}

// Get returns a single task.
func (s *Service) Get(ctx context.Context, taskID string) (Task, error) {
	return s.load(ctx, opGet, taskID)
}

// Update applies input, broadcasts task_updated and, when the assignee
// changed to someone, notifies the new assignee. The read of the previous
// assignee and the write are not atomic.
func (s *Service) Update(ctx context.Context, actor notifications.Actor, taskID string, input UpdateInput) (Task, error) {
	task, err := s.load(ctx, opUpdate, taskID)
	if err != nil {
		return Task{}, err
	}
	previousAssignee := task.AssignedTo

	updates := map[string]interface{}{}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return Task{}, serviceerr.New(opUpdate, "invalid_input", serviceerr.ErrInvalidInput)
		}
		task.Title = title
		updates["title"] = title
	}
	if input.Description != nil {
		task.Description = strings.TrimSpace(*input.Description)
		updates["description"] = task.Description
	}
	if input.Status != nil {
		if !input.Status.valid() {
			return Task{}, serviceerr.New(opUpdate, "invalid_status", errors.Join(serviceerr.ErrInvalidInput, errInvalidStatus))
		}
		task.Status = *input.Status
		updates["status"] = string(task.Status)
	}
	if input.AssignedTo != nil {
		task.AssignedTo = strings.TrimSpace(*input.AssignedTo)
		updates["assigned_to"] = task.AssignedTo
	}
	task.UpdatedAt = s.clock().UTC()
	updates["updated_at"] = task.UpdatedAt

	if err := s.db.WithContext(ctx).Model(&Task{}).Where("task_id = ?", task.ID).Updates(updates).Error; err != nil {
		s.logError(opUpdate, "update_failed", err, zap.String("task_id", task.ID))
		return Task{}, serviceerr.New(opUpdate, "update_failed", err)
	}

	s.broadcaster.Broadcast(realtime.WorkspaceRoom(task.WorkspaceID), realtime.TaskUpdated{Task: task.Snapshot()})
	if s.notifier != nil {
		if _, err := s.notifier.TaskReassigned(ctx, task.WorkspaceID, task.Title, previousAssignee, task.AssignedTo, actor); err != nil {
			s.logger.Warn("task reassignment notification failed", zap.String("task_id", task.ID), zap.Error(err))
		}
	}
	return task, nil
}

// Delete removes the task and broadcasts task_deleted with its id.
func (s *Service) Delete(ctx context.Context, taskID string) (Task, error) {
	task, err := s.load(ctx, opDelete, taskID)
	if err != nil {
		return Task{}, err
	}
	if err := s.db.WithContext(ctx).Where("task_id = ?", task.ID).Delete(&Task{}).Error; err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("task_id", task.ID))
		return Task{}, serviceerr.New(opDelete, "delete_failed", err)
	}
	s.broadcaster.Broadcast(realtime.WorkspaceRoom(task.WorkspaceID), realtime.TaskDeleted{TaskID: task.ID})
	return task, nil
}

func (s *Service) load(ctx context.Context, operation, taskID string) (Task, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return Task{}, serviceerr.New(operation, "invalid_input", serviceerr.ErrInvalidInput)
	}
	var task Task
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).Take(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Task{}, serviceerr.New(operation, "not_found", serviceerr.ErrNotFound)
	}
	if err != nil {
		s.logError(operation, "query_failed", err, zap.String("task_id", taskID))
		return Task{}, serviceerr.New(operation, "query_failed", err)
	}
	return task, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("tasks service error", attrs...)
}
