// Package workspaces owns workspace records and their membership lists.
package workspaces

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/teamsync/backend/internal/ids"
	"github.com/teamsync/backend/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

const (
	opServiceNew = "workspaces.service.new"
	opCreate     = "workspaces.create"
	opList       = "workspaces.list"
	opGet        = "workspaces.get"
	opJoin       = "workspaces.join"
	opMembers    = "workspaces.members"
)

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService returns a workspace service backed by cfg.Database.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerr.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
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
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create stores a workspace owned by ownerID. The owner is its first member.
func (s *Service) Create(ctx context.Context, ownerID, name string) (Workspace, error) {
	ownerID = strings.TrimSpace(ownerID)
	name = strings.TrimSpace(name)
	if ownerID == "" || name == "" {
		return Workspace{}, serviceerr.New(opCreate, "invalid_input", serviceerr.ErrInvalidInput)
	}
	workspaceID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Workspace{}, serviceerr.New(opCreate, "id_generation_failed", err)
	}
	now := s.clock().UTC()
	workspace := Workspace{
		ID:        workspaceID,
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&workspace).Error; err != nil {
			return err
		}
		return tx.Create(&Member{WorkspaceID: workspaceID, UserID: ownerID, JoinedAt: now}).Error
	})
	if err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("user_id", ownerID))
		return Workspace{}, serviceerr.New(opCreate, "insert_failed", err)
	}
	workspace.MemberIDs = []string{ownerID}
	return workspace, nil
}

// ListForUser returns the workspaces userID belongs to, oldest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Workspace, error) {
	var workspaces []Workspace
	err := s.db.WithContext(ctx).
		Joins("JOIN workspace_members ON workspace_members.workspace_id = workspaces.workspace_id").
		Where("workspace_members.user_id = ?", strings.TrimSpace(userID)).
		Order("workspaces.created_at ASC").
		Find(&workspaces).Error
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", userID))
		return nil, serviceerr.New(opList, "query_failed", err)
	}
	return workspaces, nil
}

// Get returns the workspace with its member list. Only members may read it.
func (s *Service) Get(ctx context.Context, workspaceID, userID string) (Workspace, error) {
	workspace, err := s.load(ctx, opGet, workspaceID)
	if err != nil {
		return Workspace{}, err
	}
	if !containsID(workspace.MemberIDs, userID) {
		return Workspace{}, serviceerr.New(opGet, "forbidden", serviceerr.ErrForbidden)
	}
	return workspace, nil
}

// Join adds userID to the workspace's members.
func (s *Service) Join(ctx context.Context, workspaceID, userID string) (Workspace, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Workspace{}, serviceerr.New(opJoin, "invalid_input", serviceerr.ErrInvalidInput)
	}
	workspace, err := s.load(ctx, opJoin, workspaceID)
	if err != nil {
		return Workspace{}, err
	}
	if containsID(workspace.MemberIDs, userID) {
		return Workspace{}, serviceerr.New(opJoin, "already_member", serviceerr.ErrAlreadyMember)
	}
	member := Member{WorkspaceID: workspace.ID, UserID: userID, JoinedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
		s.logError(opJoin, "insert_failed", err,
			zap.String("workspace_id", workspace.ID),
			zap.String("user_id", userID))
		return Workspace{}, serviceerr.New(opJoin, "insert_failed", err)
	}
	workspace.MemberIDs = append(workspace.MemberIDs, userID)
	return workspace, nil
}

// IsMember reports whether userID belongs to the workspace.
func (s *Service) IsMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Member{}).
		Where("workspace_id = ? AND user_id = ?", strings.TrimSpace(workspaceID), strings.TrimSpace(userID)).
		Count(&count).Error
	if err != nil {
		s.logError(opMembers, "query_failed", err, zap.String("workspace_id", workspaceID))
		return false, serviceerr.New(opMembers, "query_failed", err)
	}
	return count > 0, nil
}

// MemberIDs returns the member ids of the workspace in join order.
func (s *Service) MemberIDs(ctx context.Context, workspaceID string) ([]string, error) {
	var members []Member
	err := s.db.WithContext(ctx).
		Where("workspace_id = ?", strings.TrimSpace(workspaceID)).
		Order("joined_at ASC, user_id ASC").
		Find(&members).Error
	if err != nil {
		s.logError(opMembers, "query_failed", err, zap.String("workspace_id", workspaceID))
		return nil, serviceerr.New(opMembers, "query_failed", err)
	}
	memberIDs := make([]string, 0, len(members))
	for _, member := range members {
		memberIDs = append(memberIDs, member.UserID)
	}
	return memberIDs, nil
}

func (s *Service) load(ctx context.Context, operation, workspaceID string) (Workspace, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return Workspace{}, serviceerr.New(operation, "invalid_input", serviceerr.ErrInvalidInput)
	}
	var workspace Workspace
	err := s.db.WithContext(ctx).Where("workspace_id = ?", workspaceID).Take(&workspace).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Workspace{}, serviceerr.New(operation, "not_found", serviceerr.ErrNotFound)
	}
	if err != nil {
		s.logError(operation, "query_failed", err, zap.String("workspace_id", workspaceID))
		return Workspace{}, serviceerr.New(operation, "query_failed", err)
	}
	memberIDs, err := s.MemberIDs(ctx, workspaceID)
	if err != nil {
		return Workspace{}, err
	}
	workspace.MemberIDs = memberIDs
	return workspace, nil
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
	s.logger.Error("workspaces service error", attrs...)
}

func containsID(values []string, target string) bool {
	target = strings.TrimSpace(target)
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
