// Package files records upload metadata for workspaces.
package files

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
	opServiceNew = "files.service.new"
	opRecord     = "files.record"
	opList       = "files.list"
	opDelete     = "files.delete"
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

// NewService returns a file metadata service backed by cfg.Database.
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
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// Upload is the metadata of a stored upload.
type Upload struct {
	Name        string
	Path        string
	Size        int64
	ContentType string
}

// Record stores the metadata of an upload made by uploaderID.
func (s *Service) Record(ctx context.Context, workspaceID, uploaderID string, upload Upload) (File, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	uploaderID = strings.TrimSpace(uploaderID)
	name := strings.TrimSpace(upload.Name)
	path := strings.TrimSpace(upload.Path)
	if workspaceID == "" || uploaderID == "" || name == "" || path == "" || upload.Size < 0 {
		return File{}, serviceerr.New(opRecord, "invalid_input", serviceerr.ErrInvalidInput)
	}
	fileID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRecord, "id_generation_failed", err)
		return File{}, serviceerr.New(opRecord, "id_generation_failed", err)
	}
	file := File{
		ID:          fileID,
		WorkspaceID: workspaceID,
		UploaderID:  uploaderID,
		Name:        name,
		Path:        path,
		Size:        upload.Size,
		ContentType: strings.TrimSpace(upload.ContentType),
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&file).Error; err != nil {
		s.logError(opRecord, "insert_failed", err, zap.String("workspace_id", workspaceID))
		return File{}, serviceerr.New(opRecord, "insert_failed", err)
	}
	return file, nil
}

// ListByWorkspace returns the workspace's files, newest first.
func (s *Service) ListByWorkspace(ctx context.Context, workspaceID string) ([]File, error) {
	var files []File
	if err := s.db.WithContext(ctx).
		Where("workspace_id = ?", strings.TrimSpace(workspaceID)).
		Order("created_at DESC").
		Find(&files).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("workspace_id", workspaceID))
		return nil, serviceerr.New(opList, "query_failed", err)
	}
	return files, nil
}

// Delete removes the file record. Only the uploader may delete it.
func (s *Service) Delete(ctx context.Context, fileID, userID string) (File, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return File{}, serviceerr.New(opDelete, "invalid_input", serviceerr.ErrInvalidInput)
	}
	db := s.db.WithContext(ctx)
	var file File
	err := db.Where("file_id = ?", fileID).Take(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return File{}, serviceerr.New(opDelete, "not_found", serviceerr.ErrNotFound)
	}
	if err != nil {
		s.logError(opDelete, "query_failed", err, zap.String("file_id", fileID))
		return File{}, serviceerr.New(opDelete, "query_failed", err)
	}
	if file.UploaderID != strings.TrimSpace(userID) {
		return File{}, serviceerr.New(opDelete, "forbidden", serviceerr.ErrForbidden)
	}
	if err := db.Where("file_id = ?", fileID).Delete(&File{}).Error; err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("file_id", fileID))
		return File{}, serviceerr.New(opDelete, "delete_failed", err)
	}
	return file, nil
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
	s.logger.Error("files service error", attrs...)
}
