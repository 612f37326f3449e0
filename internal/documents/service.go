// Package documents stores workspace documents and relays live edits between editors.
package documents

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/teamsync/backend/internal/ids"
	"github.com/teamsync/backend/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errInvalidDelta      = errors.New("delta must be valid JSON")
)

const (
	opServiceNew   = "documents.service.new"
	opCreate       = "documents.create"
	opList         = "documents.list"
	opGet          = "documents.get"
	opSaveContent  = "documents.save_content"
	opRelayJoin    = "documents.relay.join"
	opRelayEdit    = "documents.relay.apply_edit"
	opRelayNew     = "documents.relay.new"
	maxTitleLength = 300
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

// NewService returns the document store used by REST handlers and the
// editing relay.
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

// Create stores an empty document in the workspace.
func (s *Service) Create(ctx context.Context, workspaceID, title, creatorID string) (Document, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	title = strings.TrimSpace(title)
	creatorID = strings.TrimSpace(creatorID)
	if workspaceID == "" || title == "" || creatorID == "" || len(title) > maxTitleLength {
		return Document{}, serviceerr.New(opCreate, "invalid_input", serviceerr.ErrInvalidInput)
	}
	documentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Document{}, serviceerr.New(opCreate, "id_generation_failed", err)
	}
	now := s.clock().UTC()
	document := Document{
		ID:          documentID,
		WorkspaceID: workspaceID,
		Title:       title,
		CreatedBy:   creatorID,
		Content:     datatypes.JSON(emptyDelta),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&document).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("workspace_id", workspaceID))
		return Document{}, serviceerr.New(opCreate, "insert_failed", err)
	}
	return document, nil
}

// ListByWorkspace returns the workspace's documents, most recently edited first.
func (s *Service) ListByWorkspace(ctx context.Context, workspaceID string) ([]Document, error) {
	var documents []Document
	if err := s.db.WithContext(ctx).
		Omit("content").
		Where("workspace_id = ?", strings.TrimSpace(workspaceID)).
		Order("updated_at DESC").
		Find(&documents).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("workspace_id", workspaceID))
		return nil, serviceerr.New(opList, "query_failed", err)
	}
	return documents, nil
}

// Get returns the document including its current content.
func (s *Service) Get(ctx context.Context, documentID string) (Document, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return Document{}, serviceerr.New(opGet, "invalid_input", serviceerr.ErrInvalidInput)
	}
	var document Document
	err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, serviceerr.New(opGet, "not_found", serviceerr.ErrNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("document_id", documentID))
		return Document{}, serviceerr.New(opGet, "query_failed", err)
	}
	return document, nil
}

// SaveContent replaces the document's content with delta. The last write wins.
func (s *Service) SaveContent(ctx context.Context, documentID string, delta json.RawMessage) error {
	if !json.Valid(delta) {
		return serviceerr.New(opSaveContent, "invalid_delta", errors.Join(serviceerr.ErrInvalidInput, errInvalidDelta))
	}
	result := s.db.WithContext(ctx).Model(&Document{}).
		Where("document_id = ?", strings.TrimSpace(documentID)).
		Updates(map[string]interface{}{
			"content":    datatypes.JSON(delta),
			"updated_at": s.clock().UTC(),
		})
	if result.Error != nil {
		s.logError(opSaveContent, "update_failed", result.Error, zap.String("document_id", documentID))
		return serviceerr.New(opSaveContent, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return serviceerr.New(opSaveContent, "not_found", serviceerr.ErrNotFound)
	}
	return nil
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
	s.logger.Error("documents service error", attrs...)
}
