// Package notifications persists per-recipient notifications and pushes them to live connections.
package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/teamsync/backend/internal/ids"
	"github.com/teamsync/backend/internal/metrics"
	"github.com/teamsync/backend/internal/realtime"
	"github.com/teamsync/backend/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = serviceerr.ErrNotFound
	ErrForbidden = serviceerr.ErrForbidden

	errMissingDatabase    = errors.New("database handle is required")
	errMissingIDProvider  = errors.New("id provider is required")
	errMissingConnections = errors.New("connection router is required")
	errMissingSender      = errors.New("sender is required")
)

const (
	opServiceNew   = "notifications.service.new"
	opNotify       = "notifications.notify"
	opList         = "notifications.list"
	opMarkRead     = "notifications.mark_read"
	opUnreadCount  = "notifications.unread_count"
	defaultListCap = 100
)

// ConnectionRouter resolves a user's live connection and delivers frames to it.
type ConnectionRouter interface {
	LookupConnection(ctx context.Context, userID string) (realtime.ConnectionID, bool, error)
	PushToConnection(connectionID realtime.ConnectionID, event realtime.Event) bool
}

type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDProvider  ids.Provider
	Connections ConnectionRouter
	Metrics     metrics.Recorder
	Logger      *zap.Logger
}

type Service struct {
	db          *gorm.DB
	clock       func() time.Time
	idProvider  ids.Provider
	connections ConnectionRouter
	metrics     metrics.Recorder
	logger      *zap.Logger
}

// NewService requires a database, an id provider and a connection router
// for live delivery.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerr.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Connections == nil {
		return nil, serviceerr.New(opServiceNew, "missing_connections", errMissingConnections)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:          cfg.Database,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		connections: cfg.Connections,
		metrics:     recorder,
		logger:      logger,
	}, nil
}

// Event describes one notification fan-out.
type Event struct {
	Kind        Kind
	SenderID    string
	Recipients  []string
	Message     string
	Link        string
	WorkspaceID string
}

// Failure records a recipient whose notification could not be saved.
type Failure struct {
	RecipientID string
	Err         error
}

// Dispatch summarizes what Notify did for each recipient.
type Dispatch struct {
	Saved   []Notification
	Failed  []Failure
	Pushed  []string
	Offline []string
}

// Notify saves one notification per recipient and then pushes each saved
// record to its recipient's live connection. The sender never notifies
// itself. A failed save affects only that recipient.
func (s *Service) Notify(ctx context.Context, event Event) (Dispatch, error) {
	senderID := strings.TrimSpace(event.SenderID)
	if senderID == "" {
		return Dispatch{}, serviceerr.New(opNotify, "missing_sender", errMissingSender)
	}
	recipients := normalizeRecipients(event.Recipients, senderID)
	dispatch := Dispatch{}
	if len(recipients) == 0 {
		return dispatch, nil
	}

	db := s.db.WithContext(ctx)
	for _, recipientID := range recipients {
		record, err := s.buildRecord(event, senderID, recipientID)
		if err == nil {
			err = db.Create(&record).Error
		}
		if err != nil {
			s.metrics.NotificationPersistFailed()
			s.logError(opNotify, "save_failed", err,
				zap.String("recipient_id", recipientID),
				zap.String("sender_id", senderID),
				zap.String("kind", string(event.Kind)))
			dispatch.Failed = append(dispatch.Failed, Failure{RecipientID: recipientID, Err: err})
			continue
		}
		s.metrics.NotificationPersisted()
		dispatch.Saved = append(dispatch.Saved, record)
	}

	for _, record := range dispatch.Saved {
		if s.push(ctx, record) {
			dispatch.Pushed = append(dispatch.Pushed, record.RecipientID)
		} else {
			dispatch.Offline = append(dispatch.Offline, record.RecipientID)
		}
	}
	return dispatch, nil
}

func (s *Service) buildRecord(event Event, senderID, recipientID string) (Notification, error) {
	notificationID, err := s.idProvider.NewID()
	if err != nil {
		return Notification{}, err
	}
	return Notification{
		ID:          notificationID,
		RecipientID: recipientID,
		SenderID:    senderID,
		WorkspaceID: strings.TrimSpace(event.WorkspaceID),
		Kind:        event.Kind,
		Message:     event.Message,
		Link:        event.Link,
		CreatedAt:   s.clock().UTC(),
	}, nil
}

func (s *Service) push(ctx context.Context, record Notification) bool {
	connectionID, ok, err := s.connections.LookupConnection(ctx, record.RecipientID)
	if err != nil {
		s.logger.Warn("notification recipient lookup failed",
			zap.String("recipient_id", record.RecipientID),
			zap.String("notification_id", record.ID),
			zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if !s.connections.PushToConnection(connectionID, realtime.NewNotification{Notification: record.Payload()}) {
		return false
	}
	s.metrics.NotificationPushed()
	return true
}

// List returns the user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Notification, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, serviceerr.New(opList, "invalid_input", serviceerr.ErrInvalidInput)
	}
	var notifications []Notification
	if err := s.db.WithContext(ctx).
		Where("recipient_id = ?", userID).
		Order("created_at DESC").
		Order("notification_id DESC").
		Limit(defaultListCap).
		Find(&notifications).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", userID))
		return nil, serviceerr.New(opList, "query_failed", err)
	}
	return notifications, nil
}

// MarkRead flags the notification as read. Only its recipient may do so.
func (s *Service) MarkRead(ctx context.Context, notificationID, userID string) (Notification, error) {
	notificationID = strings.TrimSpace(notificationID)
	userID = strings.TrimSpace(userID)
	if notificationID == "" || userID == "" {
		return Notification{}, serviceerr.New(opMarkRead, "invalid_input", serviceerr.ErrInvalidInput)
	}
	db := s.db.WithContext(ctx)
	var notification Notification
	err := db.Where("notification_id = ?", notificationID).Take(&notification).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Notification{}, serviceerr.New(opMarkRead, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opMarkRead, "query_failed", err, zap.String("notification_id", notificationID))
		return Notification{}, serviceerr.New(opMarkRead, "query_failed", err)
	}
	if notification.RecipientID != userID {
		return Notification{}, serviceerr.New(opMarkRead, "forbidden", ErrForbidden)
	}
	if notification.IsRead {
		return notification, nil
	}
	if err := db.Model(&Notification{}).
		Where("notification_id = ?", notificationID).
		Update("is_read", true).Error; err != nil {
		s.logError(opMarkRead, "update_failed", err, zap.String("notification_id", notificationID))
		return Notification{}, serviceerr.New(opMarkRead, "update_failed", err)
	}
	notification.IsRead = true
	return notification, nil
}

// UnreadCount returns how many of the user's notifications are unread.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", strings.TrimSpace(userID), false).
		Count(&count).Error; err != nil {
		s.logError(opUnreadCount, "query_failed", err, zap.String("user_id", userID))
		return 0, serviceerr.New(opUnreadCount, "query_failed", err)
	}
	return count, nil
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
	s.logger.Error("notifications service error", attrs...)
}

func normalizeRecipients(recipients []string, senderID string) []string {
	seen := make(map[string]struct{}, len(recipients))
	result := make([]string, 0, len(recipients))
	for _, recipientID := range recipients {
		recipientID = strings.TrimSpace(recipientID)
		if recipientID == "" || recipientID == senderID {
			continue
		}
		if _, ok := seen[recipientID]; ok {
			continue
		}
		seen[recipientID] = struct{}{}
		result = append(result, recipientID)
	}
	return result
}
