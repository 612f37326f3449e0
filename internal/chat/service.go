// Package chat persists workspace chat messages and broadcasts them to the workspace room.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/teamsync/backend/internal/ids"
	"github.com/teamsync/backend/internal/notifications"
	"github.com/teamsync/backend/internal/realtime"
	"github.com/teamsync/backend/internal/serviceerr"
	"github.com/teamsync/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase    = errors.New("database handle is required")
	errMissingIDProvider  = errors.New("id provider is required")
	errMissingBroadcaster = errors.New("broadcaster is required")
)

const (
	opServiceNew     = "chat.service.new"
	opSend           = "chat.send"
	opList           = "chat.list"
	opDelete         = "chat.delete"
	opBulkDelete     = "chat.bulk_delete"
	maxContentLength = 4000
)

// Broadcaster delivers an event to the members of a room.
type Broadcaster interface {
	Broadcast(room realtime.RoomName, event realtime.Event) int
}

// ProfileLookup resolves the senders shown next to messages.
type ProfileLookup interface {
	Profile(ctx context.Context, userID string) (users.Profile, error)
	Profiles(ctx context.Context, userIDs []string) (map[string]users.Profile, error)
}

// MessageNotifier tells workspace members about a new message.
type MessageNotifier interface {
	ChatMessageSent(ctx context.Context, workspaceID, content string, actor notifications.Actor) (notifications.Dispatch, error)
}

type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDProvider  ids.Provider
	Broadcaster Broadcaster
	Profiles    ProfileLookup
	Notifier    MessageNotifier
	Logger      *zap.Logger
}

type Service struct {
	db          *gorm.DB
	clock       func() time.Time
	idProvider  ids.Provider
	broadcaster Broadcaster
	profiles    ProfileLookup
	notifier    MessageNotifier
	logger      *zap.Logger
}

// NewService requires a database, an id provider and a broadcaster.
// Profiles and Notifier are optional.
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
		profiles:    cfg.Profiles,
		notifier:    cfg.Notifier,
		logger:      logger,
	}, nil
}

// Send persists the message, broadcasts receive_message to the whole
// workspace room (the sender's own connections included) and notifies the
// other members. Nothing is broadcast when the save fails.
func (s *Service) Send(ctx context.Context, workspaceID, senderID, content string) (realtime.ChatMessage, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	senderID = strings.TrimSpace(senderID)
	content = strings.TrimSpace(content)
	if workspaceID == "" || senderID == "" || content == "" || utf8.RuneCountInString(content) > maxContentLength {
		return realtime.ChatMessage{}, serviceerr.New(opSend, "invalid_input", serviceerr.ErrInvalidInput)
	}
	messageID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSend, "id_generation_failed", err)
		return realtime.ChatMessage{}, serviceerr.New(opSend, "id_generation_failed", err)
	}
	message := Message{
		ID:          messageID,
		WorkspaceID: workspaceID,
		SenderID:    senderID,
		Content:     content,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		s.logError(opSend, "save_failed", err,
			zap.String("workspace_id", workspaceID),
			zap.String("user_id", senderID))
		return realtime.ChatMessage{}, serviceerr.New(opSend, "save_failed", err)
	}

	sender := s.profileOf(ctx, senderID)
	payload := realtime.ChatMessage{
		ID:          message.ID,
		WorkspaceID: message.WorkspaceID,
		Sender:      sender,
		Content:     message.Content,
		CreatedAt:   message.CreatedAt,
	}
	s.broadcaster.Broadcast(realtime.WorkspaceRoom(workspaceID), realtime.ReceiveMessage{Message: payload})

	if s.notifier != nil {
		actor := notifications.Actor{ID: senderID, Name: sender.DisplayName}
		if _, err := s.notifier.ChatMessageSent(ctx, workspaceID, content, actor); err != nil {
			s.logger.Warn("chat notification failed", zap.String("message_id", message.ID), zap.Error(err))
		}
	}
	return payload, nil
}

// List returns the workspace's messages, oldest first, with sender profiles.
func (s *Service) List(ctx context.Context, workspaceID string) ([]realtime.ChatMessage, error) {
	var messages []Message
	if err := s.db.WithContext(ctx).
		Where("workspace_id = ?", strings.TrimSpace(workspaceID)).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("workspace_id", workspaceID))
		return nil, serviceerr.New(opList, "query_failed", err)
	}
	senderIDs := make([]string, 0, len(messages))
	for _, message := range messages {
		senderIDs = append(senderIDs, message.SenderID)
	}
	profiles := map[string]users.Profile{}
	if s.profiles != nil && len(senderIDs) > 0 {
		loaded, err := s.profiles.Profiles(ctx, senderIDs)
		if err != nil {
			s.logger.Warn("chat sender lookup failed", zap.String("workspace_id", workspaceID), zap.Error(err))
		} else {
			profiles = loaded
		}
	}
	result := make([]realtime.ChatMessage, 0, len(messages))
	for _, message := range messages {
		result = append(result, realtime.ChatMessage{
			ID:          message.ID,
			WorkspaceID: message.WorkspaceID,
			Sender:      summary(message.SenderID, profiles[message.SenderID]),
			Content:     message.Content,
			CreatedAt:   message.CreatedAt,
		})
	}
	return result, nil
}

// Delete removes a message. Only its sender may delete it.
func (s *Service) Delete(ctx context.Context, messageID, userID string) (Message, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return Message{}, serviceerr.New(opDelete, "invalid_input", serviceerr.ErrInvalidInput)
	}
	db := s.db.WithContext(ctx)
	var message Message
	err := db.Where("message_id = ?", messageID).Take(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, serviceerr.New(opDelete, "not_found", serviceerr.ErrNotFound)
	}
	if err != nil {
		s.logError(opDelete, "query_failed", err, zap.String("message_id", messageID))
		return Message{}, serviceerr.New(opDelete, "query_failed", err)
	}
	if message.SenderID != strings.TrimSpace(userID) {
		return Message{}, serviceerr.New(opDelete, "forbidden", serviceerr.ErrForbidden)
	}
	if err := db.Where("message_id = ?", messageID).Delete(&Message{}).Error; err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("message_id", messageID))
		return Message{}, serviceerr.New(opDelete, "delete_failed", err)
	}
	s.broadcaster.Broadcast(realtime.WorkspaceRoom(message.WorkspaceID), realtime.MessageDeleted{MessageID: message.ID})
	return message, nil
}

// BulkDelete removes the listed messages that userID sent and broadcasts one
// messages_deleted per affected workspace. Messages of other senders are skipped.
func (s *Service) BulkDelete(ctx context.Context, messageIDs []string, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	wanted := make([]string, 0, len(messageIDs))
	for _, messageID := range messageIDs {
		if messageID = strings.TrimSpace(messageID); messageID != "" {
			wanted = append(wanted, messageID)
		}
	}
	if len(wanted) == 0 || userID == "" {
		return nil, serviceerr.New(opBulkDelete, "invalid_input", serviceerr.ErrInvalidInput)
	}

	var owned []Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id IN ? AND sender_id = ?", wanted, userID).
			Order("created_at ASC").
			Find(&owned).Error; err != nil {
			return err
		}
		if len(owned) == 0 {
			return nil
		}
		ownedIDs := make([]string, 0, len(owned))
		for _, message := range owned {
			ownedIDs = append(ownedIDs, message.ID)
		}
		return tx.Where("message_id IN ?", ownedIDs).Delete(&Message{}).Error
	})
	if err != nil {
		s.logError(opBulkDelete, "delete_failed", err, zap.String("user_id", userID))
		return nil, serviceerr.New(opBulkDelete, "delete_failed", err)
	}

	deleted := make([]string, 0, len(owned))
	byWorkspace := map[string][]string{}
	workspaceOrder := make([]string, 0)
	for _, message := range owned {
		deleted = append(deleted, message.ID)
		if _, seen := byWorkspace[message.WorkspaceID]; !seen {
			workspaceOrder = append(workspaceOrder, message.WorkspaceID)
		}
		byWorkspace[message.WorkspaceID] = append(byWorkspace[message.WorkspaceID], message.ID)
	}
	for _, workspaceID := range workspaceOrder {
		s.broadcaster.Broadcast(realtime.WorkspaceRoom(workspaceID), realtime.MessagesDeleted{MessageIDs: byWorkspace[workspaceID]})
	}
	return deleted, nil
}

func (s *Service) profileOf(ctx context.Context, userID string) realtime.UserSummary {
	if s.profiles == nil {
		return realtime.UserSummary{ID: userID}
	}
	profile, err := s.profiles.Profile(ctx, userID)
	if err != nil {
		s.logger.Warn("chat sender lookup failed", zap.String("user_id", userID), zap.Error(err))
		return realtime.UserSummary{ID: userID}
	}
	return summary(userID, profile)
}

func summary(userID string, profile users.Profile) realtime.UserSummary {
	return realtime.UserSummary{
		ID:          userID,
		DisplayName: profile.DisplayName,
		Email:       profile.Email,
		AvatarURL:   profile.AvatarURL,
	}
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
	s.logger.Error("chat service error", attrs...)
}
