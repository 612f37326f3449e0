package notifications

import (
	"time"

	"github.com/teamsync/backend/internal/realtime"
)

// Kind classifies what produced a notification.
type Kind string

const (
	KindWorkspaceJoined Kind = "workspace_joined"
	KindDocumentCreated Kind = "document_created"
	KindFileUploaded    Kind = "file_uploaded"
	KindChatMessage     Kind = "chat_message"
	KindTaskAssigned    Kind = "task_assigned"
)

// Notification is a persisted message addressed to one recipient.
type Notification struct {
	ID          string    `gorm:"column:notification_id;primaryKey;size:190"`
	RecipientID string    `gorm:"column:recipient_id;size:190;not null;index:idx_notifications_recipient,priority:1"`
	SenderID    string    `gorm:"column:sender_id;size:190;not null"`
	WorkspaceID string    `gorm:"column:workspace_id;size:190"`
	Kind        Kind      `gorm:"column:kind;size:64;not null"`
	Message     string    `gorm:"column:message;size:1000;not null"`
	Link        string    `gorm:"column:link;size:512"`
	IsRead      bool      `gorm:"column:is_read;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;index:idx_notifications_recipient,priority:2"`
}

func (Notification) TableName() string {
	return "notifications"
}

// Payload renders the record as pushed to the recipient's connection.
func (n Notification) Payload() realtime.NotificationPayload {
	return realtime.NotificationPayload{
		ID:          n.ID,
		Kind:        string(n.Kind),
		RecipientID: n.RecipientID,
		SenderID:    n.SenderID,
		WorkspaceID: n.WorkspaceID,
		Message:     n.Message,
		Link:        n.Link,
		Read:        n.IsRead,
		CreatedAt:   n.CreatedAt,
	}
}
