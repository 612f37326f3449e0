package chat

import "time"

// Message is a chat message posted to a workspace.
type Message struct {
	ID          string    `gorm:"column:message_id;primaryKey;size:190"`
	WorkspaceID string    `gorm:"column:workspace_id;size:190;not null;index:idx_messages_workspace,priority:1"`
	SenderID    string    `gorm:"column:sender_id;size:190;not null"`
	Content     string    `gorm:"column:content;type:text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;index:idx_messages_workspace,priority:2"`
}

func (Message) TableName() string {
	return "messages"
}
