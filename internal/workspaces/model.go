package workspaces

import "time"

// Workspace groups members, chat, tasks, documents and files.
type Workspace struct {
	ID        string    `gorm:"column:workspace_id;primaryKey;size:190"`
	Name      string    `gorm:"column:name;size:200;not null"`
	OwnerID   string    `gorm:"column:owner_id;size:190;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`

	MemberIDs []string `gorm:"-"`
}

func (Workspace) TableName() string {
	return "workspaces"
}

// Member records that a user belongs to a workspace.
type Member struct {
	WorkspaceID string    `gorm:"column:workspace_id;primaryKey;size:190"`
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;index"`
	JoinedAt    time.Time `gorm:"column:joined_at"`
}

func (Member) TableName() string {
	return "workspace_members"
}
