package documents

import (
	"time"

	"gorm.io/datatypes"
)

// emptyDelta is the content of a freshly created document.
const emptyDelta = `{"ops":[]}`

// Document is a collaboratively edited rich-text document. Content holds the
// most recent full editor delta.
type Document struct {
	ID          string         `gorm:"column:document_id;primaryKey;size:190"`
	WorkspaceID string         `gorm:"column:workspace_id;size:190;not null;index"`
	Title       string         `gorm:"column:title;size:300;not null"`
	CreatedBy   string         `gorm:"column:created_by;size:190;not null"`
	Content     datatypes.JSON `gorm:"column:content"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at"`
}

func (Document) TableName() string {
	return "documents"
}
