package files

import "time"

// File is the metadata of an upload attached to a workspace. The bytes live
// in external storage addressed by Path.
type File struct {
	ID          string    `gorm:"column:file_id;primaryKey;size:190"`
	WorkspaceID string    `gorm:"column:workspace_id;size:190;not null;index"`
	UploaderID  string    `gorm:"column:uploader_id;size:190;not null"`
	Name        string    `gorm:"column:name;size:300;not null"`
	Path        string    `gorm:"column:path;size:512;not null"`
	Size        int64     `gorm:"column:size_bytes;not null"`
	ContentType string    `gorm:"column:content_type;size:190"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (File) TableName() string {
	return "files"
}
