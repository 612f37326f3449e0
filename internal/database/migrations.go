package database

import (
	"errors"
	"time"

	"github.com/teamsync/backend/internal/tasks"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeTaskStatus = "2026-09-14_normalize_task_status"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeTaskStatus, apply: normalizeTaskStatus},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// legacyTaskStatuses maps the labels imported task boards used to the stored statuses.
var legacyTaskStatuses = map[string]tasks.Status{
	"To Do":       tasks.StatusTodo,
	"":            tasks.StatusTodo,
	"In Progress": tasks.StatusInProgress,
	"in_progress": tasks.StatusInProgress,
	"Done":        tasks.StatusDone,
}

func normalizeTaskStatus(db *gorm.DB) error {
	for legacy, status := range legacyTaskStatuses {
		if err := db.Model(&tasks.Task{}).
			Where("status = ?", legacy).
			Update("status", string(status)).Error; err != nil {
			return err
		}
	}
	return nil
}
