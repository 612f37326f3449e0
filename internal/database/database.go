package database

import (
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"github.com/teamsync/backend/internal/chat"
	"github.com/teamsync/backend/internal/documents"
	"github.com/teamsync/backend/internal/files"
	"github.com/teamsync/backend/internal/notifications"
	"github.com/teamsync/backend/internal/tasks"
	"github.com/teamsync/backend/internal/users"
	"github.com/teamsync/backend/internal/workspaces"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Options selects the database backend.
type Options struct {
	Driver string
	Path   string
	DSN    string
}

// Open connects to the configured database and performs schema migrations.
func Open(opts Options, logger *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(opts)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if dialector.Name() == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", dialector.Name()))
	}

	return db, nil
}

// Migrate creates or updates every table and applies pending data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(
		&users.Identity{},
		&workspaces.Workspace{},
		&workspaces.Member{},
		&notifications.Notification{},
		&documents.Document{},
		&tasks.Task{},
		&chat.Message{},
		&files.File{},
		&migrationRecord{},
	); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func dialectorFor(opts Options) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case DriverSQLite, "":
		if strings.TrimSpace(opts.Path) == "" {
			return nil, fmt.Errorf("database path is required")
		}
		return sqlite.Open(opts.Path), nil
	case DriverMySQL:
		if strings.TrimSpace(opts.DSN) == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		return mysql.Open(opts.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}
