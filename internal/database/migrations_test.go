package database

import (
	"path/filepath"
	"testing"

	"github.com/teamsync/backend/internal/tasks"
	"go.uber.org/zap"
)

func TestOpenMigratesAndNormalizesTaskStatus(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := Open(Options{Driver: DriverSQLite, Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	legacy := tasks.Task{ID: "t1", WorkspaceID: "w1", Title: "Ship", Status: "In Progress", CreatedBy: "u1"}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert task: %v", err)
	}
	if err := database.Where("name = ?", migrationNormalizeTaskStatus).Delete(&migrationRecord{}).Error; err != nil {
		testContext.Fatalf("failed to reset migration record: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored tasks.Task
	if err := database.Where("task_id = ?", "t1").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload task: %v", err)
	}
	if stored.Status != tasks.StatusInProgress {
		testContext.Fatalf("expected normalized status, got %q", stored.Status)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNormalizeTaskStatus).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestOpenIsIdempotent(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "twice.db")
	for i := 0; i < 2; i++ {
		if _, err := Open(Options{Driver: DriverSQLite, Path: databasePath}, nil); err != nil {
			testContext.Fatalf("open #%d failed: %v", i+1, err)
		}
	}
}

func TestDialectorSelection(testContext *testing.T) {
	dialector, err := dialectorFor(Options{Driver: "mysql", DSN: "user:pass@tcp(localhost:3306)/teamsync?parseTime=true"})
	if err != nil {
		testContext.Fatalf("mysql dialector: %v", err)
	}
	if dialector.Name() != DriverMySQL {
		testContext.Fatalf("expected mysql dialector, got %s", dialector.Name())
	}
	if _, err := dialectorFor(Options{Driver: "postgres"}); err == nil {
		testContext.Fatal("expected unsupported driver error")
	}
	if _, err := dialectorFor(Options{Driver: "sqlite"}); err == nil {
		testContext.Fatal("expected missing path error")
	}
}
