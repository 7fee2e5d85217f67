package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/deaddrop/internal/drops"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsClosesOrphanedTrackKeys(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&drops.TrackRecord{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	created := time.Date(2012, time.January, 12, 0, 0, 0, 0, time.UTC)
	pickedUp := created.Add(time.Hour)
	orphanKey := "orphan"
	openKey := "still-open"
	orphan := drops.TrackRecord{Key: &orphanKey, UserHash: "hash-1", CreatedDate: &created, PickedUp: &pickedUp}
	open := drops.TrackRecord{Key: &openKey, UserHash: "hash-2", CreatedDate: &created}
	if err := database.Create(&orphan).Error; err != nil {
		testContext.Fatalf("failed to insert orphan: %v", err)
	}
	if err := database.Create(&open).Error; err != nil {
		testContext.Fatalf("failed to insert open record: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var storedOrphan drops.TrackRecord
	if err := database.Where("id = ?", orphan.ID).Take(&storedOrphan).Error; err != nil {
		testContext.Fatalf("failed to reload orphan: %v", err)
	}
	if storedOrphan.Key != nil {
		testContext.Fatalf("expected orphaned key to be cleared, got %q", *storedOrphan.Key)
	}

	var storedOpen drops.TrackRecord
	if err := database.Where("id = ?", open.ID).Take(&storedOpen).Error; err != nil {
		testContext.Fatalf("failed to reload open record: %v", err)
	}
	if !storedOpen.Open() {
		testContext.Fatalf("expected open record to stay open")
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationCloseOrphanedTrackKeys).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	database, err := gorm.Open(sqlite.Open(filepath.Join(testContext.TempDir(), "once.db")), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&drops.TrackRecord{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err := applyMigrations(database, nil); err != nil {
			testContext.Fatalf("attempt %d failed: %v", attempt, err)
		}
	}

	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count migrations: %v", err)
	}
	if count != 1 {
		testContext.Fatalf("expected one migration record, got %d", count)
	}
}
