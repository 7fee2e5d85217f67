package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/deaddrop/internal/drops"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationCloseOrphanedTrackKeys = "close_orphaned_track_keys"

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
		{name: migrationCloseOrphanedTrackKeys, apply: closeOrphanedTrackKeys},
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

// closeOrphanedTrackKeys clears the key of track records that were stamped as
// picked up without their key being unset, so they can no longer match a pickup.
func closeOrphanedTrackKeys(db *gorm.DB) error {
	return db.Model(&drops.TrackRecord{}).
		Where("picked_up IS NOT NULL AND drop_key IS NOT NULL").
		Update("drop_key", nil).Error
}
