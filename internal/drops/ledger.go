package drops

import (
	"time"

	"gorm.io/gorm"
)

const (
	columnDropKey  = "drop_key"
	columnPickedUp = "picked_up"
	queryDropKey   = columnDropKey + " = ?"
)

// Ledger writes TrackRecords. It always runs inside the caller's transaction so
// the record is created and closed atomically with the drop it describes.
type Ledger struct{}

// RecordCreation inserts an open TrackRecord for key.
func (Ledger) RecordCreation(tx *gorm.DB, key, userHash string, createdAt time.Time) error {
	created := createdAt.UTC()
	record := TrackRecord{
		Key:         &key,
		UserHash:    userHash,
		CreatedDate: &created,
	}
	return tx.Create(&record).Error
}

// RecordPickup closes the record currently addressed by key: it stamps the
// pickup time and clears the key in one update. A missing record is a no-op.
// The returned count is the number of records closed.
func (Ledger) RecordPickup(tx *gorm.DB, key string, pickedUpAt time.Time) (int64, error) {
	result := tx.Model(&TrackRecord{}).
		Where(queryDropKey, key).
		Updates(map[string]any{
			columnPickedUp: pickedUpAt.UTC(),
			columnDropKey:  nil,
		})
	return result.RowsAffected, result.Error
}
