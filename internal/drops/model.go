package drops

import "time"

// Drop holds a single-use payload until its first pickup attempt.
type Drop struct {
	Key         string     `gorm:"column:drop_key;primaryKey;size:190;not null"`
	Data        string     `gorm:"column:data;type:text;not null"`
	CreatedDate *time.Time `gorm:"column:created_date"`
}

// TableName provides the explicit table binding for GORM.
func (Drop) TableName() string {
	return "drops"
}

// TrackRecord is the payload-free audit entry written alongside every drop.
// Key is set while the drop is outstanding and cleared when it is picked up.
type TrackRecord struct {
	ID          uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	Key         *string    `gorm:"column:drop_key;size:190;index:idx_track_drop_key"`
	UserHash    string     `gorm:"column:user_hash;size:64;not null;default:''"`
	CreatedDate *time.Time `gorm:"column:created_date;index:idx_track_created_date"`
	PickedUp    *time.Time `gorm:"column:picked_up"`
}

// TableName provides the explicit table binding for GORM.
func (TrackRecord) TableName() string {
	return "track"
}

// Open reports whether the record still addresses an outstanding drop.
func (r TrackRecord) Open() bool {
	return r.Key != nil && r.PickedUp == nil
}

// FormKey is a token handed to producers ahead of submission. It is stored but not enforced.
type FormKey struct {
	Key     string    `gorm:"column:form_key;primaryKey;size:190;not null"`
	Created time.Time `gorm:"column:created;not null"`
}

// TableName provides the explicit table binding for GORM.
func (FormKey) TableName() string {
	return "form_keys"
}

// Models lists every table owned by this package, in migration order.
func Models() []any {
	return []any{&Drop{}, &TrackRecord{}, &FormKey{}}
}
