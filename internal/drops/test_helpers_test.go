package drops

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/deaddrop/internal/keys"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(value time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = value
}

type sequenceIssuer struct {
	mu   sync.Mutex
	next int
}

func (i *sequenceIssuer) Issue() (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.next++
	return fmt.Sprintf("key-%04d", i.next), nil
}

type failingIssuer struct{}

func (failingIssuer) Issue() (string, error) {
	return "", errors.New("entropy exhausted")
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "drops.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

// openSharedTestDatabase opens a sqlite file behind a pool of several
// connections so concurrent callers really do reach the database at once.
// Writers wait on each other through busy_timeout instead of failing.
func openSharedTestDatabase(t *testing.T, connections int) *gorm.DB {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "shared.db")
	dsn := databasePath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(connections)
	sqlDB.SetMaxIdleConns(connections)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, clock *manualClock, issuer keys.Issuer) (*Service, *gorm.DB) {
	t.Helper()
	db := openTestDatabase(t)
	if issuer == nil {
		issuer = &sequenceIssuer{}
	}
	service, err := NewService(ServiceConfig{
		Database:  db,
		Clock:     clock.Now,
		KeyIssuer: issuer,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service, db
}

func loadTrackRecord(t *testing.T, db *gorm.DB, id uint64) TrackRecord {
	t.Helper()
	var record TrackRecord
	if err := db.Where("id = ?", id).Take(&record).Error; err != nil {
		t.Fatalf("failed to load track record: %v", err)
	}
	return record
}

func countDrops(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&Drop{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count drops: %v", err)
	}
	return count
}
