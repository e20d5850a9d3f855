package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/gatherly-app/gatherly/backend/internal/trust"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:database_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&trust.ScoreLogEntry{}, &trust.CommunityScore{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func seedEntry(t *testing.T, db *gorm.DB, entryID, userID, communityID string, points, createdAt int64) {
	t.Helper()
	entry := trust.ScoreLogEntry{
		EntryID:          entryID,
		UserID:           userID,
		CommunityID:      communityID,
		ActionType:       "member.joined",
		PointsChange:     points,
		CreatedAtSeconds: createdAt,
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("failed to seed ledger entry: %v", err)
	}
}

func TestRebuildCommunityScoresRepairsDrift(t *testing.T) {
	db := newTestDB(t)

	seedEntry(t, db, "entry-1", "user-1", "community-1", 50, 1700000000)
	seedEntry(t, db, "entry-2", "user-1", "community-1", 25, 1700000001)
	drifted := trust.CommunityScore{UserID: "user-1", CommunityID: "community-1", Score: 999, UpdatedAtSeconds: 1700000000}
	if err := db.Create(&drifted).Error; err != nil {
		t.Fatalf("failed to seed drifted score: %v", err)
	}

	if err := rebuildCommunityScores(db); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var repaired trust.CommunityScore
	if err := db.Where("user_id = ? AND community_id = ?", "user-1", "community-1").Take(&repaired).Error; err != nil {
		t.Fatalf("failed to load repaired score: %v", err)
	}
	if repaired.Score != 75 {
		t.Fatalf("expected repaired score 75, got %d", repaired.Score)
	}
	if repaired.UpdatedAtSeconds != 1700000001 {
		t.Fatalf("expected updated_at from newest entry, got %d", repaired.UpdatedAtSeconds)
	}
}

func TestRebuildCommunityScoresCreatesMissingRows(t *testing.T) {
	db := newTestDB(t)

	seedEntry(t, db, "entry-1", "user-2", "community-3", 1000, 1700000000)

	if err := rebuildCommunityScores(db); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var created trust.CommunityScore
	if err := db.Where("user_id = ? AND community_id = ?", "user-2", "community-3").Take(&created).Error; err != nil {
		t.Fatalf("expected score row to be created: %v", err)
	}
	if created.Score != 1000 {
		t.Fatalf("expected score 1000, got %d", created.Score)
	}
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	db := newTestDB(t)

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("expected second run to be a no-op, got %v", err)
	}

	var count int64
	if err := db.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count migration records: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one migration record, got %d", count)
	}
}
