package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationRebuildCommunityScores = "2026-08-12_rebuild_community_scores"

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
		{name: migrationRebuildCommunityScores, apply: rebuildCommunityScores},
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

// rebuildCommunityScores recomputes every community_score row from the sum of
// its ledger entries. The ledger is authoritative; any drifted total is
// repaired and pairs that only exist in the ledger get their row created.
func rebuildCommunityScores(db *gorm.DB) error {
	upsert := `
		INSERT INTO community_score (user_id, community_id, score, updated_at_s)
		SELECT user_id, community_id, SUM(points_change), MAX(created_at_s)
		FROM score_log
		GROUP BY user_id, community_id
		ON CONFLICT(user_id, community_id) DO UPDATE SET
			score = excluded.score,
			updated_at_s = excluded.updated_at_s;`
	return db.Exec(upsert).Error
}
