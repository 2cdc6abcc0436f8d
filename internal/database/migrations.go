package database

import (
	"errors"
	"time"

	"github.com/bereanworks/selah/backend/internal/meditation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeLegacyVisibility = "2026-07-14_normalize_legacy_visibility"

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
		{name: migrationNormalizeLegacyVisibility, apply: normalizeLegacyVisibility},
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

// Rows propagated before visibility values were unified carry the old "open"
// label. Fold them into "public" so the feed filter and the audit field check
// see one vocabulary.
func normalizeLegacyVisibility(db *gorm.DB) error {
	return db.Model(&meditation.UnifiedMeditation{}).
		Where("visibility = ?", "open").
		Update("visibility", string(meditation.VisibilityPublic)).Error
}
