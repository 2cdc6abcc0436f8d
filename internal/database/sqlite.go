package database

import (
	"fmt"

	"github.com/bereanworks/selah/backend/internal/meditation"
	"github.com/bereanworks/selah/backend/internal/source"
	"github.com/bereanworks/selah/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations
// for the legacy source tables, the canonical store and its indexes.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&source.QTPost{},
		&source.GuestComment{},
		&source.GroupComment{},
		&source.DailyCheck{},
		&source.ChurchReadingCheck{},
		&source.Church{},
		&source.ReadingGroup{},
		&source.ChurchMembership{},
		&source.GroupMembership{},
		&meditation.UnifiedMeditation{},
		&meditation.UnifiedReadingCheck{},
		&meditation.Like{},
		&meditation.Reply{},
		&users.Profile{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
