package database

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/bereanworks/selah/backend/internal/meditation"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openBareDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:selah_db_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&meditation.UnifiedMeditation{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestOpenSQLiteMigratesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selah.db")

	db, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, table := range []string{
		"qt_posts", "guest_comments", "group_comments",
		"daily_checks", "church_reading_checks",
		"unified_meditations", "unified_reading_checks",
		"meditation_likes", "meditation_replies",
		"churches", "reading_groups", "church_memberships", "group_memberships",
		"user_profiles", "db_migrations",
	} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s after migration", table)
		}
	}

	var record migrationRecord
	if err := db.Where("name = ?", migrationNormalizeLegacyVisibility).Take(&record).Error; err != nil {
		t.Fatalf("migration should be recorded: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		t.Fatalf("migration record missing timestamp: %+v", record)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestNormalizeLegacyVisibilityFoldsOpenIntoPublic(t *testing.T) {
	db := openBareDB(t)

	rows := []meditation.UnifiedMeditation{
		{ID: "m-1", LegacySourceType: "guest_comments", LegacyID: "g1", ContentType: "free_text", Visibility: "open", CreatedAtSeconds: 1, UpdatedAtSeconds: 1},
		{ID: "m-2", LegacySourceType: "guest_comments", LegacyID: "g2", ContentType: "free_text", Visibility: "private", CreatedAtSeconds: 2, UpdatedAtSeconds: 2},
	}
	for index := range rows {
		if err := db.Create(&rows[index]).Error; err != nil {
			t.Fatalf("failed to seed row: %v", err)
		}
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var normalized meditation.UnifiedMeditation
	if err := db.Where("id = ?", "m-1").Take(&normalized).Error; err != nil {
		t.Fatalf("failed to reload row: %v", err)
	}
	if normalized.Visibility != "public" {
		t.Fatalf("expected open folded into public, got %q", normalized.Visibility)
	}
	var untouched meditation.UnifiedMeditation
	if err := db.Where("id = ?", "m-2").Take(&untouched).Error; err != nil {
		t.Fatalf("failed to reload row: %v", err)
	}
	if untouched.Visibility != "private" {
		t.Fatalf("private rows must pass through unchanged, got %q", untouched.Visibility)
	}
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	db := openBareDB(t)

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected error on first run: %v", err)
	}
	var first migrationRecord
	if err := db.Where("name = ?", migrationNormalizeLegacyVisibility).Take(&first).Error; err != nil {
		t.Fatalf("migration should be recorded: %v", err)
	}

	// a row slipping in with the old label after the migration ran stays as
	// is; the recorded migration must not re-run
	stale := meditation.UnifiedMeditation{
		ID: "m-late", LegacySourceType: "guest_comments", LegacyID: "g9",
		ContentType: "free_text", Visibility: "open", CreatedAtSeconds: 9, UpdatedAtSeconds: 9,
	}
	if err := db.Create(&stale).Error; err != nil {
		t.Fatalf("failed to seed row: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected error on second run: %v", err)
	}
	var reloaded meditation.UnifiedMeditation
	if err := db.Where("id = ?", "m-late").Take(&reloaded).Error; err != nil {
		t.Fatalf("failed to reload row: %v", err)
	}
	if reloaded.Visibility != "open" {
		t.Fatalf("recorded migration must not re-run, got %q", reloaded.Visibility)
	}
	var count int64
	if err := db.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count records: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single migration record, got %d", count)
	}
}
