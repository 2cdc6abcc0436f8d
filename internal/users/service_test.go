package users

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:selah_users_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Profile{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db
}

func TestDisplayNameResolvesProfile(t *testing.T) {
	service, db := newTestService(t)
	if err := db.Create(&Profile{UserID: "user-1", DisplayName: "Ruth Kim"}).Error; err != nil {
		t.Fatalf("failed to seed profile: %v", err)
	}

	name, err := service.DisplayName(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "Ruth Kim" {
		t.Fatalf("unexpected name %q", name)
	}
}

func TestDisplayNameUnknownAuthorIsNotAnError(t *testing.T) {
	service, _ := newTestService(t)

	name, err := service.DisplayName(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "" {
		t.Fatalf("expected empty name, got %q", name)
	}
}

func TestDisplayNameRejectsEmptyID(t *testing.T) {
	service, _ := newTestService(t)

	if _, err := service.DisplayName(context.Background(), "  "); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected invalid user id, got %v", err)
	}
}

func TestDisplayNameServesCachedValue(t *testing.T) {
	service, db := newTestService(t)
	if err := db.Create(&Profile{UserID: "user-1", DisplayName: "Ruth Kim"}).Error; err != nil {
		t.Fatalf("failed to seed profile: %v", err)
	}
	if _, err := service.DisplayName(context.Background(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// an out-of-band change does not reach cached readers
	if err := db.Model(&Profile{}).Where("user_id = ?", "user-1").
		Update("display_name", "Renamed").Error; err != nil {
		t.Fatalf("failed to rename: %v", err)
	}
	name, err := service.DisplayName(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "Ruth Kim" {
		t.Fatalf("expected cached name, got %q", name)
	}
}

func TestUpsertInvalidatesCache(t *testing.T) {
	service, _ := newTestService(t)
	if err := service.Upsert(context.Background(), Profile{UserID: "user-1", DisplayName: "Ruth Kim"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.DisplayName(context.Background(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := service.Upsert(context.Background(), Profile{UserID: "user-1", DisplayName: "Ruth K."}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	name, err := service.DisplayName(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "Ruth K." {
		t.Fatalf("upsert should invalidate the cached name, got %q", name)
	}
}

func TestUpsertRejectsEmptyID(t *testing.T) {
	service, _ := newTestService(t)
	if err := service.Upsert(context.Background(), Profile{DisplayName: "Nameless"}); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected invalid user id, got %v", err)
	}
}
