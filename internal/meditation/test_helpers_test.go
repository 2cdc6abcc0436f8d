package meditation

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bereanworks/selah/backend/internal/source"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type sequenceIDGenerator struct {
	counter atomic.Int64
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	return fmt.Sprintf("generated-%04d", g.counter.Add(1)), nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:selah_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&source.QTPost{},
		&source.GuestComment{},
		&source.GroupComment{},
		&source.DailyCheck{},
		&source.ChurchReadingCheck{},
		&UnifiedMeditation{},
		&UnifiedReadingCheck{},
		&Like{},
		&Reply{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func fixedClock(seconds int64) func() time.Time {
	return func() time.Time { return time.Unix(seconds, 0).UTC() }
}

func newTestPropagator(t *testing.T, db *gorm.DB) *Propagator {
	t.Helper()

	propagator, err := NewPropagator(PropagatorConfig{
		Database:   db,
		Clock:      fixedClock(1700000600),
		IDProvider: &sequenceIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct propagator: %v", err)
	}
	return propagator
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      fixedClock(1700000600),
		IDProvider: &sequenceIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct meditation service: %v", err)
	}
	return service
}

func newTestFeed(t *testing.T, db *gorm.DB) *Feed {
	t.Helper()

	feed, err := NewFeed(FeedConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct feed: %v", err)
	}
	return feed
}

func mustMeditationID(t *testing.T, value string) MeditationID {
	t.Helper()
	id, err := NewMeditationID(value)
	if err != nil {
		t.Fatalf("unexpected meditation id error: %v", err)
	}
	return id
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func guestCommentRecord(id, content, visibility string, updatedAt int64) source.GuestComment {
	return source.GuestComment{
		ID:               id,
		ChurchID:         "church-1",
		GuestName:        "Ruth",
		Content:          content,
		BibleRange:       "Ps 23",
		Visibility:       visibility,
		IsAnonymous:      true,
		CreatedAtSeconds: 1700000000,
		UpdatedAtSeconds: updatedAt,
	}
}

func qtPostRecord(id, visibility string, updatedAt int64) source.QTPost {
	return source.QTPost{
		ID:               id,
		ChurchID:         "church-1",
		AuthorID:         "author-1",
		OneWord:          "grace",
		Answer:           "answer body",
		Gratitude:        "gratitude body",
		Prayer:           "prayer body",
		Review:           "review body",
		Visibility:       visibility,
		CreatedAtSeconds: 1700000000,
		UpdatedAtSeconds: updatedAt,
	}
}
