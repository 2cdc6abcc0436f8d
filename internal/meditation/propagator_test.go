package meditation

import (
	"context"
	"errors"
	"testing"

	"github.com/bereanworks/selah/backend/internal/source"
)

func TestApplyInsertCreatesCanonicalRow(t *testing.T) {
	db := newTestDB(t)
	propagator := newTestPropagator(t, db)

	outcome, err := propagator.Apply(context.Background(), source.ChangeEvent{
		Operation: source.OperationInsert,
		Record:    guestCommentRecord("g1", "grace", "public", 1700000100),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Action != ActionCreated {
		t.Fatalf("expected created action, got %s", outcome.Action)
	}

	var stored UnifiedMeditation
	if err := db.Where("legacy_source_type = ? AND legacy_id = ?", "guest_comments", "g1").
		Take(&stored).Error; err != nil {
		t.Fatalf("failed to load canonical row: %v", err)
	}
	if stored.Content != "grace" {
		t.Fatalf("unexpected content: %q", stored.Content)
	}
	if stored.Visibility != "public" {
		t.Fatalf("unexpected visibility: %q", stored.Visibility)
	}
	if stored.LikesCount != 0 || stored.RepliesCount != 0 {
		t.Fatalf("counters must start at zero: %+v", stored)
	}
	if stored.CreatedAtSeconds != 1700000000 {
		t.Fatalf("created at should mirror the source row, got %d", stored.CreatedAtSeconds)
	}
}

func TestApplyIsIdempotentOnReplay(t *testing.T) {
	db := newTestDB(t)
	propagator := newTestPropagator(t, db)
	event := source.ChangeEvent{
		Operation: source.OperationInsert,
		Record:    guestCommentRecord("g1", "grace", "public", 1700000100),
	}

	if _, err := propagator.Apply(context.Background(), event); err != nil {
		t.Fatalf("unexpected error on first apply: %v", err)
	}
	var first UnifiedMeditation
	if err := db.Where("legacy_id = ?", "g1").Take(&first).Error; err != nil {
		t.Fatalf("failed to load row: %v", err)
	}

	outcome, err := propagator.Apply(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if outcome.Action != ActionUpdated {
		t.Fatalf("replayed insert should fall through to update, got %s", outcome.Action)
	}

	var count int64
	if err := db.Model(&UnifiedMeditation{}).Where("legacy_id = ?", "g1").Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("replay must never duplicate the canonical row, found %d", count)
	}

	var second UnifiedMeditation
	if err := db.Where("legacy_id = ?", "g1").Take(&second).Error; err != nil {
		t.Fatalf("failed to reload row: %v", err)
	}
	if first != second {
		t.Fatalf("replay changed the row:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestApplyUpdateRemapsFieldsWithoutTouchingCounters(t *testing.T) {
	db := newTestDB(t)
	propagator := newTestPropagator(t, db)

	if _, err := propagator.Apply(context.Background(), source.ChangeEvent{
		Operation: source.OperationInsert,
		Record:    guestCommentRecord("g1", "grace", "public", 1700000100),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := db.Model(&UnifiedMeditation{}).Where("legacy_id = ?", "g1").
		Update("likes_count", 7).Error; err != nil {
		t.Fatalf("failed to seed counter: %v", err)
	}

	outcome, err := propagator.Apply(context.Background(), source.ChangeEvent{
		Operation: source.OperationUpdate,
		Record:    guestCommentRecord("g1", "grace", "private", 1700000200),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Action != ActionUpdated {
		t.Fatalf("expected updated action, got %s", outcome.Action)
	}

	var stored UnifiedMeditation
	if err := db.Where("legacy_id = ?", "g1").Take(&stored).Error; err != nil {
		t.Fatalf("failed to load row: %v", err)
	}
	if stored.Visibility != "private" {
		t.Fatalf("visibility should follow the source, got %q", stored.Visibility)
	}
	if stored.LikesCount != 7 {
		t.Fatalf("propagation must not touch counters, got %d", stored.LikesCount)
	}
}

func TestApplySkipsStaleOutOfOrderUpdate(t *testing.T) {
	db := newTestDB(t)
	propagator := newTestPropagator(t, db)

	if _, err := propagator.Apply(context.Background(), source.ChangeEvent{
		Operation: source.OperationInsert,
		Record:    guestCommentRecord("g1", "newer body", "public", 1700000300),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, err := propagator.Apply(context.Background(), source.ChangeEvent{
		Operation: source.OperationUpdate,
		Record:    guestCommentRecord("g1", "older body", "private", 1700000200),
	})
	if err != nil {
		t.Fatalf("out of order events resolve by last write wins, never error: %v", err)
	}
	if outcome.Action != ActionSkippedStale {
		t.Fatalf("expected stale skip, got %s", outcome.Action)
	}

	var stored UnifiedMeditation
	if err := db.Where("legacy_id = ?", "g1").Take(&stored).Error; err != nil {
		t.Fatalf("failed to load row: %v", err)
	}
	if stored.Content != "newer body" || stored.Visibility != "public" {
		t.Fatalf("stale event must not overwrite newer data: %+v", stored)
	}
}

func TestApplyDeleteTombstonesAndCascades(t *testing.T) {
	db := newTestDB(t)
	propagator := newTestPropagator(t, db)

	if _, err := propagator.Apply(context.Background(), source.ChangeEvent{
		Operation: source.OperationInsert,
		Record:    guestCommentRecord("g1", "grace", "public", 1700000100),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var stored UnifiedMeditation
	if err := db.Where("legacy_id = ?", "g1").Take(&stored).Error; err != nil {
		t.Fatalf("failed to load row: %v", err)
	}
	seedRows := []interface{}{
		&Like{ID: "like-1", MeditationID: stored.ID, UserID: "user-1", CreatedAtSeconds: 1700000200},
		&Like{ID: "like-2", MeditationID: stored.ID, UserID: "user-2", CreatedAtSeconds: 1700000201},
		&Reply{ID: "reply-1", MeditationID: stored.ID, AuthorID: "user-3", Content: "amen", CreatedAtSeconds: 1700000202},
	}
	for _, row := range seedRows {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("failed to seed attachment: %v", err)
		}
	}

	outcome, err := propagator.Apply(context.Background(), source.ChangeEvent{
		Operation: source.OperationDelete,
		Record:    source.GuestComment{ID: "g1", UpdatedAtSeconds: 1700000300},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Action != ActionDeleted {
		t.Fatalf("expected deleted action, got %s", outcome.Action)
	}

	var reloaded UnifiedMeditation
	if err := db.Where("legacy_id = ?", "g1").Take(&reloaded).Error; err != nil {
		t.Fatalf("failed to reload row: %v", err)
	}
	if !reloaded.IsDeleted {
		t.Fatalf("expected tombstone")
	}
	if reloaded.LikesCount != 0 || reloaded.RepliesCount != 0 {
		t.Fatalf("tombstone must zero counters: %+v", reloaded)
	}
	var likeCount, replyCount int64
	if err := db.Model(&Like{}).Where("meditation_id = ?", stored.ID).Count(&likeCount).Error; err != nil {
		t.Fatalf("failed to count likes: %v", err)
	}
	if err := db.Model(&Reply{}).Where("meditation_id = ?", stored.ID).Count(&replyCount).Error; err != nil {
		t.Fatalf("failed to count replies: %v", err)
	}
	if likeCount != 0 || replyCount != 0 {
		t.Fatalf("cascade should remove attachments, likes=%d replies=%d", likeCount, replyCount)
	}

	// replayed delete is a no-op, not an error
	replay, err := propagator.Apply(context.Background(), source.ChangeEvent{
		Operation: source.OperationDelete,
		Record:    source.GuestComment{ID: "g1", UpdatedAtSeconds: 1700000300},
	})
	if err != nil {
		t.Fatalf("unexpected error on delete replay: %v", err)
	}
	if replay.Action != ActionDeleted {
		t.Fatalf("tombstoned row stays deletable, got %s", replay.Action)
	}
}

func TestApplyMalformedRowReportsMappingError(t *testing.T) {
	db := newTestDB(t)
	propagator := newTestPropagator(t, db)

	_, err := propagator.Apply(context.Background(), source.ChangeEvent{
		Operation: source.OperationInsert,
		Record:    source.GuestComment{ID: "g1", ChurchID: "church-1", Visibility: "public"},
	})
	if !errors.Is(err, ErrMappingFailed) {
		t.Fatalf("expected mapping failure for missing content, got %v", err)
	}

	var count int64
	if err := db.Model(&UnifiedMeditation{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 0 {
		t.Fatalf("malformed events must not create rows, found %d", count)
	}
}

func TestApplyReadingCheckLifecycle(t *testing.T) {
	db := newTestDB(t)
	propagator := newTestPropagator(t, db)
	checked := source.DailyCheck{
		ID: "d1", UserID: "user-1", DayNumber: 12, IsRead: true,
		CheckedAtSeconds: 1700000100, UpdatedAtSeconds: 1700000100,
	}

	outcome, err := propagator.Apply(context.Background(), source.ChangeEvent{
		Operation: source.OperationInsert,
		Record:    checked,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Action != ActionCreated {
		t.Fatalf("expected created action, got %s", outcome.Action)
	}
	if outcome.ReadingCheck == nil || outcome.ReadingCheck.DayNumber != 12 {
		t.Fatalf("unexpected reading check outcome: %+v", outcome.ReadingCheck)
	}

	// replayed insert updates in place
	replay, err := propagator.Apply(context.Background(), source.ChangeEvent{
		Operation: source.OperationInsert,
		Record:    checked,
	})
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if replay.Action != ActionUpdated {
		t.Fatalf("expected updated action on replay, got %s", replay.Action)
	}
	var count int64
	if err := db.Model(&UnifiedReadingCheck{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("replay must not duplicate reading checks, found %d", count)
	}

	// unchecking removes the canonical row
	unchecked := checked
	unchecked.IsRead = false
	unchecked.UpdatedAtSeconds = 1700000200
	outcome, err = propagator.Apply(context.Background(), source.ChangeEvent{
		Operation: source.OperationUpdate,
		Record:    unchecked,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Action != ActionDeleted {
		t.Fatalf("expected deleted action for unread update, got %s", outcome.Action)
	}
	if err := db.Model(&UnifiedReadingCheck{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 0 {
		t.Fatalf("unread source rows must have no canonical row, found %d", count)
	}
}

func TestApplyQTPostRoundTrip(t *testing.T) {
	db := newTestDB(t)
	propagator := newTestPropagator(t, db)

	if _, err := propagator.Apply(context.Background(), source.ChangeEvent{
		Operation: source.OperationInsert,
		Record:    qtPostRecord("q1", "members", 1700000100),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored UnifiedMeditation
	if err := db.Where("legacy_source_type = ? AND legacy_id = ?", "qt_posts", "q1").
		Take(&stored).Error; err != nil {
		t.Fatalf("failed to load row: %v", err)
	}
	if stored.ContentType != string(ContentTypeQT) {
		t.Fatalf("unexpected content type: %q", stored.ContentType)
	}
	if stored.OneWord != "grace" || stored.Prayer != "prayer body" {
		t.Fatalf("qt fields missing: %+v", stored)
	}
	if stored.SourceID != "church-1" {
		t.Fatalf("unexpected source id: %q", stored.SourceID)
	}
}
