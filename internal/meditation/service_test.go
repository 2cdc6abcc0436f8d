package meditation

import (
	"context"
	"errors"
	"testing"

	"github.com/bereanworks/selah/backend/internal/source"
)

func TestGetByLegacyKeyResolvesLiveRow(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	seedMeditation(t, db, "med-1")

	row, err := service.GetByLegacyKey(context.Background(), source.TypeGuestComment, "legacy-med-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.ID != "med-1" {
		t.Fatalf("unexpected row id %q", row.ID)
	}
}

func TestGetByLegacyKeyHidesTombstones(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	seedMeditation(t, db, "med-1")
	if err := db.Model(&UnifiedMeditation{}).Where("id = ?", "med-1").
		Update("is_deleted", true).Error; err != nil {
		t.Fatalf("failed to tombstone row: %v", err)
	}

	_, err := service.GetByLegacyKey(context.Background(), source.TypeGuestComment, "legacy-med-1")
	if !errors.Is(err, ErrMeditationNotFound) {
		t.Fatalf("expected not-found for tombstoned row, got %v", err)
	}
}

func TestToggleLikeRejectsUnknownAndDeletedRows(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	seedMeditation(t, db, "med-1")
	if err := db.Model(&UnifiedMeditation{}).Where("id = ?", "med-1").
		Update("is_deleted", true).Error; err != nil {
		t.Fatalf("failed to tombstone row: %v", err)
	}

	if _, err := service.ToggleLike(context.Background(), mustMeditationID(t, "missing"), mustUserID(t, "user-1")); !errors.Is(err, ErrMeditationNotFound) {
		t.Fatalf("expected not-found for unknown id, got %v", err)
	}
	if _, err := service.ToggleLike(context.Background(), mustMeditationID(t, "med-1"), mustUserID(t, "user-1")); !errors.Is(err, ErrMeditationNotFound) {
		t.Fatalf("expected not-found for tombstoned id, got %v", err)
	}
}

func TestAddReplyUpdatesCounter(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	seedMeditation(t, db, "med-1")
	meditationID := mustMeditationID(t, "med-1")
	authorID := mustUserID(t, "user-1")

	reply, count, err := service.AddReply(context.Background(), meditationID, authorID, "amen")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected reply count 1, got %d", count)
	}
	if reply.ID == "" || reply.Content != "amen" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	_, count, err = service.AddReply(context.Background(), meditationID, authorID, "again")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected reply count 2, got %d", count)
	}

	var stored UnifiedMeditation
	if err := db.Where("id = ?", "med-1").Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload meditation: %v", err)
	}
	if stored.RepliesCount != 2 {
		t.Fatalf("stored counter should track replies, got %d", stored.RepliesCount)
	}
}

func TestAddReplyRejectsEmptyContent(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	seedMeditation(t, db, "med-1")

	_, _, err := service.AddReply(context.Background(), mustMeditationID(t, "med-1"), mustUserID(t, "user-1"), "   ")
	if err == nil {
		t.Fatalf("expected error for blank reply")
	}
}

func TestDeleteReply(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	seedMeditation(t, db, "med-1")
	meditationID := mustMeditationID(t, "med-1")

	reply, _, err := service.AddReply(context.Background(), meditationID, mustUserID(t, "user-1"), "amen")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count, err := service.DeleteReply(context.Background(), reply.ID, mustUserID(t, "user-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected reply count 0 after delete, got %d", count)
	}

	if _, err := service.DeleteReply(context.Background(), reply.ID, mustUserID(t, "user-1")); !errors.Is(err, ErrReplyNotFound) {
		t.Fatalf("expected reply not-found on second delete, got %v", err)
	}
}

func TestSoftDeleteTombstonesAndCascades(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	seedMeditation(t, db, "med-1")
	meditationID := mustMeditationID(t, "med-1")

	if _, err := service.ToggleLike(context.Background(), meditationID, mustUserID(t, "user-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := service.AddReply(context.Background(), meditationID, mustUserID(t, "user-2"), "amen"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := service.SoftDelete(context.Background(), meditationID, mustUserID(t, "admin-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored UnifiedMeditation
	if err := db.Where("id = ?", "med-1").Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload meditation: %v", err)
	}
	if !stored.IsDeleted || stored.LikesCount != 0 || stored.RepliesCount != 0 {
		t.Fatalf("expected zeroed tombstone, got %+v", stored)
	}
	var attachments int64
	if err := db.Model(&Like{}).Where("meditation_id = ?", "med-1").Count(&attachments).Error; err != nil {
		t.Fatalf("failed to count likes: %v", err)
	}
	if attachments != 0 {
		t.Fatalf("likes should cascade, found %d", attachments)
	}

	if err := service.SoftDelete(context.Background(), meditationID, mustUserID(t, "admin-1")); !errors.Is(err, ErrMeditationNotFound) {
		t.Fatalf("expected not-found on repeated soft delete, got %v", err)
	}
}

func TestServiceErrorCarriesOperationCode(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)

	_, err := service.ToggleLike(context.Background(), mustMeditationID(t, "missing"), mustUserID(t, "user-1"))
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected service error, got %T", err)
	}
	if serviceErr.Code() != "meditation.toggle_like.not_found" {
		t.Fatalf("unexpected code %q", serviceErr.Code())
	}
}
