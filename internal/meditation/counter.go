package meditation

import (
	"context"
	"errors"
	"time"

	"github.com/bereanworks/selah/backend/internal/source"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrMeditationNotFound indicates an operation referenced a canonical id with
// no live backing row.
var ErrMeditationNotFound = errors.New("meditation: not found")

const (
	opReconcilerNew  = "meditation.reconciler.new"
	opRecountLikes   = "meditation.recount_likes"
	opRecountReplies = "meditation.recount_replies"
)

// ReconcilerConfig describes the dependencies of the counter reconciler.
type ReconcilerConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Reconciler owns the denormalized likes and replies counters on canonical
// rows and their mirrors on the legacy source rows. It always recomputes the
// count from the live like or reply rows and writes it back rather than
// incrementing in place, so replayed or reordered events converge to the
// correct value.
type Reconciler struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewReconciler validates the configuration and constructs a Reconciler.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opReconcilerNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Reconciler{db: cfg.Database, clock: clock, logger: logger}, nil
}

// RecountLikes recomputes likes_count for the canonical id from the live like
// rows and writes it back. The row lock serializes concurrent recounts on the
// same id.
func (r *Reconciler) RecountLikes(ctx context.Context, meditationID MeditationID) (int64, error) {
	var count int64
	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		count, err = recountLikesTx(tx, meditationID.String())
		return err
	})
	if txErr != nil {
		r.logger.Error("like recount failed",
			zap.String("operation", opRecountLikes),
			zap.String("meditation_id", meditationID.String()),
			zap.Error(txErr))
		return 0, txErr
	}
	return count, nil
}

// RecountReplies recomputes replies_count for the canonical id from the live
// reply rows and writes it back.
func (r *Reconciler) RecountReplies(ctx context.Context, meditationID MeditationID) (int64, error) {
	var count int64
	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		count, err = recountRepliesTx(tx, meditationID.String())
		return err
	})
	if txErr != nil {
		r.logger.Error("reply recount failed",
			zap.String("operation", opRecountReplies),
			zap.String("meditation_id", meditationID.String()),
			zap.Error(txErr))
		return 0, txErr
	}
	return count, nil
}

func recountLikesTx(tx *gorm.DB, meditationID string) (int64, error) {
	var row UnifiedMeditation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", meditationID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, newServiceError(opRecountLikes, "not_found", ErrMeditationNotFound)
	}
	if err != nil {
		return 0, newServiceError(opRecountLikes, "select_failed", err)
	}

	var count int64
	if err := tx.Model(&Like{}).Where("meditation_id = ?", meditationID).Count(&count).Error; err != nil {
		return 0, newServiceError(opRecountLikes, "count_failed", err)
	}
	if count != row.LikesCount {
		if err := tx.Model(&UnifiedMeditation{}).
			Where("id = ?", meditationID).
			Update("likes_count", count).Error; err != nil {
			return 0, newServiceError(opRecountLikes, "update_failed", err)
		}
	}
	if err := mirrorCounterTx(tx, row.LegacySourceType, row.LegacyID, "likes_count", count); err != nil {
		return 0, newServiceError(opRecountLikes, "mirror_failed", err)
	}
	return count, nil
}

func recountRepliesTx(tx *gorm.DB, meditationID string) (int64, error) {
	var row UnifiedMeditation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", meditationID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, newServiceError(opRecountReplies, "not_found", ErrMeditationNotFound)
	}
	if err != nil {
		return 0, newServiceError(opRecountReplies, "select_failed", err)
	}

	var count int64
	if err := tx.Model(&Reply{}).Where("meditation_id = ?", meditationID).Count(&count).Error; err != nil {
		return 0, newServiceError(opRecountReplies, "count_failed", err)
	}
	if count != row.RepliesCount {
		if err := tx.Model(&UnifiedMeditation{}).
			Where("id = ?", meditationID).
			Update("replies_count", count).Error; err != nil {
			return 0, newServiceError(opRecountReplies, "update_failed", err)
		}
	}
	if err := mirrorCounterTx(tx, row.LegacySourceType, row.LegacyID, "replies_count", count); err != nil {
		return 0, newServiceError(opRecountReplies, "mirror_failed", err)
	}
	return count, nil
}

// mirrorCounterTx pushes the recomputed counter back onto the legacy source
// row, which still carries its own denormalized copy for the old UI paths. A
// vanished source row is not an error; the canonical side stays authoritative.
func mirrorCounterTx(tx *gorm.DB, sourceType, legacyID, column string, count int64) error {
	var model interface{}
	switch source.Type(sourceType) {
	case source.TypeQTPost:
		model = &source.QTPost{}
	case source.TypeGuestComment:
		model = &source.GuestComment{}
	case source.TypeGroupComment:
		model = &source.GroupComment{}
	default:
		return nil
	}
	return tx.Model(model).Where("id = ?", legacyID).Update(column, count).Error
}
