package meditation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bereanworks/selah/backend/internal/source"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew     = "meditation.service.new"
	opGetByLegacyKey = "meditation.get_by_legacy_key"
	opToggleLike     = "meditation.toggle_like"
	opAddReply       = "meditation.add_reply"
	opDeleteReply    = "meditation.delete_reply"
	opSoftDelete     = "meditation.soft_delete"
)

var (
	errMissingRequester = errors.New("requester identifier is required")
	errEmptyReply       = errors.New("reply content is required")
	// ErrReplyNotFound indicates a reply operation referenced an unknown reply id.
	ErrReplyNotFound = errors.New("meditation: reply not found")
)

// ServiceConfig describes the dependencies of the read/write API service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service exposes the canonical store to UI collaborators: legacy-key lookup,
// like toggling, replies and soft deletion. Authorization happens in the
// collaborator layer before these are invoked.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// GetByLegacyKey resolves the canonical row for a source row's join key.
func (s *Service) GetByLegacyKey(ctx context.Context, sourceType source.Type, legacyID string) (*UnifiedMeditation, error) {
	var row UnifiedMeditation
	err := s.db.WithContext(ctx).
		Where("legacy_source_type = ? AND legacy_id = ? AND is_deleted = ?", string(sourceType), legacyID, false).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opGetByLegacyKey, "not_found", ErrMeditationNotFound)
	}
	if err != nil {
		s.logError(opGetByLegacyKey, "query_failed", err,
			zap.String("source_type", string(sourceType)),
			zap.String("legacy_id", legacyID))
		return nil, newServiceError(opGetByLegacyKey, "query_failed", err)
	}
	return &row, nil
}

// ToggleLike creates or removes the caller's like row and returns the
// recomputed count. The meditation row lock serializes concurrent toggles on
// the same canonical id.
func (s *Service) ToggleLike(ctx context.Context, meditationID MeditationID, userID UserID) (int64, error) {
	var newCount int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row UnifiedMeditation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND is_deleted = ?", meditationID.String(), false).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opToggleLike, "not_found", ErrMeditationNotFound)
		}
		if err != nil {
			return newServiceError(opToggleLike, "select_failed", err)
		}

		var existing Like
		err = tx.Where("meditation_id = ? AND user_id = ?", meditationID.String(), userID.String()).
			Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			likeID, err := s.idProvider.NewID()
			if err != nil {
				return newServiceError(opToggleLike, "id_generation_failed", err)
			}
			like := Like{
				ID:               likeID,
				MeditationID:     meditationID.String(),
				UserID:           userID.String(),
				CreatedAtSeconds: s.clock().UTC().Unix(),
			}
			if err := tx.Create(&like).Error; err != nil {
				return newServiceError(opToggleLike, "like_create_failed", err)
			}
		case err != nil:
			return newServiceError(opToggleLike, "like_select_failed", err)
		default:
			if err := tx.Delete(&existing).Error; err != nil {
				return newServiceError(opToggleLike, "like_delete_failed", err)
			}
		}

		newCount, err = recountLikesTx(tx, meditationID.String())
		return err
	})
	if txErr != nil {
		s.logError(opToggleLike, "transaction_failed", txErr,
			zap.String("meditation_id", meditationID.String()),
			zap.String("user_id", userID.String()))
		return 0, txErr
	}
	return newCount, nil
}

// AddReply attaches a reply to a canonical id and returns the reply plus the
// recomputed reply count.
func (s *Service) AddReply(ctx context.Context, meditationID MeditationID, authorID UserID, content string) (*Reply, int64, error) {
	if strings.TrimSpace(content) == "" {
		return nil, 0, newServiceError(opAddReply, "empty_content", errEmptyReply)
	}

	var reply Reply
	var newCount int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row UnifiedMeditation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND is_deleted = ?", meditationID.String(), false).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opAddReply, "not_found", ErrMeditationNotFound)
		}
		if err != nil {
			return newServiceError(opAddReply, "select_failed", err)
		}

		replyID, err := s.idProvider.NewID()
		if err != nil {
			return newServiceError(opAddReply, "id_generation_failed", err)
		}
		reply = Reply{
			ID:               replyID,
			MeditationID:     meditationID.String(),
			AuthorID:         authorID.String(),
			Content:          content,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := tx.Create(&reply).Error; err != nil {
			return newServiceError(opAddReply, "reply_create_failed", err)
		}

		newCount, err = recountRepliesTx(tx, meditationID.String())
		return err
	})
	if txErr != nil {
		s.logError(opAddReply, "transaction_failed", txErr,
			zap.String("meditation_id", meditationID.String()))
		return nil, 0, txErr
	}
	return &reply, newCount, nil
}

// DeleteReply removes a reply row and returns the recomputed reply count of
// its meditation.
func (s *Service) DeleteReply(ctx context.Context, replyID string, requesterID UserID) (int64, error) {
	if strings.TrimSpace(requesterID.String()) == "" {
		return 0, newServiceError(opDeleteReply, "missing_requester", errMissingRequester)
	}

	var newCount int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reply Reply
		err := tx.Where("id = ?", replyID).Take(&reply).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opDeleteReply, "not_found", ErrReplyNotFound)
		}
		if err != nil {
			return newServiceError(opDeleteReply, "select_failed", err)
		}

		if err := tx.Delete(&reply).Error; err != nil {
			return newServiceError(opDeleteReply, "reply_delete_failed", err)
		}

		newCount, err = recountRepliesTx(tx, reply.MeditationID)
		return err
	})
	if txErr != nil {
		s.logError(opDeleteReply, "transaction_failed", txErr, zap.String("reply_id", replyID))
		return 0, txErr
	}
	return newCount, nil
}

// SoftDelete tombstones a canonical row on behalf of its author or an admin.
// The collaborator layer authorizes the requester before calling; the
// requester id is kept for the log trail.
func (s *Service) SoftDelete(ctx context.Context, meditationID MeditationID, requesterID UserID) error {
	if strings.TrimSpace(requesterID.String()) == "" {
		return newServiceError(opSoftDelete, "missing_requester", errMissingRequester)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row UnifiedMeditation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND is_deleted = ?", meditationID.String(), false).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opSoftDelete, "not_found", ErrMeditationNotFound)
		}
		if err != nil {
			return newServiceError(opSoftDelete, "select_failed", err)
		}

		if err := tx.Where("meditation_id = ?", row.ID).Delete(&Like{}).Error; err != nil {
			return newServiceError(opSoftDelete, "like_cascade_failed", err)
		}
		if err := tx.Where("meditation_id = ?", row.ID).Delete(&Reply{}).Error; err != nil {
			return newServiceError(opSoftDelete, "reply_cascade_failed", err)
		}

		row.IsDeleted = true
		row.LikesCount = 0
		row.RepliesCount = 0
		row.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(&row).Error; err != nil {
			return newServiceError(opSoftDelete, "save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opSoftDelete, "transaction_failed", txErr,
			zap.String("meditation_id", meditationID.String()),
			zap.String("requester_id", requesterID.String()))
		return txErr
	}

	s.logger.Info("meditation soft deleted",
		zap.String("meditation_id", meditationID.String()),
		zap.String("requester_id", requesterID.String()))
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("meditation service error", attrs...)
}
