package meditation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bereanworks/selah/backend/internal/source"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingRecord     = errors.New("change event carries no record")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps a failure with an operation.reason code usable by callers
// and log pipelines.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

const (
	opPropagatorNew = "meditation.propagator.new"
	opApplyEvent    = "meditation.apply_event"
)

// IDProvider issues identifiers for canonical rows.
type IDProvider interface {
	NewID() (string, error)
}

// AuthorDirectory resolves a display name for an author identifier. Guest
// comments carry their own name; the other sources only carry an author id.
type AuthorDirectory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Action describes what a propagation event did to the canonical store.
type Action string

const (
	// ActionCreated means a canonical row was created on first sight of the source row.
	ActionCreated Action = "created"
	// ActionUpdated means the mapped fields were rewritten onto the existing canonical row.
	ActionUpdated Action = "updated"
	// ActionDeleted means the canonical row was tombstoned and its likes and replies removed.
	ActionDeleted Action = "deleted"
	// ActionSkippedStale means the event lost last-write-wins against the stored row.
	ActionSkippedStale Action = "skipped_stale"
	// ActionNoop means the event had nothing to change (replayed delete, unread check).
	ActionNoop Action = "noop"
)

// Outcome reports the result of applying one change event.
type Outcome struct {
	Action       Action
	Meditation   *UnifiedMeditation
	ReadingCheck *UnifiedReadingCheck
}

// PropagatorConfig describes the dependencies of the propagation layer.
type PropagatorConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Authors    AuthorDirectory
	Logger     *zap.Logger
}

// Propagator maps source table mutations into the canonical store. Apply is
// idempotent and safe under at-least-once delivery; events for the same legacy
// key are expected to arrive serialized, the row lock inside the transaction
// guards against local interleaving.
type Propagator struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	authors    AuthorDirectory
	logger     *zap.Logger
}

// NewPropagator validates the configuration and constructs a Propagator.
func NewPropagator(cfg PropagatorConfig) (*Propagator, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opPropagatorNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opPropagatorNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Propagator{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		authors:    cfg.Authors,
		logger:     logger,
	}, nil
}

// Apply propagates one source change event into the canonical store.
func (p *Propagator) Apply(ctx context.Context, event source.ChangeEvent) (Outcome, error) {
	if event.Record == nil {
		return Outcome{}, newServiceError(opApplyEvent, "missing_record", errMissingRecord)
	}

	sourceType := event.Record.SourceType()
	for _, checkType := range source.ReadingCheckTypes {
		if sourceType == checkType {
			return p.applyReadingCheck(ctx, event)
		}
	}
	return p.applyMeditation(ctx, event)
}

func (p *Propagator) applyMeditation(ctx context.Context, event source.ChangeEvent) (Outcome, error) {
	sourceType := event.Record.SourceType()
	legacyID := event.Record.LegacyID()

	if event.Operation == source.OperationDelete {
		return p.tombstoneMeditation(ctx, sourceType, legacyID)
	}

	mapped, err := mapRecord(event.Record)
	if err != nil {
		p.logError(opApplyEvent, "mapping_failed", err,
			zap.String("source_type", string(sourceType)),
			zap.String("legacy_id", legacyID))
		return Outcome{}, newServiceError(opApplyEvent, "mapping_failed", err)
	}

	if mapped.AuthorName == "" && mapped.AuthorID != "" && p.authors != nil {
		displayName, err := p.authors.DisplayName(ctx, mapped.AuthorID)
		if err != nil {
			p.logError(opApplyEvent, "author_lookup_failed", err,
				zap.String("author_id", mapped.AuthorID))
		} else {
			mapped.AuthorName = displayName
		}
	}

	var outcome Outcome
	txErr := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing UnifiedMeditation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("legacy_source_type = ? AND legacy_id = ?", string(sourceType), legacyID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			created, err := p.createMeditation(tx, sourceType, legacyID, mapped)
			if err != nil {
				return err
			}
			outcome = Outcome{Action: ActionCreated, Meditation: created}
			return nil
		}
		if err != nil {
			return newServiceError(opApplyEvent, "meditation_select_failed", err)
		}

		// Replayed or out-of-order events: last-write-wins on the source
		// row's updated-at, never an error. Equal timestamps accept the
		// event so a replay converges to the same row.
		if mapped.UpdatedAtSeconds < existing.UpdatedAtSeconds {
			copied := existing
			outcome = Outcome{Action: ActionSkippedStale, Meditation: &copied}
			return nil
		}

		mapped.applyTo(&existing)
		existing.IsDeleted = false
		if err := tx.Save(&existing).Error; err != nil {
			return newServiceError(opApplyEvent, "meditation_save_failed", err)
		}
		outcome = Outcome{Action: ActionUpdated, Meditation: &existing}
		return nil
	})
	if txErr != nil {
		p.logError(opApplyEvent, "transaction_failed", txErr,
			zap.String("source_type", string(sourceType)),
			zap.String("legacy_id", legacyID))
		return Outcome{}, txErr
	}

	p.logger.Debug("propagation applied",
		zap.String("source_type", string(sourceType)),
		zap.String("legacy_id", legacyID),
		zap.String("action", string(outcome.Action)))
	return outcome, nil
}

func (p *Propagator) createMeditation(tx *gorm.DB, sourceType source.Type, legacyID string, mapped mappedFields) (*UnifiedMeditation, error) {
	id, err := p.idProvider.NewID()
	if err != nil {
		return nil, newServiceError(opApplyEvent, "id_generation_failed", err)
	}

	createdAt := mapped.CreatedAtSeconds
	if createdAt <= 0 {
		createdAt = p.clock().UTC().Unix()
	}
	row := UnifiedMeditation{
		ID:               id,
		LegacySourceType: string(sourceType),
		LegacyID:         legacyID,
		CreatedAtSeconds: createdAt,
	}
	mapped.applyTo(&row)
	if row.UpdatedAtSeconds <= 0 {
		row.UpdatedAtSeconds = createdAt
	}

	if err := tx.Create(&row).Error; err != nil {
		return nil, newServiceError(opApplyEvent, "meditation_create_failed", err)
	}
	return &row, nil
}

func (p *Propagator) tombstoneMeditation(ctx context.Context, sourceType source.Type, legacyID string) (Outcome, error) {
	var outcome Outcome
	txErr := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing UnifiedMeditation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("legacy_source_type = ? AND legacy_id = ?", string(sourceType), legacyID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = Outcome{Action: ActionNoop}
			return nil
		}
		if err != nil {
			return newServiceError(opApplyEvent, "meditation_select_failed", err)
		}

		if err := tx.Where("meditation_id = ?", existing.ID).Delete(&Like{}).Error; err != nil {
			return newServiceError(opApplyEvent, "like_cascade_failed", err)
		}
		if err := tx.Where("meditation_id = ?", existing.ID).Delete(&Reply{}).Error; err != nil {
			return newServiceError(opApplyEvent, "reply_cascade_failed", err)
		}

		existing.IsDeleted = true
		existing.LikesCount = 0
		existing.RepliesCount = 0
		existing.UpdatedAtSeconds = p.clock().UTC().Unix()
		if err := tx.Save(&existing).Error; err != nil {
			return newServiceError(opApplyEvent, "meditation_save_failed", err)
		}
		outcome = Outcome{Action: ActionDeleted, Meditation: &existing}
		return nil
	})
	if txErr != nil {
		p.logError(opApplyEvent, "transaction_failed", txErr,
			zap.String("source_type", string(sourceType)),
			zap.String("legacy_id", legacyID))
		return Outcome{}, txErr
	}
	return outcome, nil
}

func (p *Propagator) applyReadingCheck(ctx context.Context, event source.ChangeEvent) (Outcome, error) {
	sourceType := event.Record.SourceType()
	legacyID := event.Record.LegacyID()

	var userID string
	var dayNumber int
	var checkedAt int64
	var isRead bool
	switch row := event.Record.(type) {
	case source.DailyCheck:
		userID, dayNumber, checkedAt, isRead = row.UserID, row.DayNumber, row.CheckedAtSeconds, row.IsRead
	case source.ChurchReadingCheck:
		userID, dayNumber, checkedAt, isRead = row.UserID, row.DayNumber, row.CheckedAtSeconds, row.IsRead
	default:
		err := fmt.Errorf("%w: %s event carried %T", ErrMappingFailed, sourceType, event.Record)
		p.logError(opApplyEvent, "mapping_failed", err)
		return Outcome{}, newServiceError(opApplyEvent, "mapping_failed", err)
	}

	// A canonical reading check exists exactly for is_read source rows, so an
	// unread update and a delete take the same path.
	if event.Operation == source.OperationDelete || !isRead {
		result := p.db.WithContext(ctx).
			Where("legacy_source_type = ? AND legacy_id = ?", string(sourceType), legacyID).
			Delete(&UnifiedReadingCheck{})
		if result.Error != nil {
			p.logError(opApplyEvent, "reading_check_delete_failed", result.Error,
				zap.String("source_type", string(sourceType)),
				zap.String("legacy_id", legacyID))
			return Outcome{}, newServiceError(opApplyEvent, "reading_check_delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return Outcome{Action: ActionNoop}, nil
		}
		return Outcome{Action: ActionDeleted}, nil
	}

	if strings.TrimSpace(userID) == "" {
		err := fmt.Errorf("%w: %s row %s missing user_id", ErrMappingFailed, sourceType, legacyID)
		p.logError(opApplyEvent, "mapping_failed", err)
		return Outcome{}, newServiceError(opApplyEvent, "mapping_failed", err)
	}

	var outcome Outcome
	txErr := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing UnifiedReadingCheck
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("legacy_source_type = ? AND legacy_id = ?", string(sourceType), legacyID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			id, err := p.idProvider.NewID()
			if err != nil {
				return newServiceError(opApplyEvent, "id_generation_failed", err)
			}
			if checkedAt <= 0 {
				checkedAt = p.clock().UTC().Unix()
			}
			row := UnifiedReadingCheck{
				ID:               id,
				LegacySourceType: string(sourceType),
				LegacyID:         legacyID,
				UserID:           userID,
				DayNumber:        dayNumber,
				CheckedAtSeconds: checkedAt,
			}
			if err := tx.Create(&row).Error; err != nil {
				return newServiceError(opApplyEvent, "reading_check_create_failed", err)
			}
			outcome = Outcome{Action: ActionCreated, ReadingCheck: &row}
			return nil
		}
		if err != nil {
			return newServiceError(opApplyEvent, "reading_check_select_failed", err)
		}

		existing.UserID = userID
		existing.DayNumber = dayNumber
		if checkedAt > 0 {
			existing.CheckedAtSeconds = checkedAt
		}
		if err := tx.Save(&existing).Error; err != nil {
			return newServiceError(opApplyEvent, "reading_check_save_failed", err)
		}
		outcome = Outcome{Action: ActionUpdated, ReadingCheck: &existing}
		return nil
	})
	if txErr != nil {
		p.logError(opApplyEvent, "transaction_failed", txErr,
			zap.String("source_type", string(sourceType)),
			zap.String("legacy_id", legacyID))
		return Outcome{}, txErr
	}
	return outcome, nil
}

func (p *Propagator) loggerOrDefault() *zap.Logger {
	if p == nil || p.logger == nil {
		return noOpLogger
	}
	return p.logger
}

func (p *Propagator) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	p.loggerOrDefault().Error("meditation propagation error", attrs...)
}
