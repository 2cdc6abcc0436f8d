package meditation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bereanworks/selah/backend/internal/source"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidMeditationID indicates a meditation identifier is empty or exceeds storage bounds.
	ErrInvalidMeditationID = errors.New("meditation: invalid meditation id")
	// ErrInvalidUserID indicates a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("meditation: invalid user id")
	// ErrInvalidVisibility indicates an unsupported visibility value.
	ErrInvalidVisibility = errors.New("meditation: invalid visibility")
)

// MeditationID represents a validated unified meditation identifier.
type MeditationID string

// NewMeditationID validates raw input and returns a MeditationID.
func NewMeditationID(rawInput string) (MeditationID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidMeditationID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidMeditationID, maxIdentifierLength)
	}
	return MeditationID(trimmed), nil
}

// String returns the underlying string identifier.
func (id MeditationID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Visibility controls who may see a unified meditation.
type Visibility string

const (
	// VisibilityPublic makes the row visible in the public feed.
	VisibilityPublic Visibility = "public"
	// VisibilityMembers restricts the row to the source church or group.
	VisibilityMembers Visibility = "members"
	// VisibilityPrivate restricts the row to its author.
	VisibilityPrivate Visibility = "private"
)

// ParseVisibility validates a raw visibility string.
func ParseVisibility(raw string) (Visibility, error) {
	switch Visibility(strings.ToLower(strings.TrimSpace(raw))) {
	case VisibilityPublic:
		return VisibilityPublic, nil
	case VisibilityMembers:
		return VisibilityMembers, nil
	case VisibilityPrivate:
		return VisibilityPrivate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVisibility, raw)
	}
}

// ContentType distinguishes free-text meditations from QT-shaped ones.
type ContentType string

const (
	// ContentTypeFreeText carries a single content body.
	ContentTypeFreeText ContentType = "free_text"
	// ContentTypeQT carries the structured quiet-time fields.
	ContentTypeQT ContentType = "qt"
)

// UnifiedMeditation is the canonical row every meditation-shaped source
// propagates into. (legacy_source_type, legacy_id) is the immutable join key
// back to the source row; no two canonical rows may share it. The likes and
// replies counters are owned by the counter reconciler and are never written
// by field propagation.
type UnifiedMeditation struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null;index:idx_meditations_feed,priority:2"`
	LegacySourceType string `gorm:"column:legacy_source_type;size:32;not null;uniqueIndex:idx_meditations_legacy,priority:1"`
	LegacyID         string `gorm:"column:legacy_id;size:190;not null;uniqueIndex:idx_meditations_legacy,priority:2"`
	SourceID         string `gorm:"column:source_id;size:190;index"`
	AuthorID         string `gorm:"column:author_id;size:190;index"`
	AuthorName       string `gorm:"column:author_name;size:320"`
	ContentType      string `gorm:"column:content_type;size:32;not null"`
	Content          string `gorm:"column:content;type:text"`
	BibleRange       string `gorm:"column:bible_range;size:190"`
	OneWord          string `gorm:"column:one_word;size:320"`
	Answer           string `gorm:"column:answer;type:text"`
	Gratitude        string `gorm:"column:gratitude;type:text"`
	Prayer           string `gorm:"column:prayer;type:text"`
	Review           string `gorm:"column:review;type:text"`
	Visibility       string `gorm:"column:visibility;size:32;not null"`
	IsAnonymous      bool   `gorm:"column:is_anonymous;not null;default:false"`
	LikesCount       int64  `gorm:"column:likes_count;not null;default:0"`
	RepliesCount     int64  `gorm:"column:replies_count;not null;default:0"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_meditations_feed,priority:1"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (UnifiedMeditation) TableName() string {
	return "unified_meditations"
}

// UnifiedReadingCheck is the canonical row a completed reading check
// propagates into. One canonical row exists per is_read source row.
type UnifiedReadingCheck struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	LegacySourceType string `gorm:"column:legacy_source_type;size:32;not null;uniqueIndex:idx_reading_checks_legacy,priority:1"`
	LegacyID         string `gorm:"column:legacy_id;size:190;not null;uniqueIndex:idx_reading_checks_legacy,priority:2"`
	UserID           string `gorm:"column:user_id;size:190;not null;index"`
	DayNumber        int    `gorm:"column:day_number;not null"`
	CheckedAtSeconds int64  `gorm:"column:checked_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (UnifiedReadingCheck) TableName() string {
	return "unified_reading_checks"
}

// Like attaches to a canonical meditation id only, never to a legacy id.
type Like struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	MeditationID     string `gorm:"column:meditation_id;size:190;not null;uniqueIndex:idx_likes_meditation_user,priority:1"`
	UserID           string `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_likes_meditation_user,priority:2"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Like) TableName() string {
	return "meditation_likes"
}

// Reply attaches to a canonical meditation id only.
type Reply struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	MeditationID     string `gorm:"column:meditation_id;size:190;not null;index"`
	AuthorID         string `gorm:"column:author_id;size:190;not null"`
	Content          string `gorm:"column:content;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Reply) TableName() string {
	return "meditation_replies"
}

// LegacyKey is the immutable join key between a canonical row and its source row.
type LegacyKey struct {
	SourceType source.Type
	LegacyID   string
}
