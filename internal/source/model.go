package source

import (
	"errors"
	"fmt"
	"strings"
)

// Type identifies one of the legacy content tables that feed the unified store.
type Type string

const (
	// TypeQTPost is the per-church quiet-time post table.
	TypeQTPost Type = "qt_posts"
	// TypeGuestComment is the anonymous guest comment table.
	TypeGuestComment Type = "guest_comments"
	// TypeGroupComment is the per-group discussion comment table.
	TypeGroupComment Type = "group_comments"
	// TypeDailyCheck is the personal daily reading check table.
	TypeDailyCheck Type = "daily_checks"
	// TypeChurchReadingCheck is the per-church reading check table.
	TypeChurchReadingCheck Type = "church_reading_checks"
)

// MeditationTypes lists the source tables that map into unified meditations.
var MeditationTypes = []Type{TypeQTPost, TypeGuestComment, TypeGroupComment}

// ReadingCheckTypes lists the source tables that map into unified reading checks.
var ReadingCheckTypes = []Type{TypeDailyCheck, TypeChurchReadingCheck}

// Operation enumerates mutations observed on a source table.
type Operation string

const (
	// OperationInsert signals a newly created source row.
	OperationInsert Operation = "insert"
	// OperationUpdate signals an edit of an existing source row.
	OperationUpdate Operation = "update"
	// OperationDelete signals removal of a source row.
	OperationDelete Operation = "delete"
)

// ErrUnknownSourceType indicates an event referenced a table the sync layer does not know.
var ErrUnknownSourceType = errors.New("source: unknown source type")

// ErrUnknownOperation indicates an event carried an unsupported operation.
var ErrUnknownOperation = errors.New("source: unknown operation")

// ParseType validates a raw source type string.
func ParseType(raw string) (Type, error) {
	switch Type(strings.TrimSpace(raw)) {
	case TypeQTPost:
		return TypeQTPost, nil
	case TypeGuestComment:
		return TypeGuestComment, nil
	case TypeGroupComment:
		return TypeGroupComment, nil
	case TypeDailyCheck:
		return TypeDailyCheck, nil
	case TypeChurchReadingCheck:
		return TypeChurchReadingCheck, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSourceType, raw)
	}
}

// ParseOperation validates a raw operation string.
func ParseOperation(raw string) (Operation, error) {
	switch Operation(strings.ToLower(strings.TrimSpace(raw))) {
	case OperationInsert:
		return OperationInsert, nil
	case OperationUpdate:
		return OperationUpdate, nil
	case OperationDelete:
		return OperationDelete, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, raw)
	}
}

// Record is the tagged union over the legacy row shapes. Each legacy model
// reports the identifiers the propagation layer keys on; field mapping happens
// per concrete type.
type Record interface {
	SourceType() Type
	LegacyID() string
	RowUpdatedAtSeconds() int64
}

// ChangeEvent is the write trigger input: one event per mutating operation on a
// source table. Delivery order within a single legacy key is guaranteed by the
// upstream mechanism, across keys it is not.
type ChangeEvent struct {
	Operation Operation
	Record    Record
}

// QTPost is the legacy per-church quiet-time post row.
type QTPost struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	ChurchID         string `gorm:"column:church_id;size:190;not null;index"`
	AuthorID         string `gorm:"column:author_id;size:190;not null"`
	OneWord          string `gorm:"column:one_word;size:320"`
	Answer           string `gorm:"column:answer;type:text"`
	Gratitude        string `gorm:"column:gratitude;type:text"`
	Prayer           string `gorm:"column:prayer;type:text"`
	Review           string `gorm:"column:review;type:text"`
	Visibility       string `gorm:"column:visibility;size:32;not null;default:'public'"`
	IsAnonymous      bool   `gorm:"column:is_anonymous;not null;default:false"`
	LikesCount       int64  `gorm:"column:likes_count;not null;default:0"`
	RepliesCount     int64  `gorm:"column:replies_count;not null;default:0"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (QTPost) TableName() string {
	return "qt_posts"
}

// SourceType reports the legacy table this row belongs to.
func (QTPost) SourceType() Type { return TypeQTPost }

// LegacyID reports the row identifier within the source table's key space.
func (p QTPost) LegacyID() string { return p.ID }

// RowUpdatedAtSeconds reports the source row's last modification time.
func (p QTPost) RowUpdatedAtSeconds() int64 { return p.UpdatedAtSeconds }

// GuestComment is the legacy anonymous guest comment row.
type GuestComment struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	ChurchID         string `gorm:"column:church_id;size:190;not null;index"`
	GuestName        string `gorm:"column:guest_name;size:190"`
	Content          string `gorm:"column:content;type:text;not null"`
	BibleRange       string `gorm:"column:bible_range;size:190"`
	Visibility       string `gorm:"column:visibility;size:32;not null;default:'public'"`
	IsAnonymous      bool   `gorm:"column:is_anonymous;not null;default:true"`
	LikesCount       int64  `gorm:"column:likes_count;not null;default:0"`
	RepliesCount     int64  `gorm:"column:replies_count;not null;default:0"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (GuestComment) TableName() string {
	return "guest_comments"
}

// SourceType reports the legacy table this row belongs to.
func (GuestComment) SourceType() Type { return TypeGuestComment }

// LegacyID reports the row identifier within the source table's key space.
func (c GuestComment) LegacyID() string { return c.ID }

// RowUpdatedAtSeconds reports the source row's last modification time.
func (c GuestComment) RowUpdatedAtSeconds() int64 { return c.UpdatedAtSeconds }

// GroupComment is the legacy per-group discussion comment row.
type GroupComment struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	GroupID          string `gorm:"column:group_id;size:190;not null;index"`
	AuthorID         string `gorm:"column:author_id;size:190;not null"`
	Content          string `gorm:"column:content;type:text;not null"`
	BibleRange       string `gorm:"column:bible_range;size:190"`
	Visibility       string `gorm:"column:visibility;size:32;not null;default:'public'"`
	IsAnonymous      bool   `gorm:"column:is_anonymous;not null;default:false"`
	LikesCount       int64  `gorm:"column:likes_count;not null;default:0"`
	RepliesCount     int64  `gorm:"column:replies_count;not null;default:0"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (GroupComment) TableName() string {
	return "group_comments"
}

// SourceType reports the legacy table this row belongs to.
func (GroupComment) SourceType() Type { return TypeGroupComment }

// LegacyID reports the row identifier within the source table's key space.
func (c GroupComment) LegacyID() string { return c.ID }

// RowUpdatedAtSeconds reports the source row's last modification time.
func (c GroupComment) RowUpdatedAtSeconds() int64 { return c.UpdatedAtSeconds }

// DailyCheck is the legacy personal reading check row.
type DailyCheck struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;index"`
	DayNumber        int    `gorm:"column:day_number;not null"`
	IsRead           bool   `gorm:"column:is_read;not null;default:false"`
	CheckedAtSeconds int64  `gorm:"column:checked_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DailyCheck) TableName() string {
	return "daily_checks"
}

// SourceType reports the legacy table this row belongs to.
func (DailyCheck) SourceType() Type { return TypeDailyCheck }

// LegacyID reports the row identifier within the source table's key space.
func (c DailyCheck) LegacyID() string { return c.ID }

// RowUpdatedAtSeconds reports the source row's last modification time.
func (c DailyCheck) RowUpdatedAtSeconds() int64 { return c.UpdatedAtSeconds }

// ChurchReadingCheck is the legacy per-church reading check row.
type ChurchReadingCheck struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	ChurchID         string `gorm:"column:church_id;size:190;not null;index"`
	UserID           string `gorm:"column:user_id;size:190;not null;index"`
	DayNumber        int    `gorm:"column:day_number;not null"`
	IsRead           bool   `gorm:"column:is_read;not null;default:false"`
	CheckedAtSeconds int64  `gorm:"column:checked_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ChurchReadingCheck) TableName() string {
	return "church_reading_checks"
}

// SourceType reports the legacy table this row belongs to.
func (ChurchReadingCheck) SourceType() Type { return TypeChurchReadingCheck }

// LegacyID reports the row identifier within the source table's key space.
func (c ChurchReadingCheck) LegacyID() string { return c.ID }

// RowUpdatedAtSeconds reports the source row's last modification time.
func (c ChurchReadingCheck) RowUpdatedAtSeconds() int64 { return c.UpdatedAtSeconds }
