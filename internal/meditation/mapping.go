package meditation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bereanworks/selah/backend/internal/source"
)

// ErrMappingFailed indicates a source row is missing a field its field map
// requires. The event is skipped, not retried; the gap surfaces later through
// the consistency audit's population check.
var ErrMappingFailed = errors.New("meditation: source row cannot be mapped")

// mappedFields holds the canonical columns a propagation event may rewrite.
// Identity, created-at and the denormalized counters are deliberately absent:
// the join key is immutable and the counters belong to the reconciler.
type mappedFields struct {
	SourceID         string
	AuthorID         string
	AuthorName       string
	ContentType      ContentType
	Content          string
	BibleRange       string
	OneWord          string
	Answer           string
	Gratitude        string
	Prayer           string
	Review           string
	Visibility       Visibility
	IsAnonymous      bool
	CreatedAtSeconds int64
	UpdatedAtSeconds int64
}

type fieldMapper func(source.Record) (mappedFields, error)

// fieldMappers is the static per-source-type field map. Only meditation-shaped
// sources appear here; reading checks follow their own propagation path.
var fieldMappers = map[source.Type]fieldMapper{
	source.TypeQTPost:       mapQTPost,
	source.TypeGuestComment: mapGuestComment,
	source.TypeGroupComment: mapGroupComment,
}

func mapRecord(record source.Record) (mappedFields, error) {
	mapper, ok := fieldMappers[record.SourceType()]
	if !ok {
		return mappedFields{}, fmt.Errorf("%w: no field map for source type %q", ErrMappingFailed, record.SourceType())
	}
	return mapper(record)
}

func mapQTPost(record source.Record) (mappedFields, error) {
	row, ok := record.(source.QTPost)
	if !ok {
		return mappedFields{}, fmt.Errorf("%w: qt_posts event carried %T", ErrMappingFailed, record)
	}
	if strings.TrimSpace(row.ID) == "" {
		return mappedFields{}, fmt.Errorf("%w: qt_posts row missing id", ErrMappingFailed)
	}
	if strings.TrimSpace(row.ChurchID) == "" {
		return mappedFields{}, fmt.Errorf("%w: qt_posts row %s missing church_id", ErrMappingFailed, row.ID)
	}
	if strings.TrimSpace(row.AuthorID) == "" {
		return mappedFields{}, fmt.Errorf("%w: qt_posts row %s missing author_id", ErrMappingFailed, row.ID)
	}
	visibility, err := ParseVisibility(row.Visibility)
	if err != nil {
		return mappedFields{}, fmt.Errorf("%w: qt_posts row %s: %v", ErrMappingFailed, row.ID, err)
	}
	return mappedFields{
		SourceID:         row.ChurchID,
		AuthorID:         row.AuthorID,
		ContentType:      ContentTypeQT,
		OneWord:          row.OneWord,
		Answer:           row.Answer,
		Gratitude:        row.Gratitude,
		Prayer:           row.Prayer,
		Review:           row.Review,
		Visibility:       visibility,
		IsAnonymous:      row.IsAnonymous,
		CreatedAtSeconds: row.CreatedAtSeconds,
		UpdatedAtSeconds: row.UpdatedAtSeconds,
	}, nil
}

func mapGuestComment(record source.Record) (mappedFields, error) {
	row, ok := record.(source.GuestComment)
	if !ok {
		return mappedFields{}, fmt.Errorf("%w: guest_comments event carried %T", ErrMappingFailed, record)
	}
	if strings.TrimSpace(row.ID) == "" {
		return mappedFields{}, fmt.Errorf("%w: guest_comments row missing id", ErrMappingFailed)
	}
	if strings.TrimSpace(row.Content) == "" {
		return mappedFields{}, fmt.Errorf("%w: guest_comments row %s missing content", ErrMappingFailed, row.ID)
	}
	visibility, err := ParseVisibility(row.Visibility)
	if err != nil {
		return mappedFields{}, fmt.Errorf("%w: guest_comments row %s: %v", ErrMappingFailed, row.ID, err)
	}
	return mappedFields{
		SourceID:         row.ChurchID,
		AuthorName:       strings.TrimSpace(row.GuestName),
		ContentType:      ContentTypeFreeText,
		Content:          row.Content,
		BibleRange:       row.BibleRange,
		Visibility:       visibility,
		IsAnonymous:      row.IsAnonymous,
		CreatedAtSeconds: row.CreatedAtSeconds,
		UpdatedAtSeconds: row.UpdatedAtSeconds,
	}, nil
}

func mapGroupComment(record source.Record) (mappedFields, error) {
	row, ok := record.(source.GroupComment)
	if !ok {
		return mappedFields{}, fmt.Errorf("%w: group_comments event carried %T", ErrMappingFailed, record)
	}
	if strings.TrimSpace(row.ID) == "" {
		return mappedFields{}, fmt.Errorf("%w: group_comments row missing id", ErrMappingFailed)
	}
	if strings.TrimSpace(row.GroupID) == "" {
		return mappedFields{}, fmt.Errorf("%w: group_comments row %s missing group_id", ErrMappingFailed, row.ID)
	}
	if strings.TrimSpace(row.AuthorID) == "" {
		return mappedFields{}, fmt.Errorf("%w: group_comments row %s missing author_id", ErrMappingFailed, row.ID)
	}
	if strings.TrimSpace(row.Content) == "" {
		return mappedFields{}, fmt.Errorf("%w: group_comments row %s missing content", ErrMappingFailed, row.ID)
	}
	visibility, err := ParseVisibility(row.Visibility)
	if err != nil {
		return mappedFields{}, fmt.Errorf("%w: group_comments row %s: %v", ErrMappingFailed, row.ID, err)
	}
	return mappedFields{
		SourceID:         row.GroupID,
		AuthorID:         row.AuthorID,
		ContentType:      ContentTypeFreeText,
		Content:          row.Content,
		BibleRange:       row.BibleRange,
		Visibility:       visibility,
		IsAnonymous:      row.IsAnonymous,
		CreatedAtSeconds: row.CreatedAtSeconds,
		UpdatedAtSeconds: row.UpdatedAtSeconds,
	}, nil
}

func (m mappedFields) applyTo(row *UnifiedMeditation) {
	row.SourceID = m.SourceID
	row.AuthorID = m.AuthorID
	row.AuthorName = m.AuthorName
	row.ContentType = string(m.ContentType)
	row.Content = m.Content
	row.BibleRange = m.BibleRange
	row.OneWord = m.OneWord
	row.Answer = m.Answer
	row.Gratitude = m.Gratitude
	row.Prayer = m.Prayer
	row.Review = m.Review
	row.Visibility = string(m.Visibility)
	row.IsAnonymous = m.IsAnonymous
	row.UpdatedAtSeconds = m.UpdatedAtSeconds
}
