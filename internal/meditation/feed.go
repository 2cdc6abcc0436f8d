package meditation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opFeedNew  = "meditation.feed.new"
	opFeedList = "meditation.feed.list"

	defaultFeedLimit = 20
	maxFeedLimit     = 100
)

// ErrInvalidCursor indicates a pagination cursor could not be decoded.
var ErrInvalidCursor = errors.New("meditation: invalid feed cursor")

// FeedFilter selects which canonical rows appear in a feed page. Zero value
// means the unrestricted cross-source feed.
type FeedFilter struct {
	// PublicOnly restricts to rows with public visibility.
	PublicOnly bool
	// AuthorIDs, when non-empty, restricts to the given authors (following view).
	AuthorIDs []string
	// SourceID, when non-empty, scopes to one church or reading group.
	SourceID string
}

// Cursor marks the position after the last item of a page. Ordering is
// created_at_s descending with id descending as the tie break, which keeps
// resumption stable while new rows are inserted ahead of the cursor.
type Cursor struct {
	CreatedAtSeconds int64  `json:"created_at_s"`
	ID               string `json:"id"`
}

// EncodeCursor renders a cursor as an opaque URL-safe token.
func EncodeCursor(cursor Cursor) string {
	raw, _ := json.Marshal(cursor)
	return base64.URLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token yields
// a zero cursor, meaning start from the newest row.
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if cursor.ID == "" || cursor.CreatedAtSeconds <= 0 {
		return Cursor{}, fmt.Errorf("%w: incomplete position", ErrInvalidCursor)
	}
	return cursor, nil
}

// FeedPage is one page of the merged cross-source feed.
type FeedPage struct {
	Items      []UnifiedMeditation
	NextCursor string
}

// FeedConfig describes the dependencies of the feed aggregator.
type FeedConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Feed merges canonical rows into a single time-ordered, cursor-paginated
// sequence. The read side is source-agnostic; only propagation knows the
// legacy shapes. It performs no writes and serves the store directly, so a
// freshly propagated row is visible to the next call.
type Feed struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewFeed validates the configuration and constructs a Feed.
func NewFeed(cfg FeedConfig) (*Feed, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opFeedNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Feed{db: cfg.Database, logger: logger}, nil
}

// List returns one feed page for the filter, resuming after the cursor token.
func (f *Feed) List(ctx context.Context, filter FeedFilter, cursorToken string, limit int) (FeedPage, error) {
	cursor, err := DecodeCursor(cursorToken)
	if err != nil {
		return FeedPage{}, newServiceError(opFeedList, "invalid_cursor", err)
	}
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}

	query := f.db.WithContext(ctx).
		Model(&UnifiedMeditation{}).
		Where("is_deleted = ?", false)
	if filter.PublicOnly {
		query = query.Where("visibility = ?", string(VisibilityPublic))
	}
	if len(filter.AuthorIDs) > 0 {
		query = query.Where("author_id IN ?", filter.AuthorIDs)
	}
	if filter.SourceID != "" {
		query = query.Where("source_id = ?", filter.SourceID)
	}
	if cursor.ID != "" {
		query = query.Where(
			"created_at_s < ? OR (created_at_s = ? AND id < ?)",
			cursor.CreatedAtSeconds, cursor.CreatedAtSeconds, cursor.ID,
		)
	}

	var items []UnifiedMeditation
	// One extra row decides whether another page exists.
	if err := query.
		Order("created_at_s DESC, id DESC").
		Limit(limit + 1).
		Find(&items).Error; err != nil {
		f.logger.Error("feed query failed",
			zap.String("operation", opFeedList),
			zap.Error(err))
		return FeedPage{}, newServiceError(opFeedList, "query_failed", err)
	}

	page := FeedPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextCursor = EncodeCursor(Cursor{
			CreatedAtSeconds: last.CreatedAtSeconds,
			ID:               last.ID,
		})
	}
	return page, nil
}
