package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bereanworks/selah/backend/internal/audit"
	"github.com/bereanworks/selah/backend/internal/meditation"
	"github.com/bereanworks/selah/backend/internal/source"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "selah_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingPropagator    = errors.New("propagator dependency required")
	errMissingService       = errors.New("meditation service dependency required")
	errMissingFeed          = errors.New("feed dependency required")
	errMissingAuditor       = errors.New("auditor dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenValidator validates a bearer token and returns the acting user id.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to the sync core.
type Dependencies struct {
	TokenManager TokenValidator
	Propagator   *meditation.Propagator
	Service      *meditation.Service
	Feed         *meditation.Feed
	Auditor      *audit.Auditor
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router for the sync API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Propagator == nil {
		return nil, errMissingPropagator
	}
	if deps.Service == nil {
		return nil, errMissingService
	}
	if deps.Feed == nil {
		return nil, errMissingFeed
	}
	if deps.Auditor == nil {
		return nil, errMissingAuditor
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		propagator: deps.Propagator,
		service:    deps.Service,
		feed:       deps.Feed,
		auditor:    deps.Auditor,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealthz)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/events", handler.handleEvents)
	protected.GET("/feed", handler.handleFeed)
	protected.GET("/meditations/by-legacy/:source_type/:legacy_id", handler.handleGetByLegacyKey)
	protected.POST("/meditations/:id/like", handler.handleToggleLike)
	protected.POST("/meditations/:id/replies", handler.handleAddReply)
	protected.DELETE("/replies/:id", handler.handleDeleteReply)
	protected.DELETE("/meditations/:id", handler.handleSoftDelete)
	protected.GET("/audit", handler.handleAudit)

	return router, nil
}

type httpHandler struct {
	tokens     TokenValidator
	propagator *meditation.Propagator
	service    *meditation.Service
	feed       *meditation.Feed
	auditor    *audit.Auditor
	logger     *zap.Logger
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// changeEventPayload is the flat wire shape covering every source table.
// Fields that do not apply to the named source type are ignored.
type changeEventPayload struct {
	SourceType       string `json:"source_type"`
	Operation        string `json:"operation"`
	ID               string `json:"id"`
	ChurchID         string `json:"church_id"`
	GroupID          string `json:"group_id"`
	AuthorID         string `json:"author_id"`
	GuestName        string `json:"guest_name"`
	Content          string `json:"content"`
	BibleRange       string `json:"bible_range"`
	OneWord          string `json:"one_word"`
	Answer           string `json:"answer"`
	Gratitude        string `json:"gratitude"`
	Prayer           string `json:"prayer"`
	Review           string `json:"review"`
	Visibility       string `json:"visibility"`
	IsAnonymous      bool   `json:"is_anonymous"`
	UserID           string `json:"user_id"`
	DayNumber        int    `json:"day_number"`
	IsRead           bool   `json:"is_read"`
	CheckedAtSeconds int64  `json:"checked_at_s"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

func (p changeEventPayload) toRecord(sourceType source.Type) source.Record {
	switch sourceType {
	case source.TypeQTPost:
		return source.QTPost{
			ID:               p.ID,
			ChurchID:         p.ChurchID,
			AuthorID:         p.AuthorID,
			OneWord:          p.OneWord,
			Answer:           p.Answer,
			Gratitude:        p.Gratitude,
			Prayer:           p.Prayer,
			Review:           p.Review,
			Visibility:       p.Visibility,
			IsAnonymous:      p.IsAnonymous,
			CreatedAtSeconds: p.CreatedAtSeconds,
			UpdatedAtSeconds: p.UpdatedAtSeconds,
		}
	case source.TypeGuestComment:
		return source.GuestComment{
			ID:               p.ID,
			ChurchID:         p.ChurchID,
			GuestName:        p.GuestName,
			Content:          p.Content,
			BibleRange:       p.BibleRange,
			Visibility:       p.Visibility,
			IsAnonymous:      p.IsAnonymous,
			CreatedAtSeconds: p.CreatedAtSeconds,
			UpdatedAtSeconds: p.UpdatedAtSeconds,
		}
	case source.TypeGroupComment:
		return source.GroupComment{
			ID:               p.ID,
			GroupID:          p.GroupID,
			AuthorID:         p.AuthorID,
			Content:          p.Content,
			BibleRange:       p.BibleRange,
			Visibility:       p.Visibility,
			IsAnonymous:      p.IsAnonymous,
			CreatedAtSeconds: p.CreatedAtSeconds,
			UpdatedAtSeconds: p.UpdatedAtSeconds,
		}
	case source.TypeDailyCheck:
		return source.DailyCheck{
			ID:               p.ID,
			UserID:           p.UserID,
			DayNumber:        p.DayNumber,
			IsRead:           p.IsRead,
			CheckedAtSeconds: p.CheckedAtSeconds,
			UpdatedAtSeconds: p.UpdatedAtSeconds,
		}
	case source.TypeChurchReadingCheck:
		return source.ChurchReadingCheck{
			ID:               p.ID,
			ChurchID:         p.ChurchID,
			UserID:           p.UserID,
			DayNumber:        p.DayNumber,
			IsRead:           p.IsRead,
			CheckedAtSeconds: p.CheckedAtSeconds,
			UpdatedAtSeconds: p.UpdatedAtSeconds,
		}
	default:
		return nil
	}
}

type eventsRequestPayload struct {
	Events []changeEventPayload `json:"events"`
}

type eventResultPayload struct {
	SourceType string `json:"source_type"`
	LegacyID   string `json:"legacy_id"`
	Action     string `json:"action,omitempty"`
	Error      string `json:"error,omitempty"`
}

type eventsResponsePayload struct {
	Results []eventResultPayload `json:"results"`
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	var request eventsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	response := eventsResponsePayload{Results: make([]eventResultPayload, 0, len(request.Events))}
	for _, payload := range request.Events {
		sourceType, err := source.ParseType(payload.SourceType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_source_type"})
			return
		}
		operation, err := source.ParseOperation(payload.Operation)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_operation"})
			return
		}

		outcome, err := h.propagator.Apply(c.Request.Context(), source.ChangeEvent{
			Operation: operation,
			Record:    payload.toRecord(sourceType),
		})
		if err != nil {
			// Malformed rows are reported per event and skipped, not retried.
			if errors.Is(err, meditation.ErrMappingFailed) {
				response.Results = append(response.Results, eventResultPayload{
					SourceType: string(sourceType),
					LegacyID:   payload.ID,
					Error:      "mapping_failed",
				})
				continue
			}
			h.logger.Error("event propagation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "propagation_failed"})
			return
		}
		response.Results = append(response.Results, eventResultPayload{
			SourceType: string(sourceType),
			LegacyID:   payload.ID,
			Action:     string(outcome.Action),
		})
	}

	c.JSON(http.StatusOK, response)
}

type meditationPayload struct {
	ID               string `json:"id"`
	LegacySourceType string `json:"legacy_source_type"`
	LegacyID         string `json:"legacy_id"`
	SourceID         string `json:"source_id,omitempty"`
	AuthorID         string `json:"author_id,omitempty"`
	AuthorName       string `json:"author_name,omitempty"`
	ContentType      string `json:"content_type"`
	Content          string `json:"content,omitempty"`
	BibleRange       string `json:"bible_range,omitempty"`
	OneWord          string `json:"one_word,omitempty"`
	Answer           string `json:"answer,omitempty"`
	Gratitude        string `json:"gratitude,omitempty"`
	Prayer           string `json:"prayer,omitempty"`
	Review           string `json:"review,omitempty"`
	Visibility       string `json:"visibility"`
	IsAnonymous      bool   `json:"is_anonymous"`
	LikesCount       int64  `json:"likes_count"`
	RepliesCount     int64  `json:"replies_count"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

func renderMeditation(row meditation.UnifiedMeditation) meditationPayload {
	payload := meditationPayload{
		ID:               row.ID,
		LegacySourceType: row.LegacySourceType,
		LegacyID:         row.LegacyID,
		SourceID:         row.SourceID,
		AuthorID:         row.AuthorID,
		AuthorName:       row.AuthorName,
		ContentType:      row.ContentType,
		Content:          row.Content,
		BibleRange:       row.BibleRange,
		OneWord:          row.OneWord,
		Answer:           row.Answer,
		Gratitude:        row.Gratitude,
		Prayer:           row.Prayer,
		Review:           row.Review,
		Visibility:       row.Visibility,
		IsAnonymous:      row.IsAnonymous,
		LikesCount:       row.LikesCount,
		RepliesCount:     row.RepliesCount,
		CreatedAtSeconds: row.CreatedAtSeconds,
		UpdatedAtSeconds: row.UpdatedAtSeconds,
	}
	if row.IsAnonymous {
		payload.AuthorID = ""
		payload.AuthorName = ""
	}
	return payload
}

type feedResponsePayload struct {
	Items      []meditationPayload `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

func (h *httpHandler) handleFeed(c *gin.Context) {
	filter := meditation.FeedFilter{
		PublicOnly: c.Query("scope") != "all",
		SourceID:   strings.TrimSpace(c.Query("source_id")),
	}
	if authors := strings.TrimSpace(c.Query("authors")); authors != "" {
		for _, author := range strings.Split(authors, ",") {
			if trimmed := strings.TrimSpace(author); trimmed != "" {
				filter.AuthorIDs = append(filter.AuthorIDs, trimmed)
			}
		}
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	page, err := h.feed.List(c.Request.Context(), filter, c.Query("cursor"), limit)
	if err != nil {
		if errors.Is(err, meditation.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
			return
		}
		h.logger.Error("feed listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "feed_failed"})
		return
	}

	response := feedResponsePayload{
		Items:      make([]meditationPayload, 0, len(page.Items)),
		NextCursor: page.NextCursor,
	}
	for _, item := range page.Items {
		response.Items = append(response.Items, renderMeditation(item))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetByLegacyKey(c *gin.Context) {
	sourceType, err := source.ParseType(c.Param("source_type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_source_type"})
		return
	}

	row, err := h.service.GetByLegacyKey(c.Request.Context(), sourceType, c.Param("legacy_id"))
	if err != nil {
		if errors.Is(err, meditation.ErrMeditationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("legacy key lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, renderMeditation(*row))
}

func (h *httpHandler) handleToggleLike(c *gin.Context) {
	meditationID, err := meditation.NewMeditationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_meditation_id"})
		return
	}
	userID, err := meditation.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	newCount, err := h.service.ToggleLike(c.Request.Context(), meditationID, userID)
	if err != nil {
		if errors.Is(err, meditation.ErrMeditationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("like toggle failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "like_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"likes_count": newCount})
}

type replyRequestPayload struct {
	Content string `json:"content"`
}

func (h *httpHandler) handleAddReply(c *gin.Context) {
	meditationID, err := meditation.NewMeditationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_meditation_id"})
		return
	}
	userID, err := meditation.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request replyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	reply, newCount, err := h.service.AddReply(c.Request.Context(), meditationID, userID, request.Content)
	if err != nil {
		if errors.Is(err, meditation.ErrMeditationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("reply create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reply_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reply_id":      reply.ID,
		"replies_count": newCount,
	})
}

func (h *httpHandler) handleDeleteReply(c *gin.Context) {
	userID, err := meditation.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	newCount, err := h.service.DeleteReply(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, meditation.ErrReplyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("reply delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reply_delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"replies_count": newCount})
}

func (h *httpHandler) handleSoftDelete(c *gin.Context) {
	meditationID, err := meditation.NewMeditationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_meditation_id"})
		return
	}
	userID, err := meditation.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.service.SoftDelete(c.Request.Context(), meditationID, userID); err != nil {
		if errors.Is(err, meditation.ErrMeditationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("soft delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type auditResultPayload struct {
	Category  string `json:"category"`
	CheckName string `json:"check_name"`
	Status    string `json:"status"`
	Detail    string `json:"detail"`
}

type auditResponsePayload struct {
	Partial  bool                 `json:"partial"`
	Results  []auditResultPayload `json:"results"`
	OK       int                  `json:"ok"`
	Warnings int                  `json:"warnings"`
	Errors   int                  `json:"errors"`
}

func (h *httpHandler) handleAudit(c *gin.Context) {
	report, err := h.auditor.Run(c.Request.Context())
	if err != nil {
		h.logger.Error("audit run failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}

	response := auditResponsePayload{
		Partial:  report.Partial,
		Results:  make([]auditResultPayload, 0, len(report.Results)),
		OK:       report.Summary.OK,
		Warnings: report.Summary.Warnings,
		Errors:   report.Summary.Errors,
	}
	for _, result := range report.Results {
		response.Results = append(response.Results, auditResultPayload{
			Category:  result.Category,
			CheckName: result.CheckName,
			Status:    string(result.Status),
			Detail:    result.Detail,
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
