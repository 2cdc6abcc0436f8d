package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bereanworks/selah/backend/internal/meditation"
	"github.com/bereanworks/selah/backend/internal/source"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultFieldMismatchLimit = 10
	defaultCounterSampleSize  = 100

	categoryPropagation   = "propagation"
	categoryReadingChecks = "reading_checks"
	categoryCounters      = "counters"
	categoryMemberships   = "memberships"
)

// ErrStoreUnavailable indicates the backing store could not be reached at all,
// the one condition that aborts the whole audit.
var ErrStoreUnavailable = errors.New("audit: store unavailable")

var errMissingDatabase = errors.New("database handle is required")

// AuditorConfig describes the dependencies and bounds of the consistency audit.
type AuditorConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	// FieldMismatchLimit bounds how many mismatching rows a check captures verbatim.
	FieldMismatchLimit int
	// CounterSampleSize bounds the counter-agreement sample.
	CounterSampleSize int
}

// Auditor is the read-only verification pass over legacy and canonical data.
// It never mutates; it reads both sides independently and reports categorized
// discrepancies. Checks tolerate concurrent writers, so the view is
// best-effort point-in-time.
type Auditor struct {
	db            *gorm.DB
	clock         func() time.Time
	logger        *zap.Logger
	mismatchLimit int
	sampleSize    int
}

// NewAuditor validates the configuration and constructs an Auditor.
func NewAuditor(cfg AuditorConfig) (*Auditor, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mismatchLimit := cfg.FieldMismatchLimit
	if mismatchLimit <= 0 {
		mismatchLimit = defaultFieldMismatchLimit
	}
	sampleSize := cfg.CounterSampleSize
	if sampleSize <= 0 {
		sampleSize = defaultCounterSampleSize
	}
	return &Auditor{
		db:            cfg.Database,
		clock:         clock,
		logger:        logger,
		mismatchLimit: mismatchLimit,
		sampleSize:    sampleSize,
	}, nil
}

// Run executes every consistency check and aggregates an ordered report.
// Independent checks fan out concurrently; cancellation yields a partial
// report rather than none. The only hard failure is an unreachable store.
func (a *Auditor) Run(ctx context.Context) (Report, error) {
	report := Report{StartedAtSeconds: a.clock().UTC().Unix()}

	sqlDB, err := a.db.DB()
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		// A cancelled run still reports what it has, which at this point is
		// nothing beyond the timestamps. Only a truly unreachable store aborts.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			report.Partial = true
			report.FinishedAtSeconds = a.clock().UTC().Unix()
			return report, nil
		}
		return report, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	jobs := []func(context.Context) []CheckResult{
		func(ctx context.Context) []CheckResult { return a.auditMeditationSource(ctx, source.TypeQTPost) },
		func(ctx context.Context) []CheckResult { return a.auditMeditationSource(ctx, source.TypeGuestComment) },
		func(ctx context.Context) []CheckResult { return a.auditMeditationSource(ctx, source.TypeGroupComment) },
		func(ctx context.Context) []CheckResult { return a.auditReadingCheckCount(ctx, source.TypeDailyCheck) },
		func(ctx context.Context) []CheckResult { return a.auditReadingCheckCount(ctx, source.TypeChurchReadingCheck) },
		a.auditLikeCounters,
		a.auditMemberships,
	}

	slots := make([][]CheckResult, len(jobs))
	var wg sync.WaitGroup
	for idx, job := range jobs {
		wg.Add(1)
		go func(slot int, run func(context.Context) []CheckResult) {
			defer wg.Done()
			slots[slot] = run(ctx)
		}(idx, job)
	}
	wg.Wait()

	for _, results := range slots {
		report.add(results...)
	}
	if ctx.Err() != nil {
		report.Partial = true
	}
	report.FinishedAtSeconds = a.clock().UTC().Unix()
	return report, nil
}

// auditMeditationSource runs, in order, the population check and the
// field-agreement check for one meditation-shaped source table.
func (a *Auditor) auditMeditationSource(ctx context.Context, sourceType source.Type) []CheckResult {
	category := categoryPropagation
	populationCheck := fmt.Sprintf("%s_population", sourceType)
	fieldCheck := fmt.Sprintf("%s_field_agreement", sourceType)

	sourceRows, err := a.sourceFieldRows(ctx, sourceType)
	if err != nil {
		return a.storeFailure(category, populationCheck, sourceType, err)
	}

	canonicalRows, err := a.canonicalFieldRows(ctx, sourceType)
	if err != nil {
		return a.storeFailure(category, populationCheck, sourceType, err)
	}

	results := make([]CheckResult, 0, 2)

	// Population: source legacy ids minus canonical legacy ids. A missing id
	// means a propagation never happened or was lost.
	var missing []string
	for legacyID := range sourceRows {
		if _, ok := canonicalRows[legacyID]; !ok {
			missing = append(missing, legacyID)
		}
	}
	sort.Strings(missing)
	if len(missing) == 0 {
		results = append(results, CheckResult{
			Category:  category,
			CheckName: populationCheck,
			Status:    StatusOK,
			Detail:    fmt.Sprintf("%d source rows, all propagated", len(sourceRows)),
		})
	} else {
		listed := missing
		if len(listed) > a.mismatchLimit {
			listed = listed[:a.mismatchLimit]
		}
		results = append(results, CheckResult{
			Category:  category,
			CheckName: populationCheck,
			Status:    StatusError,
			Detail:    fmt.Sprintf("missing: %d, legacy ids: %s", len(missing), strings.Join(listed, ", ")),
		})
	}

	// Field agreement on the overlap: drift here is user-visible.
	var mismatches []string
	overlap := 0
	for legacyID, sourceView := range sourceRows {
		canonicalView, ok := canonicalRows[legacyID]
		if !ok {
			continue
		}
		overlap++
		if len(mismatches) >= a.mismatchLimit {
			continue
		}
		if sourceView.Visibility != canonicalView.Visibility {
			mismatches = append(mismatches, fmt.Sprintf(
				"%s: visibility source=%q canonical=%q", legacyID, sourceView.Visibility, canonicalView.Visibility))
			continue
		}
		if sourceView.IsAnonymous != canonicalView.IsAnonymous {
			mismatches = append(mismatches, fmt.Sprintf(
				"%s: is_anonymous source=%v canonical=%v", legacyID, sourceView.IsAnonymous, canonicalView.IsAnonymous))
			continue
		}
		if sourceView.CompareAuthorName && sourceView.AuthorName != canonicalView.AuthorName {
			mismatches = append(mismatches, fmt.Sprintf(
				"%s: author_name source=%q canonical=%q", legacyID, sourceView.AuthorName, canonicalView.AuthorName))
		}
	}
	sort.Strings(mismatches)
	if len(mismatches) == 0 {
		results = append(results, CheckResult{
			Category:  category,
			CheckName: fieldCheck,
			Status:    StatusOK,
			Detail:    fmt.Sprintf("%d overlapping rows agree on mapped fields", overlap),
		})
	} else {
		results = append(results, CheckResult{
			Category:  category,
			CheckName: fieldCheck,
			Status:    StatusError,
			Detail:    strings.Join(mismatches, "; "),
		})
	}
	return results
}

// auditReadingCheckCount compares the is_read population of a reading-check
// source table against its canonical rows. Exact equality is expected.
func (a *Auditor) auditReadingCheckCount(ctx context.Context, sourceType source.Type) []CheckResult {
	checkName := fmt.Sprintf("%s_count", sourceType)

	var sourceCount int64
	query := a.db.WithContext(ctx)
	var err error
	switch sourceType {
	case source.TypeDailyCheck:
		err = query.Model(&source.DailyCheck{}).Where("is_read = ?", true).Count(&sourceCount).Error
	case source.TypeChurchReadingCheck:
		err = query.Model(&source.ChurchReadingCheck{}).Where("is_read = ?", true).Count(&sourceCount).Error
	default:
		err = fmt.Errorf("%w: %q", source.ErrUnknownSourceType, sourceType)
	}
	if err != nil {
		return a.storeFailure(categoryReadingChecks, checkName, sourceType, err)
	}

	var canonicalCount int64
	if err := a.db.WithContext(ctx).
		Model(&meditation.UnifiedReadingCheck{}).
		Where("legacy_source_type = ?", string(sourceType)).
		Count(&canonicalCount).Error; err != nil {
		return a.storeFailure(categoryReadingChecks, checkName, sourceType, err)
	}

	if sourceCount == canonicalCount {
		return []CheckResult{{
			Category:  categoryReadingChecks,
			CheckName: checkName,
			Status:    StatusOK,
			Detail:    fmt.Sprintf("%d checked rows on both sides", sourceCount),
		}}
	}
	return []CheckResult{{
		Category:  categoryReadingChecks,
		CheckName: checkName,
		Status:    StatusWarning,
		Detail:    fmt.Sprintf("source is_read rows: %d, canonical rows: %d", sourceCount, canonicalCount),
	}}
}

// auditLikeCounters samples canonical rows with a non-zero likes counter and
// compares the denormalized value against the true count of like rows.
func (a *Auditor) auditLikeCounters(ctx context.Context) []CheckResult {
	const checkName = "likes_count_agreement"

	var sample []meditation.UnifiedMeditation
	if err := a.db.WithContext(ctx).
		Where("likes_count > ? AND is_deleted = ?", 0, false).
		Order("updated_at_s DESC").
		Limit(a.sampleSize).
		Find(&sample).Error; err != nil {
		return a.storeFailure(categoryCounters, checkName, "", err)
	}

	var mismatches []string
	for _, row := range sample {
		if len(mismatches) >= a.mismatchLimit {
			break
		}
		var trueCount int64
		if err := a.db.WithContext(ctx).
			Model(&meditation.Like{}).
			Where("meditation_id = ?", row.ID).
			Count(&trueCount).Error; err != nil {
			return a.storeFailure(categoryCounters, checkName, "", err)
		}
		if trueCount != row.LikesCount {
			mismatches = append(mismatches, fmt.Sprintf(
				"%s: likes_count=%d like rows=%d", row.ID, row.LikesCount, trueCount))
		}
	}

	if len(mismatches) == 0 {
		return []CheckResult{{
			Category:  categoryCounters,
			CheckName: checkName,
			Status:    StatusOK,
			Detail:    fmt.Sprintf("%d sampled rows agree", len(sample)),
		}}
	}
	return []CheckResult{{
		Category:  categoryCounters,
		CheckName: checkName,
		Status:    StatusWarning,
		Detail:    strings.Join(mismatches, "; "),
	}}
}

// auditMemberships flags membership rows whose parent group or church no
// longer exists.
func (a *Auditor) auditMemberships(ctx context.Context) []CheckResult {
	results := make([]CheckResult, 0, 2)

	groupResult := a.auditOrphans(ctx, "group_membership_orphans", func(query *gorm.DB) ([]string, []string, error) {
		var memberParents, parents []string
		if err := query.Model(&source.GroupMembership{}).Distinct().Pluck("group_id", &memberParents).Error; err != nil {
			return nil, nil, err
		}
		if err := query.Model(&source.ReadingGroup{}).Pluck("id", &parents).Error; err != nil {
			return nil, nil, err
		}
		return memberParents, parents, nil
	})
	results = append(results, groupResult...)

	churchResult := a.auditOrphans(ctx, "church_membership_orphans", func(query *gorm.DB) ([]string, []string, error) {
		var memberParents, parents []string
		if err := query.Model(&source.ChurchMembership{}).Distinct().Pluck("church_id", &memberParents).Error; err != nil {
			return nil, nil, err
		}
		if err := query.Model(&source.Church{}).Pluck("id", &parents).Error; err != nil {
			return nil, nil, err
		}
		return memberParents, parents, nil
	})
	results = append(results, churchResult...)

	return results
}

func (a *Auditor) auditOrphans(ctx context.Context, checkName string, load func(*gorm.DB) ([]string, []string, error)) []CheckResult {
	memberParents, parents, err := load(a.db.WithContext(ctx))
	if err != nil {
		return a.storeFailure(categoryMemberships, checkName, "", err)
	}

	known := make(map[string]struct{}, len(parents))
	for _, id := range parents {
		known[id] = struct{}{}
	}
	var orphaned []string
	for _, id := range memberParents {
		if _, ok := known[id]; !ok {
			orphaned = append(orphaned, id)
		}
	}
	sort.Strings(orphaned)

	if len(orphaned) == 0 {
		return []CheckResult{{
			Category:  categoryMemberships,
			CheckName: checkName,
			Status:    StatusOK,
			Detail:    fmt.Sprintf("%d parents referenced, all present", len(memberParents)),
		}}
	}
	listed := orphaned
	if len(listed) > a.mismatchLimit {
		listed = listed[:a.mismatchLimit]
	}
	return []CheckResult{{
		Category:  categoryMemberships,
		CheckName: checkName,
		Status:    StatusWarning,
		Detail:    fmt.Sprintf("orphaned parents: %d, ids: %s", len(orphaned), strings.Join(listed, ", ")),
	}}
}

// fieldView is the slice of mapped fields both sides are compared on.
type fieldView struct {
	Visibility        string
	IsAnonymous       bool
	AuthorName        string
	CompareAuthorName bool
}

func (a *Auditor) sourceFieldRows(ctx context.Context, sourceType source.Type) (map[string]fieldView, error) {
	query := a.db.WithContext(ctx)
	views := make(map[string]fieldView)
	switch sourceType {
	case source.TypeQTPost:
		var rows []source.QTPost
		if err := query.Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, row := range rows {
			views[row.ID] = fieldView{Visibility: row.Visibility, IsAnonymous: row.IsAnonymous}
		}
	case source.TypeGuestComment:
		var rows []source.GuestComment
		if err := query.Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, row := range rows {
			// guest_name maps straight into author_name, so it is comparable.
			views[row.ID] = fieldView{
				Visibility:        row.Visibility,
				IsAnonymous:       row.IsAnonymous,
				AuthorName:        strings.TrimSpace(row.GuestName),
				CompareAuthorName: true,
			}
		}
	case source.TypeGroupComment:
		var rows []source.GroupComment
		if err := query.Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, row := range rows {
			views[row.ID] = fieldView{Visibility: row.Visibility, IsAnonymous: row.IsAnonymous}
		}
	default:
		return nil, fmt.Errorf("%w: %q", source.ErrUnknownSourceType, sourceType)
	}
	return views, nil
}

func (a *Auditor) canonicalFieldRows(ctx context.Context, sourceType source.Type) (map[string]fieldView, error) {
	var rows []meditation.UnifiedMeditation
	if err := a.db.WithContext(ctx).
		Where("legacy_source_type = ? AND is_deleted = ?", string(sourceType), false).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	views := make(map[string]fieldView, len(rows))
	for _, row := range rows {
		views[row.LegacyID] = fieldView{
			Visibility:  row.Visibility,
			IsAnonymous: row.IsAnonymous,
			AuthorName:  row.AuthorName,
		}
	}
	return views, nil
}

// storeFailure translates a failed check query. Cancellation produces no
// result, leaving the run partial; any other failure marks the check as an
// error and skips whatever remained for that source.
func (a *Auditor) storeFailure(category, checkName string, sourceType source.Type, err error) []CheckResult {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	a.logger.Error("audit check query failed",
		zap.String("category", category),
		zap.String("check", checkName),
		zap.String("source_type", string(sourceType)),
		zap.Error(err))
	detail := fmt.Sprintf("store unreachable: %v", err)
	if sourceType != "" {
		detail = fmt.Sprintf("store unreachable: %v; remaining checks for %s skipped", err, sourceType)
	}
	return []CheckResult{{
		Category:  category,
		CheckName: checkName,
		Status:    StatusError,
		Detail:    detail,
	}}
}
