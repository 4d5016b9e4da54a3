package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/studyplan-api/internal/models"
	"github.com/noah-isme/studyplan-api/pkg/clock"
	appErrors "github.com/noah-isme/studyplan-api/pkg/errors"
	applog "github.com/noah-isme/studyplan-api/pkg/logger"
)

type planGroupReader interface {
	FindByID(ctx context.Context, id string) (*models.PlanGroup, error)
	ListExclusions(ctx context.Context, groupID string) ([]models.PlanExclusion, error)
	ListStudyBlocks(ctx context.Context, groupID string) ([]models.StudyBlock, error)
}

type planContentReader interface {
	ListByGroup(ctx context.Context, groupID string) ([]models.PlanContent, error)
}

type studentPlanStore interface {
	ListInWindow(ctx context.Context, groupID, studentID string, from, to models.Date) ([]models.PlanOccurrence, error)
	ListPastUncompleted(ctx context.Context, groupID, studentID string, before models.Date) ([]models.PlanOccurrence, error)
	LockByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.PlanOccurrence, error)
	Deactivate(ctx context.Context, exec sqlx.ExtContext, ids []string) (int64, error)
	Reactivate(ctx context.Context, exec sqlx.ExtContext, ids []string) (int64, error)
	InsertBatch(ctx context.Context, exec sqlx.ExtContext, plans []models.PlanOccurrence, batchSize int) error
}

type planHistoryStore interface {
	InsertBatch(ctx context.Context, exec sqlx.ExtContext, entries []models.PlanHistory) error
	ListByLog(ctx context.Context, exec sqlx.ExtContext, logID string) ([]models.PlanHistory, error)
}

type rescheduleLogStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, entry *models.RescheduleLog) error
	FindByID(ctx context.Context, id string) (*models.RescheduleLog, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.RescheduleLog, error)
	ListByGroup(ctx context.Context, groupID string, limit int) ([]models.RescheduleLog, error)
	MarkRolledBack(ctx context.Context, exec sqlx.ExtContext, id string, at time.Time) error
	ExpireElapsed(ctx context.Context, now time.Time) (int64, error)
}

type catalogReader interface {
	FindItem(ctx context.Context, contentType models.ContentType, id string) (models.CatalogItem, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// RescheduleConfig governs the reschedule workflow.
type RescheduleConfig struct {
	ProposalTTL     time.Duration
	RollbackWindow  time.Duration
	MaxDailyHours   float64
	PreviewCacheTTL time.Duration
	InsertBatchSize int
}

// RescheduleOptions carries the caller's intent for a single-call reschedule.
type RescheduleOptions struct {
	Confirm bool
	Reason  string
}

// RescheduleServiceOption configures the service.
type RescheduleServiceOption func(*RescheduleService)

// WithPlacer overrides the placement strategy.
func WithPlacer(p Placer) RescheduleServiceOption {
	return func(s *RescheduleService) {
		if p != nil {
			s.placer = p
		}
	}
}

// WithCache enables the preview cache.
func WithCache(cache *CacheService) RescheduleServiceOption {
	return func(s *RescheduleService) { s.cache = cache }
}

// WithMetrics wires Prometheus instrumentation.
func WithMetrics(metrics *MetricsService) RescheduleServiceOption {
	return func(s *RescheduleService) { s.metrics = metrics }
}

// WithCatalog wires the content catalog used to bound replace ranges.
func WithCatalog(catalog catalogReader) RescheduleServiceOption {
	return func(s *RescheduleService) { s.catalog = catalog }
}

// RescheduleService previews, executes and rolls back plan-group reschedules.
type RescheduleService struct {
	groups   planGroupReader
	contents planContentReader
	plans    studentPlanStore
	history  planHistoryStore
	logs     rescheduleLogStore
	catalog  catalogReader
	tx       txProvider
	placer   Placer
	cache    *CacheService
	metrics  *MetricsService
	clock    clock.Clock
	logger   *zap.Logger
	tracer   trace.Tracer
	cfg      RescheduleConfig

	proposals *ttlStore[rescheduleProposal]
}

type rescheduleProposal struct {
	Token       string
	GroupID     string
	StudentID   string
	CreatedBy   string
	Reason      string
	Adjustments []models.AdjustmentInput
	Before      []models.PlanOccurrence
	After       []models.PlanOccurrence
	Preview     *models.ReschedulePreviewResult
}

type rescheduleComputation struct {
	group       *models.PlanGroup
	adjustments []models.AdjustmentInput
	window      models.PlacementWindow
	before      []models.PlanOccurrence
	after       []models.PlanOccurrence
	result      *models.ReschedulePreviewResult
}

// NewRescheduleService wires reschedule dependencies.
func NewRescheduleService(
	groups planGroupReader,
	contents planContentReader,
	plans studentPlanStore,
	history planHistoryStore,
	logs rescheduleLogStore,
	tx txProvider,
	clk clock.Clock,
	logger *zap.Logger,
	cfg RescheduleConfig,
	opts ...RescheduleServiceOption,
) *RescheduleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewReal("")
	}
	if cfg.ProposalTTL <= 0 {
		cfg.ProposalTTL = 30 * time.Minute
	}
	if cfg.RollbackWindow <= 0 {
		cfg.RollbackWindow = 24 * time.Hour
	}
	if cfg.MaxDailyHours <= 0 {
		cfg.MaxDailyHours = DefaultMaxDailyHours
	}
	if cfg.InsertBatchSize <= 0 {
		cfg.InsertBatchSize = 100
	}
	svc := &RescheduleService{
		groups:    groups,
		contents:  contents,
		plans:     plans,
		history:   history,
		logs:      logs,
		tx:        tx,
		placer:    NewEvenPacePlacer(),
		clock:     clk,
		logger:    logger,
		tracer:    otel.Tracer("github.com/noah-isme/studyplan-api/internal/service"),
		cfg:       cfg,
		proposals: newTTLStore[rescheduleProposal](cfg.ProposalTTL, clk),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// ListContents returns the plan group and its contents for the selection step.
func (s *RescheduleService) ListContents(ctx context.Context, actor models.Actor, groupID string) (*models.PlanGroup, []models.PlanContent, error) {
	group, err := s.loadGroup(ctx, actor, groupID)
	if err != nil {
		return nil, nil, err
	}
	contents, err := s.contents.ListByGroup(ctx, group.ID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load plan contents")
	}
	return group, contents, nil
}

// GetReschedulePreview forecasts a reschedule without changing anything.
func (s *RescheduleService) GetReschedulePreview(ctx context.Context, actor models.Actor, groupID string, adjustments []models.AdjustmentInput, dateRange *models.PlacementDateRange) (result *models.ReschedulePreviewResult, err error) {
	ctx, finish := s.startOperation(ctx, "preview", attribute.String("plan_group.id", groupID), attribute.Int("adjustments", len(adjustments)))
	defer func() { finish(err) }()

	if len(adjustments) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one adjustment is required")
	}
	group, err := s.loadGroup(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}

	key := PreviewCacheKey(group.ID, adjustments, dateRange, models.NewDate(s.clock.Today()))
	var cached models.ReschedulePreviewResult
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	comp, err := s.compute(ctx, group, adjustments, dateRange)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, comp.result, s.cfg.PreviewCacheTTL)
	return comp.result, nil
}

// ProposeReschedule computes a preview and parks it behind a single-use token
// that CommitReschedule executes.
func (s *RescheduleService) ProposeReschedule(ctx context.Context, actor models.Actor, groupID string, adjustments []models.AdjustmentInput, dateRange *models.PlacementDateRange, reason string) (proposal *models.RescheduleProposal, err error) {
	ctx, finish := s.startOperation(ctx, "propose", attribute.String("plan_group.id", groupID))
	defer func() { finish(err) }()

	if len(adjustments) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one adjustment is required")
	}
	group, err := s.loadGroup(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}
	comp, err := s.compute(ctx, group, adjustments, dateRange)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	expiresAt := s.proposals.Put(token, rescheduleProposal{
		Token:       token,
		GroupID:     group.ID,
		StudentID:   group.StudentID,
		CreatedBy:   actor.UserID,
		Reason:      reason,
		Adjustments: comp.adjustments,
		Before:      comp.before,
		After:       comp.after,
		Preview:     comp.result,
	})
	return &models.RescheduleProposal{Token: token, ExpiresAt: expiresAt, Preview: comp.result}, nil
}

// GetProposal returns a pending proposal without claiming it.
func (s *RescheduleService) GetProposal(ctx context.Context, actor models.Actor, token string) (*models.RescheduleProposal, error) {
	p, ok := s.proposals.Get(token)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "reschedule proposal not found or expired")
	}
	if !actor.CanAccess(p.StudentID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "plan group belongs to another student")
	}
	return &models.RescheduleProposal{Token: p.Token, Preview: p.Preview}, nil
}

// CommitReschedule executes a proposal. confirm must be true. A token executes at
// most once; after a failure it stays available so the caller can retry.
func (s *RescheduleService) CommitReschedule(ctx context.Context, actor models.Actor, token string, confirm bool) (result *models.RescheduleResult, err error) {
	ctx, finish := s.startOperation(ctx, "commit")
	defer func() { finish(err) }()

	if !confirm {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "reschedule must be confirmed before it is executed")
	}
	proposal, claimErr := s.proposals.Claim(token)
	switch {
	case errors.Is(claimErr, errEntryClaimed):
		return nil, appErrors.Clone(appErrors.ErrConflict, "reschedule proposal is already being executed")
	case claimErr != nil:
		return nil, appErrors.Clone(appErrors.ErrNotFound, "reschedule proposal not found or expired")
	}
	if !actor.CanAccess(proposal.StudentID) {
		s.proposals.Release(token)
		return nil, appErrors.Clone(appErrors.ErrForbidden, "plan group belongs to another student")
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("plan_group.id", proposal.GroupID))

	result, err = s.execute(ctx, actor, proposal)
	if err != nil {
		s.proposals.Release(token)
		applog.FromContext(ctx, s.logger).Warn("reschedule failed",
			zap.String("plan_group_id", proposal.GroupID), zap.Error(err))
		return nil, err
	}
	s.proposals.Delete(token)
	s.cache.Invalidate(ctx, previewCachePrefix(proposal.GroupID)+"*")
	return result, nil
}

// RescheduleContents previews and executes in one call. The caller must still
// confirm explicitly.
func (s *RescheduleService) RescheduleContents(ctx context.Context, actor models.Actor, groupID string, adjustments []models.AdjustmentInput, opts RescheduleOptions, dateRange *models.PlacementDateRange) (*models.RescheduleResult, error) {
	if !opts.Confirm {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "reschedule must be confirmed before it is executed")
	}
	proposal, err := s.ProposeReschedule(ctx, actor, groupID, adjustments, dateRange, opts.Reason)
	if err != nil {
		return nil, err
	}
	result, err := s.CommitReschedule(ctx, actor, proposal.Token, true)
	if err != nil {
		s.proposals.Delete(proposal.Token)
		return nil, err
	}
	return result, nil
}

func (s *RescheduleService) execute(ctx context.Context, actor models.Actor, p rescheduleProposal) (result *models.RescheduleResult, err error) {
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider unavailable")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to begin reschedule transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	beforeIDs := make([]string, 0, len(p.Before))
	for _, plan := range p.Before {
		beforeIDs = append(beforeIDs, plan.ID)
	}
	locked, err := s.plans.LockByIDs(ctx, tx, beforeIDs)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to lock plans")
		return nil, err
	}
	if err = ensureStillReschedulable(beforeIDs, locked); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	deadline := now.Add(s.cfg.RollbackWindow)
	after := make([]models.PlanOccurrence, len(p.After))
	insertedIDs := make([]string, len(p.After))
	for i, plan := range p.After {
		plan.ID = uuid.NewString()
		plan.PlanGroupID = p.GroupID
		plan.StudentID = p.StudentID
		plan.Status = models.PlanStatusPending
		plan.IsActive = true
		after[i] = plan
		insertedIDs[i] = plan.ID
	}

	adjusted, marshalErr := json.Marshal(p.Adjustments)
	if marshalErr != nil {
		err = appErrors.Wrap(marshalErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode adjustments")
		return nil, err
	}
	entry := &models.RescheduleLog{
		ID:               uuid.NewString(),
		PlanGroupID:      p.GroupID,
		StudentID:        p.StudentID,
		AdjustedContents: types.JSONText(adjusted),
		PlansBeforeCount: len(locked),
		PlansAfterCount:  len(after),
		InsertedPlanIDs:  insertedIDs,
		Status:           models.RescheduleLogStatusCompleted,
		State:            models.RescheduleStateExecuted,
		CreatedBy:        actor.UserID,
		ExecutedAt:       now,
		RollbackDeadline: deadline,
	}
	if p.Reason != "" {
		reason := p.Reason
		entry.Reason = &reason
	}
	if err = s.logs.Create(ctx, tx, entry); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to record reschedule log")
		return nil, err
	}

	history, err := buildHistory(entry.ID, p, locked)
	if err != nil {
		return nil, err
	}
	if err = s.history.InsertBatch(ctx, tx, history); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to back up plans")
		return nil, err
	}

	deactivated, err := s.plans.Deactivate(ctx, tx, beforeIDs)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to deactivate plans")
		return nil, err
	}
	if int(deactivated) != len(beforeIDs) {
		err = appErrors.Clone(appErrors.ErrStaleState, fmt.Sprintf("expected to deactivate %d plans, deactivated %d", len(beforeIDs), deactivated))
		return nil, err
	}

	if err = s.plans.InsertBatch(ctx, tx, after, s.cfg.InsertBatchSize); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to insert new plans")
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to commit reschedule transaction")
		return nil, err
	}

	s.metrics.RecordPlansWritten("deactivated", len(beforeIDs))
	s.metrics.RecordPlansWritten("inserted", len(after))
	applog.FromContext(ctx, s.logger).Info("reschedule executed",
		zap.String("plan_group_id", p.GroupID),
		zap.String("reschedule_log_id", entry.ID),
		zap.Int("plans_before", entry.PlansBeforeCount),
		zap.Int("plans_after", entry.PlansAfterCount),
	)

	return &models.RescheduleResult{
		Success:          true,
		State:            models.RescheduleStateExecuted,
		RescheduleLogID:  entry.ID,
		PlansBeforeCount: entry.PlansBeforeCount,
		PlansAfterCount:  entry.PlansAfterCount,
		RollbackDeadline: &deadline,
	}, nil
}

// ensureStillReschedulable fails when a previewed row disappeared, was completed
// or was deactivated since the preview.
func ensureStillReschedulable(expected []string, locked []models.PlanOccurrence) error {
	byID := make(map[string]models.PlanOccurrence, len(locked))
	for _, plan := range locked {
		byID[plan.ID] = plan
	}
	for _, id := range expected {
		plan, ok := byID[id]
		switch {
		case !ok:
			return appErrors.Clone(appErrors.ErrStaleState, fmt.Sprintf("plan %s no longer exists", id))
		case plan.Completed():
			return appErrors.Clone(appErrors.ErrStaleState, fmt.Sprintf("plan %s was completed after the preview", id))
		case !plan.IsActive:
			return appErrors.Clone(appErrors.ErrStaleState, fmt.Sprintf("plan %s was deactivated after the preview", id))
		}
	}
	return nil
}

func buildHistory(logID string, p rescheduleProposal, locked []models.PlanOccurrence) ([]models.PlanHistory, error) {
	changeByContent := make(map[string]models.ChangeType, len(p.Adjustments))
	for _, adj := range p.Adjustments {
		changeByContent[adj.Before.ContentID] = adj.ChangeType
	}
	entries := make([]models.PlanHistory, 0, len(locked))
	for _, plan := range locked {
		data, err := json.Marshal(plan)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode plan backup")
		}
		changeType, ok := changeByContent[plan.ContentID]
		if !ok {
			changeType = models.ChangeTypeFull
		}
		id := logID
		entries = append(entries, models.PlanHistory{
			PlanID:          plan.ID,
			PlanGroupID:     p.GroupID,
			RescheduleLogID: &id,
			ContentID:       plan.ContentID,
			AdjustmentType:  changeType,
			PlanData:        types.JSONText(data),
		})
	}
	return entries, nil
}

// RollbackReschedule undoes an executed reschedule while its rollback window is open.
func (s *RescheduleService) RollbackReschedule(ctx context.Context, actor models.Actor, logID string) (result *models.RollbackResult, err error) {
	ctx, finish := s.startOperation(ctx, "rollback", attribute.String("reschedule_log.id", logID))
	defer func() { finish(err) }()

	entry, err := s.logs.FindByID(ctx, logID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "reschedule log not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load reschedule log")
	}
	if !actor.CanAccess(entry.StudentID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "plan group belongs to another student")
	}
	now := s.clock.Now()
	if err = rollbackAllowed(entry, now); err != nil {
		return nil, err
	}
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider unavailable")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to begin rollback transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	locked, err := s.logs.LockByID(ctx, tx, logID)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to lock reschedule log")
		return nil, err
	}
	if err = rollbackAllowed(locked, now); err != nil {
		return nil, err
	}

	inserted, err := s.plans.LockByIDs(ctx, tx, locked.InsertedPlanIDs)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to lock rescheduled plans")
		return nil, err
	}
	for _, plan := range inserted {
		if plan.Completed() {
			err = appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("plan %s created by this reschedule is already completed", plan.ID))
			return nil, err
		}
	}
	deactivated, err := s.plans.Deactivate(ctx, tx, locked.InsertedPlanIDs)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to deactivate rescheduled plans")
		return nil, err
	}

	history, err := s.history.ListByLog(ctx, tx, logID)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load plan backups")
		return nil, err
	}
	restoreIDs := make([]string, 0, len(history))
	for _, h := range history {
		restoreIDs = append(restoreIDs, h.PlanID)
	}
	restored, err := s.plans.Reactivate(ctx, tx, restoreIDs)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to restore plans")
		return nil, err
	}

	if err = s.logs.MarkRolledBack(ctx, tx, logID, now); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to mark reschedule rolled back")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to commit rollback transaction")
		return nil, err
	}

	s.cache.Invalidate(ctx, previewCachePrefix(locked.PlanGroupID)+"*")
	s.metrics.RecordPlansWritten("restored", int(restored))
	applog.FromContext(ctx, s.logger).Info("reschedule rolled back",
		zap.String("reschedule_log_id", logID), zap.Int64("restored", restored), zap.Int64("deactivated", deactivated))

	return &models.RollbackResult{
		RescheduleLogID:  logID,
		RestoredCount:    int(restored),
		DeactivatedCount: int(deactivated),
		RolledBackAt:     now,
	}, nil
}

func rollbackAllowed(entry *models.RescheduleLog, now time.Time) error {
	switch {
	case entry.Status == models.RescheduleLogStatusRolledBack:
		return appErrors.Clone(appErrors.ErrConflict, "reschedule was already rolled back")
	case entry.Status != models.RescheduleLogStatusCompleted || now.After(entry.RollbackDeadline):
		return appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("rollback window closed at %s", entry.RollbackDeadline.UTC().Format(time.RFC3339)))
	}
	return nil
}

// ListRescheduleLogs returns a plan group's reschedule history, newest first.
func (s *RescheduleService) ListRescheduleLogs(ctx context.Context, actor models.Actor, groupID string, limit int) ([]models.RescheduleLog, error) {
	group, err := s.loadGroup(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}
	logs, err := s.logs.ListByGroup(ctx, group.ID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to list reschedule logs")
	}
	return logs, nil
}

// Sweep drops expired proposals and closes elapsed rollback windows.
func (s *RescheduleService) Sweep(ctx context.Context) (proposals int, expiredLogs int64, err error) {
	proposals = s.proposals.Purge()
	s.metrics.RecordSweep("proposals", proposals)
	expiredLogs, err = s.logs.ExpireElapsed(ctx, s.clock.Now())
	if err != nil {
		return proposals, 0, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to expire reschedule logs")
	}
	s.metrics.RecordSweep("reschedule_logs", int(expiredLogs))
	return proposals, expiredLogs, nil
}

func (s *RescheduleService) loadGroup(ctx context.Context, actor models.Actor, groupID string) (*models.PlanGroup, error) {
	if groupID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "plan group id is required")
	}
	group, err := s.groups.FindByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load plan group")
	}
	if !actor.CanAccess(group.StudentID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "plan group belongs to another student")
	}
	return group, nil
}

// compute is the one deterministic path from adjustments to new occurrences,
// shared by preview and propose.
func (s *RescheduleService) compute(ctx context.Context, group *models.PlanGroup, adjustments []models.AdjustmentInput, dateRange *models.PlacementDateRange) (*rescheduleComputation, error) {
	contents, err := s.contents.ListByGroup(ctx, group.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load plan contents")
	}
	if len(contents) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "plan group has no contents")
	}
	normalized, err := s.normalizeAdjustments(ctx, contents, adjustments)
	if err != nil {
		return nil, err
	}

	today := models.NewDate(s.clock.Today())
	window, err := ResolvePlacementWindow(dateRange, today, group.PeriodEnd)
	if err != nil {
		return nil, err
	}

	rows, err := s.plans.ListInWindow(ctx, group.ID, group.StudentID, window.From, window.To)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load plans")
	}

	adjustedIDs := make(map[string]struct{}, len(normalized))
	affectedContent := make(map[string]struct{}, len(normalized))
	contentByID := make(map[string]models.PlanContent, len(contents))
	for _, c := range contents {
		contentByID[c.ID] = c
	}
	for _, adj := range normalized {
		adjustedIDs[adj.PlanContentID] = struct{}{}
		affectedContent[contentByID[adj.PlanContentID].ContentID] = struct{}{}
	}

	var before, kept []models.PlanOccurrence
	for _, row := range rows {
		_, affected := affectedContent[row.ContentID]
		switch {
		case affected && row.Reschedulable():
			before = append(before, row)
		case row.IsActive || row.Completed():
			kept = append(kept, row)
		}
	}

	var toPlace []models.PlanContent
	for _, c := range ApplyAdjustments(contents, normalized) {
		if _, ok := adjustedIDs[c.ID]; ok {
			toPlace = append(toPlace, c)
		}
	}

	var (
		exclusions []models.PlanExclusion
		blocks     []models.StudyBlock
		past       []models.PlanOccurrence
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var loadErr error
		if past, loadErr = s.plans.ListPastUncompleted(gctx, group.ID, group.StudentID, today); loadErr != nil {
			return appErrors.Wrap(loadErr, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load unfinished plans")
		}
		return nil
	})
	g.Go(func() error {
		var loadErr error
		if exclusions, loadErr = s.groups.ListExclusions(gctx, group.ID); loadErr != nil {
			return appErrors.Wrap(loadErr, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load exclusions")
		}
		return nil
	})
	g.Go(func() error {
		var loadErr error
		if blocks, loadErr = s.groups.ListStudyBlocks(gctx, group.ID); loadErr != nil {
			return appErrors.Wrap(loadErr, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load study blocks")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Unfinished past pages of the adjusted contents are carried into the new
	// ranges. A manual window only carries contents it actually reschedules.
	eligible := affectedContent
	if window.Mode == models.PlacementModeManual {
		eligible = make(map[string]struct{}, len(before))
		for _, row := range before {
			eligible[row.ContentID] = struct{}{}
		}
	}
	toPlace = WidenToUncompleted(toPlace, UncompletedBounds(past), eligible)

	after, err := s.placer.Place(PlacementInput{
		GroupID:    group.ID,
		StudentID:  group.StudentID,
		Contents:   toPlace,
		Window:     window,
		Exclusions: exclusions,
		Blocks:     blocks,
		Existing:   kept,
	})
	if err != nil {
		return nil, err
	}
	if err := ensureNoCompletedSlot(kept, after); err != nil {
		return nil, err
	}

	schedule := append(append([]models.PlanOccurrence{}, kept...), after...)
	conflicts := DetectAllConflicts(schedule, BuildDailyAggregates(schedule), s.cfg.MaxDailyHours)
	s.metrics.RecordConflicts(conflicts)

	result := &models.ReschedulePreviewResult{
		PlanGroupID:        group.ID,
		State:              models.RescheduleStatePreviewed,
		PlansBeforeCount:   len(before),
		PlansAfterCount:    len(after),
		AffectedDates:      affectedDates(before, after),
		EstimatedHours:     estimatedHours(after),
		PlansBefore:        nonNil(before),
		PlansAfter:         nonNil(after),
		AdjustmentsSummary: SummarizeAdjustments(normalized),
		Conflicts:          conflicts,
		Placement:          window,
		GeneratedAt:        s.clock.Now(),
	}
	if result.Conflicts == nil {
		result.Conflicts = []models.Conflict{}
	}
	return &rescheduleComputation{
		group:       group,
		adjustments: normalized,
		window:      window,
		before:      before,
		after:       after,
		result:      result,
	}, nil
}

// normalizeAdjustments resolves each adjustment against the group's contents,
// fills in missing snapshots and validates it. Later adjustments for the same
// content replace earlier ones.
func (s *RescheduleService) normalizeAdjustments(ctx context.Context, contents []models.PlanContent, adjustments []models.AdjustmentInput) ([]models.AdjustmentInput, error) {
	byID := make(map[string]models.PlanContent, len(contents))
	byContentID := make(map[string]models.PlanContent, len(contents))
	for _, c := range contents {
		byID[c.ID] = c
		if _, exists := byContentID[c.ContentID]; !exists {
			byContentID[c.ContentID] = c
		}
	}

	set := NewAdjustmentSet()
	for _, adj := range adjustments {
		content, ok := byID[adj.PlanContentID]
		if !ok {
			content, ok = byContentID[adj.PlanContentID]
		}
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown plan content %q", adj.PlanContentID))
		}
		adj.PlanContentID = content.ID
		if adj.Before.ContentID == "" {
			adj.Before = content.Snapshot()
		}
		if adj.ChangeType != models.ChangeTypeReplace && adj.After.ContentID == "" {
			adj.After.ContentID = adj.Before.ContentID
			adj.After.ContentType = adj.Before.ContentType
			if adj.ChangeType == models.ChangeTypeFull && adj.After.Range == (models.ContentRange{}) {
				adj.After.Range = adj.Before.Range
			}
		}

		var extent *int
		if adj.ChangeType == models.ChangeTypeReplace && s.catalog != nil && adj.After.ContentType.Valid() && adj.After.ContentID != "" {
			item, err := s.catalog.FindItem(ctx, adj.After.ContentType, adj.After.ContentID)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("replacement content %s not found", adj.After.ContentID))
			case err != nil:
				return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load replacement content")
			}
			extent = item.TotalExtent()
		}
		if err := ValidateAdjustment(adj, extent); err != nil {
			return nil, err
		}
		set = set.With(adj)
	}
	return set.List(), nil
}

func ensureNoCompletedSlot(kept, after []models.PlanOccurrence) error {
	completed := make(map[string]struct{})
	for _, row := range kept {
		if row.Completed() {
			completed[row.SlotKey()] = struct{}{}
		}
	}
	for _, row := range after {
		if _, taken := completed[row.SlotKey()]; taken {
			return appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("placement reused completed slot %s", row.SlotKey()))
		}
	}
	return nil
}

func affectedDates(before, after []models.PlanOccurrence) []models.Date {
	seen := make(map[string]models.Date)
	for _, row := range before {
		seen[row.PlanDate.String()] = row.PlanDate
	}
	for _, row := range after {
		seen[row.PlanDate.String()] = row.PlanDate
	}
	dates := make([]models.Date, 0, len(seen))
	for _, d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

func estimatedHours(plans []models.PlanOccurrence) float64 {
	total := 0.0
	for _, plan := range plans {
		total += occurrenceHours(plan)
	}
	return math.Round(total*10) / 10
}

func nonNil(plans []models.PlanOccurrence) []models.PlanOccurrence {
	if plans == nil {
		return []models.PlanOccurrence{}
	}
	return plans
}

// startOperation opens a span and returns a finisher that records the outcome
// on the span and in metrics.
func (s *RescheduleService) startOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "reschedule."+name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.ObserveReschedule(name, err, time.Since(start))
	}
}
