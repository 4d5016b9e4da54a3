package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/studyplan-api/internal/models"
	"github.com/noah-isme/studyplan-api/internal/repository"
	appErrors "github.com/noah-isme/studyplan-api/pkg/errors"
)

func TestGetReschedulePreviewSkipsCompletedRows(t *testing.T) {
	f := newRescheduleFixture(t)

	result, err := f.svc.GetReschedulePreview(context.Background(), studentActor, "group-1",
		[]models.AdjustmentInput{rangeAdjustment("pc-1", 16, 27)}, nil)
	require.NoError(t, err)

	assert.Equal(t, models.RescheduleStatePreviewed, result.State)
	assert.Equal(t, 2, result.PlansBeforeCount)
	assert.Equal(t, "p1", result.PlansBefore[0].ID)
	assert.Equal(t, "p3", result.PlansBefore[1].ID)
	require.Equal(t, 5, result.PlansAfterCount)
	for _, plan := range result.PlansAfter {
		assert.NotEqual(t, "2026-03-04", plan.PlanDate.String(), "completed slot must stay free")
		assert.Equal(t, "book-1", plan.ContentID)
	}

	first := result.PlansAfter[0]
	assert.Equal(t, "2026-03-03", first.PlanDate.String())
	assert.Equal(t, "09:00", *first.StartTime)
	assert.Equal(t, "10:00", *first.EndTime)
	assert.Equal(t, 16, first.PlannedStart)
	assert.Equal(t, 18, first.PlannedEnd)
	assert.Equal(t, 27, result.PlansAfter[4].PlannedEnd)

	dates := make([]string, 0, len(result.AffectedDates))
	for _, d := range result.AffectedDates {
		dates = append(dates, d.String())
	}
	assert.Equal(t, []string{"2026-03-03", "2026-03-05", "2026-03-06", "2026-03-07", "2026-03-08"}, dates)
	assert.Equal(t, 9.0, result.EstimatedHours)
	assert.Empty(t, result.Conflicts)
	assert.Equal(t, models.AdjustmentsSummary{RangeChanges: 1}, result.AdjustmentsSummary)
	assert.Equal(t, models.PlacementModeAuto, result.Placement.Mode)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetReschedulePreviewCarriesUnfinishedPastPages(t *testing.T) {
	f := newRescheduleFixture(t)
	f.plans.rows = append(f.plans.rows,
		fixturePlan("p0", "2026-03-01", "book-1", models.PlanStatusInProgress, true, 12, 14, "", ""),
		fixturePlan("p00", "2026-02-28", "book-1", models.PlanStatusCompleted, true, 1, 11, "", ""),
		fixturePlan("p01", "2026-03-01", "lec-1", models.PlanStatusPending, true, 1, 1, "", ""),
	)

	result, err := f.svc.GetReschedulePreview(context.Background(), studentActor, "group-1",
		[]models.AdjustmentInput{rangeAdjustment("pc-1", 16, 27)}, nil)
	require.NoError(t, err)

	require.Equal(t, 5, result.PlansAfterCount)
	assert.Equal(t, 12, result.PlansAfter[0].PlannedStart)
	assert.Equal(t, 15, result.PlansAfter[0].PlannedEnd)
	assert.Equal(t, 27, result.PlansAfter[4].PlannedEnd)
	for _, plan := range result.PlansBefore {
		assert.NotEqual(t, "p0", plan.ID, "past rows are not replaced")
	}

	proposal, err := f.svc.ProposeReschedule(context.Background(), studentActor, "group-1",
		[]models.AdjustmentInput{rangeAdjustment("pc-1", 16, 27)}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 12, proposal.Preview.PlansAfter[0].PlannedStart)
}

func TestGetReschedulePreviewManualWindowOnlyCarriesRescheduledContents(t *testing.T) {
	f := newRescheduleFixture(t)
	f.plans.rows = append(f.plans.rows,
		fixturePlan("p0", "2026-03-01", "book-1", models.PlanStatusPending, true, 12, 14, "", ""))

	result, err := f.svc.GetReschedulePreview(context.Background(), studentActor, "group-1",
		[]models.AdjustmentInput{rangeAdjustment("pc-1", 16, 27)},
		&models.PlacementDateRange{From: datePtr("2026-03-07"), To: datePtr("2026-03-08")})
	require.NoError(t, err)

	assert.Zero(t, result.PlansBeforeCount)
	require.NotEmpty(t, result.PlansAfter)
	assert.Equal(t, 16, result.PlansAfter[0].PlannedStart)
}

func TestGetReschedulePreviewResolvesContentIDFallback(t *testing.T) {
	f := newRescheduleFixture(t)

	result, err := f.svc.GetReschedulePreview(context.Background(), teacherActor, "group-1",
		[]models.AdjustmentInput{rangeAdjustment("lec-1", 2, 4)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PlansBeforeCount)
	assert.Equal(t, "p4", result.PlansBefore[0].ID)
	assert.Equal(t, 3, result.PlansAfterCount)
}

func TestGetReschedulePreviewValidation(t *testing.T) {
	today := models.MustDate("2026-03-02")
	tests := []struct {
		name        string
		actor       models.Actor
		groupID     string
		adjustments []models.AdjustmentInput
		dateRange   *models.PlacementDateRange
		want        *appErrors.Error
	}{
		{name: "no adjustments", actor: studentActor, groupID: "group-1", want: appErrors.ErrValidation},
		{name: "unknown content", actor: studentActor, groupID: "group-1",
			adjustments: []models.AdjustmentInput{rangeAdjustment("pc-9", 1, 2)}, want: appErrors.ErrValidation},
		{name: "start after end", actor: studentActor, groupID: "group-1",
			adjustments: []models.AdjustmentInput{rangeAdjustment("pc-1", 10, 5)}, want: appErrors.ErrValidation},
		{name: "window starts today", actor: studentActor, groupID: "group-1",
			adjustments: []models.AdjustmentInput{rangeAdjustment("pc-1", 1, 5)},
			dateRange:   &models.PlacementDateRange{From: &today}, want: appErrors.ErrValidation},
		{name: "window past period end", actor: studentActor, groupID: "group-1",
			adjustments: []models.AdjustmentInput{rangeAdjustment("pc-1", 1, 5)},
			dateRange:   &models.PlacementDateRange{From: datePtr("2026-03-04"), To: datePtr("2026-03-20")}, want: appErrors.ErrValidation},
		{name: "other student", actor: otherStudent, groupID: "group-1",
			adjustments: []models.AdjustmentInput{rangeAdjustment("pc-1", 1, 5)}, want: appErrors.ErrForbidden},
		{name: "missing group", actor: teacherActor, groupID: "group-404",
			adjustments: []models.AdjustmentInput{rangeAdjustment("pc-1", 1, 5)}, want: appErrors.ErrNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newRescheduleFixture(t)
			_, err := f.svc.GetReschedulePreview(context.Background(), tc.actor, tc.groupID, tc.adjustments, tc.dateRange)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestGetReschedulePreviewReplaceUsesCatalogExtent(t *testing.T) {
	f := newRescheduleFixture(t)
	replace := func(contentID string, start, end int) []models.AdjustmentInput {
		return []models.AdjustmentInput{{
			PlanContentID: "pc-1",
			ChangeType:    models.ChangeTypeReplace,
			After: models.ContentSnapshot{
				ContentID:   contentID,
				ContentType: models.ContentTypeBook,
				Range:       models.ContentRange{Start: start, End: end},
			},
		}}
	}

	_, err := f.svc.GetReschedulePreview(context.Background(), studentActor, "group-1", replace("book-2", 150, 250), nil)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.GetReschedulePreview(context.Background(), studentActor, "group-1", replace("book-missing", 1, 5), nil)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	result, err := f.svc.GetReschedulePreview(context.Background(), studentActor, "group-1", replace("book-2", 1, 10), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AdjustmentsSummary.Replacements)
	for _, plan := range result.PlansAfter {
		assert.Equal(t, "book-2", plan.ContentID)
	}
}

func TestGetReschedulePreviewReportsOverload(t *testing.T) {
	f := newRescheduleFixture(t)
	f.groups.blocks = []models.StudyBlock{{PlanGroupID: "group-1", DayOfWeek: int(time.Tuesday), BlockIndex: 1, StartTime: "06:00", EndTime: "23:00"}}
	window := &models.PlacementDateRange{From: datePtr("2026-03-03"), To: datePtr("2026-03-03")}

	result, err := f.svc.GetReschedulePreview(context.Background(), studentActor, "group-1",
		[]models.AdjustmentInput{rangeAdjustment("pc-1", 1, 30)}, window)
	require.NoError(t, err)

	var overload *models.Conflict
	for i := range result.Conflicts {
		if result.Conflicts[i].Type == models.ConflictTypeDailyOverload {
			overload = &result.Conflicts[i]
		}
	}
	require.NotNil(t, overload)
	assert.Equal(t, models.ConflictSeverityMedium, overload.Severity)
	assert.Equal(t, models.PlacementModeManual, result.Placement.Mode)
}

func TestCommitRescheduleRequiresConfirmation(t *testing.T) {
	f := newRescheduleFixture(t)
	proposal, err := f.svc.ProposeReschedule(context.Background(), studentActor, "group-1",
		[]models.AdjustmentInput{rangeAdjustment("pc-1", 16, 27)}, nil, "")
	require.NoError(t, err)

	_, err = f.svc.CommitReschedule(context.Background(), studentActor, proposal.Token, false)
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)
	assert.Equal(t, 0, f.plans.inserted)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCommitRescheduleReplacesPlans(t *testing.T) {
	f := newRescheduleFixture(t)
	proposal, err := f.svc.ProposeReschedule(context.Background(), studentActor, "group-1",
		[]models.AdjustmentInput{rangeAdjustment("pc-1", 16, 27)}, nil, "fell behind")
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), proposal.ExpiresAt)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	result, err := f.svc.CommitReschedule(context.Background(), studentActor, proposal.Token, true)
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())

	assert.True(t, result.Success)
	assert.Equal(t, models.RescheduleStateExecuted, result.State)
	assert.Equal(t, 2, result.PlansBeforeCount)
	assert.Equal(t, 5, result.PlansAfterCount)
	require.NotNil(t, result.RollbackDeadline)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), *result.RollbackDeadline)

	assert.False(t, f.plans.byID("p1").IsActive)
	assert.False(t, f.plans.byID("p3").IsActive)
	completed := f.plans.byID("p2")
	assert.True(t, completed.IsActive)
	assert.Equal(t, models.PlanStatusCompleted, completed.Status)
	assert.True(t, f.plans.byID("p4").IsActive)
	assert.Len(t, f.plans.active("book-1"), 6)

	entry := f.logs.logs[result.RescheduleLogID]
	require.NotNil(t, entry)
	assert.Equal(t, models.RescheduleLogStatusCompleted, entry.Status)
	assert.Len(t, entry.InsertedPlanIDs, 5)
	require.NotNil(t, entry.Reason)
	assert.Equal(t, "fell behind", *entry.Reason)
	assert.Contains(t, entry.AdjustedContents.String(), "pc-1")

	require.Len(t, f.history.entries, 2)
	assert.Equal(t, models.ChangeTypeRange, f.history.entries[0].AdjustmentType)
	assert.Equal(t, result.RescheduleLogID, *f.history.entries[0].RescheduleLogID)

	_, err = f.svc.CommitReschedule(context.Background(), studentActor, proposal.Token, true)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

// sqlPlans reads from the in-memory rows but sends every transactional write
// through the real repository, so the statements hit sqlmock.
type sqlPlans struct {
	*fakePlans
	repo *repository.StudentPlanRepository
}

func (p sqlPlans) LockByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.PlanOccurrence, error) {
	return p.repo.LockByIDs(ctx, exec, ids)
}

func (p sqlPlans) Deactivate(ctx context.Context, exec sqlx.ExtContext, ids []string) (int64, error) {
	return p.repo.Deactivate(ctx, exec, ids)
}

func (p sqlPlans) InsertBatch(ctx context.Context, exec sqlx.ExtContext, plans []models.PlanOccurrence, batchSize int) error {
	return p.repo.InsertBatch(ctx, exec, plans, batchSize)
}

func expectLockedPlans(mock sqlmock.Sqlmock) {
	rows := sqlmock.NewRows([]string{"id", "plan_group_id", "student_id", "plan_date", "block_index", "content_id", "content_type", "start_time", "end_time", "planned_start_page_or_time", "planned_end_page_or_time", "status", "is_active", "created_at"}).
		AddRow("p1", "group-1", "student-1", time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), 1, "book-1", "book", "09:00:00", "10:00:00", 1, 5, "pending", true, time.Now()).
		AddRow("p3", "group-1", "student-1", time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), 1, "book-1", "book", nil, nil, 11, 15, "pending", true, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM student_plan WHERE id = ANY($1) ORDER BY id FOR UPDATE")).
		WithArgs(pq.Array([]string{"p1", "p3"})).
		WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE student_plan SET is_active = FALSE")).
		WithArgs(pq.Array([]string{"p1", "p3"})).
		WillReturnResult(sqlmock.NewResult(0, 2))
}

func TestCommitRescheduleRollsBackWhenInsertFails(t *testing.T) {
	f := newRescheduleFixture(t)
	repo := repository.NewStudentPlanRepository(f.tx.(*txProviderMock).db)
	svc := NewRescheduleService(f.groups, f.contents, sqlPlans{fakePlans: f.plans, repo: repo}, f.history, f.logs, f.tx, f.clock, zap.NewNop(),
		RescheduleConfig{ProposalTTL: 30 * time.Minute, RollbackWindow: 24 * time.Hour, MaxDailyHours: 12})
	proposal, err := svc.ProposeReschedule(context.Background(), studentActor, "group-1",
		[]models.AdjustmentInput{rangeAdjustment("pc-1", 16, 27)}, nil, "")
	require.NoError(t, err)

	f.mock.ExpectBegin()
	expectLockedPlans(f.mock)
	f.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO student_plan")).
		WillReturnError(errors.New("connection reset by peer"))
	f.mock.ExpectRollback()

	result, err := svc.CommitReschedule(context.Background(), studentActor, proposal.Token, true)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, appErrors.ErrStorage)
	assert.Contains(t, err.Error(), "connection reset by peer")
	require.NoError(t, f.mock.ExpectationsWereMet(), "the deactivation must be rolled back, never committed")
	assert.True(t, f.plans.byID("p1").IsActive)
	assert.True(t, f.plans.byID("p3").IsActive)

	f.mock.ExpectBegin()
	expectLockedPlans(f.mock)
	f.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO student_plan")).
		WillReturnResult(sqlmock.NewResult(0, 5))
	f.mock.ExpectCommit()
	_, err = svc.CommitReschedule(context.Background(), studentActor, proposal.Token, true)
	require.NoError(t, err, "a failed commit must leave the token usable")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCommitRescheduleDetectsStaleRows(t *testing.T) {
	f := newRescheduleFixture(t)
	proposal, err := f.svc.ProposeReschedule(context.Background(), studentActor, "group-1",
		[]models.AdjustmentInput{rangeAdjustment("pc-1", 16, 27)}, nil, "")
	require.NoError(t, err)

	f.plans.rows[0].Status = models.PlanStatusCompleted
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err = f.svc.CommitReschedule(context.Background(), studentActor, proposal.Token, true)
	assert.ErrorIs(t, err, appErrors.ErrStaleState)
	require.NoError(t, f.mock.ExpectationsWereMet())
	assert.True(t, f.plans.byID("p3").IsActive)
	assert.Empty(t, f.logs.logs)
}

func TestCommitRescheduleRejectsOtherStudent(t *testing.T) {
	f := newRescheduleFixture(t)
	proposal, err := f.svc.ProposeReschedule(context.Background(), teacherActor, "group-1",
		[]models.AdjustmentInput{rangeAdjustment("pc-1", 16, 27)}, nil, "")
	require.NoError(t, err)

	_, err = f.svc.CommitReschedule(context.Background(), otherStudent, proposal.Token, true)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.CommitReschedule(context.Background(), studentActor, "unknown-token", true)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestProposalExpires(t *testing.T) {
	f := newRescheduleFixture(t)
	proposal, err := f.svc.ProposeReschedule(context.Background(), studentActor, "group-1",
		[]models.AdjustmentInput{rangeAdjustment("pc-1", 16, 27)}, nil, "")
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	_, err = f.svc.CommitReschedule(context.Background(), studentActor, proposal.Token, true)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestRescheduleContentsRequiresConfirm(t *testing.T) {
	f := newRescheduleFixture(t)
	adjustments := []models.AdjustmentInput{rangeAdjustment("pc-1", 16, 27)}

	_, err := f.svc.RescheduleContents(context.Background(), studentActor, "group-1", adjustments, RescheduleOptions{}, nil)
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	result, err := f.svc.RescheduleContents(context.Background(), studentActor, "group-1", adjustments,
		RescheduleOptions{Confirm: true, Reason: "exam moved"}, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, f.svc.proposals.Len())
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func commitFixture(t *testing.T, f *rescheduleFixture) *models.RescheduleResult {
	t.Helper()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	result, err := f.svc.RescheduleContents(context.Background(), studentActor, "group-1",
		[]models.AdjustmentInput{rangeAdjustment("pc-1", 16, 27)}, RescheduleOptions{Confirm: true}, nil)
	require.NoError(t, err)
	return result
}

func TestRollbackRescheduleRestoresPlans(t *testing.T) {
	f := newRescheduleFixture(t)
	committed := commitFixture(t, f)

	f.clock.Advance(2 * time.Hour)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	result, err := f.svc.RollbackReschedule(context.Background(), studentActor, committed.RescheduleLogID)
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())

	assert.Equal(t, 2, result.RestoredCount)
	assert.Equal(t, 5, result.DeactivatedCount)
	assert.True(t, f.plans.byID("p1").IsActive)
	assert.True(t, f.plans.byID("p3").IsActive)
	assert.Len(t, f.plans.active("book-1"), 3)
	assert.Equal(t, models.RescheduleLogStatusRolledBack, f.logs.logs[committed.RescheduleLogID].Status)

	_, err = f.svc.RollbackReschedule(context.Background(), studentActor, committed.RescheduleLogID)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestRollbackRescheduleAfterDeadline(t *testing.T) {
	f := newRescheduleFixture(t)
	committed := commitFixture(t, f)

	f.clock.Advance(25 * time.Hour)
	_, err := f.svc.RollbackReschedule(context.Background(), studentActor, committed.RescheduleLogID)
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRollbackRescheduleRefusesCompletedNewPlans(t *testing.T) {
	f := newRescheduleFixture(t)
	committed := commitFixture(t, f)
	inserted := f.logs.logs[committed.RescheduleLogID].InsertedPlanIDs[0]
	for i := range f.plans.rows {
		if f.plans.rows[i].ID == inserted {
			f.plans.rows[i].Status = models.PlanStatusCompleted
		}
	}

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.RollbackReschedule(context.Background(), studentActor, committed.RescheduleLogID)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	require.NoError(t, f.mock.ExpectationsWereMet())
	assert.False(t, f.plans.byID("p1").IsActive)
}

func TestRollbackRescheduleUnknownLog(t *testing.T) {
	f := newRescheduleFixture(t)
	_, err := f.svc.RollbackReschedule(context.Background(), studentActor, "log-404")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestListRescheduleLogs(t *testing.T) {
	f := newRescheduleFixture(t)
	committed := commitFixture(t, f)

	logs, err := f.svc.ListRescheduleLogs(context.Background(), teacherActor, "group-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, committed.RescheduleLogID, logs[0].ID)

	_, err = f.svc.ListRescheduleLogs(context.Background(), otherStudent, "group-1", 10)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestRescheduleSweep(t *testing.T) {
	f := newRescheduleFixture(t)
	_, err := f.svc.ProposeReschedule(context.Background(), studentActor, "group-1",
		[]models.AdjustmentInput{rangeAdjustment("pc-1", 16, 27)}, nil, "")
	require.NoError(t, err)
	f.logs.expired = 3

	proposals, logs, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, proposals)
	assert.Equal(t, int64(3), logs)

	f.clock.Advance(time.Hour)
	proposals, _, err = f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, proposals)
}
