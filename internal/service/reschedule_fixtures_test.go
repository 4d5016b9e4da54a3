package service

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/studyplan-api/internal/models"
	"github.com/noah-isme/studyplan-api/pkg/clock"
)

type txProviderMock struct {
	db   *sqlx.DB
	mock sqlmock.Sqlmock
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb, mock: mock}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

type fakeGroups struct {
	group      *models.PlanGroup
	exclusions []models.PlanExclusion
	blocks     []models.StudyBlock
}

func (f *fakeGroups) FindByID(ctx context.Context, id string) (*models.PlanGroup, error) {
	if f.group == nil || f.group.ID != id {
		return nil, sql.ErrNoRows
	}
	g := *f.group
	return &g, nil
}

func (f *fakeGroups) ListExclusions(ctx context.Context, groupID string) ([]models.PlanExclusion, error) {
	return f.exclusions, nil
}

func (f *fakeGroups) ListStudyBlocks(ctx context.Context, groupID string) ([]models.StudyBlock, error) {
	return f.blocks, nil
}

type fakeContents struct {
	contents []models.PlanContent
}

func (f *fakeContents) ListByGroup(ctx context.Context, groupID string) ([]models.PlanContent, error) {
	return append([]models.PlanContent(nil), f.contents...), nil
}

// fakePlans mimics the student_plan repository's SQL predicates over a slice.
type fakePlans struct {
	rows     []models.PlanOccurrence
	inserted int
}

func (f *fakePlans) ListInWindow(ctx context.Context, groupID, studentID string, from, to models.Date) ([]models.PlanOccurrence, error) {
	var out []models.PlanOccurrence
	for _, row := range f.rows {
		if row.PlanGroupID == groupID && row.StudentID == studentID && !row.PlanDate.Before(from) && !row.PlanDate.After(to) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakePlans) ListPastUncompleted(ctx context.Context, groupID, studentID string, before models.Date) ([]models.PlanOccurrence, error) {
	var out []models.PlanOccurrence
	for _, row := range f.rows {
		if row.PlanGroupID == groupID && row.StudentID == studentID && row.PlanDate.Before(before) && row.Reschedulable() {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakePlans) LockByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.PlanOccurrence, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []models.PlanOccurrence
	for _, row := range f.rows {
		if _, ok := want[row.ID]; ok {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakePlans) Deactivate(ctx context.Context, exec sqlx.ExtContext, ids []string) (int64, error) {
	var n int64
	for _, id := range ids {
		for i := range f.rows {
			if f.rows[i].ID == id && f.rows[i].IsActive && !f.rows[i].Completed() {
				f.rows[i].IsActive = false
				n++
			}
		}
	}
	return n, nil
}

func (f *fakePlans) Reactivate(ctx context.Context, exec sqlx.ExtContext, ids []string) (int64, error) {
	var n int64
	for _, id := range ids {
		for i := range f.rows {
			if f.rows[i].ID == id && !f.rows[i].IsActive {
				f.rows[i].IsActive = true
				n++
			}
		}
	}
	return n, nil
}

func (f *fakePlans) InsertBatch(ctx context.Context, exec sqlx.ExtContext, plans []models.PlanOccurrence, batchSize int) error {
	f.rows = append(f.rows, plans...)
	f.inserted += len(plans)
	return nil
}

func (f *fakePlans) byID(id string) models.PlanOccurrence {
	for _, row := range f.rows {
		if row.ID == id {
			return row
		}
	}
	return models.PlanOccurrence{}
}

func (f *fakePlans) active(contentID string) []models.PlanOccurrence {
	var out []models.PlanOccurrence
	for _, row := range f.rows {
		if row.IsActive && row.ContentID == contentID {
			out = append(out, row)
		}
	}
	return out
}

type fakeHistory struct {
	entries []models.PlanHistory
}

func (f *fakeHistory) InsertBatch(ctx context.Context, exec sqlx.ExtContext, entries []models.PlanHistory) error {
	f.entries = append(f.entries, entries...)
	return nil
}

func (f *fakeHistory) ListByLog(ctx context.Context, exec sqlx.ExtContext, logID string) ([]models.PlanHistory, error) {
	var out []models.PlanHistory
	for _, e := range f.entries {
		if e.RescheduleLogID != nil && *e.RescheduleLogID == logID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeLogs struct {
	logs    map[string]*models.RescheduleLog
	expired int64
}

func (f *fakeLogs) Create(ctx context.Context, exec sqlx.ExtContext, entry *models.RescheduleLog) error {
	if f.logs == nil {
		f.logs = make(map[string]*models.RescheduleLog)
	}
	copied := *entry
	f.logs[entry.ID] = &copied
	return nil
}

func (f *fakeLogs) FindByID(ctx context.Context, id string) (*models.RescheduleLog, error) {
	entry, ok := f.logs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *entry
	return &copied, nil
}

func (f *fakeLogs) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.RescheduleLog, error) {
	return f.FindByID(ctx, id)
}

func (f *fakeLogs) ListByGroup(ctx context.Context, groupID string, limit int) ([]models.RescheduleLog, error) {
	var out []models.RescheduleLog
	for _, entry := range f.logs {
		if entry.PlanGroupID == groupID {
			out = append(out, *entry)
		}
	}
	return out, nil
}

func (f *fakeLogs) MarkRolledBack(ctx context.Context, exec sqlx.ExtContext, id string, at time.Time) error {
	entry, ok := f.logs[id]
	if !ok {
		return sql.ErrNoRows
	}
	entry.Status = models.RescheduleLogStatusRolledBack
	entry.RolledBackAt = &at
	return nil
}

func (f *fakeLogs) ExpireElapsed(ctx context.Context, now time.Time) (int64, error) {
	return f.expired, nil
}

type fakeCatalog struct {
	items map[string]models.CatalogItem
}

func (f *fakeCatalog) FindItem(ctx context.Context, contentType models.ContentType, id string) (models.CatalogItem, error) {
	item, ok := f.items[string(contentType)+":"+id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return item, nil
}

func strPtr(v string) *string { return &v }

func intPtr(v int) *int { return &v }

func datePtr(raw string) *models.Date {
	d := models.MustDate(raw)
	return &d
}

var (
	studentActor = models.Actor{UserID: "student-1", Role: models.RoleStudent}
	teacherActor = models.Actor{UserID: "teacher-1", Role: models.RoleTeacher}
	otherStudent = models.Actor{UserID: "student-2", Role: models.RoleStudent}
)

// rescheduleFixture is a plan group running 2026-03-01..2026-03-08 with one
// 09:00-11:00 study block every day, seen from Monday 2026-03-02 09:00 UTC.
type rescheduleFixture struct {
	clock    *clock.Fixed
	groups   *fakeGroups
	contents *fakeContents
	plans    *fakePlans
	history  *fakeHistory
	logs     *fakeLogs
	catalog  *fakeCatalog
	tx       txProvider
	mock     sqlmock.Sqlmock
	svc      *RescheduleService
}

func newRescheduleFixture(t *testing.T) *rescheduleFixture {
	t.Helper()
	f := &rescheduleFixture{
		clock:  clock.NewFixed(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
		groups: &fakeGroups{
			group: &models.PlanGroup{
				ID:          "group-1",
				StudentID:   "student-1",
				Name:        "Spring",
				PeriodStart: models.MustDate("2026-03-01"),
				PeriodEnd:   models.MustDate("2026-03-08"),
				Status:      models.PlanGroupStatusActive,
			},
		},
		contents: &fakeContents{contents: []models.PlanContent{
			{ID: "pc-1", PlanGroupID: "group-1", ContentID: "book-1", ContentType: models.ContentTypeBook, StartRange: 1, EndRange: 30, DisplayOrder: 1},
			{ID: "pc-2", PlanGroupID: "group-1", ContentID: "lec-1", ContentType: models.ContentTypeLecture, StartRange: 1, EndRange: 6, DisplayOrder: 2},
		}},
		plans: &fakePlans{rows: []models.PlanOccurrence{
			fixturePlan("p1", "2026-03-03", "book-1", models.PlanStatusPending, true, 1, 5, "09:00", "10:00"),
			fixturePlan("p2", "2026-03-04", "book-1", models.PlanStatusCompleted, true, 6, 10, "09:00", "10:00"),
			fixturePlan("p3", "2026-03-05", "book-1", models.PlanStatusPending, true, 11, 15, "", ""),
			fixturePlan("p4", "2026-03-03", "lec-1", models.PlanStatusPending, true, 1, 1, "10:00", "11:00"),
			fixturePlan("p5", "2026-03-06", "book-1", models.PlanStatusPending, false, 16, 20, "", ""),
		}},
		history: &fakeHistory{},
		logs:    &fakeLogs{},
		catalog: &fakeCatalog{items: map[string]models.CatalogItem{
			"book:book-2":   models.Book{ID: "book-2", Title: "Algebra II", TotalPages: intPtr(200)},
			"lecture:lec-9": models.Lecture{ID: "lec-9", Title: "Calculus"},
		}},
	}
	for day := 0; day < 7; day++ {
		f.groups.blocks = append(f.groups.blocks, models.StudyBlock{PlanGroupID: "group-1", DayOfWeek: day, BlockIndex: 1, StartTime: "09:00", EndTime: "11:00"})
	}
	f.tx, f.mock = newTxProviderMock(t)
	f.svc = NewRescheduleService(f.groups, f.contents, f.plans, f.history, f.logs, f.tx, f.clock, zap.NewNop(),
		RescheduleConfig{ProposalTTL: 30 * time.Minute, RollbackWindow: 24 * time.Hour, MaxDailyHours: 12},
		WithCatalog(f.catalog))
	return f
}

func fixturePlan(id, date, contentID string, status models.PlanStatus, active bool, from, to int, start, end string) models.PlanOccurrence {
	plan := models.PlanOccurrence{
		ID:           id,
		PlanGroupID:  "group-1",
		StudentID:    "student-1",
		PlanDate:     models.MustDate(date),
		BlockIndex:   1,
		ContentID:    contentID,
		ContentType:  models.ContentTypeBook,
		PlannedStart: from,
		PlannedEnd:   to,
		Status:       status,
		IsActive:     active,
	}
	if contentID == "lec-1" {
		plan.ContentType = models.ContentTypeLecture
	}
	if start != "" {
		plan.StartTime = strPtr(start)
		plan.EndTime = strPtr(end)
	}
	return plan
}

func rangeAdjustment(planContentID string, start, end int) models.AdjustmentInput {
	return models.AdjustmentInput{
		PlanContentID: planContentID,
		ChangeType:    models.ChangeTypeRange,
		After:         models.ContentSnapshot{Range: models.ContentRange{Start: start, End: end}},
	}
}
