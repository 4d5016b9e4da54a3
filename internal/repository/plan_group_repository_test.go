package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studyplan-api/internal/models"
)

func TestPlanGroupRepositoryFindByID(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewPlanGroupRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "name", "period_start", "period_end", "status", "created_at", "updated_at"}).
		AddRow("group-1", "student-1", "Spring", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), "active", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM plan_groups WHERE id = $1")).
		WithArgs("group-1").
		WillReturnRows(rows)

	group, err := repo.FindByID(context.Background(), "group-1")
	require.NoError(t, err)
	assert.Equal(t, "student-1", group.StudentID)
	assert.Equal(t, "2024-06-30", group.PeriodEnd.String())
	assert.Equal(t, models.PlanGroupStatusActive, group.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanGroupRepositoryFindByIDNotFound(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewPlanGroupRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM plan_groups WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestPlanGroupRepositoryListStudyBlocksNormalizesTimes(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewPlanGroupRepository(db)

	rows := sqlmock.NewRows([]string{"plan_group_id", "day_of_week", "block_index", "start_time", "end_time"}).
		AddRow("group-1", 1, 0, "09:00:00", "10:30:00")
	mock.ExpectQuery(regexp.QuoteMeta("FROM plan_group_blocks WHERE plan_group_id = $1")).
		WithArgs("group-1").
		WillReturnRows(rows)

	blocks, err := repo.ListStudyBlocks(context.Background(), "group-1")
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "09:00", blocks[0].StartTime)
	assert.Equal(t, "10:30", blocks[0].EndTime)
}

func TestPlanGroupRepositoryListExclusions(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewPlanGroupRepository(db)

	rows := sqlmock.NewRows([]string{"plan_group_id", "exclusion_date", "exclusion_type", "reason"}).
		AddRow("group-1", "2024-05-05", "holiday", nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM plan_exclusions WHERE plan_group_id = $1")).
		WithArgs("group-1").
		WillReturnRows(rows)

	exclusions, err := repo.ListExclusions(context.Background(), "group-1")
	require.NoError(t, err)
	require.Len(t, exclusions, 1)
	assert.Equal(t, "2024-05-05", exclusions[0].ExclusionDate.String())
	assert.Nil(t, exclusions[0].Reason)
}

func TestPlanContentRepositoryListByGroup(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewPlanContentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "plan_group_id", "content_id", "content_type", "start_range", "end_range", "display_order"}).
		AddRow("pc-1", "group-1", "book-1", "book", 1, 120, 0).
		AddRow("pc-2", "group-1", "lec-1", "lecture", 3, 12, 1)
	mock.ExpectQuery(regexp.QuoteMeta("FROM plan_contents WHERE plan_group_id = $1")).
		WithArgs("group-1").
		WillReturnRows(rows)

	contents, err := repo.ListByGroup(context.Background(), "group-1")
	require.NoError(t, err)
	require.Len(t, contents, 2)
	assert.Equal(t, models.ContentTypeLecture, contents[1].ContentType)
	assert.Equal(t, models.ContentRange{Start: 1, End: 120}, contents[0].Range())
}
