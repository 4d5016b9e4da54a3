package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studyplan-api/internal/models"
)

// PlanGroupRepository reads plan group metadata and its scheduling constraints.
type PlanGroupRepository struct {
	db *sqlx.DB
}

// NewPlanGroupRepository builds the repository.
func NewPlanGroupRepository(db *sqlx.DB) *PlanGroupRepository {
	return &PlanGroupRepository{db: db}
}

// FindByID returns a plan group. sql.ErrNoRows is returned untouched.
func (r *PlanGroupRepository) FindByID(ctx context.Context, id string) (*models.PlanGroup, error) {
	const query = `SELECT id, student_id, name, period_start, period_end, status, created_at, updated_at FROM plan_groups WHERE id = $1`
	var group models.PlanGroup
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		return nil, err
	}
	return &group, nil
}

// ListExclusions returns the excluded days of a plan group.
func (r *PlanGroupRepository) ListExclusions(ctx context.Context, groupID string) ([]models.PlanExclusion, error) {
	const query = `SELECT plan_group_id, exclusion_date, exclusion_type, reason FROM plan_exclusions WHERE plan_group_id = $1 ORDER BY exclusion_date ASC`
	var exclusions []models.PlanExclusion
	if err := r.db.SelectContext(ctx, &exclusions, query, groupID); err != nil {
		return nil, fmt.Errorf("list plan exclusions: %w", err)
	}
	return exclusions, nil
}

// ListStudyBlocks returns the weekly study blocks ordered by weekday and block index.
func (r *PlanGroupRepository) ListStudyBlocks(ctx context.Context, groupID string) ([]models.StudyBlock, error) {
	const query = `SELECT plan_group_id, day_of_week, block_index, start_time, end_time FROM plan_group_blocks WHERE plan_group_id = $1 ORDER BY day_of_week ASC, block_index ASC`
	var blocks []models.StudyBlock
	if err := r.db.SelectContext(ctx, &blocks, query, groupID); err != nil {
		return nil, fmt.Errorf("list study blocks: %w", err)
	}
	for i := range blocks {
		blocks[i].StartTime = clockValue(blocks[i].StartTime)
		blocks[i].EndTime = clockValue(blocks[i].EndTime)
	}
	return blocks, nil
}

func clockValue(raw string) string {
	if v := models.NormalizeClock(&raw); v != nil {
		return *v
	}
	return ""
}
