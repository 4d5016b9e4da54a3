package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studyplan-api/internal/models"
)

// PlanContentRepository reads the content assignments of a plan group.
type PlanContentRepository struct {
	db *sqlx.DB
}

// NewPlanContentRepository builds the repository.
func NewPlanContentRepository(db *sqlx.DB) *PlanContentRepository {
	return &PlanContentRepository{db: db}
}

// ListByGroup returns contents in display order.
func (r *PlanContentRepository) ListByGroup(ctx context.Context, groupID string) ([]models.PlanContent, error) {
	const query = `SELECT id, plan_group_id, content_id, content_type, start_range, end_range, display_order FROM plan_contents WHERE plan_group_id = $1 ORDER BY display_order ASC, id ASC`
	var contents []models.PlanContent
	if err := r.db.SelectContext(ctx, &contents, query, groupID); err != nil {
		return nil, fmt.Errorf("list plan contents: %w", err)
	}
	return contents, nil
}
