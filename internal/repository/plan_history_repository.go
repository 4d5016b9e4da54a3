package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studyplan-api/internal/models"
)

// PlanHistoryRepository stores backups of superseded plan rows.
type PlanHistoryRepository struct {
	db *sqlx.DB
}

// NewPlanHistoryRepository builds the repository.
func NewPlanHistoryRepository(db *sqlx.DB) *PlanHistoryRepository {
	return &PlanHistoryRepository{db: db}
}

func (r *PlanHistoryRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// InsertBatch writes backups in one statement.
func (r *PlanHistoryRepository) InsertBatch(ctx context.Context, exec sqlx.ExtContext, entries []models.PlanHistory) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = now
		}
	}

	const query = `
INSERT INTO plan_history (id, plan_id, plan_group_id, reschedule_log_id, content_id, adjustment_type, plan_data, created_at)
VALUES (:id, :plan_id, :plan_group_id, :reschedule_log_id, :content_id, :adjustment_type, :plan_data, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, entries); err != nil {
		return fmt.Errorf("insert plan history: %w", err)
	}
	return nil
}

// ListByLog returns the backups recorded by a reschedule.
func (r *PlanHistoryRepository) ListByLog(ctx context.Context, exec sqlx.ExtContext, logID string) ([]models.PlanHistory, error) {
	const query = `SELECT id, plan_id, plan_group_id, reschedule_log_id, content_id, adjustment_type, plan_data, created_at FROM plan_history WHERE reschedule_log_id = $1 ORDER BY created_at ASC, id ASC`
	var entries []models.PlanHistory
	if err := sqlx.SelectContext(ctx, r.exec(exec), &entries, query, logID); err != nil {
		return nil, fmt.Errorf("list plan history: %w", err)
	}
	return entries, nil
}
