package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/studyplan-api/internal/models"
)

const studentPlanColumns = `id, plan_group_id, student_id, plan_date, block_index, content_id, content_type, start_time, end_time, COALESCE(planned_start_page_or_time, 0) AS planned_start_page_or_time, COALESCE(planned_end_page_or_time, 0) AS planned_end_page_or_time, status, is_active, created_at`

const defaultInsertBatchSize = 100

// StudentPlanRepository manages student_plan rows.
type StudentPlanRepository struct {
	db *sqlx.DB
}

// NewStudentPlanRepository builds the repository.
func NewStudentPlanRepository(db *sqlx.DB) *StudentPlanRepository {
	return &StudentPlanRepository{db: db}
}

func (r *StudentPlanRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListInWindow returns every plan row of the group's student dated inside [from, to],
// active or not, ordered by date and block.
func (r *StudentPlanRepository) ListInWindow(ctx context.Context, groupID, studentID string, from, to models.Date) ([]models.PlanOccurrence, error) {
	query := `SELECT ` + studentPlanColumns + ` FROM student_plan
WHERE plan_group_id = $1 AND student_id = $2 AND plan_date BETWEEN $3 AND $4
ORDER BY plan_date ASC, block_index ASC, id ASC`
	var plans []models.PlanOccurrence
	if err := r.db.SelectContext(ctx, &plans, query, groupID, studentID, from, to); err != nil {
		return nil, fmt.Errorf("list student plans: %w", err)
	}
	normalizePlanTimes(plans)
	return plans, nil
}

// ListPastUncompleted returns the group's active pending or in-progress rows dated
// before the given day.
func (r *StudentPlanRepository) ListPastUncompleted(ctx context.Context, groupID, studentID string, before models.Date) ([]models.PlanOccurrence, error) {
	query := `SELECT ` + studentPlanColumns + ` FROM student_plan
WHERE plan_group_id = $1 AND student_id = $2 AND plan_date < $3 AND is_active = TRUE AND status IN ('pending', 'in_progress')
ORDER BY plan_date ASC, block_index ASC, id ASC`
	var plans []models.PlanOccurrence
	if err := r.db.SelectContext(ctx, &plans, query, groupID, studentID, before); err != nil {
		return nil, fmt.Errorf("list past uncompleted plans: %w", err)
	}
	normalizePlanTimes(plans)
	return plans, nil
}

// LockByIDs selects the given rows FOR UPDATE inside exec's transaction.
func (r *StudentPlanRepository) LockByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.PlanOccurrence, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + studentPlanColumns + ` FROM student_plan WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	var plans []models.PlanOccurrence
	if err := sqlx.SelectContext(ctx, r.exec(exec), &plans, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("lock student plans: %w", err)
	}
	normalizePlanTimes(plans)
	return plans, nil
}

// Deactivate flags the given non-completed rows inactive and returns how many changed.
func (r *StudentPlanRepository) Deactivate(ctx context.Context, exec sqlx.ExtContext, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const query = `UPDATE student_plan SET is_active = FALSE, updated_at = NOW() WHERE id = ANY($1) AND is_active = TRUE AND status <> 'completed'`
	result, err := r.exec(exec).ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("deactivate student plans: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate student plans rows affected: %w", err)
	}
	return affected, nil
}

// Reactivate flags the given rows active again.
func (r *StudentPlanRepository) Reactivate(ctx context.Context, exec sqlx.ExtContext, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const query = `UPDATE student_plan SET is_active = TRUE, updated_at = NOW() WHERE id = ANY($1) AND is_active = FALSE`
	result, err := r.exec(exec).ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("reactivate student plans: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reactivate student plans rows affected: %w", err)
	}
	return affected, nil
}

// InsertBatch inserts plans in chunks of batchSize. Missing IDs are generated and
// written back into plans.
func (r *StudentPlanRepository) InsertBatch(ctx context.Context, exec sqlx.ExtContext, plans []models.PlanOccurrence, batchSize int) error {
	if len(plans) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = defaultInsertBatchSize
	}
	target := r.exec(exec)
	now := time.Now().UTC()

	const query = `
INSERT INTO student_plan (id, plan_group_id, student_id, plan_date, block_index, content_id, content_type, start_time, end_time, planned_start_page_or_time, planned_end_page_or_time, status, is_active, created_at)
VALUES (:id, :plan_group_id, :student_id, :plan_date, :block_index, :content_id, :content_type, :start_time, :end_time, :planned_start_page_or_time, :planned_end_page_or_time, :status, :is_active, :created_at)`

	for i := range plans {
		if plans[i].ID == "" {
			plans[i].ID = uuid.NewString()
		}
		if plans[i].CreatedAt.IsZero() {
			plans[i].CreatedAt = now
		}
	}

	for start := 0; start < len(plans); start += batchSize {
		end := start + batchSize
		if end > len(plans) {
			end = len(plans)
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, plans[start:end]); err != nil {
			return fmt.Errorf("insert student plans: %w", err)
		}
	}
	return nil
}

func normalizePlanTimes(plans []models.PlanOccurrence) {
	for i := range plans {
		plans[i].StartTime = models.NormalizeClock(plans[i].StartTime)
		plans[i].EndTime = models.NormalizeClock(plans[i].EndTime)
	}
}
