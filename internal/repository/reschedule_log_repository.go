package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studyplan-api/internal/models"
)

const rescheduleLogColumns = `id, plan_group_id, student_id, adjusted_contents, plans_before_count, plans_after_count, inserted_plan_ids, reason, status, state, created_by, executed_at, rollback_deadline, rolled_back_at`

// RescheduleLogRepository persists executed reschedules.
type RescheduleLogRepository struct {
	db *sqlx.DB
}

// NewRescheduleLogRepository builds the repository.
func NewRescheduleLogRepository(db *sqlx.DB) *RescheduleLogRepository {
	return &RescheduleLogRepository{db: db}
}

func (r *RescheduleLogRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a log entry, assigning an ID when missing.
func (r *RescheduleLogRepository) Create(ctx context.Context, exec sqlx.ExtContext, entry *models.RescheduleLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	const query = `
INSERT INTO reschedule_log (` + rescheduleLogColumns + `)
VALUES (:id, :plan_group_id, :student_id, :adjusted_contents, :plans_before_count, :plans_after_count, :inserted_plan_ids, :reason, :status, :state, :created_by, :executed_at, :rollback_deadline, :rolled_back_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, entry); err != nil {
		return fmt.Errorf("insert reschedule log: %w", err)
	}
	return nil
}

// FindByID returns a log entry. sql.ErrNoRows is returned untouched.
func (r *RescheduleLogRepository) FindByID(ctx context.Context, id string) (*models.RescheduleLog, error) {
	query := `SELECT ` + rescheduleLogColumns + ` FROM reschedule_log WHERE id = $1`
	var entry models.RescheduleLog
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// LockByID loads a log entry FOR UPDATE inside exec's transaction.
func (r *RescheduleLogRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.RescheduleLog, error) {
	query := `SELECT ` + rescheduleLogColumns + ` FROM reschedule_log WHERE id = $1 FOR UPDATE`
	var entry models.RescheduleLog
	if err := sqlx.GetContext(ctx, r.exec(exec), &entry, query, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListByGroup returns the most recent logs of a plan group.
func (r *RescheduleLogRepository) ListByGroup(ctx context.Context, groupID string, limit int) ([]models.RescheduleLog, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + rescheduleLogColumns + ` FROM reschedule_log WHERE plan_group_id = $1 ORDER BY executed_at DESC LIMIT $2`
	var entries []models.RescheduleLog
	if err := r.db.SelectContext(ctx, &entries, query, groupID, limit); err != nil {
		return nil, fmt.Errorf("list reschedule logs: %w", err)
	}
	return entries, nil
}

// MarkRolledBack sets the log status to rolled_back.
func (r *RescheduleLogRepository) MarkRolledBack(ctx context.Context, exec sqlx.ExtContext, id string, at time.Time) error {
	const query = `UPDATE reschedule_log SET status = $2, rolled_back_at = $3 WHERE id = $1 AND status = $4`
	result, err := r.exec(exec).ExecContext(ctx, query, id, models.RescheduleLogStatusRolledBack, at, models.RescheduleLogStatusCompleted)
	if err != nil {
		return fmt.Errorf("mark reschedule log rolled back: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark reschedule log rolled back rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("mark reschedule log rolled back: log %s is no longer completed", id)
	}
	return nil
}

// ExpireElapsed marks completed logs whose rollback window closed before now.
func (r *RescheduleLogRepository) ExpireElapsed(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE reschedule_log SET status = $1 WHERE status = $2 AND rollback_deadline < $3`
	result, err := r.db.ExecContext(ctx, query, models.RescheduleLogStatusExpired, models.RescheduleLogStatusCompleted, now)
	if err != nil {
		return 0, fmt.Errorf("expire reschedule logs: %w", err)
	}
	return result.RowsAffected()
}
