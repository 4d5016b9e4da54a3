package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

// RescheduleState is the phase a reschedule request has reached.
type RescheduleState string

const (
	RescheduleStateIdle       RescheduleState = "idle"
	RescheduleStatePreviewing RescheduleState = "previewing"
	RescheduleStatePreviewed  RescheduleState = "previewed"
	RescheduleStateExecuting  RescheduleState = "executing"
	RescheduleStateExecuted   RescheduleState = "executed"
	RescheduleStateFailed     RescheduleState = "failed"
)

// PlacementMode selects how the placement window is resolved.
type PlacementMode string

const (
	PlacementModeAuto   PlacementMode = "auto"
	PlacementModeManual PlacementMode = "manual"
)

// PlacementDateRange is the caller-supplied window for new occurrences. A nil
// bound falls back to the automatic window.
type PlacementDateRange struct {
	From *Date `json:"from"`
	To   *Date `json:"to"`
}

// Empty reports whether neither bound is set.
func (r *PlacementDateRange) Empty() bool {
	return r == nil || (r.From == nil && r.To == nil)
}

// PlacementWindow is a resolved, inclusive placement window.
type PlacementWindow struct {
	From Date          `json:"from"`
	To   Date          `json:"to"`
	Mode PlacementMode `json:"mode"`
}

// Contains reports whether d falls inside the window.
func (w PlacementWindow) Contains(d Date) bool {
	return !d.Before(w.From) && !d.After(w.To)
}

// Days returns every date in the window in order.
func (w PlacementWindow) Days() []Date {
	var days []Date
	for d := w.From; !d.After(w.To); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// AdjustmentsSummary counts adjustments per change type.
type AdjustmentsSummary struct {
	RangeChanges      int `json:"range_changes"`
	Replacements      int `json:"replacements"`
	FullRegenerations int `json:"full_regenerations"`
}

// ReschedulePreviewResult forecasts what a reschedule would do.
type ReschedulePreviewResult struct {
	PlanGroupID        string             `json:"plan_group_id"`
	State              RescheduleState    `json:"state"`
	PlansBeforeCount   int                `json:"plans_before_count"`
	PlansAfterCount    int                `json:"plans_after_count"`
	AffectedDates      []Date             `json:"affected_dates"`
	EstimatedHours     float64            `json:"estimated_hours"`
	PlansBefore        []PlanOccurrence   `json:"plans_before"`
	PlansAfter         []PlanOccurrence   `json:"plans_after"`
	AdjustmentsSummary AdjustmentsSummary `json:"adjustments_summary"`
	Conflicts          []Conflict         `json:"conflicts"`
	Placement          PlacementWindow    `json:"placement"`
	GeneratedAt        time.Time          `json:"generated_at"`
}

// RescheduleProposal is a previewed reschedule awaiting confirmation.
type RescheduleProposal struct {
	Token     string                   `json:"token"`
	ExpiresAt time.Time                `json:"expires_at"`
	Preview   *ReschedulePreviewResult `json:"preview"`
}

// RescheduleResult reports the outcome of an executed reschedule.
type RescheduleResult struct {
	Success          bool            `json:"success"`
	State            RescheduleState `json:"state"`
	RescheduleLogID  string          `json:"reschedule_log_id,omitempty"`
	PlansBeforeCount int             `json:"plans_before_count"`
	PlansAfterCount  int             `json:"plans_after_count"`
	RollbackDeadline *time.Time      `json:"rollback_deadline,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// RescheduleLogStatus tracks what happened to an executed reschedule afterwards.
type RescheduleLogStatus string

const (
	RescheduleLogStatusCompleted  RescheduleLogStatus = "completed"
	RescheduleLogStatusRolledBack RescheduleLogStatus = "rolled_back"
	RescheduleLogStatusExpired    RescheduleLogStatus = "expired"
)

// RescheduleLog records an executed reschedule (reschedule_log row).
type RescheduleLog struct {
	ID               string              `db:"id" json:"id"`
	PlanGroupID      string              `db:"plan_group_id" json:"plan_group_id"`
	StudentID        string              `db:"student_id" json:"student_id"`
	AdjustedContents types.JSONText      `db:"adjusted_contents" json:"adjusted_contents"`
	PlansBeforeCount int                 `db:"plans_before_count" json:"plans_before_count"`
	PlansAfterCount  int                 `db:"plans_after_count" json:"plans_after_count"`
	InsertedPlanIDs  pq.StringArray      `db:"inserted_plan_ids" json:"inserted_plan_ids"`
	Reason           *string             `db:"reason" json:"reason,omitempty"`
	Status           RescheduleLogStatus `db:"status" json:"status"`
	State            RescheduleState     `db:"state" json:"state"`
	CreatedBy        string              `db:"created_by" json:"created_by"`
	ExecutedAt       time.Time           `db:"executed_at" json:"executed_at"`
	RollbackDeadline time.Time           `db:"rollback_deadline" json:"rollback_deadline"`
	RolledBackAt     *time.Time          `db:"rolled_back_at" json:"rolled_back_at,omitempty"`
}

// Rollbackable reports whether the log can still be rolled back at now.
func (l RescheduleLog) Rollbackable(now time.Time) bool {
	return l.Status == RescheduleLogStatusCompleted && !now.After(l.RollbackDeadline)
}

// PlanHistory is the backup of a plan row taken before it was superseded.
type PlanHistory struct {
	ID              string         `db:"id" json:"id"`
	PlanID          string         `db:"plan_id" json:"plan_id"`
	PlanGroupID     string         `db:"plan_group_id" json:"plan_group_id"`
	RescheduleLogID *string        `db:"reschedule_log_id" json:"reschedule_log_id,omitempty"`
	ContentID       string         `db:"content_id" json:"content_id"`
	AdjustmentType  ChangeType     `db:"adjustment_type" json:"adjustment_type"`
	PlanData        types.JSONText `db:"plan_data" json:"plan_data"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

// RollbackResult reports the outcome of a rollback.
type RollbackResult struct {
	RescheduleLogID  string    `json:"reschedule_log_id"`
	RestoredCount    int       `json:"restored_count"`
	DeactivatedCount int       `json:"deactivated_count"`
	RolledBackAt     time.Time `json:"rolled_back_at"`
}
