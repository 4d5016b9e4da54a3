package dto

import "github.com/noah-isme/studyplan-api/internal/models"

// AdjustmentRequest is one adjustment as posted by clients. Before is optional;
// the server fills it from the stored content when absent.
type AdjustmentRequest struct {
	PlanContentID string                 `json:"plan_content_id" validate:"required"`
	ChangeType    models.ChangeType      `json:"change_type" validate:"required,oneof=range replace full"`
	Before        models.ContentSnapshot `json:"before"`
	After         models.ContentSnapshot `json:"after"`
}

// ToModel converts the request to the engine input.
func (r AdjustmentRequest) ToModel() models.AdjustmentInput {
	return models.AdjustmentInput{
		PlanContentID: r.PlanContentID,
		ChangeType:    r.ChangeType,
		Before:        r.Before,
		After:         r.After,
	}
}

// ToAdjustmentInputs converts a request list.
func ToAdjustmentInputs(reqs []AdjustmentRequest) []models.AdjustmentInput {
	out := make([]models.AdjustmentInput, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.ToModel())
	}
	return out
}

// ReschedulePreviewRequest asks for a dry run of a set of adjustments.
type ReschedulePreviewRequest struct {
	Adjustments []AdjustmentRequest        `json:"adjustments" validate:"required,min=1,dive"`
	DateRange   *models.PlacementDateRange `json:"date_range"`
}

// RescheduleProposeRequest previews and stores the result for a later commit.
type RescheduleProposeRequest struct {
	Adjustments []AdjustmentRequest        `json:"adjustments" validate:"required,min=1,dive"`
	DateRange   *models.PlacementDateRange `json:"date_range"`
	Reason      string                     `json:"reason" validate:"omitempty,max=500"`
}

// RescheduleExecuteRequest previews and commits in a single call.
type RescheduleExecuteRequest struct {
	Adjustments []AdjustmentRequest        `json:"adjustments" validate:"required,min=1,dive"`
	DateRange   *models.PlacementDateRange `json:"date_range"`
	Confirm     bool                       `json:"confirm"`
	Reason      string                     `json:"reason" validate:"omitempty,max=500"`
}

// CommitProposalRequest confirms a stored proposal.
type CommitProposalRequest struct {
	Confirm bool `json:"confirm"`
}

// BatchConfigRequest is a uniform ratio or absolute change.
type BatchConfigRequest struct {
	Type           models.BatchType `json:"type" validate:"required,oneof=ratio absolute"`
	Ratio          float64          `json:"ratio"`
	AbsoluteChange float64          `json:"absolute_change"`
}

// ToModel converts the request to a batch config.
func (r BatchConfigRequest) ToModel() models.BatchConfig {
	return models.BatchConfig{Type: r.Type, Ratio: r.Ratio, AbsoluteChange: r.AbsoluteChange}
}

// BatchAdjustmentRequest applies a batch config to an explicit list of contents.
type BatchAdjustmentRequest struct {
	Contents []models.PlanContent `json:"contents" validate:"required,min=1"`
	Config   BatchConfigRequest   `json:"config"`
}

// DetectConflictsRequest runs the conflict detector over arbitrary occurrences.
type DetectConflictsRequest struct {
	Occurrences   []models.PlanOccurrence `json:"occurrences" validate:"required"`
	MaxDailyHours float64                 `json:"max_daily_hours" validate:"omitempty,gt=0"`
}

// DetectConflictsResponse carries the findings with the aggregates they were based on.
type DetectConflictsResponse struct {
	Conflicts       []models.Conflict                `json:"conflicts"`
	DailyAggregates map[string]models.DailyAggregate `json:"daily_aggregates"`
}

// BatchApplyResponse is the outcome of applying a batch config.
type BatchApplyResponse struct {
	Adjustments []models.AdjustmentInput `json:"adjustments"`
}

// RescheduleContentsResponse lists a group with its contents.
type RescheduleContentsResponse struct {
	PlanGroup *models.PlanGroup    `json:"plan_group"`
	Contents  []models.PlanContent `json:"contents"`
}
