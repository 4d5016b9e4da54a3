package dto

import "github.com/noah-isme/studyplan-api/internal/models"

// WizardSelectionRequest replaces the selected contents of a session.
type WizardSelectionRequest struct {
	ContentIDs []string `json:"content_ids" validate:"required,dive,required"`
}

// WizardAdjustmentRequest sets the adjustment of one selected content.
type WizardAdjustmentRequest struct {
	ChangeType      models.ChangeType   `json:"change_type" validate:"required,oneof=range replace full"`
	Range           models.ContentRange `json:"range"`
	ReplacementType models.ContentType  `json:"replacement_type" validate:"required_if=ChangeType replace"`
	ReplacementID   string              `json:"replacement_id" validate:"required_if=ChangeType replace"`
}

// WizardBatchRequest previews or applies a batch config to the selection.
type WizardBatchRequest struct {
	Config BatchConfigRequest `json:"config"`
	Apply  bool               `json:"apply"`
}

// WizardBatchResponse returns the batch preview and the resulting session.
type WizardBatchResponse struct {
	Preview models.BatchPreview   `json:"preview"`
	Session *models.WizardSession `json:"session"`
}

// WizardPlacementRequest selects the placement window mode.
type WizardPlacementRequest struct {
	Mode      models.PlacementMode       `json:"mode" validate:"required,oneof=auto manual"`
	DateRange *models.PlacementDateRange `json:"date_range"`
}

// WizardProposeRequest stores the session preview as a proposal.
type WizardProposeRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}
