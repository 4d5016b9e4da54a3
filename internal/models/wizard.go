package models

import "time"

// WizardStep is the position of a reschedule wizard session.
type WizardStep int

const (
	WizardStepSelect  WizardStep = 1
	WizardStepAdjust  WizardStep = 2
	WizardStepPreview WizardStep = 3
)

func (s WizardStep) String() string {
	switch s {
	case WizardStepSelect:
		return "select"
	case WizardStepAdjust:
		return "adjust"
	case WizardStepPreview:
		return "preview"
	}
	return "unknown"
}

// WizardPlacement is the placement choice made on the preview step.
type WizardPlacement struct {
	Mode  PlacementMode       `json:"mode"`
	Range *PlacementDateRange `json:"range,omitempty"`
}

// WizardSession is the client view of a reschedule wizard session.
type WizardSession struct {
	ID           string                    `json:"id"`
	PlanGroupID  string                    `json:"plan_group_id"`
	StudentID    string                    `json:"student_id"`
	Step         WizardStep                `json:"step"`
	StepName     string                    `json:"step_name"`
	Contents     []PlanContent             `json:"contents"`
	SelectedIDs  []string                  `json:"selected_ids"`
	Adjustments  []AdjustmentInput         `json:"adjustments"`
	Replacements map[string]CatalogSummary `json:"replacements,omitempty"`
	Placement    WizardPlacement           `json:"placement"`
	ExpiresAt    time.Time                 `json:"expires_at"`
}
