package service

import (
	"fmt"

	"github.com/noah-isme/studyplan-api/internal/models"
	appErrors "github.com/noah-isme/studyplan-api/pkg/errors"
)

// ResolvePlacementWindow turns an optional caller range into the inclusive window
// new occurrences are placed in. Without a range the window runs from tomorrow to
// the end of the plan group period. A missing bound falls back to the same
// defaults. The window never starts on or before today.
func ResolvePlacementWindow(r *models.PlacementDateRange, today, periodEnd models.Date) (models.PlacementWindow, error) {
	tomorrow := today.AddDays(1)
	window := models.PlacementWindow{From: tomorrow, To: periodEnd, Mode: models.PlacementModeAuto}

	if !r.Empty() {
		window.Mode = models.PlacementModeManual
		if r.From != nil {
			window.From = *r.From
		}
		if r.To != nil {
			window.To = *r.To
		}
		if !window.From.After(today) {
			return models.PlacementWindow{}, appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("placement window must start after today (%s), got %s", today, window.From))
		}
	}

	if window.From.After(window.To) {
		if window.Mode == models.PlacementModeAuto {
			return models.PlacementWindow{}, appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("plan group period ended on %s, nothing left to reschedule", periodEnd))
		}
		return models.PlacementWindow{}, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("placement window start %s is after end %s", window.From, window.To))
	}
	if window.To.After(periodEnd) {
		return models.PlacementWindow{}, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("placement window end %s is after the plan group period end %s", window.To, periodEnd))
	}
	return window, nil
}
