package service

import "github.com/noah-isme/studyplan-api/internal/models"

// UncompletedBounds folds past unfinished rows into one range per content id,
// from the lowest planned start to the highest planned end.
func UncompletedBounds(rows []models.PlanOccurrence) map[string]models.ContentRange {
	bounds := make(map[string]models.ContentRange)
	for _, row := range rows {
		if !row.Reschedulable() || row.PlannedStart > row.PlannedEnd {
			continue
		}
		r, ok := bounds[row.ContentID]
		if !ok {
			bounds[row.ContentID] = models.ContentRange{Start: row.PlannedStart, End: row.PlannedEnd}
			continue
		}
		r.Start = minInt(r.Start, row.PlannedStart)
		r.End = maxInt(r.End, row.PlannedEnd)
		bounds[row.ContentID] = r
	}
	return bounds
}

// WidenToUncompleted stretches each content whose content id is in eligible so
// its range also covers the unfinished bounds recorded for it. Other contents
// are returned unchanged.
func WidenToUncompleted(contents []models.PlanContent, bounds map[string]models.ContentRange, eligible map[string]struct{}) []models.PlanContent {
	out := make([]models.PlanContent, len(contents))
	for i, c := range contents {
		out[i] = c
		if _, ok := eligible[c.ContentID]; !ok {
			continue
		}
		b, ok := bounds[c.ContentID]
		if !ok {
			continue
		}
		out[i].StartRange = minInt(c.StartRange, b.Start)
		out[i].EndRange = maxInt(c.EndRange, b.End)
	}
	return out
}
