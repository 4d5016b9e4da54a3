package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/studyplan-api/internal/models"
)

func TestUncompletedBoundsSpansUnfinishedRows(t *testing.T) {
	rows := []models.PlanOccurrence{
		fixturePlan("a", "2026-02-27", "book-1", models.PlanStatusPending, true, 20, 24, "", ""),
		fixturePlan("b", "2026-02-28", "book-1", models.PlanStatusInProgress, true, 8, 10, "", ""),
		fixturePlan("c", "2026-02-28", "book-1", models.PlanStatusCompleted, true, 1, 40, "", ""),
		fixturePlan("d", "2026-02-28", "book-1", models.PlanStatusPending, false, 1, 50, "", ""),
	}
	bounds := UncompletedBounds(rows)
	assert.Equal(t, map[string]models.ContentRange{"book-1": {Start: 8, End: 24}}, bounds)
}

func TestWidenToUncompletedOnlyTouchesEligibleContents(t *testing.T) {
	contents := []models.PlanContent{
		{ID: "pc-1", ContentID: "book-1", StartRange: 12, EndRange: 18},
		{ID: "pc-2", ContentID: "book-2", StartRange: 1, EndRange: 5},
	}
	bounds := map[string]models.ContentRange{
		"book-1": {Start: 8, End: 24},
		"book-2": {Start: 1, End: 9},
	}
	widened := WidenToUncompleted(contents, bounds, map[string]struct{}{"book-1": {}})

	assert.Equal(t, models.ContentRange{Start: 8, End: 24}, widened[0].Range())
	assert.Equal(t, models.ContentRange{Start: 1, End: 5}, widened[1].Range())
	assert.Equal(t, 12, contents[0].StartRange, "input is not mutated")
}
