package service

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/noah-isme/studyplan-api/internal/models"
)

// DefaultMaxDailyHours is the daily study ceiling used when none is configured.
const DefaultMaxDailyHours = 12.0

// highOverlapThreshold is the number of distinct occurrences on one date that take
// part in at least one overlap, from which that date's overlaps are graded high.
const highOverlapThreshold = 3

// DetectAllConflicts reports time overlaps between occurrences and days whose
// load exceeds maxDailyHours. dailyAggregates is keyed by YYYY-MM-DD. The result
// is advisory and sorted by date then type.
func DetectAllConflicts(occurrences []models.PlanOccurrence, dailyAggregates map[string]models.DailyAggregate, maxDailyHours float64) []models.Conflict {
	if maxDailyHours <= 0 || math.IsNaN(maxDailyHours) {
		maxDailyHours = DefaultMaxDailyHours
	}
	conflicts := detectOverlaps(occurrences)
	conflicts = append(conflicts, detectOverloads(dailyAggregates, maxDailyHours)...)

	sort.SliceStable(conflicts, func(i, j int) bool {
		if !conflicts[i].Date.Equal(conflicts[j].Date) {
			return conflicts[i].Date.Before(conflicts[j].Date)
		}
		return conflicts[i].Type < conflicts[j].Type
	})
	return conflicts
}

type timedOccurrence struct {
	occ   models.PlanOccurrence
	start int
	end   int
}

func detectOverlaps(occurrences []models.PlanOccurrence) []models.Conflict {
	byDate := make(map[string][]timedOccurrence)
	var dates []string
	for _, occ := range occurrences {
		start, okStart := minuteOfDay(occ.StartTime)
		end, okEnd := minuteOfDay(occ.EndTime)
		if !okStart || !okEnd {
			continue
		}
		key := occ.PlanDate.String()
		if _, seen := byDate[key]; !seen {
			dates = append(dates, key)
		}
		byDate[key] = append(byDate[key], timedOccurrence{occ: occ, start: start, end: end})
	}
	sort.Strings(dates)

	var conflicts []models.Conflict
	for _, date := range dates {
		items := byDate[date]
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].start != items[j].start {
				return items[i].start < items[j].start
			}
			return items[i].end < items[j].end
		})

		type pair struct{ a, b int }
		var pairs []pair
		involved := make(map[int]struct{})
		for i := 0; i < len(items); i++ {
			for j := i + 1; j < len(items); j++ {
				if items[j].start >= items[i].end {
					break
				}
				if maxInt(items[i].start, items[j].start) < minInt(items[i].end, items[j].end) {
					pairs = append(pairs, pair{i, j})
					involved[i] = struct{}{}
					involved[j] = struct{}{}
				}
			}
		}
		if len(pairs) == 0 {
			continue
		}

		severity := models.ConflictSeverityMedium
		if len(involved) >= highOverlapThreshold {
			severity = models.ConflictSeverityHigh
		}
		for _, p := range pairs {
			a, b := items[p.a], items[p.b]
			conflicts = append(conflicts, models.Conflict{
				Type:     models.ConflictTypeTimeOverlap,
				Date:     a.occ.PlanDate,
				Severity: severity,
				Message: fmt.Sprintf("%s %s-%s overlaps %s %s-%s",
					a.occ.ContentID, *a.occ.StartTime, *a.occ.EndTime,
					b.occ.ContentID, *b.occ.StartTime, *b.occ.EndTime),
				Details: map[string]interface{}{
					"first_plan_id":   a.occ.ID,
					"second_plan_id":  b.occ.ID,
					"overlap_minutes": minInt(a.end, b.end) - maxInt(a.start, b.start),
				},
			})
		}
	}
	return conflicts
}

func detectOverloads(aggregates map[string]models.DailyAggregate, maxDailyHours float64) []models.Conflict {
	keys := make([]string, 0, len(aggregates))
	for k := range aggregates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conflicts []models.Conflict
	for _, key := range keys {
		agg := aggregates[key]
		if agg.TotalHours <= maxDailyHours {
			continue
		}
		date, err := models.ParseDate(key)
		if err != nil {
			continue
		}
		severity := models.ConflictSeverityMedium
		if agg.TotalHours > maxDailyHours*1.5 {
			severity = models.ConflictSeverityHigh
		}
		conflicts = append(conflicts, models.Conflict{
			Type:     models.ConflictTypeDailyOverload,
			Date:     date,
			Severity: severity,
			Message:  fmt.Sprintf("%.1f study hours scheduled, limit is %.1f", agg.TotalHours, maxDailyHours),
			Details: map[string]interface{}{
				"total_hours":     agg.TotalHours,
				"plan_count":      agg.PlanCount,
				"max_daily_hours": maxDailyHours,
			},
		})
	}
	return conflicts
}

// BuildDailyAggregates sums the timed hours and counts every occurrence per date.
func BuildDailyAggregates(occurrences []models.PlanOccurrence) map[string]models.DailyAggregate {
	out := make(map[string]models.DailyAggregate)
	for _, occ := range occurrences {
		key := occ.PlanDate.String()
		agg := out[key]
		agg.PlanCount++
		agg.TotalHours += occurrenceHours(occ)
		out[key] = agg
	}
	return out
}

func occurrenceHours(occ models.PlanOccurrence) float64 {
	start, okStart := minuteOfDay(occ.StartTime)
	end, okEnd := minuteOfDay(occ.EndTime)
	if !okStart || !okEnd || end <= start {
		return 0
	}
	return float64(end-start) / 60
}

// minuteOfDay parses HH:MM (seconds ignored) into minutes after midnight.
func minuteOfDay(raw *string) (int, bool) {
	if raw == nil {
		return 0, false
	}
	parts := strings.SplitN(strings.TrimSpace(*raw), ":", 3)
	if len(parts) < 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || (h == 24 && m > 0) {
		return 0, false
	}
	return h*60 + m, true
}

func formatMinute(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
