package service

import (
	"fmt"
	"sort"

	"github.com/noah-isme/studyplan-api/internal/models"
	appErrors "github.com/noah-isme/studyplan-api/pkg/errors"
)

// PlacementInput is everything a Placer needs to lay adjusted contents over a window.
type PlacementInput struct {
	GroupID    string
	StudentID  string
	Contents   []models.PlanContent
	Window     models.PlacementWindow
	Exclusions []models.PlanExclusion
	Blocks     []models.StudyBlock
	// Existing are the rows that stay in the window. Their times are treated as
	// busy and completed rows pin their (date, content) slot.
	Existing []models.PlanOccurrence
}

// Placer turns contents into dated occurrences. Preview and commit must go
// through the same Placer so the preview is exactly what gets written.
type Placer interface {
	Place(in PlacementInput) ([]models.PlanOccurrence, error)
}

// EvenPacePlacer spreads each content's range evenly over the study days of the
// window and fills each day's free study-block time in content order.
type EvenPacePlacer struct{}

// NewEvenPacePlacer builds the default placer.
func NewEvenPacePlacer() *EvenPacePlacer {
	return &EvenPacePlacer{}
}

type parsedBlock struct {
	index int
	start int
	end   int
}

type freeSegment struct {
	block int
	start int
	end   int
}

type placementChunk struct {
	content models.PlanContent
	start   int
	end     int
}

func (c placementChunk) amount() int { return c.end - c.start + 1 }

// Place implements Placer.
func (p *EvenPacePlacer) Place(in PlacementInput) ([]models.PlanOccurrence, error) {
	blocksByDay := parseBlocks(in.Blocks)
	if len(blocksByDay) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no study blocks configured for plan group")
	}

	excluded := make(map[string]struct{}, len(in.Exclusions))
	for _, ex := range in.Exclusions {
		excluded[ex.ExclusionDate.String()] = struct{}{}
	}

	var studyDays []models.Date
	for _, day := range in.Window.Days() {
		if _, skip := excluded[day.String()]; skip {
			continue
		}
		if len(blocksByDay[int(day.Weekday())]) == 0 {
			continue
		}
		studyDays = append(studyDays, day)
	}
	if len(studyDays) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("no study days available between %s and %s", in.Window.From, in.Window.To))
	}

	completedSlots := make(map[string]struct{})
	busy := make(map[string][][2]int)
	for _, occ := range in.Existing {
		if occ.Completed() {
			completedSlots[occ.SlotKey()] = struct{}{}
		}
		start, okStart := minuteOfDay(occ.StartTime)
		end, okEnd := minuteOfDay(occ.EndTime)
		if okStart && okEnd && end > start {
			key := occ.PlanDate.String()
			busy[key] = append(busy[key], [2]int{start, end})
		}
	}

	chunksByDay := make(map[string][]placementChunk)
	for _, content := range in.Contents {
		span := content.Range().Span()
		if span == 0 {
			continue
		}
		days := make([]models.Date, 0, len(studyDays))
		for _, day := range studyDays {
			slot := models.PlanOccurrence{PlanDate: day, ContentID: content.ContentID}.SlotKey()
			if _, taken := completedSlots[slot]; taken {
				continue
			}
			days = append(days, day)
		}
		if len(days) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("no free study day left for content %s", content.ContentID))
		}

		k := minInt(span, len(days))
		base, rem := span/k, span%k
		cursor := content.StartRange
		for i := 0; i < k; i++ {
			amount := base
			if i < rem {
				amount++
			}
			day := days[i*len(days)/k]
			chunksByDay[day.String()] = append(chunksByDay[day.String()], placementChunk{
				content: content,
				start:   cursor,
				end:     cursor + amount - 1,
			})
			cursor += amount
		}
	}

	var out []models.PlanOccurrence
	for _, day := range studyDays {
		chunks := chunksByDay[day.String()]
		if len(chunks) == 0 {
			continue
		}
		segments := freeSegments(blocksByDay[int(day.Weekday())], busy[day.String()])
		out = append(out, layOutDay(in, day, chunks, segments)...)
	}
	return out, nil
}

// layOutDay maps each chunk onto a slice of the day's free time proportional to
// its amount. A chunk crossing a segment boundary is split, its range divided in
// proportion to the minutes of each piece.
func layOutDay(in PlacementInput, day models.Date, chunks []placementChunk, segments []freeSegment) []models.PlanOccurrence {
	totalMinutes := 0
	for _, seg := range segments {
		totalMinutes += seg.end - seg.start
	}
	totalAmount := 0
	for _, chunk := range chunks {
		totalAmount += chunk.amount()
	}

	var out []models.PlanOccurrence
	cum := 0
	for _, chunk := range chunks {
		from := totalMinutes * cum / totalAmount
		cum += chunk.amount()
		to := totalMinutes * cum / totalAmount
		if from == to {
			out = append(out, newOccurrence(in, day, chunk.content, 0, nil, nil, chunk.start, chunk.end))
			continue
		}

		type piece struct {
			block      int
			start, end int
		}
		var pieces []piece
		base := 0
		for _, seg := range segments {
			length := seg.end - seg.start
			lo, hi := maxInt(from, base), minInt(to, base+length)
			if lo < hi {
				pieces = append(pieces, piece{block: seg.block, start: seg.start + lo - base, end: seg.start + hi - base})
			}
			base += length
		}

		minutes := to - from
		spent, unitsBefore := 0, 0
		for _, pc := range pieces {
			spent += pc.end - pc.start
			unitsAfter := chunk.amount() * spent / minutes
			if unitsAfter == unitsBefore {
				continue
			}
			startTime, endTime := formatMinute(pc.start), formatMinute(pc.end)
			out = append(out, newOccurrence(in, day, chunk.content, pc.block, &startTime, &endTime,
				chunk.start+unitsBefore, chunk.start+unitsAfter-1))
			unitsBefore = unitsAfter
		}
	}
	return out
}

func newOccurrence(in PlacementInput, day models.Date, content models.PlanContent, block int, start, end *string, from, to int) models.PlanOccurrence {
	return models.PlanOccurrence{
		PlanGroupID:  in.GroupID,
		StudentID:    in.StudentID,
		PlanDate:     day,
		BlockIndex:   block,
		ContentID:    content.ContentID,
		ContentType:  content.ContentType,
		StartTime:    start,
		EndTime:      end,
		PlannedStart: from,
		PlannedEnd:   to,
		Status:       models.PlanStatusPending,
		IsActive:     true,
	}
}

func parseBlocks(blocks []models.StudyBlock) map[int][]parsedBlock {
	out := make(map[int][]parsedBlock)
	for _, b := range blocks {
		start, okStart := minuteOfDay(&b.StartTime)
		end, okEnd := minuteOfDay(&b.EndTime)
		if !okStart || !okEnd || end <= start || b.DayOfWeek < 0 || b.DayOfWeek > 6 {
			continue
		}
		out[b.DayOfWeek] = append(out[b.DayOfWeek], parsedBlock{index: b.BlockIndex, start: start, end: end})
	}
	for day := range out {
		sort.Slice(out[day], func(i, j int) bool { return out[day][i].start < out[day][j].start })
	}
	return out
}

// freeSegments subtracts busy intervals from the day's blocks.
func freeSegments(blocks []parsedBlock, busy [][2]int) []freeSegment {
	sorted := append([][2]int(nil), busy...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i][0] < sorted[j][0] })

	var out []freeSegment
	for _, b := range blocks {
		cur := b.start
		for _, iv := range sorted {
			if iv[1] <= cur || iv[0] >= b.end {
				continue
			}
			if iv[0] > cur {
				out = append(out, freeSegment{block: b.index, start: cur, end: iv[0]})
			}
			cur = iv[1]
			if cur >= b.end {
				break
			}
		}
		if cur < b.end {
			out = append(out, freeSegment{block: b.index, start: cur, end: b.end})
		}
	}
	return out
}
