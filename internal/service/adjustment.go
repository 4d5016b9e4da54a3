package service

import (
	"fmt"

	"github.com/noah-isme/studyplan-api/internal/models"
	appErrors "github.com/noah-isme/studyplan-api/pkg/errors"
)

// NewRangeAdjustment builds a range change for content. When existing is the
// adjustment already recorded for the same content, its Before snapshot is kept
// so repeated edits diff against the original range.
func NewRangeAdjustment(content models.PlanContent, existing *models.AdjustmentInput, r models.ContentRange) (models.AdjustmentInput, error) {
	before := beforeSnapshot(content, existing)
	adj := models.AdjustmentInput{
		PlanContentID: content.ID,
		ChangeType:    models.ChangeTypeRange,
		Before:        before,
		After: models.ContentSnapshot{
			ContentID:   before.ContentID,
			ContentType: before.ContentType,
			Range:       r,
		},
	}
	if err := ValidateAdjustment(adj, nil); err != nil {
		return models.AdjustmentInput{}, err
	}
	return adj, nil
}

// NewReplaceAdjustment swaps content for replacement with the given range.
func NewReplaceAdjustment(content models.PlanContent, existing *models.AdjustmentInput, replacement models.CatalogItem, r models.ContentRange) (models.AdjustmentInput, error) {
	if replacement == nil {
		return models.AdjustmentInput{}, appErrors.Clone(appErrors.ErrValidation, "replacement content is required")
	}
	adj := models.AdjustmentInput{
		PlanContentID: content.ID,
		ChangeType:    models.ChangeTypeReplace,
		Before:        beforeSnapshot(content, existing),
		After: models.ContentSnapshot{
			ContentID:   replacement.ItemID(),
			ContentType: replacement.Kind(),
			Range:       r,
		},
	}
	if err := ValidateAdjustment(adj, replacement.TotalExtent()); err != nil {
		return models.AdjustmentInput{}, err
	}
	return adj, nil
}

// NewFullAdjustment regenerates the remaining schedule of content over its
// current range.
func NewFullAdjustment(content models.PlanContent, existing *models.AdjustmentInput) models.AdjustmentInput {
	before := beforeSnapshot(content, existing)
	return models.AdjustmentInput{
		PlanContentID: content.ID,
		ChangeType:    models.ChangeTypeFull,
		Before:        before,
		After:         before,
	}
}

func beforeSnapshot(content models.PlanContent, existing *models.AdjustmentInput) models.ContentSnapshot {
	if existing != nil && existing.PlanContentID == content.ID && existing.Before.ContentID != "" {
		return existing.Before
	}
	return content.Snapshot()
}

// ValidateAdjustment checks an adjustment's invariants. totalExtent is the size of
// the replacement content for replace adjustments, nil when unknown.
func ValidateAdjustment(adj models.AdjustmentInput, totalExtent *int) error {
	if adj.PlanContentID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "plan_content_id is required")
	}
	if !adj.ChangeType.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown change type %q", adj.ChangeType))
	}
	if adj.After.ContentID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "adjusted content id is required")
	}
	if !adj.After.ContentType.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown content type %q", adj.After.ContentType))
	}

	r := adj.After.Range
	if r.Start < 0 || r.End < 0 {
		return appErrors.Clone(appErrors.ErrValidation, "range bounds must not be negative")
	}
	if r.Start > r.End {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("range start %d is after end %d", r.Start, r.End))
	}

	switch adj.ChangeType {
	case models.ChangeTypeRange, models.ChangeTypeFull:
		if adj.Before.ContentID != "" && adj.Before.ContentID != adj.After.ContentID {
			return appErrors.Clone(appErrors.ErrValidation, "only replace adjustments may change the content")
		}
	case models.ChangeTypeReplace:
		if totalExtent != nil {
			if r.Start < 1 || r.End > *totalExtent {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("range %s is outside 1-%d of the replacement content", r, *totalExtent))
			}
		}
	}
	return nil
}

// ApplyAdjustments returns a copy of contents with the adjustments' target state
// applied. The input slice is not modified; later adjustments for the same
// content win.
func ApplyAdjustments(contents []models.PlanContent, adjustments []models.AdjustmentInput) []models.PlanContent {
	byID := make(map[string]models.AdjustmentInput, len(adjustments))
	for _, adj := range adjustments {
		byID[adj.PlanContentID] = adj
	}
	out := make([]models.PlanContent, len(contents))
	for i, content := range contents {
		out[i] = content
		adj, ok := byID[content.ID]
		if !ok {
			continue
		}
		out[i].ContentID = adj.After.ContentID
		out[i].ContentType = adj.After.ContentType
		out[i].StartRange = adj.After.Range.Start
		out[i].EndRange = adj.After.Range.End
	}
	return out
}

// SummarizeAdjustments counts adjustments per change type.
func SummarizeAdjustments(adjustments []models.AdjustmentInput) models.AdjustmentsSummary {
	var summary models.AdjustmentsSummary
	for _, adj := range adjustments {
		switch adj.ChangeType {
		case models.ChangeTypeRange:
			summary.RangeChanges++
		case models.ChangeTypeReplace:
			summary.Replacements++
		case models.ChangeTypeFull:
			summary.FullRegenerations++
		}
	}
	return summary
}

// AdjustmentSet is the working set of adjustments keyed by plan content id. It is
// immutable: With and Without return updated copies.
type AdjustmentSet struct {
	order []string
	items map[string]models.AdjustmentInput
}

// NewAdjustmentSet builds a set from adjustments; later entries overwrite earlier ones.
func NewAdjustmentSet(adjustments ...models.AdjustmentInput) AdjustmentSet {
	var set AdjustmentSet
	for _, adj := range adjustments {
		set = set.With(adj)
	}
	return set
}

// With returns a copy of the set holding adj.
func (s AdjustmentSet) With(adj models.AdjustmentInput) AdjustmentSet {
	next := AdjustmentSet{
		order: make([]string, 0, len(s.order)+1),
		items: make(map[string]models.AdjustmentInput, len(s.items)+1),
	}
	next.order = append(next.order, s.order...)
	for k, v := range s.items {
		next.items[k] = v
	}
	if _, exists := next.items[adj.PlanContentID]; !exists {
		next.order = append(next.order, adj.PlanContentID)
	}
	next.items[adj.PlanContentID] = adj
	return next
}

// Without returns a copy of the set lacking planContentID.
func (s AdjustmentSet) Without(planContentID string) AdjustmentSet {
	if _, ok := s.items[planContentID]; !ok {
		return s
	}
	next := AdjustmentSet{
		order: make([]string, 0, len(s.order)),
		items: make(map[string]models.AdjustmentInput, len(s.items)),
	}
	for _, id := range s.order {
		if id == planContentID {
			continue
		}
		next.order = append(next.order, id)
		next.items[id] = s.items[id]
	}
	return next
}

// Get returns the adjustment recorded for planContentID.
func (s AdjustmentSet) Get(planContentID string) (models.AdjustmentInput, bool) {
	adj, ok := s.items[planContentID]
	return adj, ok
}

// Len returns the number of adjusted contents.
func (s AdjustmentSet) Len() int { return len(s.order) }

// List returns the adjustments in first-touched order.
func (s AdjustmentSet) List() []models.AdjustmentInput {
	out := make([]models.AdjustmentInput, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}
